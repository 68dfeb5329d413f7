// Package knowledge adapts external drug-interaction and guideline services
// to the lookup ports consumed by the CDS engine.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned while a service's circuit breaker is open.
var ErrUnavailable = errors.New("knowledge service unavailable")

// ClientConfig configures an HTTP knowledge-base client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // requests per second; 0 disables limiting
	RetryCount int
	APIKey     string
}

// client is the shared transport: rate limited, retried and wrapped in a
// circuit breaker so a failing service is skipped quickly.
type client struct {
	name    string
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func newClient(name string, cfg ClientConfig, logger zerolog.Logger) *client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		http.SetAuthToken(cfg.APIKey)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	log := logger.With().Str("service", name).Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &client{name: name, http: http, breaker: breaker, limiter: limiter, logger: log}
}

// do sends one request built by build. A non-2xx response is an error.
func (c *client) do(ctx context.Context, build func(r *resty.Request) (*resty.Response, error)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", c.name, err)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := build(c.http.R().SetContext(ctx))
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
		}
		return nil, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%s: %w", c.name, ErrUnavailable)
	case err != nil:
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}
