package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/domain/cds"
)

const interactionKeyPrefix = "cds:interactions:"

// NewRedisClient parses url and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// CachedInteractions caches interaction lookups in Redis, keyed by the drug
// set. Redis failures fall through to the wrapped lookup.
type CachedInteractions struct {
	next   cds.DrugInteractionLookup
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedInteractions(next cds.DrugInteractionLookup, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedInteractions {
	return &CachedInteractions{next: next, redis: rdb, ttl: ttl, logger: logger}
}

func interactionKey(drugs []string) string {
	norm := make([]string, len(drugs))
	for i, d := range drugs {
		norm[i] = strings.ToLower(strings.TrimSpace(d))
	}
	slices.Sort(norm)
	norm = slices.Compact(norm)
	sum := sha256.Sum256([]byte(strings.Join(norm, "\x00")))
	return interactionKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedInteractions) CheckInteractions(ctx context.Context, drugs []string) ([]cds.DrugInteraction, error) {
	key := interactionKey(drugs)

	val, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []cds.DrugInteraction
		if jerr := json.Unmarshal(val, &cached); jerr == nil {
			return cached, nil
		}
		c.redis.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Msg("interaction cache read failed")
	}

	result, err := c.next.CheckInteractions(ctx, drugs)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return result, nil
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("interaction cache write failed")
	}
	return result, nil
}
