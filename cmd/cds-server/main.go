package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/cds/internal/config"
	"github.com/ehr/cds/internal/domain/cds"
	"github.com/ehr/cds/internal/platform/auth"
	"github.com/ehr/cds/internal/platform/db"
	"github.com/ehr/cds/internal/platform/fhir"
	"github.com/ehr/cds/internal/platform/knowledge"
	"github.com/ehr/cds/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "cds-server",
		Short: "Clinical decision support engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(evaluateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CDS API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a snapshot file and print the report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("snapshot")
			rawNow, _ := cmd.Flags().GetString("now")
			if path == "" {
				return fmt.Errorf("--snapshot is required")
			}

			now := time.Now().UTC()
			if rawNow != "" {
				t, err := time.Parse(time.RFC3339, rawNow)
				if err != nil {
					return fmt.Errorf("--now must be RFC3339: %w", err)
				}
				now = t
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env, os.Stderr)

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open snapshot: %w", err)
			}
			defer f.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			lk, err := buildLookups(ctx, cfg, nil, logger)
			if err != nil {
				return err
			}
			defer lk.close()

			engine := cds.NewEngine(engineOptions(cfg, lk, logger)...)
			return runEvaluate(ctx, engine, f, now, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("snapshot", "", "Path to a snapshot JSON file")
	cmd.Flags().String("now", "", "Evaluation time (RFC3339), defaults to the current time")
	return cmd
}

// runEvaluate decodes one snapshot from r and writes the evaluation to out.
func runEvaluate(ctx context.Context, engine *cds.Engine, r io.Reader, now time.Time, out io.Writer) error {
	snap, err := cds.DecodeSnapshot(r)
	if err != nil {
		return err
	}
	ev, err := cds.NewService(engine, nil).Evaluate(ctx, snap, now)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(ev)
}

// loadConfig reads and validates configuration for every command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// lookups holds the knowledge-base adapters picked from configuration along
// with the health probes and shutdown hooks they bring.
type lookups struct {
	interactions cds.DrugInteractionLookup
	guidelines   cds.GuidelineLookup
	checks       []db.Check
	closers      []func() error
}

func (l *lookups) close() {
	for _, c := range l.closers {
		_ = c()
	}
}

// buildLookups prefers the HTTP drug-interaction service, cached in Redis
// when REDIS_URL is set, and otherwise falls back to the drug_interaction
// table when a database is available. Guidelines are only served over HTTP.
func buildLookups(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*lookups, error) {
	lk := &lookups{}
	clientCfg := func(baseURL string) knowledge.ClientConfig {
		return knowledge.ClientConfig{
			BaseURL:    baseURL,
			Timeout:    cfg.LookupTimeout,
			RateLimit:  cfg.LookupRateLimit,
			RetryCount: 1,
			APIKey:     cfg.KnowledgeAPIKey,
		}
	}

	switch {
	case cfg.DrugInteractionURL != "":
		lk.interactions = knowledge.NewInteractionClient(clientCfg(cfg.DrugInteractionURL), logger)
		if cfg.RedisURL != "" {
			rdb, err := knowledge.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				logger.Warn().Err(err).Msg("interaction cache disabled")
				break
			}
			lk.interactions = knowledge.NewCachedInteractions(lk.interactions, rdb, cfg.InteractionCacheTTL, logger)
			lk.checks = append(lk.checks, db.Check{
				Name: "redis",
				Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			})
			lk.closers = append(lk.closers, rdb.Close)
		}
	case pool != nil:
		lk.interactions = knowledge.NewInteractionRepoPG(pool)
	default:
		logger.Warn().Msg("no drug-interaction source configured; interaction checks will report degraded")
	}

	if cfg.GuidelineURL != "" {
		lk.guidelines = knowledge.NewGuidelineClient(clientCfg(cfg.GuidelineURL), logger)
		if cfg.GuidelineCacheSize > 0 {
			cached, err := knowledge.NewCachedGuidelines(lk.guidelines, cfg.GuidelineCacheSize)
			if err != nil {
				lk.close()
				return nil, fmt.Errorf("guideline cache: %w", err)
			}
			lk.guidelines = cached
		}
	}

	return lk, nil
}

func engineOptions(cfg *config.Config, lk *lookups, logger zerolog.Logger) []cds.Option {
	opts := []cds.Option{
		cds.WithLookupTimeout(cfg.LookupTimeout),
		cds.WithLogger(logger),
	}
	if lk.interactions != nil {
		opts = append(opts, cds.WithDrugInteractionLookup(lk.interactions))
	}
	if lk.guidelines != nil {
		opts = append(opts, cds.WithGuidelineLookup(lk.guidelines))
	}
	if cfg.News2ClinicalTemperature {
		opts = append(opts, cds.WithClinicalTemperatureBand())
	}
	return opts
}

// newServer builds the echo instance with all middleware and routes. pool may
// be nil, in which case patient lookups answer 503.
func newServer(cfg *config.Config, logger zerolog.Logger, engine *cds.Engine, pool *pgxpool.Pool, checks []db.Check) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/health", "/health/db"))
	e.Use(middleware.BodyLimit(cfg.MaxBodySize))

	// Auth middleware
	switch cfg.ResolvedAuthMode() {
	case config.AuthModeDevelopment:
		e.Use(auth.DevAuthMiddleware())
	case config.AuthModeSharedKey:
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	default:
		// RS256 only; a configured signing key is never consulted here.
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	rateLimit := middleware.RateLimit(rateLimitCfg)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))

	var snapshots cds.SnapshotRepository
	if pool != nil {
		snapshots = cds.NewSnapshotRepoPG(pool)
	}
	handler := cds.NewHandler(cds.NewService(engine, snapshots))

	apiV1 := e.Group("/api/v1", rateLimit, middleware.Audit(logger))
	handler.RegisterRoutes(apiV1)

	hooks := fhir.NewCDSHooksHandler()
	handler.RegisterHooks(hooks, logger)
	hookScope := auth.RequireScope("Patient", "read")
	hooks.RegisterRoutes(e.Group("", rateLimit, func(next echo.HandlerFunc) echo.HandlerFunc {
		scoped := hookScope(next)
		return func(c echo.Context) error {
			if auth.AuthSkipper(c) {
				return next(c)
			}
			return scoped(c)
		}
	}))

	return e
}

func runServer() error {
	// Config
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)

	ctx := context.Background()

	// Database
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set; patient lookups are disabled")
	}

	lk, err := buildLookups(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure knowledge lookups")
	}
	defer lk.close()

	engine := cds.NewEngine(engineOptions(cfg, lk, logger)...)
	e := newServer(cfg, logger, engine, pool, lk.checks)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
