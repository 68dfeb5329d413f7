package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeExternal    = "external"
	AuthModeSharedKey   = "shared-key"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	DrugInteractionURL  string        `mapstructure:"DRUG_INTERACTION_URL"`
	GuidelineURL        string        `mapstructure:"GUIDELINE_URL"`
	KnowledgeAPIKey     string        `mapstructure:"KNOWLEDGE_API_KEY"`
	LookupTimeout       time.Duration `mapstructure:"LOOKUP_TIMEOUT"`
	LookupRateLimit     float64       `mapstructure:"LOOKUP_RATE_LIMIT"`
	GuidelineCacheSize  int           `mapstructure:"GUIDELINE_CACHE_SIZE"`
	InteractionCacheTTL time.Duration `mapstructure:"INTERACTION_CACHE_TTL"`

	RequestTimeout           time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MaxBodySize              string        `mapstructure:"MAX_BODY_SIZE"`
	RateLimitRPS             float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst           int           `mapstructure:"RATE_LIMIT_BURST"`
	News2ClinicalTemperature bool          `mapstructure:"NEWS2_CLINICAL_TEMPERATURE"`
}

var envKeys = []string{
	"PORT", "ENV", "CORS_ORIGINS",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"DRUG_INTERACTION_URL", "GUIDELINE_URL", "KNOWLEDGE_API_KEY",
	"LOOKUP_TIMEOUT", "LOOKUP_RATE_LIMIT", "GUIDELINE_CACHE_SIZE", "INTERACTION_CACHE_TTL",
	"REQUEST_TIMEOUT", "MAX_BODY_SIZE", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"NEWS2_CLINICAL_TEMPERATURE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTH_MODE", "") // inferred by ResolvedAuthMode
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("LOOKUP_TIMEOUT", "2s")
	v.SetDefault("LOOKUP_RATE_LIMIT", 20)
	v.SetDefault("GUIDELINE_CACHE_SIZE", 512)
	v.SetDefault("INTERACTION_CACHE_TTL", "1h")
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("MAX_BODY_SIZE", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("NEWS2_CLINICAL_TEMPERATURE", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.ResolvedAuthMode() == AuthModeDevelopment {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: AUTH_MODE=development: every request runs as an admin user.")
		log.Println("WARNING: Do NOT use this configuration with real patient data.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments get dev auth, a configured signing key selects shared-key
// tokens, and anything else validates against the external issuer.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	if c.AuthSigningKey != "" {
		return AuthModeSharedKey
	}
	return AuthModeExternal
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
	case AuthModeExternal:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is %q", mode)
		}
		if c.AuthSigningKey != "" {
			return fmt.Errorf("AUTH_SIGNING_KEY must not be set when AUTH_MODE is %q", mode)
		}
	case AuthModeSharedKey:
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters when AUTH_MODE is %q", mode)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q, %q, or %q, got %q",
			AuthModeDevelopment, AuthModeExternal, AuthModeSharedKey, mode)
	}

	if c.LookupTimeout <= 0 {
		return fmt.Errorf("LOOKUP_TIMEOUT must be positive, got %s", c.LookupTimeout)
	}
	if c.GuidelineCacheSize < 0 {
		return fmt.Errorf("GUIDELINE_CACHE_SIZE must not be negative, got %d", c.GuidelineCacheSize)
	}
	if c.LookupRateLimit < 0 {
		return fmt.Errorf("LOOKUP_RATE_LIMIT must not be negative, got %g", c.LookupRateLimit)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
