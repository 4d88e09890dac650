package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// CheckoutConfig is the configuration of checkout-api, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type CheckoutConfig struct {
	Addr          string `default:"0.0.0.0:8080" usage:"API server listen address"`
	StorefrontURL string `usage:"Base URL of the storefront backend (CHECKOUT_STOREFRONT_URL or STOREFRONT_URL)" flag:"storefront-url"`
	Backend       BackendConfig
	Catalog       CatalogConfig
	Validator     ValidatorConfig
	Sessions      SessionsConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Graceful      GracefulConfig
}

// BackendConfig controls calls to the storefront backend.
type BackendConfig struct {
	Timeout    time.Duration `default:"10s"   usage:"Per-attempt backend request timeout"`
	MaxRetries int           `default:"2"     usage:"Retries of idempotent backend requests" flag:"backend-max-retries"`
	RetryWait  time.Duration `default:"100ms" usage:"Initial backoff between retries" flag:"backend-retry-wait"`
}

// CatalogConfig controls the eligible coupon cache.
type CatalogConfig struct {
	TTL time.Duration `default:"1m" usage:"How long a fetched coupon list is reused" flag:"catalog-ttl"`
}

// ValidatorConfig controls typed coupon validation.
type ValidatorConfig struct {
	Debounce       time.Duration `default:"500ms" usage:"Quiet period after the last keystroke"`
	Timeout        time.Duration `default:"10s"   usage:"Timeout of a single validation request" flag:"validation-timeout"`
	MinInputLength int           `default:"4"     usage:"Typed length below which no validation is issued" flag:"min-input-length"`
}

// SessionsConfig bounds the in-memory session registry.
type SessionsConfig struct {
	IdleTTL       time.Duration `default:"30m"   usage:"Evict sessions untouched for this long" flag:"session-idle-ttl"`
	CompletedTTL  time.Duration `default:"5m"    usage:"Keep completed sessions readable for this long" flag:"session-completed-ttl"`
	MaxSessions   int           `default:"10000" usage:"Maximum number of open sessions" flag:"max-sessions"`
	EvictInterval time.Duration `default:"1m"    usage:"How often expired sessions are evicted" flag:"evict-interval"`
}

// StorefrontConfig is the configuration of storefront-api, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type StorefrontConfig struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STOREFRONT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Rate  float64 `default:"5"  usage:"Sustained requests per second per client" flag:"rate-limit"`
	Burst int     `default:"50" usage:"Requests a client may issue at once" flag:"rate-burst"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

func load(dst any, prefix, name string) error {
	loader := aconfig.LoaderFor(dst, aconfig.Config{
		EnvPrefix: prefix,
		Files:     []string{"config.yaml", "/etc/" + name + "/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return errors.Wrap(err, "load config")
	}
	return nil
}

// LoadCheckoutConfig loads checkout-api configuration and applies
// platform-specific defaults.
func LoadCheckoutConfig() (*CheckoutConfig, error) {
	var cfg CheckoutConfig
	if err := load(&cfg, "CHECKOUT", "checkout-api"); err != nil {
		return nil, err
	}
	cfg.applyPlatformDefaults()

	if cfg.StorefrontURL == "" {
		return nil, errors.New("storefront URL is required: set CHECKOUT_STOREFRONT_URL or STOREFRONT_URL")
	}
	if cfg.Validator.MinInputLength < 1 {
		return nil, errors.Errorf("min input length must be positive, got %d", cfg.Validator.MinInputLength)
	}
	return &cfg, nil
}

func (c *CheckoutConfig) applyPlatformDefaults() {
	if c.StorefrontURL == "" {
		c.StorefrontURL = os.Getenv("STOREFRONT_URL")
	}
	c.Addr = platformAddr(c.Addr)
}

// LoadStorefrontConfig loads storefront-api configuration and applies
// platform-specific defaults.
func LoadStorefrontConfig() (*StorefrontConfig, error) {
	var cfg StorefrontConfig
	if err := load(&cfg, "STOREFRONT", "storefront-api"); err != nil {
		return nil, err
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set STOREFRONT_DATABASE_URL or DATABASE_URL")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT.
func (c *StorefrontConfig) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	c.Addr = platformAddr(c.Addr)
}

func platformAddr(addr string) string {
	if port := os.Getenv("PORT"); port != "" && addr == defaultAddr {
		return "0.0.0.0:" + port
	}
	return addr
}
