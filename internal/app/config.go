package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (MARKETSYNC_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (MARKETSYNC_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	DefaultMarginPercent int `default:"20" usage:"Margin applied to imports without an explicit one" flag:"default-margin"`

	Relay     RelayConfig
	Reconcile ReconcileConfig
	Proxy     ProxyConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// RelayConfig controls outbound marketplace fetching.
type RelayConfig struct {
	Timeout           time.Duration `default:"15s" usage:"Per-relay-attempt timeout"`
	RequestsPerSecond float64       `default:"2"   usage:"Outbound politeness limit across all relays" flag:"relay-rps"`
	Burst             int           `default:"1"   usage:"Outbound limiter burst"`
	UserAgent         string        `usage:"Override the outbound User-Agent"`
}

// ReconcileConfig controls price reconciliation.
type ReconcileConfig struct {
	StaleAfter     time.Duration `default:"24h" usage:"Age beyond which a cached price is re-checked" flag:"stale-after"`
	MaxConcurrent  int           `default:"1"   usage:"Parallel reconciliations per batch; 1 keeps sequential, marketplace-friendly fetching" flag:"max-concurrent"`
	SchedulerDelay time.Duration `default:"2s"  usage:"Delay before the startup stale-price pass" flag:"scheduler-delay"`
	SchedulerOff   bool          `default:"false" usage:"Disable the startup stale-price pass" flag:"scheduler-off"`
}

// ProxyConfig controls the browser-facing passthrough proxy.
type ProxyConfig struct {
	AllowedHosts []string `default:"card.wb.ru,www.wildberries.ru,ozon.ru,market.yandex.ru" usage:"Hosts /api/proxy may target" flag:"proxy-allowed-hosts"`
}

// RateLimitConfig controls the inbound per-client limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `default:"10" usage:"Inbound requests per second per client" flag:"rate-limit-rps"`
	Burst             int     `default:"20" usage:"Inbound limiter burst" flag:"rate-limit-burst"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARKETSYNC",
		Files:     []string{"config.yaml", "/etc/marketsync/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set MARKETSYNC_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT onto the MARKETSYNC_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
