// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. IMAGECHECK_OUTPUT_STRATEGY=batch.
const EnvPrefix = "IMAGECHECK"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Sitemap SitemapConfig `mapstructure:"sitemap"`
	Browser BrowserConfig `mapstructure:"browser"`
	Inspect InspectConfig `mapstructure:"inspect"`
	Output  OutputConfig  `mapstructure:"output"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig governs the orchestrator loop.
type CrawlConfig struct {
	Sitemaps        []string `mapstructure:"sitemaps" validate:"min=1,dive,required,url"`
	ContinueOnError bool     `mapstructure:"continue_on_error"`
	MaxPages        int      `mapstructure:"max_pages" validate:"gte=0"`
	PageQPS         float64  `mapstructure:"page_qps" validate:"gte=0"`
}

// SitemapConfig controls sitemap fetching.
type SitemapConfig struct {
	UserAgent     string        `mapstructure:"user_agent" validate:"required"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes" validate:"gt=0"`
	MaxIndexDepth int           `mapstructure:"max_index_depth" validate:"gte=0,lte=5"`
}

// BrowserConfig configures the page automation driver.
type BrowserConfig struct {
	Driver            string        `mapstructure:"driver" validate:"oneof=chromedp rod"`
	Headless          bool          `mapstructure:"headless"`
	NoSandbox         bool          `mapstructure:"no_sandbox"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" validate:"gt=0"`
	WindowWidth       int           `mapstructure:"window_width" validate:"gt=0"`
	WindowHeight      int           `mapstructure:"window_height" validate:"gt=0"`
	FailOnHTTPError   bool          `mapstructure:"fail_on_http_error"`
}

// InspectConfig tunes the per-page scroll, settle, and extraction stages.
type InspectConfig struct {
	ScrollStepPx      int           `mapstructure:"scroll_step_px" validate:"gt=0"`
	ScrollInterval    time.Duration `mapstructure:"scroll_interval" validate:"gt=0"`
	ScrollMaxSteps    int           `mapstructure:"scroll_max_steps" validate:"gte=0"`
	ScrollMaxDuration time.Duration `mapstructure:"scroll_max_duration" validate:"gte=0"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" validate:"gte=0"`
	LazyOrder         string        `mapstructure:"lazy_order" validate:"oneof=classify_first rewrite_first"`
	LazySettle        time.Duration `mapstructure:"lazy_settle" validate:"gte=0"`
}

// OutputConfig names the findings file and its persistence strategy.
type OutputConfig struct {
	Strategy string `mapstructure:"strategy" validate:"oneof=batch incremental"`
	Dir      string `mapstructure:"dir"`
	File     string `mapstructure:"file" validate:"required"`
}

// StorageConfig selects where the findings file lives.
type StorageConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=local gcs"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres findings mirror.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table" validate:"required"`
	RunsTable       string        `mapstructure:"runs_table" validate:"required"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" validate:"gte=0"`
}

// PubSubConfig holds metadata for finding notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MetricsConfig controls metric export at the end of a run.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups  int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays  int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// Load builds a Config from disk/environment. Every key needs a default so
// AutomaticEnv can see it during Unmarshal.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.sitemaps", []string{"https://example.com/sitemap1.xml"})
	v.SetDefault("crawl.continue_on_error", false)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.page_qps", 0)
	v.SetDefault("sitemap.user_agent", "imagecheck/0.1")
	v.SetDefault("sitemap.timeout", "30s")
	v.SetDefault("sitemap.max_body_bytes", 50*1024*1024)
	v.SetDefault("sitemap.max_index_depth", 1)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.fail_on_http_error", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("inspect.scroll_step_px", 200)
	v.SetDefault("inspect.scroll_interval", "100ms")
	v.SetDefault("inspect.scroll_max_steps", 500)
	v.SetDefault("inspect.scroll_max_duration", "60s")
	v.SetDefault("inspect.settle_delay", "3s")
	v.SetDefault("inspect.lazy_order", "classify_first")
	v.SetDefault("inspect.lazy_settle", "2s")
	v.SetDefault("output.strategy", "incremental")
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.file", "broken_images_log.json")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "broken_image_findings")
	v.SetDefault("db.runs_table", "crawl_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", configKey(verrs[0].Namespace()), verrs[0].Tag())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Output.Strategy == "" {
		return fmt.Errorf("output.strategy must be set")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
	}
	if c.Storage.Backend == "local" && strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir must be set when storage.backend is local")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when server is enabled")
	}
	if c.Inspect.ScrollMaxSteps == 0 && c.Inspect.ScrollMaxDuration == 0 {
		return fmt.Errorf("inspect.scroll_max_steps or inspect.scroll_max_duration must bound the scroll loop")
	}
	return nil
}

// configKey maps a validator namespace like Config.Crawl.Sitemaps[0] to crawl.sitemaps[0].
func configKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if (prev >= 'a' && prev <= 'z') || (prev >= 'A' && prev <= 'Z' && nextLower) {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
