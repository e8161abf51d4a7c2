package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Techinsane-official/scrapper/dedup"
	"github.com/Techinsane-official/scrapper/quality"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_BATCH_SIZE or
// CATALOG_MATCHING_PRICE_TOLERANCE_RATIO.
const EnvPrefix = "CATALOG"

// Config holds crawler, pipeline and matching configuration.
type Config struct {
	// Crawl
	URLs              []string      `mapstructure:"urls"`
	URLsFile          string        `mapstructure:"urls_file"`
	AdaptersFile      string        `mapstructure:"adapters_file"`
	MaxPages          int           `mapstructure:"max_pages"` // listing pages followed per start URL
	Parallelism       int           `mapstructure:"parallelism"`
	Delay             time.Duration `mapstructure:"delay"`
	RandomDelay       time.Duration `mapstructure:"random_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax   time.Duration `mapstructure:"retry_backoff_max"`
	UserAgent         string        `mapstructure:"user_agent"`
	RespectRobotsTxt  bool          `mapstructure:"respect_robots_txt"`

	// Pipeline
	InputDir            string `mapstructure:"input_dir"`
	CatalogPath         string `mapstructure:"catalog_path"` // empty keeps the catalog in memory
	BatchSize           int    `mapstructure:"batch_size"`
	PipelineBufferSize  int    `mapstructure:"pipeline_buffer_size"`
	PartitionByRetailer bool   `mapstructure:"partition_by_retailer"`
	OutputFile          string `mapstructure:"output_file"`
	OutputFormat        string `mapstructure:"output_format"` // csv, json, dual or xlsx
	MetricsAddr         string `mapstructure:"metrics_addr"`
	Verbose             bool   `mapstructure:"verbose"`

	Matching dedup.Options   `mapstructure:"matching"`
	Quality  quality.Weights `mapstructure:"quality"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxPages:           5,
		Parallelism:        4,
		Delay:              0,
		RandomDelay:        0,
		RequestsPerSecond:  2,
		Timeout:            15 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       500 * time.Millisecond,
		RetryBackoffMax:    5 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt:   true,
		BatchSize:          100,
		PipelineBufferSize: 512,
		OutputFile:         "output/products.csv",
		OutputFormat:       "csv",
		Matching:           dedup.DefaultOptions(),
		Quality:            quality.Weights{Required: quality.DefaultRequiredWeight},
	}
}

// Load reads configuration from defaults, an optional YAML file and
// CATALOG_* environment variables, in increasing order of precedence. With
// an empty path a catalog.yaml in the working directory is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("catalog")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("urls", d.URLs)
	v.SetDefault("urls_file", d.URLsFile)
	v.SetDefault("adapters_file", d.AdaptersFile)
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("parallelism", d.Parallelism)
	v.SetDefault("delay", d.Delay)
	v.SetDefault("random_delay", d.RandomDelay)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("retry_backoff_max", d.RetryBackoffMax)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("respect_robots_txt", d.RespectRobotsTxt)

	v.SetDefault("input_dir", d.InputDir)
	v.SetDefault("catalog_path", d.CatalogPath)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("pipeline_buffer_size", d.PipelineBufferSize)
	v.SetDefault("partition_by_retailer", d.PartitionByRetailer)
	v.SetDefault("output_file", d.OutputFile)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)

	v.SetDefault("matching.fuzzy_match_threshold_auto", d.Matching.AutoThreshold)
	v.SetDefault("matching.fuzzy_match_threshold_review", d.Matching.ReviewThreshold)
	v.SetDefault("matching.price_tolerance_ratio", d.Matching.PriceTolerance)
	v.SetDefault("matching.stem_cache_size", d.Matching.StemCacheSize)
	v.SetDefault("quality.required_field_weight", d.Quality.Required)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	for _, raw := range c.URLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid product URL %q: %w", raw, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("product URL %q must include a host", raw)
		}
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PipelineBufferSize < 0 {
		return fmt.Errorf("pipeline buffer size cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "xlsx":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or xlsx")
	}

	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	return nil
}
