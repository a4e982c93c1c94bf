package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pastel-deals/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Matrix   MatrixConfig   `mapstructure:"matrix"`
	Rates    RatesConfig    `mapstructure:"rates"`
	Filters  FilterConfig   `mapstructure:"filters"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Pruning  PruneConfig    `mapstructure:"pruning"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig locates the local SQLite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MatrixConfig covers homeserver connectivity and posting behaviour.
type MatrixConfig struct {
	HomeserverURL  string        `mapstructure:"homeserver_url"`
	UserID         string        `mapstructure:"user_id"`
	AccessToken    string        `mapstructure:"access_token"`
	RoomID         string        `mapstructure:"room_id"`
	UseThreads     bool          `mapstructure:"use_threads"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SendsPerSecond float64       `mapstructure:"sends_per_second"`
}

// RatesConfig governs the exchange-rate cache.
type RatesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	BaseCurrency   string        `mapstructure:"base_currency"`
	Currencies     []string      `mapstructure:"currencies"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// FilterConfig holds the shared deal thresholds that per-source settings
// fall back to.
type FilterConfig struct {
	MinDiscountPercent int     `mapstructure:"min_discount_percent"`
	MaxPrice           float64 `mapstructure:"max_price"`
}

// SourcesConfig groups the per-source adapter settings.
type SourcesConfig struct {
	CheapShark CheapSharkConfig `mapstructure:"cheapshark"`
	ITAD       ITADConfig       `mapstructure:"itad"`
	Epic       EpicConfig       `mapstructure:"epic"`
}

// CheapSharkConfig tunes the CheapShark adapter. Zero-valued thresholds
// fall back to the shared filter defaults.
type CheapSharkConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	Interval       time.Duration `mapstructure:"interval"`
	MinDiscount    int           `mapstructure:"min_discount"`
	MinRating      float64       `mapstructure:"min_rating"`
	MaxPrice       float64       `mapstructure:"max_price"`
	PageSize       int           `mapstructure:"page_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ITADConfig tunes the IsThereAnyDeal adapter. The source is skipped at
// wiring time when no API key is configured.
type ITADConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Interval       time.Duration `mapstructure:"interval"`
	Countries      []string      `mapstructure:"countries"`
	MinDiscount    int           `mapstructure:"min_discount"`
	MaxPrice       float64       `mapstructure:"max_price"`
	DealsLimit     int           `mapstructure:"deals_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EpicConfig tunes the Epic free-games adapter.
type EpicConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	Interval       time.Duration `mapstructure:"interval"`
	Locale         string        `mapstructure:"locale"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PruneConfig controls removal of aged dedup records.
type PruneConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	OlderThan time.Duration `mapstructure:"older_than"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PASTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pastel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.path", "deals.db")

	v.SetDefault("matrix.use_threads", false)
	v.SetDefault("matrix.request_timeout", "30s")
	v.SetDefault("matrix.sends_per_second", 0.5)

	v.SetDefault("rates.base_url", "https://api.frankfurter.dev/v1")
	v.SetDefault("rates.base_currency", "USD")
	v.SetDefault("rates.currencies", []string{"CAD", "EUR", "GBP"})
	v.SetDefault("rates.stale_after", "12h")
	v.SetDefault("rates.request_timeout", "15s")

	v.SetDefault("filters.min_discount_percent", 50)
	v.SetDefault("filters.max_price", 20.0)

	v.SetDefault("sources.cheapshark.enabled", true)
	v.SetDefault("sources.cheapshark.base_url", "https://www.cheapshark.com/api/1.0")
	v.SetDefault("sources.cheapshark.interval", "2h")
	v.SetDefault("sources.cheapshark.min_rating", 8.0)
	v.SetDefault("sources.cheapshark.page_size", 10)
	v.SetDefault("sources.cheapshark.request_timeout", "30s")

	v.SetDefault("sources.itad.enabled", true)
	v.SetDefault("sources.itad.base_url", "https://api.isthereanydeal.com")
	v.SetDefault("sources.itad.interval", "2h")
	v.SetDefault("sources.itad.countries", []string{"US"})
	v.SetDefault("sources.itad.deals_limit", 100)
	v.SetDefault("sources.itad.request_timeout", "30s")

	v.SetDefault("sources.epic.enabled", true)
	v.SetDefault("sources.epic.base_url", "https://store-site-backend-static.ak.epicgames.com")
	v.SetDefault("sources.epic.interval", "24h")
	v.SetDefault("sources.epic.locale", "en-US")
	v.SetDefault("sources.epic.request_timeout", "30s")

	v.SetDefault("pruning.interval", "24h")
	v.SetDefault("pruning.older_than", "720h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Matrix.HomeserverURL == "" {
		return fmt.Errorf("matrix.homeserver_url is required")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Matrix.RoomID == "" {
		return fmt.Errorf("matrix.room_id is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Filters.MinDiscountPercent < 0 || c.Filters.MinDiscountPercent > 100 {
		return fmt.Errorf("filters.min_discount_percent must be between 0 and 100")
	}
	if c.Filters.MaxPrice <= 0 {
		return fmt.Errorf("filters.max_price must be greater than zero")
	}
	if c.Rates.StaleAfter <= 0 {
		return fmt.Errorf("rates.stale_after must be greater than zero")
	}
	if c.Pruning.OlderThan <= 0 {
		return fmt.Errorf("pruning.older_than must be greater than zero")
	}
	if c.Sources.CheapShark.Enabled && c.Sources.CheapShark.Interval <= 0 {
		return fmt.Errorf("sources.cheapshark.interval must be greater than zero")
	}
	if c.Sources.ITAD.Enabled && c.Sources.ITAD.Interval <= 0 {
		return fmt.Errorf("sources.itad.interval must be greater than zero")
	}
	if c.Sources.ITAD.Enabled && len(c.Sources.ITAD.Countries) == 0 {
		return fmt.Errorf("sources.itad.countries cannot be empty")
	}
	if c.Sources.Epic.Enabled && c.Sources.Epic.Interval <= 0 {
		return fmt.Errorf("sources.epic.interval must be greater than zero")
	}
	return nil
}

// CheapSharkMinDiscount resolves the per-source threshold with fallback to
// the shared default.
func (c *Config) CheapSharkMinDiscount() int {
	if c.Sources.CheapShark.MinDiscount > 0 {
		return c.Sources.CheapShark.MinDiscount
	}
	return c.Filters.MinDiscountPercent
}

// CheapSharkMaxPrice resolves the per-source price ceiling with fallback.
func (c *Config) CheapSharkMaxPrice() float64 {
	if c.Sources.CheapShark.MaxPrice > 0 {
		return c.Sources.CheapShark.MaxPrice
	}
	return c.Filters.MaxPrice
}

// ITADMinDiscount resolves the per-source threshold with fallback.
func (c *Config) ITADMinDiscount() int {
	if c.Sources.ITAD.MinDiscount > 0 {
		return c.Sources.ITAD.MinDiscount
	}
	return c.Filters.MinDiscountPercent
}

// ITADMaxPrice resolves the per-source price ceiling with fallback.
func (c *Config) ITADMaxPrice() float64 {
	if c.Sources.ITAD.MaxPrice > 0 {
		return c.Sources.ITAD.MaxPrice
	}
	return c.Filters.MaxPrice
}
