package elexon

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"battery-tracker/pkg/confkit"
)

// Config describes the BMRS client and per-dataset overrides.
type Config struct {
	BaseURL   string          `yaml:"base_url"`
	Endpoints EndpointsConfig `yaml:"endpoints"`

	TimeoutRaw     string        `yaml:"timeout"`
	Timeout        time.Duration `yaml:"-"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Backoff        string        `yaml:"backoff"`
	BackoffBaseRaw string        `yaml:"backoff_base"`
	BackoffBase    time.Duration `yaml:"-"`
	MaxBackoffRaw  string        `yaml:"max_backoff"`
	MaxBackoff     time.Duration `yaml:"-"`

	RetryClientErrors bool    `yaml:"retry_client_errors"`
	RateLimit         float64 `yaml:"rate_limit"`
	Burst             int     `yaml:"burst"`
	AllowBareList     bool    `yaml:"allow_bare_list"`

	Datasets map[string]*DatasetOverride `yaml:"datasets"`
}

// EndpointsConfig is the yaml form of Endpoints.
type EndpointsConfig struct {
	SystemPrices string `yaml:"system_prices"`
	MarketIndex  string `yaml:"market_index"`
	Physical     string `yaml:"physical"`
}

// DatasetOverride adjusts a built-in dataset preset. Empty fields keep the
// preset value.
type DatasetOverride struct {
	Table         string        `yaml:"table"`
	ValueColumn   string        `yaml:"value_column"`
	UnitColumn    string        `yaml:"unit_column"`
	DatasetCode   string        `yaml:"dataset_code"`
	TimestampKeys []string      `yaml:"timestamp_keys"`
	ValueKeys     []string      `yaml:"value_keys"`
	Selector      string        `yaml:"selector"`
	WindowRaw     string        `yaml:"window"`
	Window        time.Duration `yaml:"-"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elexon config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read elexon config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal elexon config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	c.BaseURL = strings.TrimSpace(os.ExpandEnv(c.BaseURL))
	c.Endpoints.SystemPrices = strings.TrimSpace(os.ExpandEnv(c.Endpoints.SystemPrices))
	c.Endpoints.MarketIndex = strings.TrimSpace(os.ExpandEnv(c.Endpoints.MarketIndex))
	c.Endpoints.Physical = strings.TrimSpace(os.ExpandEnv(c.Endpoints.Physical))
	c.Backoff = strings.ToLower(strings.TrimSpace(os.ExpandEnv(c.Backoff)))

	var err error
	if c.Timeout, err = parseDuration("timeout", c.TimeoutRaw); err != nil {
		return err
	}
	if c.BackoffBase, err = parseDuration("backoff_base", c.BackoffBaseRaw); err != nil {
		return err
	}
	if c.MaxBackoff, err = parseDuration("max_backoff", c.MaxBackoffRaw); err != nil {
		return err
	}

	datasets := make(map[string]*DatasetOverride, len(c.Datasets))
	for rawName, ds := range c.Datasets {
		name := strings.ToLower(strings.TrimSpace(rawName))
		if ds == nil {
			ds = &DatasetOverride{}
		}
		datasets[name] = ds
		ds.Table = strings.TrimSpace(os.ExpandEnv(ds.Table))
		ds.ValueColumn = strings.TrimSpace(os.ExpandEnv(ds.ValueColumn))
		ds.UnitColumn = strings.TrimSpace(os.ExpandEnv(ds.UnitColumn))
		ds.DatasetCode = strings.TrimSpace(os.ExpandEnv(ds.DatasetCode))
		ds.Selector = strings.TrimSpace(os.ExpandEnv(ds.Selector))
		if ds.Window, err = parseDuration("datasets."+name+".window", ds.WindowRaw); err != nil {
			return err
		}
	}
	c.Datasets = datasets
	return nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(os.ExpandEnv(raw))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("elexon config: invalid %s %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("elexon config: %s must be positive, got %s", field, d)
	}
	return d, nil
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("elexon config: max_attempts cannot be negative")
	}
	if _, ok := ParseBackoffStrategy(c.Backoff); !ok {
		return fmt.Errorf("elexon config: unsupported backoff %q", c.Backoff)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("elexon config: rate_limit cannot be negative")
	}
	if c.Endpoints.SystemPrices != "" && !strings.Contains(c.Endpoints.SystemPrices, settlementDatePathSlot) {
		return fmt.Errorf("elexon config: endpoints.system_prices must contain %s", settlementDatePathSlot)
	}
	if c.MaxBackoff > 0 && c.BackoffBase > c.MaxBackoff {
		return fmt.Errorf("elexon config: backoff_base %s exceeds max_backoff %s", c.BackoffBase, c.MaxBackoff)
	}
	return nil
}

// ResolvedEndpoints returns the endpoints with defaults filled in.
func (c *Config) ResolvedEndpoints() Endpoints {
	return Endpoints{
		BaseURL:      c.BaseURL,
		SystemPrices: c.Endpoints.SystemPrices,
		MarketIndex:  c.Endpoints.MarketIndex,
		Physical:     c.Endpoints.Physical,
	}.withDefaults()
}

// RetryPolicy builds the retry policy, falling back to defaults.
func (c *Config) RetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.BackoffBase > 0 {
		p.Base = c.BackoffBase
	}
	if c.MaxBackoff > 0 {
		p.MaxBackoff = c.MaxBackoff
	}
	if strategy, ok := ParseBackoffStrategy(c.Backoff); ok {
		p.Strategy = strategy
	}
	p.RetryClientErrors = c.RetryClientErrors
	return p
}

// ClientOptions translates the configuration into client options.
func (c *Config) ClientOptions() []Option {
	if c == nil {
		return nil
	}
	opts := []Option{
		WithEndpoints(c.ResolvedEndpoints()),
		WithRetryPolicy(c.RetryPolicy()),
		WithAllowBareList(c.AllowBareList),
		WithRateLimit(c.RateLimit, c.Burst),
	}
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(c.Timeout))
	}
	return opts
}

// Dataset returns the override for name, or nil.
func (c *Config) Dataset(name string) *DatasetOverride {
	if c == nil || c.Datasets == nil {
		return nil
	}
	return c.Datasets[strings.ToLower(strings.TrimSpace(name))]
}
