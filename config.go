package main

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	FeedModePoll = "poll"
	FeedModePush = "push"
)

type FeedConfig struct {
	Mode                 string        `yaml:"mode" json:"mode"`
	BaseURL              string        `yaml:"base_url" json:"base_url"`
	PushURL              string        `yaml:"push_url" json:"push_url"`
	PollInterval         time.Duration `yaml:"poll_interval" json:"poll_interval"`
	RequestTimeout       time.Duration `yaml:"request_timeout" json:"request_timeout"`
	HiddenIntervalFactor *int          `yaml:"hidden_interval_factor" json:"hidden_interval_factor"`
	HealthEvery          int           `yaml:"health_every" json:"health_every"`
	WatchdogTimeout      time.Duration `yaml:"watchdog_timeout" json:"watchdog_timeout"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
}

type BufferConfig struct {
	Capacity int `yaml:"capacity" json:"capacity"`
}

type ChartConfig struct {
	Width            float64 `yaml:"width" json:"width"`
	Height           float64 `yaml:"height" json:"height"`
	DevicePixelRatio float64 `yaml:"device_pixel_ratio" json:"device_pixel_ratio"`
	Padding          float64 `yaml:"padding" json:"padding"`
	PaddingBottom    float64 `yaml:"padding_bottom" json:"padding_bottom"`
}

type Config struct {
	Listen        string                   `yaml:"listen" json:"listen"`
	AllowedOrigin string                   `yaml:"allowed_origin" json:"allowed_origin"`
	LogLevel      string                   `yaml:"log_level" json:"log_level"`
	Locale        string                   `yaml:"locale" json:"locale"`
	ActiveMetric  string                   `yaml:"active_metric" json:"active_metric"`
	Feed          FeedConfig               `yaml:"feed" json:"feed"`
	Buffer        BufferConfig             `yaml:"buffer" json:"buffer"`
	Chart         ChartConfig              `yaml:"chart" json:"chart"`
	Metrics       map[string]ChartOverride `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

func defaultConfig() *Config {
	factor := 2
	return &Config{
		Listen:        ":8090",
		AllowedOrigin: "http://localhost:5173",
		LogLevel:      "info",
		Locale:        "en",
		ActiveMetric:  string(MetricTemperature),
		Feed: FeedConfig{
			Mode:                 FeedModePoll,
			BaseURL:              "http://localhost:5000",
			PollInterval:         2 * time.Second,
			RequestTimeout:       5 * time.Second,
			HiddenIntervalFactor: &factor,
			HealthEvery:          10,
			WatchdogTimeout:      15 * time.Second,
			ReconnectDelay:       3 * time.Second,
		},
		Buffer: BufferConfig{Capacity: 60},
		Chart: ChartConfig{
			Width:            800,
			Height:           400,
			DevicePixelRatio: 1,
			Padding:          40,
			PaddingBottom:    50,
		},
	}
}

// loadConfig reads a YAML (or JSON) config on top of the defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// saveConfig writes cfg while holding an exclusive lock next to the file,
// so concurrent writers from handlers do not interleave.
func (cfg *Config) saveConfig(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock config: %w", err)
	}
	defer lock.Unlock()
	return os.WriteFile(path, data, 0644)
}

func validateConfig(cfg *Config) error {
	switch cfg.Feed.Mode {
	case FeedModePoll:
		if _, err := url.ParseRequestURI(cfg.Feed.BaseURL); err != nil {
			return fmt.Errorf("%w: feed.base_url: %v", ErrInvalidConfig, err)
		}
	case FeedModePush:
		u, err := url.ParseRequestURI(cfg.Feed.PushURL)
		if err != nil {
			return fmt.Errorf("%w: feed.push_url: %v", ErrInvalidConfig, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%w: feed.push_url must be ws:// or wss://", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: feed.mode must be %q or %q", ErrInvalidConfig, FeedModePoll, FeedModePush)
	}
	if cfg.Feed.PollInterval <= 0 {
		return fmt.Errorf("%w: feed.poll_interval must be > 0", ErrInvalidConfig)
	}
	if cfg.Feed.RequestTimeout <= 0 {
		return fmt.Errorf("%w: feed.request_timeout must be > 0", ErrInvalidConfig)
	}
	if cfg.Feed.HiddenIntervalFactor != nil && *cfg.Feed.HiddenIntervalFactor < 0 {
		return fmt.Errorf("%w: feed.hidden_interval_factor must be >= 0", ErrInvalidConfig)
	}
	if cfg.Feed.HealthEvery < 0 {
		return fmt.Errorf("%w: feed.health_every must be >= 0", ErrInvalidConfig)
	}
	if cfg.Feed.WatchdogTimeout < 0 {
		return fmt.Errorf("%w: feed.watchdog_timeout must be >= 0", ErrInvalidConfig)
	}
	if cfg.Buffer.Capacity < 1 {
		return fmt.Errorf("%w: buffer.capacity must be >= 1", ErrInvalidConfig)
	}
	if cfg.Chart.Width < 0 || cfg.Chart.Height < 0 {
		return fmt.Errorf("%w: chart size must be >= 0", ErrInvalidConfig)
	}
	if cfg.Chart.Width > 0 && cfg.Chart.Height > 0 && !cfg.viewport().fits() {
		return fmt.Errorf("%w: chart size times device_pixel_ratio exceeds %dx%d or %d pixels",
			ErrInvalidConfig, maxBackingSide, maxBackingSide, maxBackingPixels)
	}
	if _, err := ParseMetric(cfg.ActiveMetric); err != nil {
		return fmt.Errorf("%w: active_metric: %v", ErrInvalidConfig, err)
	}
	for name, spec := range cfg.Metrics {
		if _, err := ParseMetric(name); err != nil {
			return fmt.Errorf("%w: metrics: %v", ErrInvalidConfig, err)
		}
		if spec.Color != "" && !isHexColor(spec.Color) {
			return fmt.Errorf("%w: metrics.%s.color: %q is not #RRGGBB", ErrInvalidConfig, name, spec.Color)
		}
		if spec.Decimals != nil && (*spec.Decimals < 0 || *spec.Decimals > 10) {
			return fmt.Errorf("%w: metrics.%s.decimals must be 0..10", ErrInvalidConfig, name)
		}
	}
	specs := cfg.chartSpecs()
	for _, m := range Metrics {
		s := specs[m]
		if math.IsInf(s.Min, 0) || math.IsInf(s.Max, 0) || !(s.Max > s.Min) {
			return fmt.Errorf("%w: metrics.%s: range %g..%g must have max > min", ErrInvalidConfig, m, s.Min, s.Max)
		}
	}
	return nil
}

func isHexColor(s string) bool {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// chartSpecs merges configured overrides onto the built-in specs.
func (cfg *Config) chartSpecs() map[Metric]ChartSpec {
	specs := defaultChartSpecs()
	for name, o := range cfg.Metrics {
		m, err := ParseMetric(name)
		if err != nil {
			continue
		}
		s := specs[m]
		if o.Color != "" {
			s.Color = o.Color
		}
		if o.Label != "" {
			s.Label = o.Label
		}
		if o.Unit != "" {
			s.Unit = o.Unit
		}
		if o.Min != nil {
			s.Min = *o.Min
		}
		if o.Max != nil {
			s.Max = *o.Max
		}
		if o.Decimals != nil {
			s.Decimals = *o.Decimals
		}
		specs[m] = s
	}
	return specs
}

func (cfg *Config) hiddenFactor() int {
	if cfg.Feed.HiddenIntervalFactor == nil {
		return 2
	}
	return *cfg.Feed.HiddenIntervalFactor
}

func (cfg *Config) viewport() Viewport {
	return Viewport{
		Width:            cfg.Chart.Width,
		Height:           cfg.Chart.Height,
		DevicePixelRatio: cfg.Chart.DevicePixelRatio,
	}
}

// configStore holds the persisted config document. Runtime components
// copy what they need at startup; changes made through the API are
// written back to disk and take effect on the next start.
type configStore struct {
	path string
	mu   sync.Mutex
	cfg  *Config
}

func newConfigStore(path string, cfg *Config) *configStore {
	return &configStore{path: path, cfg: cfg}
}

// Get returns a copy of the current config.
func (cs *configStore) Get() *Config {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.cfg.clone()
}

// Replace validates cfg and persists it.
func (cs *configStore) Replace(cfg *Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.save(cfg); err != nil {
		return err
	}
	cs.cfg = cfg.clone()
	return nil
}

// Update applies fn to a copy of the config and persists the result.
func (cs *configStore) Update(fn func(cfg *Config)) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	next := cs.cfg.clone()
	fn(next)
	if err := validateConfig(next); err != nil {
		return err
	}
	if err := cs.save(next); err != nil {
		return err
	}
	cs.cfg = next
	return nil
}

func (cs *configStore) save(cfg *Config) error {
	if cs.path == "" {
		return nil
	}
	return cfg.saveConfig(cs.path)
}

func (cfg *Config) clone() *Config {
	c := *cfg
	if cfg.Feed.HiddenIntervalFactor != nil {
		f := *cfg.Feed.HiddenIntervalFactor
		c.Feed.HiddenIntervalFactor = &f
	}
	if cfg.Metrics != nil {
		c.Metrics = make(map[string]ChartOverride, len(cfg.Metrics))
		for k, v := range cfg.Metrics {
			c.Metrics[k] = v.clone()
		}
	}
	return &c
}
