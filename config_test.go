package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigYAML(t *testing.T) {
	cfg, err := parseConfig([]byte(`
locale: de
active_metric: DoseError
feed:
  poll_interval: 500ms
  hidden_interval_factor: 0
buffer:
  capacity: 120
metrics:
  dose:
    color: "#000000"
    min: -1
    max: 1
`))
	require.NoError(t, err)

	assert.Equal(t, "de", cfg.Locale)
	assert.Equal(t, "DoseError", cfg.ActiveMetric)
	assert.Equal(t, 500*time.Millisecond, cfg.Feed.PollInterval)
	assert.Equal(t, 0, cfg.hiddenFactor())
	assert.Equal(t, 120, cfg.Buffer.Capacity)

	// untouched keys keep their defaults
	assert.Equal(t, FeedModePoll, cfg.Feed.Mode)
	assert.Equal(t, 5*time.Second, cfg.Feed.RequestTimeout)
	assert.Equal(t, Viewport{Width: 800, Height: 400, DevicePixelRatio: 1}, cfg.viewport())

	specs := cfg.chartSpecs()
	assert.Equal(t, "#000000", specs[MetricDose].Color)
	assert.Equal(t, -1.0, specs[MetricDose].Min)
	assert.Equal(t, 1.0, specs[MetricDose].Max)
	assert.Equal(t, "Dose error", specs[MetricDose].Label)
	assert.Equal(t, defaultChartSpecs()[MetricTemperature], specs[MetricTemperature])
}

func TestParseConfigJSON(t *testing.T) {
	cfg, err := parseConfig([]byte(`{"listen":":9000","feed":{"mode":"push","push_url":"wss://tool.local/ws"}}`))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, FeedModePush, cfg.Feed.Mode)
	assert.Equal(t, 2, cfg.hiddenFactor())
}

func TestParseConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"Syntax":         "feed: [",
		"Mode":           "feed: {mode: carrier-pigeon}",
		"PushScheme":     "feed: {mode: push, push_url: 'http://tool.local'}",
		"Interval":       "feed: {poll_interval: 0s}",
		"Capacity":       "buffer: {capacity: 0}",
		"ActiveMetric":   "active_metric: pressure",
		"MetricName":     "metrics: {pressure: {min: 0, max: 1}}",
		"Color":          "metrics: {dose: {color: 'green'}}",
		"NegativeFactor": "feed: {hidden_interval_factor: -1}",
		"InvertedRange":  "metrics: {temperature: {min: 30}}",
		"EmptyRange":     "metrics: {dose: {min: 1, max: 1}}",
		"Decimals":       "metrics: {dose: {decimals: -1}}",
		"ChartTooLarge":  "chart: {width: 8192, height: 8192, device_pixel_ratio: 8}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig([]byte(doc))
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestChartSpecsPartialOverride(t *testing.T) {
	cfg, err := parseConfig([]byte("metrics:\n  temperature: { max: 30 }\n  vibration: { min: 0.01, decimals: 0 }\n"))
	require.NoError(t, err)

	specs := cfg.chartSpecs()
	assert.Equal(t, 21.0, specs[MetricTemperature].Min, "unset bound keeps its default")
	assert.Equal(t, 30.0, specs[MetricTemperature].Max)
	assert.Equal(t, 0.01, specs[MetricVibration].Min)
	assert.Equal(t, 0.1, specs[MetricVibration].Max)
	assert.Equal(t, 0, specs[MetricVibration].Decimals)

	clone := cfg.clone()
	*clone.Metrics["temperature"].Max = 99
	assert.Equal(t, 30.0, cfg.chartSpecs()[MetricTemperature].Max)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := defaultConfig()
	cfg.ActiveMetric = string(MetricOverlay)
	cfg.Feed.PollInterval = 3 * time.Second

	require.NoError(t, cfg.saveConfig(path))
	_, err := os.Stat(path + ".lock")
	assert.NoError(t, err)

	loaded, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	store := newConfigStore(path, defaultConfig())

	t.Run("GetReturnsCopy", func(t *testing.T) {
		cfg := store.Get()
		*cfg.Feed.HiddenIntervalFactor = 9
		cfg.Listen = ":1"
		assert.Equal(t, 2, store.Get().hiddenFactor())
		assert.Equal(t, ":8090", store.Get().Listen)
	})

	t.Run("UpdatePersists", func(t *testing.T) {
		require.NoError(t, store.Update(func(cfg *Config) { cfg.ActiveMetric = "vibration" }))
		assert.Equal(t, "vibration", store.Get().ActiveMetric)

		loaded, err := loadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "vibration", loaded.ActiveMetric)
	})

	t.Run("UpdateRejectsInvalid", func(t *testing.T) {
		err := store.Update(func(cfg *Config) { cfg.Buffer.Capacity = -1 })
		assert.True(t, errors.Is(err, ErrInvalidConfig))
		assert.Equal(t, 60, store.Get().Buffer.Capacity)
	})

	t.Run("Replace", func(t *testing.T) {
		next := defaultConfig()
		next.Locale = "fr"
		require.NoError(t, store.Replace(next))
		assert.Equal(t, "fr", store.Get().Locale)
	})

	t.Run("MemoryOnly", func(t *testing.T) {
		mem := newConfigStore("", defaultConfig())
		require.NoError(t, mem.Update(func(cfg *Config) { cfg.Locale = "ja" }))
		assert.Equal(t, "ja", mem.Get().Locale)
	})
}

func TestIsHexColor(t *testing.T) {
	assert.True(t, isHexColor("#FF5722"))
	assert.True(t, isHexColor("ff5722"))
	assert.False(t, isHexColor("#FFF"))
	assert.False(t, isHexColor("#GG5722"))
}
