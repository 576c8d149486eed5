package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownMetric = errors.New("unknown metric")

type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricVibration   Metric = "vibration"
	MetricDose        Metric = "dose"
	MetricOverlay     Metric = "overlay"
)

// Metrics lists every charted metric in display order.
var Metrics = []Metric{MetricTemperature, MetricVibration, MetricDose, MetricOverlay}

// FeedKey is the field name the tool backend uses for the metric.
func (m Metric) FeedKey() string {
	switch m {
	case MetricTemperature:
		return "Temperature"
	case MetricVibration:
		return "StageVibration"
	case MetricDose:
		return "DoseError"
	case MetricOverlay:
		return "OverlayPrecision"
	}
	return ""
}

func (m Metric) index() int {
	for i, mm := range Metrics {
		if mm == m {
			return i
		}
	}
	return -1
}

// ParseMetric accepts either the metric name or its feed key.
func ParseMetric(s string) (Metric, error) {
	s = strings.TrimSpace(s)
	for _, m := range Metrics {
		if strings.EqualFold(s, string(m)) || strings.EqualFold(s, m.FeedKey()) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

type MachineStatus int

const (
	MachineOffline MachineStatus = iota
	MachineInitial
	MachineIdle
	MachineExecute
)

func (s MachineStatus) String() string {
	switch s {
	case MachineOffline:
		return "Offline"
	case MachineInitial:
		return "Initial"
	case MachineIdle:
		return "Idle"
	case MachineExecute:
		return "Execute"
	}
	return "Unknown"
}

// Sample is one timestamped set of readings. Nil fields were not present
// in the feed message and must not be treated as zero.
type Sample struct {
	Timestamp        time.Time      `json:"timestamp"`
	Temperature      *float64       `json:"temperature,omitempty"`
	StageVibration   *float64       `json:"stage_vibration,omitempty"`
	DoseError        *float64       `json:"dose_error,omitempty"`
	OverlayPrecision *float64       `json:"overlay_precision,omitempty"`
	MachineStatus    *MachineStatus `json:"machine_status,omitempty"`
	WaferCount       *int           `json:"wafer_count,omitempty"`
}

func (s Sample) reading(m Metric) *float64 {
	switch m {
	case MetricTemperature:
		return s.Temperature
	case MetricVibration:
		return s.StageVibration
	case MetricDose:
		return s.DoseError
	case MetricOverlay:
		return s.OverlayPrecision
	}
	return nil
}

// Value returns the reading for m and whether it was present.
func (s Sample) Value(m Metric) (float64, bool) {
	p := s.reading(m)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Set stores v as the reading for m.
func (s *Sample) Set(m Metric, v float64) {
	switch m {
	case MetricTemperature:
		s.Temperature = &v
	case MetricVibration:
		s.StageVibration = &v
	case MetricDose:
		s.DoseError = &v
	case MetricOverlay:
		s.OverlayPrecision = &v
	}
}

// ChartSpec is the static per-metric chart configuration.
type ChartSpec struct {
	Color    string  `yaml:"color" json:"color"`
	Label    string  `yaml:"label" json:"label"`
	Unit     string  `yaml:"unit" json:"unit"`
	Min      float64 `yaml:"min" json:"min"`
	Max      float64 `yaml:"max" json:"max"`
	Decimals int     `yaml:"decimals" json:"decimals"`
}

// ChartOverride is a configured change to a built-in ChartSpec. Nil or
// empty fields keep the built-in value, each bound on its own.
type ChartOverride struct {
	Color    string   `yaml:"color,omitempty" json:"color,omitempty"`
	Label    string   `yaml:"label,omitempty" json:"label,omitempty"`
	Unit     string   `yaml:"unit,omitempty" json:"unit,omitempty"`
	Min      *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Decimals *int     `yaml:"decimals,omitempty" json:"decimals,omitempty"`
}

func (o ChartOverride) clone() ChartOverride {
	if o.Min != nil {
		v := *o.Min
		o.Min = &v
	}
	if o.Max != nil {
		v := *o.Max
		o.Max = &v
	}
	if o.Decimals != nil {
		v := *o.Decimals
		o.Decimals = &v
	}
	return o
}

func defaultChartSpecs() map[Metric]ChartSpec {
	return map[Metric]ChartSpec{
		MetricTemperature: {Color: "#FF5722", Label: "Temperature", Unit: "°C", Min: 21, Max: 25, Decimals: 1},
		MetricVibration:   {Color: "#2196F3", Label: "Stage vibration", Unit: "μm", Min: 0, Max: 0.1, Decimals: 2},
		MetricDose:        {Color: "#4CAF50", Label: "Dose error", Unit: "%", Min: 0, Max: 2, Decimals: 1},
		MetricOverlay:     {Color: "#FFC107", Label: "Overlay precision", Unit: "nm", Min: 0.5, Max: 2, Decimals: 1},
	}
}
