package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var ErrFeedStatus = errors.New("feed returned non-ok status")

// Health is the backend's own view of its data source.
type Health struct {
	OK           bool
	OPCConnected bool
}

// Feed is the pull side of the tool backend.
type Feed interface {
	Latest(ctx context.Context) (Sample, error)
	History(ctx context.Context) (History, error)
	Alarms(ctx context.Context) ([]Alarm, error)
	Health(ctx context.Context) (Health, error)
}

// HTTPFeed polls the backend's JSON API.
type HTTPFeed struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewHTTPFeed(baseURL string, timeout time.Duration) *HTTPFeed {
	return &HTTPFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// get fetches path and returns the parsed body when status == "ok".
func (f *HTTPFeed) get(ctx context.Context, path string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("GET %s: invalid JSON", path)
	}
	res := gjson.ParseBytes(body)
	if st := res.Get("status").String(); st != "ok" {
		return gjson.Result{}, fmt.Errorf("GET %s: %w (%q)", path, ErrFeedStatus, st)
	}
	return res, nil
}

func (f *HTTPFeed) Latest(ctx context.Context) (Sample, error) {
	res, err := f.get(ctx, "/api/data/latest")
	if err != nil {
		return Sample{}, err
	}
	return parseSample(res.Get("data"), res.Get("timestamp"), f.now()), nil
}

func (f *HTTPFeed) History(ctx context.Context) (History, error) {
	res, err := f.get(ctx, "/api/data/history")
	if err != nil {
		return History{}, err
	}
	return parseHistory(res.Get("data"), f.now()), nil
}

func (f *HTTPFeed) Alarms(ctx context.Context) ([]Alarm, error) {
	res, err := f.get(ctx, "/api/alarms")
	if err != nil {
		return nil, err
	}
	return parseAlarms(res.Get("alarms"), f.now()), nil
}

func (f *HTTPFeed) Health(ctx context.Context) (Health, error) {
	res, err := f.get(ctx, "/api/health")
	if err != nil {
		return Health{}, err
	}
	return Health{OK: true, OPCConnected: res.Get("opc_connected").Bool()}, nil
}

// parseSample reads the metric fields of a feed "data" object. Absent or
// non-numeric fields stay nil. The timestamp comes from data.timestamp,
// then the envelope, then fallback.
func parseSample(data, envelopeTS gjson.Result, fallback time.Time) Sample {
	s := Sample{Timestamp: fallback}
	if ts, ok := parseTime(data.Get("timestamp")); ok {
		s.Timestamp = ts
	} else if ts, ok := parseTime(envelopeTS); ok {
		s.Timestamp = ts
	}
	for _, m := range Metrics {
		if v, ok := number(data.Get(m.FeedKey())); ok {
			s.Set(m, v)
		}
	}
	if v, ok := number(data.Get("MachineStatus")); ok {
		st := MachineStatus(int(v))
		s.MachineStatus = &st
	} else if r := data.Get("MachineStatus"); r.Type == gjson.String {
		for st := MachineOffline; st <= MachineExecute; st++ {
			if strings.EqualFold(r.String(), st.String()) {
				found := st
				s.MachineStatus = &found
				break
			}
		}
	}
	if v, ok := number(data.Get("WaferCount")); ok {
		n := int(math.Floor(v))
		s.WaferCount = &n
	}
	return s
}

func number(r gjson.Result) (float64, bool) {
	if r.Type != gjson.Number {
		return 0, false
	}
	v := r.Float()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parseTime accepts RFC3339 strings (with or without zone) or epoch
// milliseconds.
func parseTime(r gjson.Result) (time.Time, bool) {
	switch r.Type {
	case gjson.Number:
		ms := r.Int()
		if ms <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(ms), true
	case gjson.String:
		s := strings.TrimSpace(r.String())
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// parseHistory reads {timestamps: [...], data: {Temperature: [...], ...}}.
// Unparseable timestamps fall back to fallback so arrays stay aligned.
func parseHistory(data gjson.Result, fallback time.Time) History {
	h := History{Values: make(map[Metric][]float64)}
	for _, r := range data.Get("timestamps").Array() {
		ts, ok := parseTime(r)
		if !ok {
			ts = fallback
		}
		h.Timestamps = append(h.Timestamps, ts)
	}
	series := data.Get("data")
	for _, m := range Metrics {
		arr := series.Get(m.FeedKey())
		if !arr.IsArray() {
			continue
		}
		vals := make([]float64, 0, len(h.Timestamps))
		for _, r := range arr.Array() {
			v, ok := number(r)
			if !ok {
				v = math.NaN()
			}
			vals = append(vals, v)
		}
		h.Values[m] = vals
	}
	return h
}

func parseAlarms(list gjson.Result, fallback time.Time) []Alarm {
	alarms := make([]Alarm, 0)
	for _, r := range list.Array() {
		ts, ok := parseTime(r.Get("timestamp"))
		if !ok {
			ts = fallback
		}
		alarms = append(alarms, Alarm{
			Timestamp:  ts,
			Level:      r.Get("level").String(),
			Message:    r.Get("message").String(),
			Node:       r.Get("node").String(),
			Type:       r.Get("type").String(),
			Suggestion: r.Get("suggestion").String(),
			Value:      r.Get("value").String(),
		})
	}
	return alarms
}
