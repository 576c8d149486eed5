package main

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// finite maps NaN and ±Inf to nil so they encode as JSON null.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (d *Dashboard) metricParam(w http.ResponseWriter, r *http.Request) (Metric, bool) {
	m, err := ParseMetric(r.PathValue("metric"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return m, true
}

func (d *Dashboard) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Status())
}

func (d *Dashboard) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	m, ok := d.metricParam(w, r)
	if !ok {
		return
	}
	snap, err := d.Snapshot(m)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	timestamps := make([]int64, len(snap.Timestamps))
	for i, t := range snap.Timestamps {
		timestamps[i] = t.UnixMilli()
	}
	values := make([]*float64, len(snap.Values))
	for i, v := range snap.Values {
		values[i] = finite(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metric":     m,
		"spec":       d.charts[m].spec,
		"timestamps": timestamps,
		"values":     values,
	})
}

func (d *Dashboard) handleGetChart(w http.ResponseWriter, r *http.Request) {
	m, ok := d.metricParam(w, r)
	if !ok {
		return
	}
	data, err := d.ChartPNG(m)
	if errors.Is(err, ErrChartNotReady) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleIngest accepts a sample in the feed's "data" shape, for producers
// that push over HTTP instead of being polled.
func (d *Dashboard) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64*1024))
	if err != nil || !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res := gjson.ParseBytes(body)
	data := res
	if res.Get("data").IsObject() {
		data = res.Get("data")
	}
	if !data.IsObject() {
		writeError(w, http.StatusBadRequest, "expected a JSON object")
		return
	}
	d.Ingest(parseSample(data, res.Get("timestamp"), time.Now()))
	writeJSON(w, http.StatusAccepted, map[string]int{"size": d.series.Len()})
}

func (d *Dashboard) handlePutActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Metric string `json:"metric"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	m, err := ParseMetric(body.Metric)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := d.SwitchActive(m); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]Metric{"active": m})
}

func (d *Dashboard) handlePutViewport(w http.ResponseWriter, r *http.Request) {
	var vp Viewport
	if err := json.NewDecoder(r.Body).Decode(&vp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if vp.Width < 0 || vp.Height < 0 || vp.DevicePixelRatio < 0 || vp.DevicePixelRatio > 8 {
		writeError(w, http.StatusBadRequest, "viewport out of range")
		return
	}
	if vp.Width > 8192 || vp.Height > 8192 || (vp.Width > 0 && vp.Height > 0 && !vp.fits()) {
		writeError(w, http.StatusBadRequest, "viewport too large")
		return
	}
	d.OnResize(vp)
	writeJSON(w, http.StatusOK, vp)
}

func (d *Dashboard) handlePutVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hidden bool `json:"hidden"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d.SetVisible(!body.Hidden)
	writeJSON(w, http.StatusOK, map[string]bool{"hidden": body.Hidden})
}

func (d *Dashboard) handleGetAlarms(w http.ResponseWriter, r *http.Request) {
	current := d.alarms.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(current),
		"alarms":  current,
		"history": d.alarms.History(),
	})
}

func (d *Dashboard) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	st := d.Status()
	self, err := readSelfStats()
	resp := map[string]any{
		"status":           "ok",
		"session":          st.Session,
		"feed_connected":   st.Connected,
		"source_connected": st.SourceConnected,
		"last_ingest":      st.LastIngest,
		"ws_clients":       d.hub.count(),
		"process":          self,
	}
	if err != nil {
		resp["process_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetConfig returns the config as YAML, the same form it is stored in.
func (d *Dashboard) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := yaml.Marshal(d.config.Get())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode config")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (d *Dashboard) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1 MB
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1024*1024))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large")
		return
	}
	cfg, err := parseConfig(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := d.config.Replace(cfg); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to write config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "config updated, restart to apply feed changes"})
}
