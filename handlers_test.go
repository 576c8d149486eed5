package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandleIngestAndSeries(t *testing.T) {
	d := newTestDashboard(t, nil)
	mux := newMux(d)

	rec := serve(t, mux, http.MethodPost, "/api/ingest", `{"timestamp":1772366400000,"data":{"Temperature":22.4,"DoseError":0.3}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, decodeBody(t, rec)["size"])

	rec = serve(t, mux, http.MethodPost, "/api/ingest", `{"Temperature":22.6}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, mux, http.MethodGet, "/api/series/temperature", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var series struct {
		Metric     Metric     `json:"metric"`
		Spec       ChartSpec  `json:"spec"`
		Timestamps []int64    `json:"timestamps"`
		Values     []*float64 `json:"values"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	assert.Equal(t, MetricTemperature, series.Metric)
	assert.Equal(t, "#FF5722", series.Spec.Color)
	require.Len(t, series.Values, 2)
	assert.Equal(t, int64(1772366400000), series.Timestamps[0])
	assert.Equal(t, 22.6, *series.Values[1])

	rec = serve(t, mux, http.MethodGet, "/api/series/OverlayPrecision", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	assert.Equal(t, []*float64{nil, nil}, series.Values, "never-reported values encode as null")

	rec = serve(t, mux, http.MethodGet, "/api/series/pressure", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleIngestInvalid(t *testing.T) {
	mux := newMux(newTestDashboard(t, nil))
	for _, body := range []string{`{"Temperature":`, `[1,2,3]`, `42`} {
		rec := serve(t, mux, http.MethodPost, "/api/ingest", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestHandleGetChart(t *testing.T) {
	d := newTestDashboard(t, nil)
	mux := newMux(d)

	rec := serve(t, mux, http.MethodGet, "/api/charts/temperature", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing rendered yet")

	d.Ingest(tempSample(t0, 22))
	d.Ingest(tempSample(t0.Add(time.Second), 23))
	rec = serve(t, mux, http.MethodGet, "/api/charts/temperature", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 400, img.Bounds().Dy())
}

func TestHandlePutActive(t *testing.T) {
	d := newTestDashboard(t, nil)
	mux := newMux(d)

	rec := serve(t, mux, http.MethodPut, "/api/active", `{"metric":"vibration"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MetricVibration, d.Status().Active)

	rec = serve(t, mux, http.MethodPut, "/api/active", `{"metric":"pressure"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, mux, http.MethodPut, "/api/active", `nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePutViewport(t *testing.T) {
	d := newTestDashboard(t, nil)
	mux := newMux(d)

	rec := serve(t, mux, http.MethodPut, "/api/viewport", `{"width":640,"height":360,"device_pixel_ratio":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Viewport{Width: 640, Height: 360, DevicePixelRatio: 2}, d.Status().Viewport)

	for _, body := range []string{
		`{"width":-1,"height":10}`,
		`{"width":10000,"height":10}`,
		`{"width":10,"height":10,"device_pixel_ratio":9}`,
		`{"width":8192,"height":8192,"device_pixel_ratio":8}`,
		`{"width":4096,"height":4096,"device_pixel_ratio":2}`,
		`x`,
	} {
		rec = serve(t, mux, http.MethodPut, "/api/viewport", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, Viewport{Width: 640, Height: 360, DevicePixelRatio: 2}, d.Status().Viewport, "rejected sizes are not applied")

	rec = serve(t, mux, http.MethodPut, "/api/viewport", `{"width":0,"height":0}`)
	assert.Equal(t, http.StatusOK, rec.Code, "a zero viewport hides the chart")
}

func TestHandlePutVisibility(t *testing.T) {
	d := newTestDashboard(t, &fakeFeed{})
	mux := newMux(d)

	rec := serve(t, mux, http.MethodPut, "/api/visibility", `{"hidden":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, d.Status().Visible)
	assert.Equal(t, 4*time.Second, d.poll.Interval())
}

func TestHandleGetStatusAndAlarms(t *testing.T) {
	d := newTestDashboard(t, nil)
	d.ApplyAlarms([]Alarm{{Timestamp: t0, Level: "CRITICAL", Message: "Overlay out of spec"}})
	mux := newMux(d)

	rec := serve(t, mux, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, "temperature", status["active"])
	assert.Equal(t, 10.0, status["capacity"])

	rec = serve(t, mux, http.MethodGet, "/api/alarms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var alarms struct {
		Count   int     `json:"count"`
		Alarms  []Alarm `json:"alarms"`
		History []Alarm `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alarms))
	assert.Equal(t, 1, alarms.Count)
	assert.Equal(t, "critical", alarms.Alarms[0].Level)
	assert.Len(t, alarms.History, 1)
}

func TestHandleGetHealth(t *testing.T) {
	mux := newMux(newTestDashboard(t, nil))
	rec := serve(t, mux, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["feed_connected"])
	require.Contains(t, body, "process")
	assert.NotContains(t, body, "process_error")
	proc := body["process"].(map[string]any)
	assert.Contains(t, proc, "memory_mb")
	assert.Contains(t, proc, "threads")
}

func TestHandleConfig(t *testing.T) {
	d := newTestDashboard(t, nil)
	mux := newMux(d)

	rec := serve(t, mux, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	var got Config
	require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2*time.Second, got.Feed.PollInterval)
	assert.Equal(t, 10, got.Buffer.Capacity)

	rec = serve(t, mux, http.MethodPut, "/api/config", "locale: fr\nbuffer: {capacity: 30}\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "fr", d.config.Get().Locale)
	assert.Equal(t, 30, d.config.Get().Buffer.Capacity)
	assert.Equal(t, 10, d.series.Capacity(), "runtime keeps its window until restart")

	rec = serve(t, mux, http.MethodPut, "/api/config", "feed: {mode: smoke-signals}")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	h := corsMiddleware("http://localhost:5173", newMux(newTestDashboard(t, nil)))

	rec := serve(t, h, http.MethodOptions, "/api/status", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(t, h, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketUpdates(t *testing.T) {
	d := newTestDashboard(t, nil)
	go d.hub.run()
	srv := httptest.NewServer(newMux(d))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "init", hello["type"])

	assert.Eventually(t, func() bool { return d.hub.count() == 1 }, time.Second, 5*time.Millisecond)
	d.Ingest(tempSample(t0, 22.2))

	var update map[string]any
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "update", update["type"])
	assert.Equal(t, 1.0, update["size"])
}
