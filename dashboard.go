package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrChartNotReady = errors.New("chart has not been rendered yet")

type ChartState string

const (
	ChartUninitialized ChartState = "uninitialized"
	ChartReady         ChartState = "ready"
)

type chartView struct {
	spec    ChartSpec
	surface *RasterSurface
	state   ChartState
	renders int
}

// Dashboard is the per-session context: it owns the rolling window, the
// chart surfaces, the active selection and the feed tasks. All buffer
// mutation and rendering happen under mu, so readers never see a
// half-applied update.
type Dashboard struct {
	id       string
	config   *configStore
	series   *SeriesBuffer
	renderer *ChartRenderer
	charts   map[Metric]*chartView
	alarms   *AlarmStore
	hub      *WSHub

	feedMode        string
	feed            Feed
	push            *PushFeed
	pollInterval    time.Duration
	hiddenFactor    int
	healthEvery     int
	watchdogTimeout time.Duration

	poll     *RepeatingTask
	watchdog *RepeatingTask
	inflight sync.WaitGroup

	pushMu     sync.Mutex
	pushCtx    context.Context
	pushCancel context.CancelFunc
	pushDone   chan struct{}

	mu              sync.Mutex
	active          Metric
	viewport        Viewport
	visible         bool
	connected       bool
	sourceConnected *bool
	lastIngest      time.Time
	lastRestart     time.Time
	machineStatus   *MachineStatus
	waferCount      *int
	lastApplied     uint64
	closed          bool

	seq       atomic.Uint64
	polls     atomic.Uint64
	now       func() time.Time
	startedAt time.Time
}

func newDashboard(store *configStore) *Dashboard {
	cfg := store.Get()
	active, err := ParseMetric(cfg.ActiveMetric)
	if err != nil {
		active = MetricTemperature
	}

	d := &Dashboard{
		id:              uuid.NewString(),
		config:          store,
		series:          NewSeriesBuffer(cfg.Buffer.Capacity),
		renderer:        NewChartRenderer(cfg.Chart.Padding, cfg.Chart.PaddingBottom, cfg.Locale),
		charts:          make(map[Metric]*chartView, len(Metrics)),
		alarms:          &AlarmStore{},
		hub:             newWSHub(),
		feedMode:        cfg.Feed.Mode,
		pollInterval:    cfg.Feed.PollInterval,
		hiddenFactor:    cfg.hiddenFactor(),
		healthEvery:     cfg.Feed.HealthEvery,
		watchdogTimeout: cfg.Feed.WatchdogTimeout,
		active:          active,
		viewport:        cfg.viewport(),
		visible:         true,
		now:             time.Now,
	}
	for m, spec := range cfg.chartSpecs() {
		d.charts[m] = &chartView{spec: spec, surface: NewRasterSurface(), state: ChartUninitialized}
	}

	switch cfg.Feed.Mode {
	case FeedModePush:
		d.push = NewPushFeed(cfg.Feed.PushURL, cfg.Feed.ReconnectDelay)
	default:
		d.feed = NewHTTPFeed(cfg.Feed.BaseURL, cfg.Feed.RequestTimeout)
	}
	d.poll = NewRepeatingTask("poll", d.pollInterval, d.pollTick)
	if d.watchdogTimeout > 0 {
		d.watchdog = NewRepeatingTask("watchdog", d.watchdogTimeout/2, d.checkWatchdog)
	}
	return d
}

// Start pre-populates the window from the feed's history and starts the
// feed and the watchdog. It returns once the tasks are running.
func (d *Dashboard) Start(ctx context.Context) {
	d.mu.Lock()
	d.startedAt = d.now()
	d.lastRestart = d.startedAt
	d.mu.Unlock()

	go d.hub.run()

	if d.feedMode == FeedModePush {
		d.startPush(ctx)
	} else {
		if h, err := d.feed.History(ctx); err != nil {
			Warnf("[feed] history prefill failed: %v", err)
		} else {
			d.LoadHistory(h)
			Infof("[feed] history prefill loaded %d samples", d.series.Len())
		}
		d.poll.Start(ctx)
	}
	if d.watchdog != nil {
		d.watchdog.Start(ctx)
	}
	d.mu.Lock()
	d.render(d.active)
	d.mu.Unlock()
	Infof("[dashboard] session %s started (feed=%s, capacity=%d)", d.id, d.feedMode, d.series.Capacity())
}

// Close stops every task, waits for in-flight fetches, drops buffered
// data and disconnects UI clients.
func (d *Dashboard) Close() {
	if d.watchdog != nil {
		d.watchdog.Stop()
	}
	d.poll.Stop()
	d.stopPush()
	d.inflight.Wait()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.series.Reset()
	d.alarms.Reset()
	d.hub.close()
	Infof("[dashboard] session %s closed", d.id)
}

// ── UI entry points ──────────────────────────────────────────────────────────

// Ingest appends a sample and redraws the active chart only.
func (d *Dashboard) Ingest(s Sample) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.ingest(s)
	msg := d.updateMessage()
	d.mu.Unlock()

	d.hub.broadcast(msg)
}

func (d *Dashboard) ingest(s Sample) {
	now := d.now()
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	d.series.Ingest(s)
	if s.MachineStatus != nil {
		st := *s.MachineStatus
		d.machineStatus = &st
	}
	if s.WaferCount != nil {
		n := *s.WaferCount
		d.waferCount = &n
	}
	d.lastIngest = now
	d.render(d.active)
}

// LoadHistory replaces the window with a historical fetch.
func (d *Dashboard) LoadHistory(h History) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.series.Load(h)
	d.render(d.active)
	msg := d.updateMessage()
	d.mu.Unlock()

	d.hub.broadcast(msg)
}

// Render redraws m. Only the active chart has a non-zero viewport, so
// rendering an inactive metric is a no-op.
func (d *Dashboard) Render(m Metric) error {
	if _, ok := d.charts[m]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.render(m)
	return nil
}

func (d *Dashboard) render(m Metric) {
	cv, ok := d.charts[m]
	if !ok {
		return
	}
	var vp Viewport
	if m == d.active {
		vp = d.viewport
	}
	if !vp.Valid() {
		return
	}
	d.renderer.Render(cv.surface, d.series.Snapshot(m), cv.spec, vp)
	if cv.state == ChartUninitialized {
		Debugf("[render] %s ready at %.0fx%.0f@%.2g", m, vp.Width, vp.Height, vp.ratio())
	}
	cv.state = ChartReady
	cv.renders++
}

// SwitchActive changes which chart is drawn. The rolling window is not
// touched.
func (d *Dashboard) SwitchActive(m Metric) error {
	if _, ok := d.charts[m]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	d.mu.Lock()
	d.active = m
	d.render(m)
	msg := d.updateMessage()
	d.mu.Unlock()

	if err := d.config.Update(func(cfg *Config) { cfg.ActiveMetric = string(m) }); err != nil {
		Warnf("[dashboard] failed to persist active metric: %v", err)
	}
	d.hub.broadcast(msg)
	return nil
}

// OnResize installs a new viewport and redraws the active chart with it.
func (d *Dashboard) OnResize(vp Viewport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.viewport = vp
	d.render(d.active)
}

// SetVisible slows (or pauses) polling while the page is hidden.
func (d *Dashboard) SetVisible(visible bool) {
	d.mu.Lock()
	changed := d.visible != visible
	d.visible = visible
	d.mu.Unlock()
	if !changed || d.feedMode != FeedModePoll {
		return
	}

	if visible {
		d.poll.SetInterval(d.pollInterval)
		d.poll.Resume()
		Debugf("[feed] page visible, polling every %s", d.pollInterval)
		return
	}
	if d.hiddenFactor == 0 {
		d.poll.Pause()
		Debugf("[feed] page hidden, polling paused")
		return
	}
	d.poll.SetInterval(d.pollInterval * time.Duration(d.hiddenFactor))
	Debugf("[feed] page hidden, polling every %s", d.poll.Interval())
}

func (d *Dashboard) SetConnected(connected bool) {
	d.mu.Lock()
	changed := d.connected != connected
	d.connected = connected
	d.mu.Unlock()
	if !changed {
		return
	}
	if connected {
		Infof("[feed] connected")
	} else {
		Warnf("[feed] disconnected")
	}
	d.hub.broadcast(map[string]any{"type": "connection", "connected": connected})
}

func (d *Dashboard) ApplyAlarms(alarms []Alarm) {
	d.alarms.Replace(alarms)
	current := d.alarms.Current()
	d.hub.broadcast(map[string]any{"type": "alarms", "count": len(current), "alarms": current})
}

// ── Poll mode ────────────────────────────────────────────────────────────────

// pollTick issues a fetch without waiting for it, tagging it with a
// request id so a slow response cannot overwrite a newer one.
func (d *Dashboard) pollTick(ctx context.Context) {
	seq := d.seq.Add(1)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.pollOnce(ctx, seq)
	}()
}

func (d *Dashboard) pollOnce(ctx context.Context, seq uint64) {
	var (
		sample Sample
		alarms []Alarm
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := d.feed.Latest(gctx)
		if err != nil {
			return err
		}
		sample = s
		return nil
	})
	g.Go(func() error {
		a, err := d.feed.Alarms(gctx)
		if err != nil {
			Debugf("[feed] alarms fetch failed: %v", err)
			return nil
		}
		alarms = a
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return
		}
		Warnf("[feed] poll #%d failed: %v", seq, err)
		d.SetConnected(false)
		return
	}
	if ctx.Err() != nil {
		return
	}

	if !d.applyPolled(seq, sample) {
		Debugf("[feed] discarding stale response #%d", seq)
		return
	}
	d.SetConnected(true)
	if alarms != nil {
		d.ApplyAlarms(alarms)
	}

	if d.healthEvery > 0 && d.polls.Add(1)%uint64(d.healthEvery) == 0 {
		d.checkHealth(ctx)
	}
}

// applyPolled ingests s unless a newer request has already been applied.
func (d *Dashboard) applyPolled(seq uint64, s Sample) bool {
	d.mu.Lock()
	if d.closed || seq <= d.lastApplied {
		d.mu.Unlock()
		return false
	}
	d.lastApplied = seq
	d.ingest(s)
	msg := d.updateMessage()
	d.mu.Unlock()

	d.hub.broadcast(msg)
	return true
}

func (d *Dashboard) checkHealth(ctx context.Context) {
	h, err := d.feed.Health(ctx)
	opc := err == nil && h.OPCConnected
	d.mu.Lock()
	d.sourceConnected = &opc
	d.mu.Unlock()
	if err != nil {
		Debugf("[feed] health check failed: %v", err)
	}
}

// ── Push mode ────────────────────────────────────────────────────────────────

func (d *Dashboard) startPush(parent context.Context) {
	d.pushMu.Lock()
	defer d.pushMu.Unlock()
	if d.pushCancel != nil || parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	d.pushCtx, d.pushCancel, d.pushDone = parent, cancel, done
	go func() {
		defer close(done)
		d.push.Run(ctx, d)
	}()
}

func (d *Dashboard) stopPush() {
	d.pushMu.Lock()
	cancel, done := d.pushCancel, d.pushDone
	d.pushCancel, d.pushDone = nil, nil
	d.pushMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ── Watchdog ─────────────────────────────────────────────────────────────────

func (d *Dashboard) checkWatchdog(_ context.Context) {
	d.mu.Lock()
	ref := d.lastIngest
	if d.lastRestart.After(ref) {
		ref = d.lastRestart
	}
	paused := !d.visible && d.hiddenFactor == 0
	now := d.now()
	d.mu.Unlock()

	if paused || now.Sub(ref) < d.watchdogTimeout {
		return
	}
	Warnf("[watchdog] no data for %s, restarting %s feed", now.Sub(ref).Round(time.Second), d.feedMode)
	d.restartFeed()
}

// restartFeed is safe to call on a healthy feed.
func (d *Dashboard) restartFeed() {
	d.mu.Lock()
	d.lastRestart = d.now()
	d.mu.Unlock()

	if d.feedMode == FeedModePush {
		d.pushMu.Lock()
		parent := d.pushCtx
		d.pushMu.Unlock()
		d.stopPush()
		if parent != nil {
			d.startPush(parent)
		}
		return
	}
	d.poll.Restart()
}

// ── Read side ────────────────────────────────────────────────────────────────

type DashboardStatus struct {
	Session         string                `json:"session"`
	Connected       bool                  `json:"connected"`
	SourceConnected *bool                 `json:"source_connected,omitempty"`
	Active          Metric                `json:"active"`
	Visible         bool                  `json:"visible"`
	Size            int                   `json:"size"`
	Capacity        int                   `json:"capacity"`
	Viewport        Viewport              `json:"viewport"`
	LastIngest      int64                 `json:"last_ingest"` // unix ms, 0 if never
	Latest          LatestView            `json:"latest"`
	Charts          map[Metric]ChartState `json:"charts"`
}

type LatestView struct {
	Timestamp     int64               `json:"timestamp"`
	Values        map[Metric]*float64 `json:"values"`
	MachineStatus string              `json:"machine_status,omitempty"`
	WaferCount    *int                `json:"wafer_count,omitempty"`
}

func (d *Dashboard) Status() DashboardStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := DashboardStatus{
		Session:   d.id,
		Connected: d.connected,
		Active:    d.active,
		Visible:   d.visible,
		Size:      d.series.Len(),
		Capacity:  d.series.Capacity(),
		Viewport:  d.viewport,
		Latest:    d.latestView(),
		Charts:    make(map[Metric]ChartState, len(d.charts)),
	}
	if d.sourceConnected != nil {
		v := *d.sourceConnected
		st.SourceConnected = &v
	}
	if !d.lastIngest.IsZero() {
		st.LastIngest = d.lastIngest.UnixMilli()
	}
	for m, cv := range d.charts {
		st.Charts[m] = cv.state
	}
	return st
}

func (d *Dashboard) latestView() LatestView {
	lv := LatestView{Values: make(map[Metric]*float64, len(Metrics)), WaferCount: d.waferCount}
	if row, ok := d.series.Latest(); ok {
		lv.Timestamp = row.Timestamp.UnixMilli()
		for i, m := range Metrics {
			lv.Values[m] = finite(row.Values[i])
		}
	}
	if d.machineStatus != nil {
		lv.MachineStatus = d.machineStatus.String()
	}
	return lv
}

func (d *Dashboard) updateMessage() map[string]any {
	return map[string]any{
		"type":     "update",
		"active":   d.active,
		"size":     d.series.Len(),
		"capacity": d.series.Capacity(),
		"latest":   d.latestView(),
	}
}

// Snapshot returns the window of m.
func (d *Dashboard) Snapshot(m Metric) (Snapshot, error) {
	if _, ok := d.charts[m]; !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	return d.series.Snapshot(m), nil
}

// ChartPNG encodes the last frame rendered for m.
func (d *Dashboard) ChartPNG(m Metric) ([]byte, error) {
	cv, ok := d.charts[m]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cv.state != ChartReady {
		return nil, ErrChartNotReady
	}
	return cv.surface.PNG()
}
