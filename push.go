package main

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// PushHandler receives decoded push messages. Methods are only called for
// the parts a message actually carries.
type PushHandler interface {
	SetConnected(connected bool)
	LoadHistory(h History)
	Ingest(s Sample)
	ApplyAlarms(alarms []Alarm)
}

// PushFeed subscribes to the backend's WebSocket stream and reconnects
// until its context is cancelled.
type PushFeed struct {
	url            string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	now            func() time.Time
}

func NewPushFeed(url string, reconnectDelay time.Duration) *PushFeed {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &PushFeed{
		url:            url,
		reconnectDelay: reconnectDelay,
		dialer:         websocket.DefaultDialer,
		now:            time.Now,
	}
}

func (pf *PushFeed) Run(ctx context.Context, h PushHandler) {
	for {
		err := pf.session(ctx, h)
		h.SetConnected(false)
		if ctx.Err() != nil {
			return
		}
		Warnf("[feed] push connection to %s lost: %v, retrying in %s", pf.url, err, pf.reconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(pf.reconnectDelay):
		}
	}
}

func (pf *PushFeed) session(ctx context.Context, h PushHandler) error {
	conn, _, err := pf.dialer.DialContext(ctx, pf.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	Infof("[feed] push connected to %s", pf.url)
	h.SetConnected(true)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"request_data"}`)); err != nil {
		return err
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		pf.dispatch(msg, h)
	}
}

// dispatch handles {"event": "init_data"|"initial_data"|"data_update",
// "data": {...}}. Both init names carry the same payload.
// Unknown events and malformed frames are ignored.
func (pf *PushFeed) dispatch(msg []byte, h PushHandler) {
	if !gjson.ValidBytes(msg) {
		Debugf("[feed] dropping malformed push frame")
		return
	}
	res := gjson.ParseBytes(msg)
	data := res.Get("data")
	switch res.Get("event").String() {
	case "init_data", "initial_data":
		if hist := data.Get("history"); hist.Exists() {
			h.LoadHistory(parseHistory(hist, pf.now()))
		}
		if latest := data.Get("latest"); latest.IsObject() {
			h.Ingest(parseSample(latest, data.Get("timestamp"), pf.now()))
		}
		if alarms := data.Get("alarms"); alarms.IsArray() {
			h.ApplyAlarms(parseAlarms(alarms, pf.now()))
		}
	case "data_update":
		if latest := data.Get("latest"); latest.IsObject() {
			h.Ingest(parseSample(latest, data.Get("timestamp"), pf.now()))
		}
		if alarms := data.Get("alarms"); alarms.IsArray() {
			h.ApplyAlarms(parseAlarms(alarms, pf.now()))
		}
	default:
		Debugf("[feed] ignoring push event %q", res.Get("event").String())
	}
}
