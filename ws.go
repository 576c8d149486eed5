package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the REST side; the socket is read-only
	},
}

// WSHub fans dashboard messages out to connected UI clients.
type WSHub struct {
	clients map[*websocket.Conn]string
	mu      sync.Mutex
	msgCh   chan []byte
	done    chan struct{}
	once    sync.Once
}

func newWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*websocket.Conn]string),
		msgCh:   make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (h *WSHub) run() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.msgCh:
			h.mu.Lock()
			for conn, id := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					Debugf("[ws] dropping client %s: %v", id, err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *WSHub) broadcast(data any) {
	msg, err := json.Marshal(data)
	if err != nil {
		Errorf("[ws] failed to encode message: %v", err)
		return
	}
	select {
	case <-h.done:
	case h.msgCh <- msg:
	default:
		// drop if channel full (client too slow)
	}
}

func (h *WSHub) register(conn *websocket.Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.clients[conn] = id
	h.mu.Unlock()
	return id
}

func (h *WSHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *WSHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WSHub) close() {
	h.once.Do(func() { close(h.done) })
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (d *Dashboard) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Warnf("[ws] upgrade error: %v", err)
		return
	}

	// The hub is the only writer once registered, so the hello goes first.
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	hello := map[string]any{"type": "init", "status": d.Status(), "alarms": d.alarms.Current()}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return
	}

	id := d.hub.register(conn)
	Debugf("[ws] client %s connected", id)
	defer func() {
		d.hub.unregister(conn)
		conn.Close()
		Debugf("[ws] client %s disconnected", id)
	}()

	// Read loop only drains client frames; ping/pong is handled by the library.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
