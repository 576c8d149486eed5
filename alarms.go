package main

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

const alarmHistorySize = 10

type Alarm struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	Node       string    `json:"node,omitempty"`
	Type       string    `json:"type,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Value      string    `json:"value,omitempty"`
}

// AlarmStore keeps the alarm list last reported by the feed and a bounded
// history of the newest alarm seen on each update.
type AlarmStore struct {
	current []Alarm
	history [alarmHistorySize]Alarm
	head    int
	count   int
	mu      sync.Mutex
}

// Replace installs the feed's alarm list as-is (after text cleanup) and
// records its first entry in the history unless it repeats the last one.
func (as *AlarmStore) Replace(alarms []Alarm) {
	clean := make([]Alarm, len(alarms))
	for i, a := range alarms {
		a.Level = strings.ToLower(sanitizeText(a.Level))
		a.Message = sanitizeText(a.Message)
		a.Node = sanitizeText(a.Node)
		a.Type = sanitizeText(a.Type)
		a.Suggestion = sanitizeText(a.Suggestion)
		a.Value = sanitizeText(a.Value)
		clean[i] = a
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	as.current = clean
	if len(clean) == 0 {
		return
	}
	newest := clean[0]
	if as.count > 0 {
		last := as.history[(as.head+as.count-1)%len(as.history)]
		if last.Timestamp.Equal(newest.Timestamp) && last.Message == newest.Message && last.Node == newest.Node {
			return
		}
	}
	if as.count < len(as.history) {
		as.count++
	} else {
		as.head = (as.head + 1) % len(as.history)
	}
	as.history[(as.head+as.count-1)%len(as.history)] = newest
}

func (as *AlarmStore) Current() []Alarm {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]Alarm, len(as.current))
	copy(out, as.current)
	return out
}

// History returns recorded alarms, newest first.
func (as *AlarmStore) History() []Alarm {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]Alarm, as.count)
	for i := 0; i < as.count; i++ {
		out[i] = as.history[(as.head+as.count-1-i)%len(as.history)]
	}
	return out
}

func (as *AlarmStore) Reset() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.current = nil
	as.head, as.count = 0, 0
}

// ansiEscape matches CSI sequences (ESC [ ... letter) and simple two-char ESC sequences.
var ansiEscape = regexp.MustCompile(`\x1b(?:\[[0-9;]*[A-Za-z]|[^[])`)

// sanitizeText strips ANSI escapes and control characters from text
// that came from the feed.
func sanitizeText(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 || r == '\t' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
