package main

import (
	"context"
	"sync"
	"time"
)

// RepeatingTask runs fn immediately on Start and then every interval
// until stopped. Interval changes and pause/resume take effect without
// losing the task's lifetime binding.
type RepeatingTask struct {
	name     string
	fn       func(ctx context.Context)
	mu       sync.Mutex
	interval time.Duration
	paused   bool
	parent   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
}

func NewRepeatingTask(name string, interval time.Duration, fn func(ctx context.Context)) *RepeatingTask {
	if interval <= 0 {
		interval = time.Second
	}
	return &RepeatingTask{
		name:     name,
		fn:       fn,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Start is a no-op if the task is already running.
func (t *RepeatingTask) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	t.parent = ctx
	t.startLocked()
}

func (t *RepeatingTask) startLocked() {
	ctx, cancel := context.WithCancel(t.parent)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go t.loop(ctx, done)
}

// Stop cancels the task and waits for a running fn to return.
func (t *RepeatingTask) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Restart stops and starts the task again with the context given to the
// first Start. Restarting a task that was never started does nothing.
func (t *RepeatingTask) Restart() {
	t.Stop()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.parent == nil || t.parent.Err() != nil || t.cancel != nil {
		return
	}
	Infof("[%s] restarting", t.name)
	t.startLocked()
}

func (t *RepeatingTask) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	changed := t.interval != d
	t.interval = d
	t.mu.Unlock()
	if changed {
		t.poke()
	}
}

func (t *RepeatingTask) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

func (t *RepeatingTask) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

func (t *RepeatingTask) Resume() {
	t.mu.Lock()
	was := t.paused
	t.paused = false
	t.mu.Unlock()
	if was {
		t.poke()
	}
}

func (t *RepeatingTask) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *RepeatingTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *RepeatingTask) poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *RepeatingTask) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t.mu.Lock()
	interval, paused := t.interval, t.paused
	t.mu.Unlock()
	if !paused {
		t.fn(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.wake:
			t.mu.Lock()
			if t.interval != interval {
				interval = t.interval
				ticker.Reset(interval)
			}
			t.mu.Unlock()
		case <-ticker.C:
			t.mu.Lock()
			paused := t.paused
			t.mu.Unlock()
			if !paused && ctx.Err() == nil {
				t.fn(ctx)
			}
		}
	}
}
