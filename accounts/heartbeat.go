package accounts

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Heartbeat periodically refreshes the shared secret to keep long
// sessions alive without re-authentication. Ticks are skipped silently
// while logged out or disabled; a failed tick is retried on the next
// natural tick, never immediately.
type Heartbeat struct {
	client   *Client
	interval time.Duration
	enabled  atomic.Bool
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// HeartbeatOption customizes a Heartbeat.
type HeartbeatOption func(*Heartbeat)

// WithHeartbeatLogger sets the structured logger.
func WithHeartbeatLogger(logger *slog.Logger) HeartbeatOption {
	return func(h *Heartbeat) { h.log = logger }
}

// NewHeartbeat creates a Heartbeat firing at the given interval. An
// interval of zero disables it entirely. It starts enabled; toggle at
// runtime with SetEnabled.
func NewHeartbeat(client *Client, interval time.Duration, opts ...HeartbeatOption) *Heartbeat {
	h := &Heartbeat{
		client:   client,
		interval: interval,
		log:      slog.Default(),
	}
	h.enabled.Store(true)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetEnabled toggles the guard flag without recreating the underlying
// timer.
func (h *Heartbeat) SetEnabled(v bool) {
	h.enabled.Store(v)
}

// Enabled reports the guard flag.
func (h *Heartbeat) Enabled() bool {
	return h.enabled.Load()
}

// Start launches the timer goroutine. A no-op when the interval is
// zero or the heartbeat is already running. Cancel the context or call
// Stop to tear it down without leaking further ticks.
func (h *Heartbeat) Start(ctx context.Context) {
	if h.interval <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go h.run(ctx, h.done)
}

// Stop cancels the timer and waits for the goroutine to exit.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *Heartbeat) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Heartbeat) tick(ctx context.Context) {
	if !h.enabled.Load() {
		return
	}
	if !h.client.Session().LoggedIn().Get() {
		return
	}
	if _, err := h.client.Heartbeat(ctx); err != nil {
		h.log.Warn("heartbeat failed, retrying on next tick", "error", err)
	}
}
