package live

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/organvm-vi-koinonia/community-hub/internal/metrics"
)

// prober is the slice of a connection the keepalive sweep needs.
type prober interface {
	ID() uuid.UUID
	LastActivity() time.Time
	Ping() bool
	Evict(reason string)
}

// KeepaliveMonitor periodically pings every live connection and evicts the
// ones that stayed silent past the grace window. It runs independently of
// the per-connection receive loops and never waits on a peer: probes are
// fire-and-forget enqueues and evictions run off the sweep goroutine.
type KeepaliveMonitor struct {
	registry *Registry
	clock    clockwork.Clock
	interval time.Duration
	grace    time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewKeepaliveMonitor creates a monitor sweeping every interval and evicting
// connections silent for at least grace.
func NewKeepaliveMonitor(registry *Registry, clock clockwork.Clock, interval, grace time.Duration) *KeepaliveMonitor {
	return &KeepaliveMonitor{
		registry: registry,
		clock:    clock,
		interval: interval,
		grace:    grace,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background sweep goroutine.
func (k *KeepaliveMonitor) Start() {
	go k.run()
}

// Stop halts the sweep and waits for the goroutine to exit.
func (k *KeepaliveMonitor) Stop() {
	close(k.stopCh)
	<-k.doneCh
}

func (k *KeepaliveMonitor) run() {
	defer close(k.doneCh)

	ticker := k.clock.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			k.sweep()
		case <-k.stopCh:
			return
		}
	}
}

func (k *KeepaliveMonitor) sweep() {
	now := k.clock.Now()

	for _, member := range k.registry.Members() {
		p, ok := member.(prober)
		if !ok {
			continue
		}

		idle := now.Sub(p.LastActivity())
		if idle >= k.grace {
			slog.Info("evicting silent connection", "member", p.ID().String(), "idle", idle)
			metrics.LiveIdleEvictionsTotal.Inc()
			// Eviction writes a close frame under a write deadline; keep it
			// off the sweep goroutine so one stuck peer cannot stall the rest.
			go p.Evict("keepalive timeout")
			continue
		}

		if !p.Ping() {
			slog.Debug("keepalive probe dropped", "member", p.ID().String())
		}
	}
}
