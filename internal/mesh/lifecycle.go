package mesh

import (
	"log/slog"
)

// Lifecycle removes peers whose connection reached a terminal state. It has
// no retry or reconnect behaviour.
type Lifecycle struct {
	registry  *Registry
	presenter Presenter
	log       *slog.Logger
}

// NewLifecycle creates a lifecycle manager for registry. presenter may be nil.
func NewLifecycle(registry *Registry, presenter Presenter, log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{registry: registry, presenter: presenter, log: log}
}

// Observe handles one state change of the connection conn owned by peerID.
// It reports whether the entry was removed. Repeated terminal states, and
// states from a connection that no longer owns the entry, are no-ops.
func (l *Lifecycle) Observe(peerID string, conn Conn, state ConnState) bool {
	p, ok := l.registry.Get(peerID)
	if !ok || p.Conn != conn {
		return false
	}

	if obs, ok := l.presenter.(StateObserver); ok {
		obs.PeerStateChanged(peerID, p.DisplayName, state)
	}
	l.log.Debug("connection state", "peer", peerID, "state", state)

	if !state.Terminal() {
		return false
	}

	l.registry.Remove(peerID)
	if l.presenter != nil {
		l.presenter.RemoveStream(peerID)
	}
	l.log.Info("peer left", "peer", peerID, "name", p.DisplayName, "state", state)

	go func() {
		if err := conn.Close(); err != nil {
			l.log.Debug("close after terminal state", "peer", peerID, "err", err)
		}
	}()
	return true
}
