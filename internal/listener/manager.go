package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/OKaluzny/token-shop/pkg/models"
)

// EventHandler processes detected token movements.
type EventHandler func(ctx context.Context, event models.BlockEvent) error

// ConfirmedOnly passes on only events that reached confirmation depth and
// were not rolled back by a reorg.
func ConfirmedOnly(h EventHandler) EventHandler {
	return func(ctx context.Context, event models.BlockEvent) error {
		if !event.Confirmed || event.Reorged {
			return nil
		}
		return h(ctx, event)
	}
}

// Manager coordinates listeners across networks and fans their events in
// to one handler.
type Manager struct {
	listeners map[models.Network]BlockListener
	handler   EventHandler
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewManager(handler EventHandler) *Manager {
	return &Manager{
		listeners: make(map[models.Network]BlockListener),
		handler:   handler,
		logger:    slog.Default().With("component", "listener_manager"),
	}
}

func (m *Manager) RegisterListener(network models.Network, listener BlockListener) {
	m.listeners[network] = listener
}

// StartAll starts all registered listeners and routes events to the handler.
// Handlers run with ctx; they finish the event in hand after Stop.
func (m *Manager) StartAll(ctx context.Context) error {
	for network, listener := range m.listeners {
		if err := listener.Start(ctx); err != nil {
			return fmt.Errorf("start %s listener: %w", network, err)
		}

		m.wg.Add(1)
		go func(net models.Network, l BlockListener) {
			defer m.wg.Done()
			for event := range l.Events() {
				if err := m.handler(context.WithoutCancel(ctx), event); err != nil {
					m.logger.Error("handle event failed",
						"network", net,
						"block", event.BlockNumber,
						"tx", event.TxHash,
						"error", err,
					)
				}
			}
		}(network, listener)
	}

	m.logger.Info("all listeners started", "count", len(m.listeners))
	return nil
}

// StopAll stops every listener and waits for queued events to be handled.
func (m *Manager) StopAll() {
	for network, listener := range m.listeners {
		if err := listener.Stop(); err != nil {
			m.logger.Error("stop listener failed", "network", network, "error", err)
		}
	}
	m.wg.Wait()
}

// WatchAddress adds an address to the appropriate network listener.
func (m *Manager) WatchAddress(network models.Network, address string) error {
	l, ok := m.listeners[network]
	if !ok {
		return fmt.Errorf("no listener registered for %s", network)
	}
	return l.WatchAddress(address)
}
