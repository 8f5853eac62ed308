package gwconfig

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"ai-gateway/internal/secrets"
)

// ValidationError wraps every cross-reference violation Validate found in a
// single rejected snapshot, so a caller can report all of them at once
// instead of one per resubmission.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d configuration errors, first: %s", len(e.Errors), e.Errors[0])
}

// Manager holds the gateway's live configuration snapshot behind an
// atomic.Pointer and fans out change notifications to subscribers (the live
// config stream websocket, primarily). It is the "Config Provider" component
// of spec.md §4.5, adapted from the broadcast-hub pattern in
// internal/services/wshub.go.
type Manager struct {
	log     *zap.SugaredLogger
	current atomic.Pointer[GatewayConfig]
	hash    atomic.Uint64

	mu     sync.Mutex
	nextID int
	subs   map[int]chan *GatewayConfig
}

// NewManager builds an empty Manager. Callers must call Apply at least once
// before Current returns a non-nil config.
func NewManager(log *zap.SugaredLogger) *Manager {
	return &Manager{
		log:  log,
		subs: make(map[int]chan *GatewayConfig),
	}
}

// Current returns the live snapshot. Safe for concurrent use; the returned
// pointer is never mutated, only replaced.
func (m *Manager) Current() *GatewayConfig {
	return m.current.Load()
}

// Subscribe registers for change notifications. The returned channel
// receives every snapshot published after the call to Subscribe (not the
// current one); cancel must be called to release the channel.
func (m *Manager) Subscribe() (ch <-chan *GatewayConfig, cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	c := make(chan *GatewayConfig, 1)
	m.subs[id] = c
	return c, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
}

// Apply resolves raw's secrets, validates the result, and — if it differs
// from the currently published snapshot — publishes it and notifies
// subscribers. A resolution failure or validation failure leaves the
// currently-published snapshot untouched and returns an error describing
// every problem found.
func (m *Manager) Apply(ctx context.Context, raw RawConfig, resolver secrets.Resolver) error {
	resolved, err := Resolve(ctx, raw, resolver)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	if errs := Validate(&resolved); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	newHash := Hash(&resolved)
	if m.current.Load() != nil && newHash == m.hash.Load() {
		return nil
	}

	m.current.Store(&resolved)
	m.hash.Store(newHash)

	if m.log != nil {
		m.log.Infow("published new configuration snapshot",
			"providers", len(resolved.Providers),
			"models", len(resolved.Models),
			"pipelines", len(resolved.Pipelines),
			"guards", len(resolved.Guards),
			"hash", newHash,
		)
	}

	m.broadcast(&resolved)
	return nil
}

func (m *Manager) broadcast(cfg *GatewayConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		select {
		case sub <- cfg:
		default:
			// Slow subscriber: drop the stale pending snapshot and push the
			// latest one instead of blocking the publisher.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- cfg:
			default:
				if m.log != nil {
					m.log.Warnw("dropping config notification for slow subscriber", "subscriber", id)
				}
			}
		}
	}
}
