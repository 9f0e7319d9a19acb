// Package conn owns the lifecycle of the backend connection. It exposes a
// ready gate (Acquire/Release) in front of a single logical connection and
// drives the state machine
//
//	Disconnected -> Connecting -> Ready -> Degraded -> Closed
//
// Reconnects run with capped exponential backoff and are single-flight:
// concurrent Acquire calls during a reconnect share the outcome of the one
// in-flight attempt rather than racing their own.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"

	"github.com/memgate-io/memgate/internal/backend"
	"github.com/memgate-io/memgate/internal/faults"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Ready
	Degraded
	Closed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// ErrClosed is returned by Acquire after Close; the manager never recovers
// from the terminal state.
var ErrClosed = errors.New("conn: manager is closed")

// Handle is a borrowed reference to the live backend, valid for the duration
// of one operation. Callers must Release it and must not retain it.
type Handle struct {
	store backend.Store
}

// Store returns the backend the handle wraps.
func (h *Handle) Store() backend.Store {
	return h.store
}

// Config holds the manager's resilience tunables.
type Config struct {
	ConnectAttempts   int           // attempts per reconnect sequence
	BackoffBase       time.Duration // first retry delay
	BackoffCap        time.Duration // maximum retry delay
	AcquireTimeout    time.Duration // upper bound on one Acquire call
	ProbeTimeout      time.Duration // upper bound on one health probe
	ProbeFailureLimit int           // consecutive probe failures before full reconnect
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		ConnectAttempts:   5,
		BackoffBase:       250 * time.Millisecond,
		BackoffCap:        5 * time.Second,
		AcquireTimeout:    30 * time.Second,
		ProbeTimeout:      2 * time.Second,
		ProbeFailureLimit: 3,
	}
}

// attempt is one in-flight connect sequence. done is closed when the
// sequence finishes; err then holds its shared outcome.
type attempt struct {
	done chan struct{}
	err  error
}

// Manager serializes access to the single logical backend connection.
type Manager struct {
	store   backend.Store
	cfg     Config
	breaker *gobreaker.CircuitBreaker

	mu            sync.Mutex
	state         State
	inflight      *attempt
	probeFailures int

	// sleep is swappable in tests so backoff does not slow the suite.
	sleep func(d time.Duration)
}

// NewManager wraps store in a manager starting in Disconnected. The circuit
// breaker guards whole reconnect sequences: after repeated exhausted
// sequences, further Acquire-initiated reconnects fail fast until the
// breaker half-opens.
func NewManager(store backend.Store, cfg Config) *Manager {
	m := &Manager{
		store: store,
		cfg:   cfg,
		state: Disconnected,
		sleep: time.Sleep,
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend-connect",
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("connect breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Acquire blocks until the connection is Ready or the bounded timeout
// elapses. From Disconnected it starts a reconnect sequence; while
// Connecting it waits on the in-flight sequence and shares its outcome;
// from Degraded it re-probes before serving.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	for {
		m.mu.Lock()
		switch m.state {
		case Closed:
			m.mu.Unlock()
			return nil, faults.Wrap(faults.BackendUnavailable, "connection manager is closed", ErrClosed)

		case Ready:
			handle := &Handle{store: m.store}
			m.mu.Unlock()
			return handle, nil

		case Disconnected:
			att := &attempt{done: make(chan struct{})}
			m.inflight = att
			m.state = Connecting
			m.mu.Unlock()
			go m.runConnect(att)
			if err := m.waitAttempt(ctx, att); err != nil {
				return nil, err
			}

		case Connecting:
			att := m.inflight
			m.mu.Unlock()
			if err := m.waitAttempt(ctx, att); err != nil {
				return nil, err
			}

		case Degraded:
			m.mu.Unlock()
			if err := m.reprobe(ctx); err != nil {
				return nil, err
			}
		}
	}
}

// waitAttempt blocks on an in-flight connect sequence. A failed sequence is
// surfaced as the same classified error to every waiter.
func (m *Manager) waitAttempt(ctx context.Context, att *attempt) error {
	select {
	case <-ctx.Done():
		return faults.Wrap(faults.UpstreamTimeout, "timed out waiting for backend connection", ctx.Err())
	case <-att.done:
	}
	if att.err != nil {
		return faults.Wrap(faults.BackendUnavailable, "backend connection failed", att.err)
	}
	return nil
}

// runConnect executes one reconnect sequence and publishes its outcome.
func (m *Manager) runConnect(att *attempt) {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.connectWithRetry()
	})

	m.mu.Lock()
	if m.state == Closed {
		err = ErrClosed
	} else if err != nil {
		m.state = Disconnected
	} else {
		m.state = Ready
		m.probeFailures = 0
	}
	m.inflight = nil
	att.err = err
	m.mu.Unlock()
	close(att.done)
}

// connectWithRetry pings the backend up to ConnectAttempts times with capped
// exponential backoff between attempts.
func (m *Manager) connectWithRetry() error {
	var lastErr error
	for i := 0; i < m.cfg.ConnectAttempts; i++ {
		if i > 0 {
			m.sleep(backoffDelay(i-1, m.cfg.BackoffBase, m.cfg.BackoffCap))
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
		err := m.store.Ping(ctx)
		cancel()
		if err == nil {
			if i > 0 {
				log.Info("backend connection established", "attempts", i+1)
			}
			return nil
		}
		lastErr = err
		log.Warn("backend connect attempt failed", "attempt", i+1, "max", m.cfg.ConnectAttempts, "err", err)
	}
	return fmt.Errorf("conn: %d connect attempts exhausted: %w", m.cfg.ConnectAttempts, lastErr)
}

// reprobe handles the Degraded state: a successful probe restores Ready; a
// failing probe either fails this Acquire (under the threshold) or forces a
// full reconnect by dropping to Disconnected.
func (m *Manager) reprobe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.store.Ping(probeCtx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Degraded {
		// State moved while probing; let the caller re-evaluate.
		return nil
	}
	if err == nil {
		m.state = Ready
		m.probeFailures = 0
		return nil
	}

	m.probeFailures++
	log.Warn("degraded probe failed", "failures", m.probeFailures, "limit", m.cfg.ProbeFailureLimit, "err", err)
	if m.probeFailures >= m.cfg.ProbeFailureLimit {
		m.state = Disconnected
		m.probeFailures = 0
		return nil
	}
	return faults.Wrap(faults.BackendUnavailable, "backend connection degraded", err)
}

// Release returns a borrowed handle. A release carrying a transport-level
// failure moves Ready to Degraded so the next Acquire re-probes before
// serving; request-level failures leave the connection state alone.
func (m *Manager) Release(h *Handle, opErr error) {
	if h == nil {
		return
	}
	if opErr == nil {
		return
	}
	classified := faults.Classify(opErr)
	if !classified.Retryable() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Ready {
		m.state = Degraded
		log.Warn("connection degraded after failed operation", "kind", string(classified.Kind))
	}
}

// HealthCheck probes the backend. A failed probe from Ready degrades the
// connection.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.store.Ping(probeCtx)
	cancel()

	if err != nil {
		m.mu.Lock()
		if m.state == Ready {
			m.state = Degraded
		}
		m.mu.Unlock()
		return false
	}
	return true
}

// Close moves the manager to the terminal Closed state and closes the
// backend. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	alreadyClosed := m.state == Closed
	m.state = Closed
	m.mu.Unlock()

	if alreadyClosed {
		return nil
	}
	return m.store.Close()
}
