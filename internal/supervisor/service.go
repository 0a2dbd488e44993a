// Package supervisor drives the lifecycle of every connection in the
// registry as a single unit. It starts them together, folds their individual
// states into one collective Health, and stops them together within a bound.
//
// Partial failure is expected: a failing connection degrades the collective
// health and is logged with its currency, but never stops the others.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/gabapcia/coinconn/internal/connregistry"
	"github.com/gabapcia/coinconn/internal/pkg/logger"
	"github.com/gabapcia/coinconn/internal/pkg/types"
)

var (
	// ErrShutdownTimeout is returned by AwaitStopped when the connections did
	// not stop within the given bound. Shutdown is abandoned in place.
	ErrShutdownTimeout = errors.New("shutdown timed out")

	// ErrSupervisorStopped is returned by StartAll once a stop was requested.
	ErrSupervisorStopped = errors.New("supervisor already stopped")
)

// Registry is the view of the connection registry the supervisor needs.
type Registry interface {
	All() iter.Seq2[connregistry.CurrencyID, connregistry.Connection]
	OwnerOf(conn connregistry.Connection) (connregistry.CurrencyID, error)
	Len() int
}

// Service is the lifecycle supervisor of a connection set.
type Service interface {
	// StartAll starts every connection concurrently. Calling it again before a
	// stop is a no-op; calling it after a stop returns ErrSupervisorStopped.
	StartAll(ctx context.Context) error

	// StopAsync requests every connection to stop and returns immediately.
	StopAsync()

	// AwaitStopped waits up to timeout for every connection to stop. It never
	// blocks past timeout; on expiry it returns ErrShutdownTimeout.
	AwaitStopped(timeout time.Duration) error

	// StopAll is StopAsync followed by AwaitStopped.
	StopAll(timeout time.Duration) error

	// Health returns the current collective health.
	Health() Health

	// Healthy is closed the first time every connection is running.
	Healthy() <-chan struct{}

	// AwaitRunning blocks until the connection of currency is running, ctx
	// ends or a stop is requested. Other connections are not waited on.
	AwaitRunning(ctx context.Context, currency connregistry.CurrencyID) error

	// Stopped is closed once every connection confirmed it stopped.
	Stopped() <-chan struct{}
}

// HealthyHandler runs once, the first time the connection set becomes healthy.
type HealthyHandler func(ctx context.Context)

// FailureHandler runs every time a connection reports a failure.
type FailureHandler func(ctx context.Context, currency connregistry.CurrencyID, err error)

// TransitionHandler observes every collective health transition. It runs
// while the supervisor holds its lock and must not call back into it.
type TransitionHandler func(from, to Health)

type service struct {
	mu            sync.Mutex
	ctx           context.Context
	health        Health
	healthyFired  bool
	stopRequested bool
	running       types.Set[connregistry.CurrencyID]
	failed        types.Set[connregistry.CurrencyID]

	healthyCh chan struct{}
	stoppedCh chan struct{}
	changed   chan struct{} // closed and replaced on every member change

	registry     Registry
	onHealthy    HealthyHandler
	onFailure    FailureHandler
	onTransition TransitionHandler
}

var _ Service = (*service)(nil)

func (s *service) StartAll(ctx context.Context) error {
	s.mu.Lock()
	if s.health.isShuttingDown() || s.stopRequested {
		s.mu.Unlock()
		return ErrSupervisorStopped
	}

	if s.health != HealthIdle {
		s.mu.Unlock()
		return nil
	}

	s.ctx = context.WithoutCancel(ctx)
	s.transitionLocked(HealthStarting)
	firstHealthy := s.recomputeLocked()
	s.mu.Unlock()

	if firstHealthy {
		s.becameHealthy()
	}

	var wg sync.WaitGroup
	for currency, conn := range s.registry.All() {
		go s.watch(conn)

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := conn.Start(ctx); err != nil {
				logger.Error(ctx, "connection failed to start",
					"connection.currency", currency,
					"error", err,
				)
				s.record(conn, connregistry.StateChange{State: connregistry.StateFailed, Err: err})
			}
		}()
	}
	wg.Wait()

	return nil
}

// watch drains the state changes of conn until the connection closes the channel.
func (s *service) watch(conn connregistry.Connection) {
	for change := range conn.StateChanges() {
		s.record(conn, change)
	}
}

// record folds one connection state change into the collective health.
func (s *service) record(conn connregistry.Connection, change connregistry.StateChange) {
	currency, err := s.registry.OwnerOf(conn)
	if err != nil {
		logger.Error(s.context(), "state change from unknown connection", "error", err)
		return
	}

	s.mu.Lock()
	switch change.State {
	case connregistry.StateRunning:
		s.running.Add(currency)
		s.failed.Delete(currency)
	case connregistry.StateFailed:
		s.running.Delete(currency)
		s.failed.Add(currency)
	default:
		s.running.Delete(currency)
	}

	var failed []connregistry.CurrencyID
	if change.State == connregistry.StateFailed {
		failed = types.Sorted(s.failed)
	}

	close(s.changed)
	s.changed = make(chan struct{})

	firstHealthy := s.recomputeLocked()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	if change.State == connregistry.StateFailed {
		logger.Error(ctx, "client failed",
			"connection.currency", currency,
			"connections.failed", failed,
			"error", change.Err,
		)

		if s.onFailure != nil {
			s.onFailure(ctx, currency, change.Err)
		}
	}

	if firstHealthy {
		s.becameHealthy()
	}
}

// recomputeLocked derives the collective health from the member sets. It
// reports whether this call produced the first healthy transition.
func (s *service) recomputeLocked() bool {
	if s.health == HealthIdle || s.health.isShuttingDown() {
		return false
	}

	switch {
	case s.running.Len() == s.registry.Len():
		return s.transitionLocked(HealthHealthy)
	case s.failed.Len() > 0:
		return s.transitionLocked(HealthDegraded)
	case s.health == HealthHealthy:
		return s.transitionLocked(HealthDegraded)
	default:
		return false
	}
}

// transitionLocked moves to the given health. It reports whether this is the
// first time the supervisor became healthy.
func (s *service) transitionLocked(to Health) bool {
	from := s.health
	if from == to {
		return false
	}

	s.health = to
	if s.onTransition != nil {
		s.onTransition(from, to)
	}

	if to == HealthHealthy && !s.healthyFired {
		s.healthyFired = true
		close(s.healthyCh)
		return true
	}

	return false
}

func (s *service) becameHealthy() {
	ctx := s.context()
	logger.Info(ctx, "all coin clients are running")

	if s.onHealthy != nil {
		s.onHealthy(ctx)
	}
}

func (s *service) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *service) StopAsync() {
	s.mu.Lock()
	if s.stopRequested {
		s.mu.Unlock()
		return
	}

	s.stopRequested = true
	s.transitionLocked(HealthStopping)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	var conns []connregistry.Connection
	for _, conn := range s.registry.All() {
		conns = append(conns, conn)
		go conn.Stop()
	}

	go func() {
		for _, conn := range conns {
			<-conn.Done()
		}

		s.mu.Lock()
		s.transitionLocked(HealthStopped)
		s.mu.Unlock()

		close(s.stoppedCh)
	}()
}

func (s *service) AwaitStopped(timeout time.Duration) error {
	s.StopAsync()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.stoppedCh:
		logger.Info(s.context(), "all coin clients stopped")
		return nil
	case <-timer.C:
	}

	s.mu.Lock()
	if s.health == HealthStopping {
		s.transitionLocked(HealthStopAbandoned)
	}
	s.mu.Unlock()

	logger.Warn(s.context(), "stop abandoned after timeout", "shutdown.timeout", timeout.String())
	return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
}

func (s *service) StopAll(timeout time.Duration) error {
	s.StopAsync()
	return s.AwaitStopped(timeout)
}

func (s *service) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.health
}

func (s *service) Healthy() <-chan struct{} {
	return s.healthyCh
}

func (s *service) Stopped() <-chan struct{} {
	return s.stoppedCh
}

func (s *service) AwaitRunning(ctx context.Context, currency connregistry.CurrencyID) error {
	for {
		s.mu.Lock()
		running, stopping, changed := s.running.Has(currency), s.stopRequested, s.changed
		s.mu.Unlock()

		switch {
		case stopping:
			return ErrSupervisorStopped
		case running:
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not running: %w", currency, ctx.Err())
		case <-changed:
		}
	}
}

type config struct {
	onHealthy    HealthyHandler
	onFailure    FailureHandler
	onTransition TransitionHandler
}

type Option func(*config)

// New creates a supervisor over the connections of registry.
func New(registry Registry, opts ...Option) *service {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		health:       HealthIdle,
		running:      types.NewSet[connregistry.CurrencyID](),
		failed:       types.NewSet[connregistry.CurrencyID](),
		healthyCh:    make(chan struct{}),
		stoppedCh:    make(chan struct{}),
		changed:      make(chan struct{}),
		registry:     registry,
		onHealthy:    cfg.onHealthy,
		onFailure:    cfg.onFailure,
		onTransition: cfg.onTransition,
	}
}

// WithHealthyHandler sets the handler fired on the first healthy transition.
func WithHealthyHandler(f HealthyHandler) Option {
	return func(c *config) {
		c.onHealthy = f
	}
}

// WithFailureHandler sets the handler fired for every connection failure.
func WithFailureHandler(f FailureHandler) Option {
	return func(c *config) {
		c.onFailure = f
	}
}

// WithTransitionHandler sets the observer of collective health transitions.
func WithTransitionHandler(f TransitionHandler) Option {
	return func(c *config) {
		c.onTransition = f
	}
}
