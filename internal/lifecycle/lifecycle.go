// Package lifecycle starts services in order and stops them in reverse
// order on shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Service is a component with a start and stop phase.
type Service interface {
	Name() string
	// Start must not block; long-running work belongs in goroutines
	// that end when Stop is called.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts a pair of functions to a Service. Either may be nil.
type Func struct {
	ServiceName string
	OnStart     func(context.Context) error
	OnStop      func(context.Context) error
}

func (f Func) Name() string { return f.ServiceName }

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

// Manager runs a list of services.
type Manager struct {
	logger  hclog.Logger
	timeout time.Duration

	mu       sync.Mutex
	services []Service
	started  []Service
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewManager creates a Manager whose Stop gives the services timeout to
// finish.
func NewManager(logger hclog.Logger, timeout time.Duration) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		logger:  logger.Named("lifecycle"),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Add registers a service. Services start in registration order.
func (m *Manager) Add(s Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, s)
}

// Start starts every service in order. If one fails, those already
// started are stopped and the start error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.Unlock()

	for _, s := range services {
		m.logger.Debug("starting service", "service", s.Name())
		if err := s.Start(ctx); err != nil {
			startErr := fmt.Errorf("start %s: %w", s.Name(), err)
			m.logger.Error("service failed to start", "service", s.Name(), "error", err)
			if stopErr := m.Stop(); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
		m.mu.Lock()
		m.started = append(m.started, s)
		m.mu.Unlock()
	}
	return nil
}

// Stop stops the started services in reverse order and returns all of
// their errors joined. Only the first call does any work.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		m.mu.Lock()
		started := m.started
		m.started = nil
		m.mu.Unlock()

		var errs []error
		for i := len(started) - 1; i >= 0; i-- {
			s := started[i]
			m.logger.Debug("stopping service", "service", s.Name())
			if err := s.Stop(ctx); err != nil {
				m.logger.Warn("service failed to stop", "service", s.Name(), "error", err)
				errs = append(errs, fmt.Errorf("stop %s: %w", s.Name(), err))
			}
		}
		m.stopErr = errors.Join(errs...)
		close(m.done)
	})
	return m.stopErr
}

// Run starts the services, waits for ctx to end or for SIGINT/SIGTERM,
// then stops them.
func (m *Manager) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.logger.Info("shutting down", "cause", context.Cause(ctx))
	return m.Stop()
}

// Done returns a channel that closes when Stop has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
