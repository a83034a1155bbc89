// Package supervisor provides a supervision tree for the director's
// pipeline stage workers and the selector's top-level tick loop.
//
// It wraps github.com/thejerf/suture/v4, adding:
//   - A restart-delay/backoff policy tunable per Config (suture's own
//     FailureBackoff is a single fixed delay; this package grows it
//     exponentially up to a cap, resetting the per-service status
//     bookkeeping that suture does not expose directly)
//   - Per-service status reporting (state, uptime, restart count, last
//     error) consumed by internal/health
//
// Example:
//
//	sup := supervisor.New(supervisor.Config{
//	    ShutdownTimeout: 10 * time.Second,
//	})
//
//	sup.Add(cameraStage1)
//	sup.Add(cameraStage2)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	if err := sup.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/avdirector/director/internal/stream"
)

// Service is the interface that supervised services must implement.
// Implementations should block until the context is cancelled or an error occurs.
type Service interface {
	// Run starts the service. It should block until ctx is cancelled or
	// the service encounters an unrecoverable error.
	Run(ctx context.Context) error

	// Name returns the service's identifier.
	Name() string
}

// ServiceState represents the current state of a supervised service.
type ServiceState int

const (
	ServiceStateIdle     ServiceState = iota // Not started
	ServiceStateRunning                      // Running normally
	ServiceStateStopping                     // Being stopped
	ServiceStateFailed                       // Failed, backing off before restart
	ServiceStateStopped                      // Stopped, terminal
)

func (s ServiceState) String() string {
	switch s {
	case ServiceStateIdle:
		return "idle"
	case ServiceStateRunning:
		return "running"
	case ServiceStateStopping:
		return "stopping"
	case ServiceStateFailed:
		return "failed"
	case ServiceStateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ServiceStatus contains status information about a supervised service.
type ServiceStatus struct {
	Name      string
	State     ServiceState
	StartTime time.Time
	Uptime    time.Duration
	Restarts  int
	LastError error
}

// Config contains supervisor configuration.
type Config struct {
	// Name identifies the supervisor in suture's own event output.
	Name string

	// ShutdownTimeout is the maximum time to wait for services to stop
	// gracefully once their context is cancelled. Default: 10 seconds.
	ShutdownTimeout time.Duration

	// Logger receives supervisor lifecycle events. Optional.
	Logger *slog.Logger

	// RestartDelay is the base restart delay. A run shorter than
	// RestartSuccessThreshold doubles the current delay before the restart,
	// so the first restart after a short run waits 2×RestartDelay; a longer
	// run resets the delay to RestartDelay. Default: 1 second.
	RestartDelay time.Duration

	// MaxRestartDelay caps the exponential restart backoff (which doubles
	// on each restart that doesn't clear RestartSuccessThreshold).
	// Default: 5 minutes.
	MaxRestartDelay time.Duration

	// RestartSuccessThreshold is how long a service must run before a
	// restart is no longer treated as a failure, resetting the backoff
	// delay back to RestartDelay. Default: 30 seconds.
	RestartSuccessThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout:         10 * time.Second,
		RestartDelay:            1 * time.Second,
		MaxRestartDelay:         5 * time.Minute,
		RestartSuccessThreshold: 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 1 * time.Second
	}
	if c.MaxRestartDelay <= 0 {
		c.MaxRestartDelay = 5 * time.Minute
	}
	if c.RestartSuccessThreshold <= 0 {
		c.RestartSuccessThreshold = 30 * time.Second
	}
}

// serviceEntry tracks a single service's lifecycle and backoff state.
type serviceEntry struct {
	mu        sync.RWMutex
	svc       Service
	state     ServiceState
	startTime time.Time
	restarts  int
	lastError error
	backoff   *stream.Backoff

	token    suture.ServiceToken
	hasToken bool
}

// unlimitedAttempts is passed to stream.NewBackoffWithThreshold since
// Supervisor has no restart-count ceiling of its own; ShouldStop is never
// consulted.
const unlimitedAttempts = 1 << 30

// nextBackoff records how long the service just ran and returns the delay
// before its next restart attempt. A run longer than successThreshold
// resets the delay to RestartDelay; a short run doubles it, capped at
// MaxRestartDelay.
func (e *serviceEntry) nextBackoff(cfg Config, runTime time.Duration) time.Duration {
	if e.backoff == nil {
		e.backoff = stream.NewBackoffWithThreshold(cfg.RestartDelay, cfg.MaxRestartDelay, cfg.RestartSuccessThreshold, unlimitedAttempts)
	}
	e.backoff.RecordSuccess(runTime)
	return e.backoff.CurrentDelay()
}

// Supervisor manages a collection of services under a suture supervision
// tree, restarting them on failure with an exponential backoff.
type Supervisor struct {
	cfg    Config
	suture *suture.Supervisor

	mu       sync.RWMutex
	services map[string]*serviceEntry
	running  bool
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	cfg.applyDefaults()

	name := cfg.Name
	if name == "" {
		name = "supervisor"
	}

	s := &Supervisor{
		cfg:      cfg,
		services: make(map[string]*serviceEntry),
	}

	spec := suture.Spec{
		Timeout: cfg.ShutdownTimeout,
	}
	if cfg.Logger != nil {
		spec.EventHook = func(ev suture.Event) {
			s.cfg.Logger.Warn("supervisor event", "event", ev.String())
		}
	}
	s.suture = suture.New(name, spec)

	return s
}

// logf writes a log message via the configured slog.Logger, if any.
func (s *Supervisor) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(fmt.Sprintf(format, args...))
	}
}

// suturedService adapts a Service to suture's Service interface, tracking
// per-service status and applying the configured restart backoff.
type suturedService struct {
	sup   *Supervisor
	entry *serviceEntry
}

func (a *suturedService) Serve(ctx context.Context) error {
	a.entry.mu.Lock()
	a.entry.state = ServiceStateRunning
	a.entry.startTime = time.Now()
	a.entry.mu.Unlock()

	err := a.entry.svc.Run(ctx)

	if ctx.Err() != nil {
		a.entry.mu.Lock()
		a.entry.state = ServiceStateStopped
		a.entry.mu.Unlock()
		return nil
	}

	runTime := time.Since(a.entry.startTime)

	a.entry.mu.Lock()
	a.entry.state = ServiceStateFailed
	a.entry.lastError = err
	a.entry.restarts++
	delay := a.entry.nextBackoff(a.sup.cfg, runTime)
	restarts := a.entry.restarts
	a.entry.mu.Unlock()

	a.sup.logf("service %s failed (restarts=%d): %v, retrying in %v",
		a.entry.svc.Name(), restarts, err, delay)

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}

	return err
}

// Add registers a service with the supervisor.
// If the supervisor is already running, the service is started immediately.
// Returns an error if a service with the same name already exists.
func (s *Supervisor) Add(svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := svc.Name()
	if _, exists := s.services[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}

	entry := &serviceEntry{
		svc:   svc,
		state: ServiceStateIdle,
	}
	s.services[name] = entry

	entry.token = s.suture.Add(&suturedService{sup: s, entry: entry})
	entry.hasToken = true

	s.logf("added service: %s", name)

	return nil
}

// Remove unregisters and stops a service.
func (s *Supervisor) Remove(name string) error {
	s.mu.Lock()
	entry, exists := s.services[name]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("service %q not found", name)
	}
	delete(s.services, name)
	s.mu.Unlock()

	if entry.hasToken {
		if err := s.suture.Remove(entry.token); err != nil {
			return fmt.Errorf("failed to remove service %q: %w", name, err)
		}
	}

	s.logf("removed service: %s", name)
	return nil
}

// Status returns the current status of all services.
func (s *Supervisor) Status() []ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ServiceStatus, 0, len(s.services))
	now := time.Now()

	for name, entry := range s.services {
		entry.mu.RLock()
		var uptime time.Duration
		if !entry.startTime.IsZero() && entry.state == ServiceStateRunning {
			uptime = now.Sub(entry.startTime)
		}
		result = append(result, ServiceStatus{
			Name:      name,
			State:     entry.state,
			StartTime: entry.startTime,
			Uptime:    uptime,
			Restarts:  entry.restarts,
			LastError: entry.lastError,
		})
		entry.mu.RUnlock()
	}

	return result
}

// ServiceCount returns the number of registered services.
func (s *Supervisor) ServiceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.services)
}

// Run starts all registered services and blocks until ctx is cancelled.
// When ctx is cancelled, all services are stopped gracefully (suture waits
// up to cfg.ShutdownTimeout before abandoning a stuck service).
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("supervisor already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logf("supervisor started with %d services", s.ServiceCount())

	err := s.suture.Serve(ctx)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
