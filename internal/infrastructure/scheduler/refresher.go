// Package scheduler runs the console's periodic background work: extending
// the authenticated session before it expires and reconciling the
// accessible-project list so a revoked project never stays selected.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/console/internal/domain/scope"
	"github.com/erp/console/internal/domain/session"
)

var (
	// ErrAlreadyRunning is returned when Start is called on a running refresher
	ErrAlreadyRunning = errors.New("refresher is already running")
)

// SessionRefresher is the slice of the session manager the refresher drives
type SessionRefresher interface {
	Status() session.Status
	Refresh(ctx context.Context) error
}

// ScopeReconciler is the slice of the scope manager the refresher drives
type ScopeReconciler interface {
	Active() bool
	TenantID() uuid.UUID
	Role() string
	Reconcile(ctx context.Context, accessible []scope.Project)
	AutoSelect(ctx context.Context)
}

// Config holds refresher configuration
type Config struct {
	// SessionInterval is how often the session is refreshed (default: 10m)
	SessionInterval time.Duration
	// ReconcileInterval is how often the project list is reloaded (default: 5m)
	ReconcileInterval time.Duration
	// CallTimeout bounds each backend call (default: 30s)
	CallTimeout time.Duration
}

// DefaultConfig returns default refresher configuration
func DefaultConfig() Config {
	return Config{
		SessionInterval:   10 * time.Minute,
		ReconcileInterval: 5 * time.Minute,
		CallTimeout:       30 * time.Second,
	}
}

// PeriodicRefresher runs the session and scope maintenance loops.
// Both loops are no-ops while the session is not authenticated, so the
// refresher can be started once at boot and left running.
type PeriodicRefresher struct {
	sessions  SessionRefresher
	scopes    ScopeReconciler
	directory scope.ProjectDirectory
	config    Config
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    sync.WaitGroup
}

// NewPeriodicRefresher creates a stopped refresher
func NewPeriodicRefresher(
	sessions SessionRefresher,
	scopes ScopeReconciler,
	directory scope.ProjectDirectory,
	config Config,
	logger *zap.Logger,
) *PeriodicRefresher {
	defaults := DefaultConfig()
	if config.SessionInterval <= 0 {
		config.SessionInterval = defaults.SessionInterval
	}
	if config.ReconcileInterval <= 0 {
		config.ReconcileInterval = defaults.ReconcileInterval
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodicRefresher{
		sessions:  sessions,
		scopes:    scopes,
		directory: directory,
		config:    config,
		logger:    logger,
	}
}

// Start launches the maintenance loops
func (r *PeriodicRefresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.done.Add(1)
	go r.run(r.stopCh)

	r.logger.Info("Background refresher started",
		zap.Duration("session_interval", r.config.SessionInterval),
		zap.Duration("reconcile_interval", r.config.ReconcileInterval))
	return nil
}

// Stop halts the loops and waits for in-flight work to finish.
// Safe to call on a stopped refresher.
func (r *PeriodicRefresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.done.Wait()
	r.logger.Info("Background refresher stopped")
}

func (r *PeriodicRefresher) run(stopCh <-chan struct{}) {
	defer r.done.Done()

	sessionTicker := time.NewTicker(r.config.SessionInterval)
	defer sessionTicker.Stop()
	reconcileTicker := time.NewTicker(r.config.ReconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-sessionTicker.C:
			r.refreshSession()
		case <-reconcileTicker.C:
			r.reconcileProjects()
		}
	}
}

// refreshSession extends the session before the backend expires it. A refresh
// failure is handled by the session manager itself (expiry and teardown); the
// refresher only reports it.
func (r *PeriodicRefresher) refreshSession() {
	if r.sessions.Status() != session.StatusAuthenticated {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.CallTimeout)
	defer cancel()

	if err := r.sessions.Refresh(ctx); err != nil {
		r.logger.Warn("Scheduled session refresh failed", zap.Error(err))
		return
	}
	r.logger.Debug("Session refreshed")
}

// reconcileProjects reloads the accessible-project list and hands it to the
// scope manager, which clears selections that lost access and re-selects when
// a non-admin scope ends up with none.
func (r *PeriodicRefresher) reconcileProjects() {
	if !r.scopes.Active() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.CallTimeout)
	defer cancel()

	accessible, err := r.directory.ListAccessible(ctx, r.scopes.TenantID(), r.scopes.Role())
	if err != nil {
		// Keep the last known list; a transient listing failure must not
		// revoke the user's current selection.
		r.logger.Warn("Scheduled project reconcile failed", zap.Error(err))
		return
	}

	r.scopes.Reconcile(ctx, accessible)
	r.scopes.AutoSelect(ctx)
	r.logger.Debug("Accessible projects reconciled", zap.Int("count", len(accessible)))
}
