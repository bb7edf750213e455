// Package session implements the authentication state machine of the console
// core. The Manager is the single source of truth for "is this user logged in
// and who are they"; every transition goes through it and is observable via
// registered listeners.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/console/internal/domain/session"
	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/logger"
	"github.com/erp/console/internal/infrastructure/storage"
)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	// InitTimeout bounds the boot-time readiness wait (default: 5s).
	// On timeout the manager proceeds with a degraded outcome and treats
	// "no valid session found" as unauthenticated; it never blocks forever.
	InitTimeout time.Duration
}

// DefaultManagerConfig returns default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		InitTimeout: 5 * time.Second,
	}
}

// Listener is notified after every status transition with a session snapshot
type Listener func(s session.Session)

// Manager owns the authentication state machine
type Manager struct {
	verifier session.CredentialVerifier
	durable  storage.KeyValueStore
	config   ManagerConfig
	logger   *zap.Logger

	mu        sync.Mutex
	current   session.Session
	listeners []Listener
}

// NewManager creates a new session manager in the unauthenticated state
func NewManager(
	verifier session.CredentialVerifier,
	durable storage.KeyValueStore,
	config ManagerConfig,
	logger *zap.Logger,
) *Manager {
	if config.InitTimeout <= 0 {
		config.InitTimeout = DefaultManagerConfig().InitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		verifier: verifier,
		durable:  durable,
		config:   config,
		logger:   logger,
		current:  session.Session{Status: session.StatusUnauthenticated},
	}
}

// OnStatusChange registers a listener invoked after every status transition.
// Listeners are called outside the manager lock and may read the session.
func (m *Manager) OnStatusChange(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Session returns a snapshot of the current session
func (m *Manager) Session() session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Status returns the current authentication status
func (m *Manager) Status() session.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Status
}

// Profile returns the authenticated profile, if any
func (m *Manager) Profile() (*session.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Profile == nil {
		return nil, false
	}
	profile := *m.current.Profile
	return &profile, true
}

// PendingChallenge returns the outstanding MFA challenge, if any
func (m *Manager) PendingChallenge() (*session.MfaChallenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.PendingChallenge == nil {
		return nil, false
	}
	challenge := *m.current.PendingChallenge
	return &challenge, true
}

// Initialize restores a persisted session at process start. It waits for the
// ready signal (e.g. the platform's cookie/session validation reporting done)
// up to InitTimeout, then attempts a silent restore from the durable minimal
// profile. Every outcome leaves the manager initialized; degraded outcomes
// resolve to unauthenticated rather than an error.
func (m *Manager) Initialize(ctx context.Context, ready <-chan struct{}) error {
	m.transition(func(s *session.Session) {
		s.Status = session.StatusInitializing
	})

	if ready != nil {
		timer := time.NewTimer(m.config.InitTimeout)
		defer timer.Stop()

		select {
		case <-ready:
		case <-timer.C:
			m.logger.Warn("Session initialization timed out, proceeding unauthenticated",
				zap.Duration("timeout", m.config.InitTimeout),
				zap.Error(session.ErrInitializationTimeout))
			m.finishInitialize(nil)
			return nil
		case <-ctx.Done():
			m.finishInitialize(nil)
			return ctx.Err()
		}
	}

	profile := m.loadMinimalProfile(ctx)
	if profile == nil {
		m.logger.Info("No persisted session found")
		m.finishInitialize(nil)
		return nil
	}

	refreshed, err := m.verifier.Refresh(ctx)
	if err != nil {
		m.logger.Info("Persisted session could not be refreshed",
			zap.String("user_id", profile.UserID.String()),
			zap.Error(err))
		m.clearDurable(ctx)
		m.finishInitialize(nil)
		return nil
	}

	m.persistMinimalProfile(ctx, refreshed)
	m.finishInitialize(refreshed)
	m.logger.Info("Session restored",
		zap.String("user_id", refreshed.UserID.String()),
		zap.String("tenant_id", refreshed.TenantID.String()))
	return nil
}

// Login authenticates with an identifier/secret pair. Three outcomes:
// full authentication, an MFA challenge (no profile loaded yet), or a
// failure that clears all session state.
func (m *Manager) Login(ctx context.Context, input session.LoginInput) (*session.LoginOutcome, error) {
	m.logger.Info("Login attempt", zap.String("identifier", input.Identifier))

	m.transition(func(s *session.Session) {
		s.Status = session.StatusAuthenticating
	})

	outcome, err := m.verifier.Login(ctx, input)
	if err != nil {
		// No partial state survives a failed login.
		m.clearDurable(ctx)
		m.transition(func(s *session.Session) {
			*s = session.Session{Status: session.StatusUnauthenticated, Initialized: s.Initialized}
		})

		var domainErr *shared.DomainError
		if errors.As(err, &domainErr) {
			return nil, domainErr
		}
		m.logger.Warn("Login failed", zap.Error(err))
		return nil, session.ErrInvalidCredentials
	}

	if outcome.RequiresMfa {
		challenge := *outcome.Challenge
		m.transition(func(s *session.Session) {
			s.Status = session.StatusMfaPending
			s.Profile = nil
			s.PendingChallenge = &challenge
		})
		m.logger.Info("Second factor required",
			zap.String("challenge_id", challenge.ChallengeID),
			zap.String("user_id", challenge.UserID.String()))
		return outcome, nil
	}

	m.completeAuthentication(ctx, outcome.Profile)
	return outcome, nil
}

// VerifyMfa validates a second factor against the outstanding challenge.
// A failed verification keeps the challenge and the MfaPending status so the
// user can retry; retry limits are enforced by the backend, not here.
func (m *Manager) VerifyMfa(ctx context.Context, input session.VerifyMfaInput) (*session.Profile, error) {
	m.mu.Lock()
	challenge := m.current.PendingChallenge
	status := m.current.Status
	m.mu.Unlock()

	if status != session.StatusMfaPending || challenge == nil || challenge.ChallengeID != input.ChallengeID {
		return nil, session.ErrMfaInvalid
	}

	profile, err := m.verifier.VerifyMfa(ctx, input)
	if err != nil {
		m.logger.Warn("MFA verification failed",
			zap.String("challenge_id", input.ChallengeID),
			zap.Bool("backup_code", input.IsBackupCode),
			zap.Error(err))
		var domainErr *shared.DomainError
		if errors.As(err, &domainErr) {
			return nil, domainErr
		}
		return nil, session.ErrMfaInvalid
	}

	m.completeAuthentication(ctx, profile)
	m.logger.Info("Second factor verified", zap.String("user_id", profile.UserID.String()))
	return profile, nil
}

// Refresh extends the current session. Failure clears all session state and
// transitions through expired back to unauthenticated.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.Status() != session.StatusAuthenticated {
		return session.ErrNotAuthenticated
	}

	profile, err := m.verifier.Refresh(ctx)
	if err != nil {
		m.logger.Warn("Session refresh failed", zap.Error(err))
		m.expire(ctx)
		return session.ErrSessionExpired
	}

	m.persistMinimalProfile(ctx, profile)
	m.transition(func(s *session.Session) {
		s.Profile = profile
	})
	return nil
}

// Logout clears local state unconditionally, then invalidates the session
// server-side on a best-effort basis. A failed remote call never blocks the
// local logout.
func (m *Manager) Logout(ctx context.Context) error {
	m.logger.Info("Logging out")

	m.clearDurable(ctx)
	m.transition(func(s *session.Session) {
		*s = session.Session{Status: session.StatusUnauthenticated, Initialized: s.Initialized}
	})

	if err := m.verifier.Logout(ctx); err != nil {
		m.logger.Warn("Remote session invalidation failed", zap.Error(err))
	}
	return nil
}

// completeAuthentication installs the profile and persists its minimal form
func (m *Manager) completeAuthentication(ctx context.Context, profile *session.Profile) {
	ctx, log := logger.WithSession(ctx, m.logger, profile.TenantID.String(), profile.UserID.String())
	m.persistMinimalProfile(ctx, profile)
	m.transition(func(s *session.Session) {
		s.Status = session.StatusAuthenticated
		s.Profile = profile
		s.PendingChallenge = nil
	})
	log.Info("Authenticated", zap.String("role", profile.Role))
}

// expire tears the session down through the expired state
func (m *Manager) expire(ctx context.Context) {
	m.transition(func(s *session.Session) {
		s.Status = session.StatusExpired
	})
	m.clearDurable(ctx)
	m.transition(func(s *session.Session) {
		*s = session.Session{Status: session.StatusUnauthenticated, Initialized: s.Initialized}
	})
}

func (m *Manager) finishInitialize(profile *session.Profile) {
	m.transition(func(s *session.Session) {
		s.Initialized = true
		if profile != nil {
			s.Status = session.StatusAuthenticated
			s.Profile = profile
		} else {
			s.Status = session.StatusUnauthenticated
			s.Profile = nil
		}
	})
}

// transition mutates the session under the lock and notifies listeners after
// releasing it. Listeners fire only when the status actually changed: a
// profile-only update (a successful keep-alive refresh) is not a transition,
// and must not re-trigger scope activation or cache invalidation downstream.
func (m *Manager) transition(mutate func(*session.Session)) {
	m.mu.Lock()
	before := m.current.Status
	mutate(&m.current)
	var snapshot session.Session
	var listeners []Listener
	if m.current.Status != before {
		snapshot = m.snapshotLocked()
		listeners = make([]Listener, len(m.listeners))
		copy(listeners, m.listeners)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

func (m *Manager) snapshotLocked() session.Session {
	snapshot := m.current
	if m.current.Profile != nil {
		profile := *m.current.Profile
		snapshot.Profile = &profile
	}
	if m.current.PendingChallenge != nil {
		challenge := *m.current.PendingChallenge
		snapshot.PendingChallenge = &challenge
	}
	return snapshot
}

func (m *Manager) loadMinimalProfile(ctx context.Context) *session.Profile {
	raw, ok, err := m.durable.Get(ctx, storage.KeyMinimalProfile)
	if err != nil || !ok {
		return nil
	}
	var profile session.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		m.logger.Warn("Discarding undecodable persisted profile", zap.Error(err))
		m.clearDurable(ctx)
		return nil
	}
	return &profile
}

func (m *Manager) persistMinimalProfile(ctx context.Context, profile *session.Profile) {
	raw, err := json.Marshal(profile)
	if err != nil {
		m.logger.Error("Failed to encode minimal profile", zap.Error(err))
		return
	}
	if err := m.durable.Set(ctx, storage.KeyMinimalProfile, raw); err != nil {
		logger.FromContextOr(ctx, m.logger).Warn("Failed to persist minimal profile", zap.Error(err))
	}
}

func (m *Manager) clearDurable(ctx context.Context) {
	if err := m.durable.Delete(ctx, storage.KeyMinimalProfile); err != nil {
		logger.FromContextOr(ctx, m.logger).Warn("Failed to clear persisted profile", zap.Error(err))
	}
}
