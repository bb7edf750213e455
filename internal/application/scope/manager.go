// Package scope implements the tenant/project scope manager: which lens the
// rest of the console queries through. It is activated when a session becomes
// authenticated and deactivated when the session ends, and it guarantees that
// a selection never points at a project outside the accessible list.
package scope

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/console/internal/domain/scope"
	"github.com/erp/console/internal/domain/session"
	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/logger"
	"github.com/erp/console/internal/infrastructure/storage"
)

// AdminRole is the backend role code granted the all-projects lens
const AdminRole = "admin"

// Change describes the scope after a mutation; listeners use it to invalidate
// context-bound caches
type Change struct {
	TenantID  uuid.UUID
	Selection scope.Selection
	Active    bool
}

// Manager tracks the selected tenant/project scope
type Manager struct {
	directory scope.ProjectDirectory
	durable   storage.KeyValueStore
	logger    *zap.Logger

	mu         sync.Mutex
	active     bool
	tenantID   uuid.UUID
	role       string
	admin      bool
	selection  scope.Selection
	accessible []scope.Project
	listeners  []func(Change)
}

// NewManager creates an inactive scope manager
func NewManager(directory scope.ProjectDirectory, durable storage.KeyValueStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		directory: directory,
		durable:   durable,
		logger:    logger,
	}
}

// OnChange registers a listener invoked after every scope mutation, outside
// the manager lock
func (m *Manager) OnChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Activate binds the scope to an authenticated profile: loads the accessible
// project list, restores a persisted selection when it is still valid for this
// tenant, and auto-selects for non-admin users with no selection. A failure to
// list projects degrades to an empty accessible list rather than blocking.
func (m *Manager) Activate(ctx context.Context, profile *session.Profile) error {
	ctx, log := logger.WithSession(ctx, m.logger, profile.TenantID.String(), profile.UserID.String())

	accessible, err := m.directory.ListAccessible(ctx, profile.TenantID, profile.Role)
	if err != nil {
		log.Warn("Failed to list accessible projects, activating with empty scope", zap.Error(err))
		accessible = nil
	}

	m.mu.Lock()
	// Re-activation for the same tenant keeps a still-valid selection: the
	// defaults below are for a fresh activation only, never a reset of an
	// explicit choice.
	prior := scope.SelectNone()
	if m.active && m.tenantID == profile.TenantID {
		prior = m.selection
	}

	m.active = true
	m.tenantID = profile.TenantID
	m.role = profile.Role
	m.admin = profile.Role == AdminRole
	m.accessible = accessible

	m.selection = scope.SelectNone()
	if prior.IsAll() && m.admin {
		m.selection = prior
	} else if id, ok := prior.ProjectID(); ok && (m.admin || m.memberLocked(id)) {
		m.selection = prior
	}

	if m.selection.IsNone() {
		if m.admin {
			// Admin scopes default to viewing all and are never auto-selected.
			m.selection = scope.SelectAll()
		} else {
			m.selection = m.restoreSelectionLocked(ctx)
			if m.selection.IsNone() && len(m.accessible) > 0 {
				m.selection = scope.SelectProject(m.accessible[0].ID)
				m.persistSelectionLocked(ctx)
				log.Info("Auto-selected first accessible project",
					zap.String("project_id", m.accessible[0].ID.String()))
			}
		}
	}
	admin := m.admin
	selection := m.selection
	m.mu.Unlock()

	m.notify()

	if !admin && len(accessible) == 0 {
		log.Warn("No accessible projects for user", zap.Error(scope.ErrNoAccessibleProjects))
	}
	log.Info("Scope activated",
		zap.Bool("admin", admin),
		zap.Int("accessible", len(accessible)),
		zap.String("selection", selection.Segment()))
	return nil
}

// Deactivate clears the scope when the session leaves the authenticated state
func (m *Manager) Deactivate() {
	m.mu.Lock()
	m.active = false
	m.tenantID = uuid.Nil
	m.role = ""
	m.admin = false
	m.selection = scope.SelectNone()
	m.accessible = nil
	m.mu.Unlock()

	m.notify()
	m.logger.Info("Scope deactivated")
}

// Active reports whether the scope is bound to an authenticated session
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// TenantID returns the active tenant
func (m *Manager) TenantID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenantID
}

// Role returns the role the scope was activated with
func (m *Manager) Role() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// Selection returns the current selection
func (m *Manager) Selection() scope.Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selection
}

// AccessibleProjects returns a copy of the accessible-project list in the
// stable order the directory reported
func (m *Manager) AccessibleProjects() []scope.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]scope.Project, len(m.accessible))
	copy(out, m.accessible)
	return out
}

// SetSelectedProject changes the selection. Non-admin users may only select
// accessible projects; the all-projects lens is admin-only. The selection is
// persisted together with the tenant so it is never reinterpreted under a
// different tenant.
func (m *Manager) SetSelectedProject(ctx context.Context, sel scope.Selection) error {
	ctx, log := logger.WithProject(ctx, m.logger, sel.Segment())

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return shared.ErrInvalidState
	}

	if !m.admin {
		if sel.IsAll() {
			m.mu.Unlock()
			return scope.ErrInvalidSelection
		}
		if id, ok := sel.ProjectID(); ok && !m.memberLocked(id) {
			m.mu.Unlock()
			return scope.ErrInvalidSelection
		}
	}

	m.selection = sel
	m.persistSelectionLocked(ctx)
	m.mu.Unlock()

	m.notify()
	log.Info("Project selection changed")
	return nil
}

// Reconcile replaces the accessible list after a refresh. A selection that is
// no longer present is cleared atomically, and the persisted value removed —
// the scope never silently keeps pointing at an inaccessible project.
func (m *Manager) Reconcile(ctx context.Context, accessible []scope.Project) {
	m.mu.Lock()
	m.accessible = accessible

	cleared := false
	if id, ok := m.selection.ProjectID(); ok && !m.admin && !m.memberLocked(id) {
		m.selection = scope.SelectNone()
		m.clearPersistedLocked(ctx)
		cleared = true
	}
	m.mu.Unlock()

	if cleared {
		m.notify()
		m.logger.Info("Cleared selection no longer in accessible list")
	}
}

// AutoSelect picks the first accessible project when a non-admin scope has no
// selection. Admin scopes keep viewing all.
func (m *Manager) AutoSelect(ctx context.Context) {
	m.mu.Lock()
	if !m.active || m.admin || !m.selection.IsNone() || len(m.accessible) == 0 {
		m.mu.Unlock()
		return
	}
	first := m.accessible[0].ID
	m.selection = scope.SelectProject(first)
	m.persistSelectionLocked(ctx)
	m.mu.Unlock()

	m.notify()
	m.logger.Info("Auto-selected first accessible project", zap.String("project_id", first.String()))
}

// QueryContext returns the filter parameters for outbound queries. For
// non-admin scopes membership is re-validated: a stale selection degrades to
// no filter, which downstream interprets as "caller's own accessible records
// only".
func (m *Manager) QueryContext() scope.QueryContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	qc := scope.QueryContext{TenantID: m.tenantID}
	id, ok := m.selection.ProjectID()
	if !ok {
		return qc
	}
	if !m.admin && !m.memberLocked(id) {
		return qc
	}
	projectID := id
	qc.ProjectID = &projectID
	return qc
}

// HasAccess reports whether the scope may read the given project
func (m *Manager) HasAccess(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.admin {
		return true
	}
	return m.memberLocked(id)
}

// memberLocked tests accessible-list membership. Caller must hold m.mu.
func (m *Manager) memberLocked(id uuid.UUID) bool {
	for _, p := range m.accessible {
		if p.ID == id {
			return true
		}
	}
	return false
}

// restoreSelectionLocked loads the persisted selection if it belongs to the
// active tenant and is still accessible. A selection persisted under another
// tenant is discarded, not reinterpreted. Caller must hold m.mu.
func (m *Manager) restoreSelectionLocked(ctx context.Context) scope.Selection {
	raw, ok, err := m.durable.Get(ctx, storage.KeyLastSelectedProject)
	if err != nil || !ok {
		return scope.SelectNone()
	}

	var persisted scope.PersistedSelection
	if err := json.Unmarshal(raw, &persisted); err != nil {
		m.logger.Warn("Discarding undecodable persisted selection", zap.Error(err))
		m.clearPersistedLocked(ctx)
		return scope.SelectNone()
	}

	if persisted.TenantID != m.tenantID {
		m.clearPersistedLocked(ctx)
		return scope.SelectNone()
	}

	if persisted.ProjectID == scope.SelectionAll {
		// Only admins hold the all lens; a demoted user loses it.
		m.clearPersistedLocked(ctx)
		return scope.SelectNone()
	}

	id, err := uuid.Parse(persisted.ProjectID)
	if err != nil || !m.memberLocked(id) {
		m.clearPersistedLocked(ctx)
		return scope.SelectNone()
	}
	return scope.SelectProject(id)
}

// persistSelectionLocked writes the (tenant, project) pair to durable storage.
// Caller must hold m.mu.
func (m *Manager) persistSelectionLocked(ctx context.Context) {
	if m.selection.IsNone() {
		m.clearPersistedLocked(ctx)
		return
	}

	persisted := scope.PersistedSelection{
		TenantID:  m.tenantID,
		ProjectID: m.selection.Segment(),
	}
	raw, err := json.Marshal(persisted)
	if err != nil {
		m.logger.Error("Failed to encode selection", zap.Error(err))
		return
	}
	if err := m.durable.Set(ctx, storage.KeyLastSelectedProject, raw); err != nil {
		logger.FromContextOr(ctx, m.logger).Warn("Failed to persist selection", zap.Error(err))
	}
}

func (m *Manager) clearPersistedLocked(ctx context.Context) {
	if err := m.durable.Delete(ctx, storage.KeyLastSelectedProject); err != nil {
		logger.FromContextOr(ctx, m.logger).Warn("Failed to clear persisted selection", zap.Error(err))
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	change := Change{TenantID: m.tenantID, Selection: m.selection, Active: m.active}
	listeners := make([]func(Change), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}
