package scope

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessionapp "github.com/erp/console/internal/application/session"
	"github.com/erp/console/internal/domain/scope"
	"github.com/erp/console/internal/domain/session"
	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/storage"
)

var (
	tenantID    = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	projectA    = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	projectB    = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	projectC    = uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
	otherTenant = uuid.MustParse("99999999-9999-9999-9999-999999999999")
)

type fakeDirectory struct {
	projects []scope.Project
	err      error
}

func (f *fakeDirectory) ListAccessible(context.Context, uuid.UUID, string) ([]scope.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.projects, nil
}

func twoProjects() []scope.Project {
	return []scope.Project{
		{ID: projectA, Code: "MAIN", Name: "Main Branch"},
		{ID: projectB, Code: "WEST", Name: "West Branch"},
	}
}

func memberProfile() *session.Profile {
	return &session.Profile{
		UserID:   uuid.New(),
		TenantID: tenantID,
		Username: "clerk",
		Role:     "operator",
	}
}

func adminProfile() *session.Profile {
	p := memberProfile()
	p.Role = AdminRole
	return p
}

func activate(t *testing.T, directory scope.ProjectDirectory, durable storage.KeyValueStore, profile *session.Profile) *Manager {
	t.Helper()
	if durable == nil {
		durable = storage.NewMemoryStore()
	}
	m := NewManager(directory, durable, nil)
	require.NoError(t, m.Activate(context.Background(), profile))
	return m
}

func TestActivateAdminDefaultsToAllProjects(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: twoProjects()}, nil, adminProfile())

	assert.True(t, m.Active())
	assert.True(t, m.Selection().IsAll())

	qc := m.QueryContext()
	assert.Equal(t, tenantID, qc.TenantID)
	assert.Nil(t, qc.ProjectID, "the all lens queries without a project filter")
}

func TestActivateNonAdminAutoSelectsFirstProject(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: twoProjects()}, nil, memberProfile())

	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectA, id, "auto-selection picks the first project in directory order")

	qc := m.QueryContext()
	require.NotNil(t, qc.ProjectID)
	assert.Equal(t, projectA, *qc.ProjectID)
}

func TestActivateDirectoryFailureDegradesToEmptyScope(t *testing.T) {
	m := activate(t, &fakeDirectory{err: errors.New("backend unreachable")}, nil, memberProfile())

	assert.True(t, m.Active())
	assert.True(t, m.Selection().IsNone())
	assert.Empty(t, m.AccessibleProjects())
}

func TestActivateRestoresPersistedSelection(t *testing.T) {
	durable := storage.NewMemoryStore()
	persisted, err := json.Marshal(scope.PersistedSelection{TenantID: tenantID, ProjectID: projectB.String()})
	require.NoError(t, err)
	require.NoError(t, durable.Set(context.Background(), storage.KeyLastSelectedProject, persisted))

	m := activate(t, &fakeDirectory{projects: twoProjects()}, durable, memberProfile())

	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectB, id)
}

func TestActivateDiscardsSelectionFromOtherTenant(t *testing.T) {
	durable := storage.NewMemoryStore()
	persisted, err := json.Marshal(scope.PersistedSelection{TenantID: otherTenant, ProjectID: projectA.String()})
	require.NoError(t, err)
	require.NoError(t, durable.Set(context.Background(), storage.KeyLastSelectedProject, persisted))

	m := activate(t, &fakeDirectory{projects: twoProjects()}, durable, memberProfile())

	// The foreign-tenant value is discarded and auto-selection applies instead
	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectA, id)
}

func TestActivateDiscardsInaccessiblePersistedSelection(t *testing.T) {
	durable := storage.NewMemoryStore()
	persisted, err := json.Marshal(scope.PersistedSelection{TenantID: tenantID, ProjectID: projectC.String()})
	require.NoError(t, err)
	require.NoError(t, durable.Set(context.Background(), storage.KeyLastSelectedProject, persisted))

	m := activate(t, &fakeDirectory{projects: twoProjects()}, durable, memberProfile())

	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectA, id)
}

func TestActivateDiscardsAllLensForNonAdmin(t *testing.T) {
	durable := storage.NewMemoryStore()
	persisted, err := json.Marshal(scope.PersistedSelection{TenantID: tenantID, ProjectID: scope.SelectionAll})
	require.NoError(t, err)
	require.NoError(t, durable.Set(context.Background(), storage.KeyLastSelectedProject, persisted))

	// A user demoted from admin loses the all lens
	m := activate(t, &fakeDirectory{projects: twoProjects()}, durable, memberProfile())

	assert.False(t, m.Selection().IsAll())
}

func TestSetSelectedProject(t *testing.T) {
	durable := storage.NewMemoryStore()
	m := activate(t, &fakeDirectory{projects: twoProjects()}, durable, memberProfile())

	require.NoError(t, m.SetSelectedProject(context.Background(), scope.SelectProject(projectB)))

	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectB, id)

	// The selection is persisted together with the tenant
	raw, ok, err := durable.Get(context.Background(), storage.KeyLastSelectedProject)
	require.NoError(t, err)
	require.True(t, ok)
	var persisted scope.PersistedSelection
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, tenantID, persisted.TenantID)
	assert.Equal(t, projectB.String(), persisted.ProjectID)
}

func TestSetSelectedProjectRejectsNonMember(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: twoProjects()}, nil, memberProfile())

	err := m.SetSelectedProject(context.Background(), scope.SelectProject(projectC))
	assert.ErrorIs(t, err, scope.ErrInvalidSelection)

	// Selection unchanged
	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectA, id)
}

func TestSetSelectedProjectAllLensIsAdminOnly(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: twoProjects()}, nil, memberProfile())

	err := m.SetSelectedProject(context.Background(), scope.SelectAll())
	assert.ErrorIs(t, err, scope.ErrInvalidSelection)

	admin := activate(t, &fakeDirectory{projects: twoProjects()}, nil, adminProfile())
	require.NoError(t, admin.SetSelectedProject(context.Background(), scope.SelectProject(projectA)))
	require.NoError(t, admin.SetSelectedProject(context.Background(), scope.SelectAll()))
	assert.True(t, admin.Selection().IsAll())
}

func TestSetSelectedProjectInactiveScope(t *testing.T) {
	m := NewManager(&fakeDirectory{}, storage.NewMemoryStore(), nil)

	err := m.SetSelectedProject(context.Background(), scope.SelectProject(projectA))
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReconcileClearsRemovedSelection(t *testing.T) {
	durable := storage.NewMemoryStore()
	m := activate(t, &fakeDirectory{projects: twoProjects()}, durable, memberProfile())
	require.NoError(t, m.SetSelectedProject(context.Background(), scope.SelectProject(projectB)))

	// Access to projectB is revoked
	m.Reconcile(context.Background(), []scope.Project{{ID: projectA, Code: "MAIN", Name: "Main Branch"}})

	assert.True(t, m.Selection().IsNone(), "a selection outside the accessible list is cleared")

	_, ok, err := durable.Get(context.Background(), storage.KeyLastSelectedProject)
	require.NoError(t, err)
	assert.False(t, ok, "the persisted selection is removed with it")
}

func TestReconcileKeepsSurvivingSelection(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: twoProjects()}, nil, memberProfile())
	require.NoError(t, m.SetSelectedProject(context.Background(), scope.SelectProject(projectB)))

	m.Reconcile(context.Background(), twoProjects())

	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectB, id)
}

func TestAutoSelectAfterReconcile(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: []scope.Project{}}, nil, memberProfile())
	assert.True(t, m.Selection().IsNone())

	m.Reconcile(context.Background(), twoProjects())
	m.AutoSelect(context.Background())

	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectA, id)
}

func TestQueryContextRevalidatesMembership(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: twoProjects()}, nil, memberProfile())
	require.NoError(t, m.SetSelectedProject(context.Background(), scope.SelectProject(projectB)))

	// Simulate a stale selection by shrinking the accessible list underneath it.
	// Reconcile would clear it; QueryContext alone must still refuse to emit
	// a filter for a project the user cannot access.
	m.mu.Lock()
	m.accessible = []scope.Project{{ID: projectA}}
	m.mu.Unlock()

	qc := m.QueryContext()
	assert.Equal(t, tenantID, qc.TenantID)
	assert.Nil(t, qc.ProjectID)
}

func TestHasAccess(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: twoProjects()}, nil, memberProfile())
	assert.True(t, m.HasAccess(projectA))
	assert.False(t, m.HasAccess(projectC))

	admin := activate(t, &fakeDirectory{projects: nil}, nil, adminProfile())
	assert.True(t, admin.HasAccess(projectC), "admins may read any project")
}

func TestDeactivateClearsScope(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: twoProjects()}, nil, memberProfile())

	var changes []Change
	m.OnChange(func(c Change) {
		changes = append(changes, c)
	})

	m.Deactivate()

	assert.False(t, m.Active())
	assert.True(t, m.Selection().IsNone())
	assert.Empty(t, m.AccessibleProjects())
	require.NotEmpty(t, changes)
	assert.False(t, changes[len(changes)-1].Active)
}

func TestOnChangeNotifiedOnSelection(t *testing.T) {
	m := activate(t, &fakeDirectory{projects: twoProjects()}, nil, memberProfile())

	var changes []Change
	m.OnChange(func(c Change) {
		changes = append(changes, c)
	})

	require.NoError(t, m.SetSelectedProject(context.Background(), scope.SelectProject(projectB)))

	require.Len(t, changes, 1)
	assert.True(t, changes[0].Active)
	assert.Equal(t, tenantID, changes[0].TenantID)
	id, ok := changes[0].Selection.ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectB, id)
}

func TestReactivatePreservesValidSelection(t *testing.T) {
	directory := &fakeDirectory{projects: twoProjects()}
	m := activate(t, directory, nil, adminProfile())
	require.NoError(t, m.SetSelectedProject(context.Background(), scope.SelectProject(projectA)))

	// Activating again for the same tenant must not reset an explicit choice.
	require.NoError(t, m.Activate(context.Background(), adminProfile()))

	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectA, id)
}

func TestReactivateClearsRevokedSelection(t *testing.T) {
	directory := &fakeDirectory{projects: twoProjects()}
	m := activate(t, directory, nil, memberProfile())
	require.NoError(t, m.SetSelectedProject(context.Background(), scope.SelectProject(projectA)))

	directory.projects = []scope.Project{{ID: projectB, Code: "WEST", Name: "West Branch"}}
	require.NoError(t, m.Activate(context.Background(), memberProfile()))

	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectB, id, "a revoked selection falls back to auto-select")
}

type stubVerifier struct {
	profile *session.Profile
}

func (v *stubVerifier) Login(context.Context, session.LoginInput) (*session.LoginOutcome, error) {
	return &session.LoginOutcome{Profile: v.profile}, nil
}

func (v *stubVerifier) VerifyMfa(context.Context, session.VerifyMfaInput) (*session.Profile, error) {
	return v.profile, nil
}

func (v *stubVerifier) Refresh(context.Context) (*session.Profile, error) {
	return v.profile, nil
}

func (v *stubVerifier) Logout(context.Context) error { return nil }

// Exercises the session-to-scope wiring end to end: a periodic keep-alive
// refresh must leave an explicitly selected project untouched.
func TestKeepAliveRefreshKeepsSelection(t *testing.T) {
	ctx := context.Background()
	sessions := sessionapp.NewManager(
		&stubVerifier{profile: adminProfile()},
		storage.NewMemoryStore(),
		sessionapp.ManagerConfig{},
		nil,
	)
	m := NewManager(&fakeDirectory{projects: twoProjects()}, storage.NewMemoryStore(), nil)

	sessions.OnStatusChange(func(s session.Session) {
		switch s.Status {
		case session.StatusAuthenticated:
			require.NoError(t, m.Activate(ctx, s.Profile))
		case session.StatusUnauthenticated, session.StatusExpired:
			m.Deactivate()
		}
	})

	_, err := sessions.Login(ctx, session.LoginInput{Identifier: "owner", Secret: "s"})
	require.NoError(t, err)
	require.NoError(t, m.SetSelectedProject(ctx, scope.SelectProject(projectA)))

	require.NoError(t, sessions.Refresh(ctx))

	id, ok := m.Selection().ProjectID()
	require.True(t, ok)
	assert.Equal(t, projectA, id)
}
