// Package scope models the tenant/project lens the console queries through.
//
// Every dashboard query is scoped to the active (tenant, project) pair. Admin
// roles may view "all" projects; everyone else is restricted to the projects
// the backend reports as accessible, and a selection that falls out of that
// list is cleared rather than silently kept.
package scope

import (
	"context"

	"github.com/google/uuid"
)

// SelectionAll is the project-ID segment used when an admin views all projects
const SelectionAll = "all"

type selectionKind int

const (
	selectionNone selectionKind = iota
	selectionAll
	selectionProject
)

// Selection is the selected-project value: none, all, or a concrete project
type Selection struct {
	kind selectionKind
	id   uuid.UUID
}

// SelectNone returns the empty selection
func SelectNone() Selection { return Selection{} }

// SelectAll returns the admin "all projects" selection
func SelectAll() Selection { return Selection{kind: selectionAll} }

// SelectProject returns a selection of one concrete project
func SelectProject(id uuid.UUID) Selection {
	return Selection{kind: selectionProject, id: id}
}

// IsNone reports whether no project is selected
func (s Selection) IsNone() bool { return s.kind == selectionNone }

// IsAll reports whether the "all projects" lens is selected
func (s Selection) IsAll() bool { return s.kind == selectionAll }

// ProjectID returns the selected project ID if a concrete project is selected
func (s Selection) ProjectID() (uuid.UUID, bool) {
	return s.id, s.kind == selectionProject
}

// Segment returns the cache-key segment for this selection:
// "all" for the admin lens, the project UUID for a concrete project,
// and "none" when nothing is selected.
func (s Selection) Segment() string {
	switch s.kind {
	case selectionAll:
		return SelectionAll
	case selectionProject:
		return s.id.String()
	default:
		return "none"
	}
}

// Project is one entry of the accessible-project list
type Project struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

// QueryContext holds the filter parameters to attach to outbound data queries.
// A nil ProjectID means "no project filter": for admins that is the all-projects
// lens, for everyone else it is interpreted downstream as "caller's own
// accessible records only".
type QueryContext struct {
	TenantID  uuid.UUID
	ProjectID *uuid.UUID
}

// ProjectDirectory is the port to the backend's accessible-project listing.
// The returned order is stable and drives auto-selection.
type ProjectDirectory interface {
	ListAccessible(ctx context.Context, tenantID uuid.UUID, role string) ([]Project, error)
}

// PersistedSelection is the durable record of the last selected project.
// The tenant ID is stored alongside so a selection persisted under one tenant
// is never reinterpreted under another.
type PersistedSelection struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	ProjectID string    `json:"project_id"` // uuid string or SelectionAll
}
