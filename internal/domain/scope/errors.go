package scope

import "github.com/erp/console/internal/domain/shared"

// Scope domain errors
var (
	// ErrNoAccessibleProjects is returned when a non-admin user has no projects at all
	ErrNoAccessibleProjects = shared.NewDomainError("NO_ACCESSIBLE_PROJECTS", "No accessible projects for this user")
	// ErrInvalidSelection is returned when a selection refers to an inaccessible project
	ErrInvalidSelection = shared.NewDomainError("INVALID_SELECTION", "Selected project is not accessible")
)
