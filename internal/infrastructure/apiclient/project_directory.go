package apiclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/erp/console/internal/domain/scope"
)

type projectPayload struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

var _ scope.ProjectDirectory = (*Client)(nil)

// ListAccessible returns the projects the authenticated user may query,
// in the backend's stable order. The backend derives the list from the
// caller's token; tenant and role travel as query parameters for auditing.
func (c *Client) ListAccessible(ctx context.Context, tenantID uuid.UUID, role string) ([]scope.Project, error) {
	q := url.Values{}
	q.Set("tenant_id", tenantID.String())
	if role != "" {
		q.Set("role", role)
	}

	var payload []projectPayload
	if err := c.do(ctx, "GET", "/api/v1/projects/accessible?"+q.Encode(), nil, &payload); err != nil {
		return nil, mapAuthError(err)
	}

	projects := make([]scope.Project, 0, len(payload))
	for _, p := range payload {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid project id %q in accessible list: %w", p.ID, err)
		}
		projects = append(projects, scope.Project{ID: id, Code: p.Code, Name: p.Name})
	}
	return projects, nil
}
