package apiclient

import (
	"context"
	"net/url"

	"github.com/erp/console/internal/domain/readmodel"
	"github.com/erp/console/internal/domain/scope"
)

// Dashboard read-model endpoints. Each call carries the active query context
// as parameters: the tenant always, the project only when one is selected.

func scopeQuery(qc scope.QueryContext) string {
	q := url.Values{}
	q.Set("tenant_id", qc.TenantID.String())
	if qc.ProjectID != nil {
		q.Set("project_id", qc.ProjectID.String())
	}
	return q.Encode()
}

// SalesSummary fetches the sales aggregate for the dashboard header
func (c *Client) SalesSummary(ctx context.Context, qc scope.QueryContext) (readmodel.SalesSummary, error) {
	var out readmodel.SalesSummary
	err := c.do(ctx, "GET", "/api/v1/dashboard/sales-summary?"+scopeQuery(qc), nil, &out)
	return out, err
}

// WastageSummary fetches the wastage aggregate for the selected scope
func (c *Client) WastageSummary(ctx context.Context, qc scope.QueryContext) (readmodel.WastageSummary, error) {
	var out readmodel.WastageSummary
	err := c.do(ctx, "GET", "/api/v1/dashboard/wastage-summary?"+scopeQuery(qc), nil, &out)
	return out, err
}

// PettyCashBalances fetches the petty cash positions visible in the scope
func (c *Client) PettyCashBalances(ctx context.Context, qc scope.QueryContext) ([]readmodel.PettyCashBalance, error) {
	var out []readmodel.PettyCashBalance
	err := c.do(ctx, "GET", "/api/v1/dashboard/petty-cash?"+scopeQuery(qc), nil, &out)
	return out, err
}

// Branches fetches the branch list for dashboard pickers
func (c *Client) Branches(ctx context.Context, qc scope.QueryContext) ([]readmodel.Branch, error) {
	var out []readmodel.Branch
	err := c.do(ctx, "GET", "/api/v1/dashboard/branches?"+scopeQuery(qc), nil, &out)
	return out, err
}

// RecentOrders fetches the latest orders for the dashboard table
func (c *Client) RecentOrders(ctx context.Context, qc scope.QueryContext) ([]readmodel.RecentOrder, error) {
	var out []readmodel.RecentOrder
	err := c.do(ctx, "GET", "/api/v1/dashboard/recent-orders?"+scopeQuery(qc), nil, &out)
	return out, err
}

// StockWarnings fetches products below their minimum stock threshold
func (c *Client) StockWarnings(ctx context.Context, qc scope.QueryContext) ([]readmodel.StockWarning, error) {
	var out []readmodel.StockWarning
	err := c.do(ctx, "GET", "/api/v1/dashboard/stock-warnings?"+scopeQuery(qc), nil, &out)
	return out, err
}
