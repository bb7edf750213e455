// Package readmodel defines the dashboard payloads the console caches.
// These mirror the read models the backend's dashboard endpoints return;
// monetary amounts use decimal to avoid float drift in displayed totals.
package readmodel

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Logical cache names for the dashboard read models
const (
	LogicalSalesSummary  = "dashboard.sales_summary"
	LogicalWastage       = "dashboard.wastage_summary"
	LogicalPettyCash     = "dashboard.petty_cash"
	LogicalBranchList    = "dashboard.branches"
	LogicalRecentOrders  = "dashboard.recent_orders"
	LogicalStockWarnings = "dashboard.stock_warnings"
)

// SalesSummary aggregates sales activity for the dashboard header
type SalesSummary struct {
	Date         time.Time       `json:"date"`
	OrderCount   int             `json:"order_count"`
	GrossAmount  decimal.Decimal `json:"gross_amount"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

// WastageSummary aggregates recorded wastage for the selected project
type WastageSummary struct {
	Period    string          `json:"period"`
	ItemCount int             `json:"item_count"`
	CostTotal decimal.Decimal `json:"cost_total"`
}

// PettyCashBalance is the current petty cash position of a branch
type PettyCashBalance struct {
	BranchID  uuid.UUID       `json:"branch_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Branch is a branch/outlet entry shown in dashboard pickers
type Branch struct {
	ID       uuid.UUID `json:"id"`
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
}

// RecentOrder is one row of the recent-orders dashboard table
type RecentOrder struct {
	ID        uuid.UUID       `json:"id"`
	OrderNo   string          `json:"order_no"`
	Customer  string          `json:"customer"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// StockWarning flags a product below its minimum stock threshold
type StockWarning struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	OnHand      int64     `json:"on_hand"`
	Minimum     int64     `json:"minimum"`
}
