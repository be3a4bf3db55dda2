package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SealedCogs is the weighted-average cost ledger for a sealed SKU, keyed by
// TCGplayer ID. AvgCogs is always recomputed from TotalCost/CurrentQuantity;
// the two are co-updated inside the finalize transaction, never independently.
type SealedCogs struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	TCGPlayerID         int64           `gorm:"column:tcgplayer_id;uniqueIndex;not null" json:"tcgplayer_id"`
	ProductName         string          `gorm:"column:product_name" json:"product_name"`
	CurrentQuantity     int             `gorm:"column:current_quantity;default:0" json:"current_quantity"`
	TotalCost           decimal.Decimal `gorm:"column:total_cost;type:decimal(12,4);default:0" json:"total_cost"`
	AvgCogs             decimal.Decimal `gorm:"column:avg_cogs;type:decimal(12,4);default:0" json:"avg_cogs"`
	LastIntakeSessionID string          `gorm:"column:last_intake_session_id;size:36" json:"last_intake_session_id,omitempty"`
	CreatedAt           time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for SealedCogs
func (SealedCogs) TableName() string {
	return "sealed_cogs"
}

// CogsHistory is an append-only snapshot of every ledger merge: old and new
// quantity/average plus the delta that caused it. Written in the same
// transaction as the SealedCogs update, before the row mutates.
type CogsHistory struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	SealedCogsID    uint            `gorm:"column:sealed_cogs_id;not null;index" json:"sealed_cogs_id"`
	OldQuantity     int             `gorm:"column:old_quantity" json:"old_quantity"`
	NewQuantity     int             `gorm:"column:new_quantity" json:"new_quantity"`
	OldAvgCogs      decimal.Decimal `gorm:"column:old_avg_cogs;type:decimal(12,4)" json:"old_avg_cogs"`
	NewAvgCogs      decimal.Decimal `gorm:"column:new_avg_cogs;type:decimal(12,4)" json:"new_avg_cogs"`
	QuantityDelta   int             `gorm:"column:quantity_delta" json:"quantity_delta"`
	CostAdded       decimal.Decimal `gorm:"column:cost_added;type:decimal(12,4)" json:"cost_added"`
	IntakeSessionID string          `gorm:"column:intake_session_id;size:36;index" json:"intake_session_id"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"created_at"`
}

// TableName specifies the table name for CogsHistory
func (CogsHistory) TableName() string {
	return "cogs_history"
}
