package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session status values
const (
	SessionInProgress = "in_progress"
	SessionFinalized  = "finalized"
	SessionCancelled  = "cancelled"
)

// Session types
const (
	SessionTypeSealed = "sealed"
	SessionTypeRaw    = "raw"
	SessionTypeMixed  = "mixed"
)

// Product types for intake items and mappings
const (
	ProductSealed = "sealed"
	ProductRaw    = "raw"
)

// Item status values (within an in-progress session)
const (
	ItemGood     = "good"
	ItemDamaged  = "damaged"
	ItemMissing  = "missing"
	ItemRejected = "rejected"
)

// IntakeSession is a batch of staged items awaiting review, pricing, and finalize.
// Once finalized or cancelled the session and its items are immutable history.
type IntakeSession struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	CustomerName     string          `gorm:"column:customer_name;not null" json:"customer_name"`
	SessionType      string          `gorm:"column:session_type;type:varchar(20);not null" json:"session_type"`
	Status           string          `gorm:"column:status;type:varchar(20);not null;default:'in_progress';index" json:"status"`
	TotalMarketValue decimal.Decimal `gorm:"column:total_market_value;type:decimal(12,4);default:0" json:"total_market_value"`
	OfferPercentage  decimal.Decimal `gorm:"column:offer_percentage;type:decimal(6,2);not null" json:"offer_percentage"`
	TotalOfferAmount decimal.Decimal `gorm:"column:total_offer_amount;type:decimal(12,4);default:0" json:"total_offer_amount"`
	SourceFileName   string          `gorm:"column:source_file_name" json:"source_file_name,omitempty"`
	SourceFileHash   *string         `gorm:"column:source_file_hash;size:64;uniqueIndex:idx_sessions_live_source_hash,where:status <> 'cancelled'" json:"source_file_hash,omitempty"`
	EmployeeID       string          `gorm:"column:employee_id" json:"employee_id,omitempty"`
	Notes            string          `gorm:"column:notes;type:text" json:"notes,omitempty"`
	CancelReason     string          `gorm:"column:cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt        time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at" json:"updated_at"`
	FinalizedAt      *time.Time      `gorm:"column:finalized_at" json:"finalized_at,omitempty"`
	CancelledAt      *time.Time      `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`

	// Relations
	Items []IntakeItem `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// TableName specifies the table name for IntakeSession
func (IntakeSession) TableName() string {
	return "intake_sessions"
}

// IntakeItem is one staged line in a session. Owned exclusively by its session;
// cascade-deleted with it. IsMapped holds iff TCGPlayerID is set.
type IntakeItem struct {
	ID                string          `gorm:"primaryKey;size:36" json:"id"`
	SessionID         string          `gorm:"column:session_id;size:36;not null;index" json:"session_id"`
	ProductName       string          `gorm:"column:product_name;not null" json:"product_name"`
	TCGPlayerID       *int64          `gorm:"column:tcgplayer_id" json:"tcgplayer_id,omitempty"`
	ProductType       string          `gorm:"column:product_type;type:varchar(20);not null" json:"product_type"`
	SetName           string          `gorm:"column:set_name" json:"set_name,omitempty"`
	CardNumber        string          `gorm:"column:card_number" json:"card_number,omitempty"`
	Condition         string          `gorm:"column:condition" json:"condition,omitempty"`
	Rarity            string          `gorm:"column:rarity" json:"rarity,omitempty"`
	Quantity          int             `gorm:"column:quantity;not null" json:"quantity"`
	MarketPrice       decimal.Decimal `gorm:"column:market_price;type:decimal(12,4);default:0" json:"market_price"`
	OfferPrice        decimal.Decimal `gorm:"column:offer_price;type:decimal(12,4);default:0" json:"offer_price"`
	UnitCostBasis     decimal.Decimal `gorm:"column:unit_cost_basis;type:decimal(12,4);default:0" json:"unit_cost_basis"`
	IsMapped          bool            `gorm:"column:is_mapped;default:false" json:"is_mapped"`
	NeedsReview       bool            `gorm:"column:needs_review;default:false" json:"needs_review"`
	ItemStatus        string          `gorm:"column:item_status;type:varchar(20);default:'good'" json:"item_status"`
	ListingCondition  string          `gorm:"column:listing_condition" json:"listing_condition,omitempty"`
	PriceOverrideNote string          `gorm:"column:price_override_note" json:"price_override_note,omitempty"`
	ParentItemID      *string         `gorm:"column:parent_item_id;size:36;index" json:"parent_item_id,omitempty"`
	CreatedAt         time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for IntakeItem
func (IntakeItem) TableName() string {
	return "intake_items"
}

// Active reports whether the item counts toward totals and finalization.
// Missing and rejected items are excluded from both.
func (i *IntakeItem) Active() bool {
	return i.ItemStatus == ItemGood || i.ItemStatus == ItemDamaged
}
