package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Raw card lifecycle states
const (
	CardPurchased   = "PURCHASED"
	CardStored      = "STORED"
	CardPulled      = "PULLED"
	CardPendingSale = "PENDING_SALE"
	CardRemoved     = "REMOVED"
)

// Removal reasons
const (
	RemovalSold       = "SOLD"
	RemovalCardTrader = "CARDTRADER"
	RemovalGrading    = "GRADING"
	RemovalDamaged    = "DAMAGED"
)

// RawCard is a single physical card tracked with its own cost basis and
// lifecycle. Created at session finalize (one row per physical unit) and moved
// through PURCHASED → STORED → PULLED → PENDING_SALE → REMOVED by staff scans.
type RawCard struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	Barcode         string           `gorm:"uniqueIndex;not null" json:"barcode"`
	TCGPlayerID     int64            `gorm:"column:tcgplayer_id;not null;index" json:"tcgplayer_id"`
	CardName        string           `gorm:"column:card_name;not null" json:"card_name"`
	SetName         string           `gorm:"column:set_name" json:"set_name,omitempty"`
	CardNumber      string           `gorm:"column:card_number" json:"card_number,omitempty"`
	Condition       string           `gorm:"column:condition;default:'NM'" json:"condition"`
	Rarity          string           `gorm:"column:rarity" json:"rarity,omitempty"`
	State           string           `gorm:"column:state;type:varchar(20);not null;default:'PURCHASED';index" json:"state"`
	CostBasis       decimal.Decimal  `gorm:"column:cost_basis;type:decimal(12,4);default:0" json:"cost_basis"`
	CurrentPrice    decimal.Decimal  `gorm:"column:current_price;type:decimal(12,4);default:0" json:"current_price"`
	StorageBoxID    *uint            `gorm:"column:storage_box_id;index" json:"storage_box_id,omitempty"`
	RemovalReason   *string          `gorm:"column:removal_reason;type:varchar(20)" json:"removal_reason,omitempty"`
	SalePrice       *decimal.Decimal `gorm:"column:sale_price;type:decimal(12,4)" json:"sale_price,omitempty"`
	IntakeSessionID string           `gorm:"column:intake_session_id;size:36;index" json:"intake_session_id"`
	CreatedAt       time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at" json:"updated_at"`

	// Relations
	StorageBox *StorageBox `gorm:"foreignKey:StorageBoxID" json:"storage_box,omitempty"`
}

// TableName specifies the table name for RawCard
func (RawCard) TableName() string {
	return "raw_cards"
}
