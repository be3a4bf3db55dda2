package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Audit actions. Box changes always ride a state transition, so their
// before/after box ids live in the transition context rather than a
// separate action.
const (
	AuditStateTransition = "state_transition"
	AuditPriceUpdate     = "price_update"
)

// CardAuditLog is the append-only trail for raw cards. Exactly one record is
// written per accepted state transition, in the same transaction as the card
// update. Rows are never updated or deleted.
type CardAuditLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CardID    uint           `gorm:"column:card_id;not null;index" json:"card_id"`
	Action    string         `gorm:"column:action;type:varchar(30);not null" json:"action"`
	FromState string         `gorm:"column:from_state;type:varchar(20)" json:"from_state"`
	ToState   string         `gorm:"column:to_state;type:varchar(20)" json:"to_state"`
	ActorID   string         `gorm:"column:actor_id" json:"actor_id,omitempty"`
	Context   datatypes.JSON `gorm:"column:context;type:jsonb" json:"context,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
}

// TableName specifies the table name for CardAuditLog
func (CardAuditLog) TableName() string {
	return "card_audit_log"
}

// TransitionContext is the versioned audit payload for a state transition.
type TransitionContext struct {
	Version       int              `json:"v"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	SalePrice     *decimal.Decimal `json:"sale_price,omitempty"`
	RemovalReason string           `json:"removal_reason,omitempty"`
	FromBoxID     *uint            `json:"from_box_id,omitempty"`
	ToBoxID       *uint            `json:"to_box_id,omitempty"`
	Note          string           `json:"note,omitempty"`
}

// PriceUpdateContext is the versioned audit payload for a price change.
type PriceUpdateContext struct {
	Version  int             `json:"v"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
	Source   string          `json:"source,omitempty"`
}

// MarshalContext encodes an audit context struct into the JSONB column value.
func MarshalContext(ctx interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(ctx)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
