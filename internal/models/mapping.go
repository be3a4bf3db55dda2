package models

import (
	"time"
)

// ProductMapping links a free-text vendor product name to a TCGplayer pricing ID.
// The cache learns over time: every manual link during intake is saved here so the
// same name auto-resolves on the next import.
type ProductMapping struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SourceName  string    `gorm:"column:source_name;not null;uniqueIndex:idx_mappings_name_type" json:"source_name"`
	ProductType string    `gorm:"column:product_type;type:varchar(20);not null;uniqueIndex:idx_mappings_name_type" json:"product_type"`
	TCGPlayerID int64     `gorm:"column:tcgplayer_id;not null;index" json:"tcgplayer_id"`
	SetName     string    `gorm:"column:set_name" json:"set_name,omitempty"`
	CardNumber  string    `gorm:"column:card_number" json:"card_number,omitempty"`
	UseCount    int       `gorm:"column:use_count;default:1" json:"use_count"`
	LastUsedAt  time.Time `gorm:"column:last_used_at" json:"last_used_at"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for ProductMapping
func (ProductMapping) TableName() string {
	return "product_mappings"
}
