package models

import "time"

// StorageBox is a physical card box on the shelf. CurrentCount is maintained
// in application code, in the same transaction as every card move that touches
// the box, so it always equals the number of non-removed cards assigned to it.
type StorageBox struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	BoxNumber    int       `gorm:"column:box_number;uniqueIndex;not null" json:"box_number"`
	Barcode      string    `gorm:"uniqueIndex;not null" json:"barcode"`
	Capacity     int       `gorm:"column:capacity;default:400" json:"capacity"`
	CurrentCount int       `gorm:"column:current_count;default:0" json:"current_count"`
	Location     string    `gorm:"column:location" json:"location,omitempty"`
	IsActive     bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`

	// Relations
	Cards []RawCard `gorm:"foreignKey:StorageBoxID" json:"cards,omitempty"`
}

// TableName specifies the table name for StorageBox
func (StorageBox) TableName() string {
	return "storage_boxes"
}
