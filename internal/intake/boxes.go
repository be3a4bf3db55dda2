package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/packfresh/intakego/internal/models"
	"gorm.io/gorm"
)

// CreateBox registers a new storage box. Box numbers are allocated
// sequentially; the barcode is derived from the number so shelf labels can be
// printed immediately.
func (s *Service) CreateBox(ctx context.Context, capacity int, location string) (*models.StorageBox, error) {
	if capacity <= 0 {
		return nil, &ValidationError{Field: "capacity", Msg: "must be positive"}
	}

	var box models.StorageBox
	err := s.withRetry("create box", func(tx *gorm.DB) error {
		var maxNumber int
		// Concurrent creates can race for the same number; the unique index
		// on box_number catches the loser and the transaction retries.
		if err := tx.Model(&models.StorageBox{}).
			Select("COALESCE(MAX(box_number), 0)").
			Scan(&maxNumber).Error; err != nil {
			return &StorageFailure{Op: "allocate box number", Err: err}
		}

		box = models.StorageBox{
			BoxNumber: maxNumber + 1,
			Barcode:   fmt.Sprintf("BOX-%06d", maxNumber+1),
			Capacity:  capacity,
			Location:  location,
			IsActive:  true,
		}
		if err := tx.Create(&box).Error; err != nil {
			if isUniqueViolation(err) {
				return &retryableConflict{err: err}
			}
			return &StorageFailure{Op: "create box", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &box, nil
}

// ListBoxes returns all active boxes, lowest number first.
func (s *Service) ListBoxes(ctx context.Context) ([]models.StorageBox, error) {
	var boxes []models.StorageBox
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).Order("box_number ASC").
		Find(&boxes).Error; err != nil {
		return nil, &StorageFailure{Op: "list boxes", Err: err}
	}
	return boxes, nil
}

// GetBoxByBarcode returns a box with the cards currently stored in it.
func (s *Service) GetBoxByBarcode(ctx context.Context, barcode string) (*models.StorageBox, error) {
	var box models.StorageBox
	err := s.db.WithContext(ctx).
		Preload("Cards", "state = ?", models.CardStored).
		First(&box, "barcode = ?", barcode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Kind: "box", ID: barcode}
	}
	if err != nil {
		return nil, &StorageFailure{Op: "get box", Err: err}
	}
	return &box, nil
}
