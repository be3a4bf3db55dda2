package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/packfresh/intakego/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SplitDamaged divides a line item into good and damaged portions. The damaged
// portion is offered at 85% of the normal per-unit offer. When the whole
// quantity is damaged the item just flips in place; otherwise a child line is
// created carrying parent_item_id.
func (s *Service) SplitDamaged(ctx context.Context, itemID string, damagedQty int) (*models.IntakeItem, error) {
	var item models.IntakeItem
	err := s.withRetry("split damaged", func(tx *gorm.DB) error {
		session, err := s.lockSessionForItem(tx, itemID, &item)
		if err != nil {
			return err
		}
		if damagedQty < 1 || damagedQty > item.Quantity {
			return &ValidationError{Field: "damaged_qty",
				Msg: fmt.Sprintf("must be between 1 and %d", item.Quantity)}
		}

		if damagedQty == item.Quantity {
			item.ItemStatus = models.ItemDamaged
			item.ListingCondition = "Damaged"
			item.OfferPrice, item.UnitCostBasis = lineOffer(
				item.MarketPrice, item.Quantity, session.OfferPercentage, true)
			if err := tx.Save(&item).Error; err != nil {
				return &StorageFailure{Op: "flip item damaged", Err: err}
			}
			return recalcSessionTotals(tx, session.ID)
		}

		goodQty := item.Quantity - damagedQty
		item.Quantity = goodQty
		item.OfferPrice, item.UnitCostBasis = lineOffer(
			item.MarketPrice, goodQty, session.OfferPercentage, false)
		if err := tx.Save(&item).Error; err != nil {
			return &StorageFailure{Op: "shrink item", Err: err}
		}

		parentID := item.ID
		child := models.IntakeItem{
			ID:               uuid.NewString(),
			SessionID:        session.ID,
			ProductName:      item.ProductName,
			TCGPlayerID:      item.TCGPlayerID,
			ProductType:      item.ProductType,
			SetName:          item.SetName,
			CardNumber:       item.CardNumber,
			Condition:        item.Condition,
			Rarity:           item.Rarity,
			Quantity:         damagedQty,
			MarketPrice:      item.MarketPrice,
			IsMapped:         item.IsMapped,
			ItemStatus:       models.ItemDamaged,
			ListingCondition: "Damaged",
			ParentItemID:     &parentID,
		}
		child.OfferPrice, child.UnitCostBasis = lineOffer(
			child.MarketPrice, damagedQty, session.OfferPercentage, true)
		if err := tx.Create(&child).Error; err != nil {
			return &StorageFailure{Op: "create damaged split", Err: err}
		}
		return recalcSessionTotals(tx, session.ID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// MarkItemMissing excludes an item from totals and payment.
func (s *Service) MarkItemMissing(ctx context.Context, itemID string) (*models.IntakeItem, error) {
	return s.setItemStatus(ctx, itemID, models.ItemMissing)
}

// MarkItemRejected excludes an item the seller kept.
func (s *Service) MarkItemRejected(ctx context.Context, itemID string) (*models.IntakeItem, error) {
	return s.setItemStatus(ctx, itemID, models.ItemRejected)
}

func (s *Service) setItemStatus(ctx context.Context, itemID, status string) (*models.IntakeItem, error) {
	var item models.IntakeItem
	err := s.withRetry("set item status", func(tx *gorm.DB) error {
		session, err := s.lockSessionForItem(tx, itemID, &item)
		if err != nil {
			return err
		}
		item.ItemStatus = status
		if err := tx.Save(&item).Error; err != nil {
			return &StorageFailure{Op: "set item status", Err: err}
		}
		return recalcSessionTotals(tx, session.ID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RestoreItem brings a missing, rejected, or damaged item back to good and
// recomputes its offer at the normal rate.
func (s *Service) RestoreItem(ctx context.Context, itemID string) (*models.IntakeItem, error) {
	var item models.IntakeItem
	err := s.withRetry("restore item", func(tx *gorm.DB) error {
		session, err := s.lockSessionForItem(tx, itemID, &item)
		if err != nil {
			return err
		}
		item.ItemStatus = models.ItemGood
		item.ListingCondition = "NM"
		item.OfferPrice, item.UnitCostBasis = lineOffer(
			item.MarketPrice, item.Quantity, session.OfferPercentage, false)
		if err := tx.Save(&item).Error; err != nil {
			return &StorageFailure{Op: "restore item", Err: err}
		}
		return recalcSessionTotals(tx, session.ID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItemPrice sets a new market price (typically from a pricing lookup)
// and recomputes the offer.
func (s *Service) UpdateItemPrice(ctx context.Context, itemID string, newPrice decimal.Decimal) (*models.IntakeItem, error) {
	return s.repriceItem(ctx, itemID, newPrice, "")
}

// OverrideItemPrice sets a manual market price with a reason note.
func (s *Service) OverrideItemPrice(ctx context.Context, itemID string, newPrice decimal.Decimal, note string) (*models.IntakeItem, error) {
	if note == "" {
		return nil, &ValidationError{Field: "note", Msg: "required for a price override"}
	}
	return s.repriceItem(ctx, itemID, newPrice, note)
}

func (s *Service) repriceItem(ctx context.Context, itemID string, newPrice decimal.Decimal, note string) (*models.IntakeItem, error) {
	if newPrice.IsNegative() {
		return nil, &ValidationError{Field: "market_price", Msg: "must not be negative"}
	}
	var item models.IntakeItem
	err := s.withRetry("reprice item", func(tx *gorm.DB) error {
		session, err := s.lockSessionForItem(tx, itemID, &item)
		if err != nil {
			return err
		}
		item.MarketPrice = newPrice
		if note != "" {
			item.PriceOverrideNote = note
		}
		item.OfferPrice, item.UnitCostBasis = lineOffer(
			newPrice, item.Quantity, session.OfferPercentage,
			item.ItemStatus == models.ItemDamaged)
		if err := tx.Save(&item).Error; err != nil {
			return &StorageFailure{Op: "reprice item", Err: err}
		}
		return recalcSessionTotals(tx, session.ID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem permanently removes an item (and any damage-split children) from
// an in-progress session.
func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	return s.withRetry("delete item", func(tx *gorm.DB) error {
		var item models.IntakeItem
		session, err := s.lockSessionForItem(tx, itemID, &item)
		if err != nil {
			return err
		}
		if err := tx.Where("parent_item_id = ?", itemID).Delete(&models.IntakeItem{}).Error; err != nil {
			return &StorageFailure{Op: "delete child items", Err: err}
		}
		if err := tx.Delete(&models.IntakeItem{}, "id = ?", itemID).Error; err != nil {
			return &StorageFailure{Op: "delete item", Err: err}
		}
		return recalcSessionTotals(tx, session.ID)
	})
}

// lockSessionForItem resolves an item's session, locks the session first, then
// the item, keeping the session-first lock order used everywhere.
func (s *Service) lockSessionForItem(tx *gorm.DB, itemID string, item *models.IntakeItem) (*models.IntakeSession, error) {
	if err := tx.First(item, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Kind: "item", ID: itemID}
		}
		return nil, &StorageFailure{Op: "load item", Err: err}
	}
	session, err := lockSession(tx, item.SessionID)
	if err != nil {
		return nil, err
	}
	if err := loadItem(tx, itemID, item); err != nil {
		return nil, err
	}
	return session, nil
}
