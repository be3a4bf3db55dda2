package intake

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/packfresh/intakego/internal/models"
	"github.com/packfresh/intakego/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FinalizeResult summarizes what a finalize committed.
type FinalizeResult struct {
	SessionID       string   `json:"session_id"`
	SealedProcessed int      `json:"sealed_processed"`
	RawCardsCreated int      `json:"raw_cards_created"`
	Barcodes        []string `json:"barcodes"`
}

// FinalizeSession converts a fully-mapped session into permanent ledger and
// inventory state. Ledger merges, history snapshots, card creation and the
// status flip all commit in one transaction; any failure leaves the session
// in_progress with no partial writes. Serialization conflicts against
// concurrent finalizes are retried whole.
func (s *Service) FinalizeSession(ctx context.Context, sessionID, actorID string) (*FinalizeResult, error) {
	var result FinalizeResult

	err := s.withRetry("finalize session", func(tx *gorm.DB) error {
		result = FinalizeResult{SessionID: sessionID}

		session, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}

		var items []models.IntakeItem
		if err := tx.Where("session_id = ?", sessionID).Find(&items).Error; err != nil {
			return &StorageFailure{Op: "load items", Err: err}
		}
		if len(items) == 0 {
			return &ValidationError{Field: "items", Msg: "session has no items"}
		}

		var active []models.IntakeItem
		for _, it := range items {
			if it.Active() {
				active = append(active, it)
			}
		}
		if len(active) == 0 {
			return &ValidationError{Field: "items", Msg: "no active items (all missing or rejected)"}
		}

		var unresolved UnresolvedItemsError
		for _, it := range active {
			if !it.IsMapped {
				unresolved.ItemIDs = append(unresolved.ItemIDs, it.ID)
				if len(unresolved.Names) < 5 {
					unresolved.Names = append(unresolved.Names, it.ProductName)
				}
			}
		}
		if len(unresolved.ItemIDs) > 0 {
			return &unresolved
		}

		for _, it := range active {
			switch it.ProductType {
			case models.ProductSealed:
				if err := s.mergeSealedCogs(tx, &it, sessionID); err != nil {
					return err
				}
				result.SealedProcessed++
			case models.ProductRaw:
				barcodes, err := s.createRawCards(tx, &it, sessionID, actorID)
				if err != nil {
					return err
				}
				result.RawCardsCreated += len(barcodes)
				result.Barcodes = append(result.Barcodes, barcodes...)
			}
		}

		now := time.Now().UTC()
		session.Status = models.SessionFinalized
		session.FinalizedAt = &now
		if err := tx.Save(session).Error; err != nil {
			return &StorageFailure{Op: "mark session finalized", Err: err}
		}
		return recalcSessionTotals(tx, sessionID)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"sealed":     result.SealedProcessed,
		"raw_cards":  result.RawCardsCreated,
	}).Info("intake session finalized")
	return &result, nil
}

// mergeSealedCogs folds one sealed line into the cost ledger for its TCGplayer
// ID under a row lock:
//
//	newAvg = (oldQty*oldAvg + qty*unitCost) / (oldQty + qty)
//
// A missing ledger row starts at zero, so the formula degenerates to the
// item's own cost. The before/after snapshot is appended to cogs_history in
// the same transaction, before the row mutates.
func (s *Service) mergeSealedCogs(tx *gorm.DB, item *models.IntakeItem, sessionID string) error {
	costAdded := item.UnitCostBasis.Mul(decimal.NewFromInt(int64(item.Quantity)))

	var entry models.SealedCogs
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tcgplayer_id = ?", *item.TCGPlayerID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		entry = models.SealedCogs{
			TCGPlayerID: *item.TCGPlayerID,
			ProductName: item.ProductName,
			TotalCost:   decimal.Zero,
			AvgCogs:     decimal.Zero,
		}
		if err := tx.Create(&entry).Error; err != nil {
			if isUniqueViolation(err) {
				// A concurrent finalize created the row between our read and
				// insert. The transaction is already aborted, so retry it
				// whole; the next attempt finds and locks the row.
				return &retryableConflict{err: err}
			}
			return &StorageFailure{Op: "create ledger entry", Err: err}
		}
		// Re-take the lock on the freshly inserted row.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tcgplayer_id = ?", *item.TCGPlayerID).
			First(&entry).Error; err != nil {
			return &StorageFailure{Op: "lock ledger entry", Err: err}
		}
	} else if err != nil {
		return &StorageFailure{Op: "lock ledger entry", Err: err}
	}

	oldQty := entry.CurrentQuantity
	oldAvg := entry.AvgCogs
	newQty := oldQty + item.Quantity
	newTotal := entry.TotalCost.Add(costAdded)
	newAvg := decimal.Zero
	if newQty > 0 {
		newAvg = newTotal.Div(decimal.NewFromInt(int64(newQty))).Round(4)
	}

	history := models.CogsHistory{
		SealedCogsID:    entry.ID,
		OldQuantity:     oldQty,
		NewQuantity:     newQty,
		OldAvgCogs:      oldAvg,
		NewAvgCogs:      newAvg,
		QuantityDelta:   item.Quantity,
		CostAdded:       costAdded,
		IntakeSessionID: sessionID,
	}
	if err := tx.Create(&history).Error; err != nil {
		return &StorageFailure{Op: "append cogs history", Err: err}
	}

	entry.CurrentQuantity = newQty
	entry.TotalCost = newTotal
	entry.AvgCogs = newAvg
	entry.LastIntakeSessionID = sessionID
	if err := tx.Save(&entry).Error; err != nil {
		return &StorageFailure{Op: "update ledger entry", Err: err}
	}
	return nil
}

// createRawCards expands one raw line into quantity individual cards, each
// with a freshly allocated barcode, state PURCHASED, and the line's per-unit
// cost basis. Each card gets its provenance audit row in the same transaction.
func (s *Service) createRawCards(tx *gorm.DB, item *models.IntakeItem, sessionID, actorID string) ([]string, error) {
	cards := make([]models.RawCard, 0, item.Quantity)
	barcodes := make([]string, 0, item.Quantity)
	for i := 0; i < item.Quantity; i++ {
		bc := utils.GenerateCardBarcode()
		barcodes = append(barcodes, bc)
		condition := item.Condition
		if condition == "" {
			condition = "NM"
		}
		cards = append(cards, models.RawCard{
			Barcode:         bc,
			TCGPlayerID:     *item.TCGPlayerID,
			CardName:        item.ProductName,
			SetName:         item.SetName,
			CardNumber:      item.CardNumber,
			Condition:       condition,
			Rarity:          item.Rarity,
			State:           models.CardPurchased,
			CostBasis:       item.UnitCostBasis,
			CurrentPrice:    item.MarketPrice,
			IntakeSessionID: sessionID,
		})
	}

	if err := tx.CreateInBatches(&cards, 200).Error; err != nil {
		if isUniqueViolation(err) {
			// Barcode space is ~1.3 billion combinations per day; a collision
			// here means the allocator invariant is broken, not bad luck.
			s.log.WithError(err).Error("FATAL: barcode collision during finalize")
		}
		return nil, &StorageFailure{Op: "insert raw cards", Err: err}
	}

	audits := make([]models.CardAuditLog, 0, len(cards))
	for _, c := range cards {
		cctx, err := models.MarshalContext(models.TransitionContext{
			Version: 1,
			Price:   &item.MarketPrice,
		})
		if err != nil {
			return nil, &StorageFailure{Op: "encode audit context", Err: err}
		}
		audits = append(audits, models.CardAuditLog{
			CardID:    c.ID,
			Action:    models.AuditStateTransition,
			FromState: "",
			ToState:   models.CardPurchased,
			ActorID:   actorID,
			Context:   cctx,
		})
	}
	if err := tx.CreateInBatches(&audits, 200).Error; err != nil {
		return nil, &StorageFailure{Op: "append audit records", Err: err}
	}

	return barcodes, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "SQLSTATE 23505") ||
		strings.Contains(err.Error(), "duplicate key value"))
}
