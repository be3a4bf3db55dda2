package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/packfresh/intakego/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cardTransitions is the full transition table. Anything not listed fails
// with IllegalTransitionError.
var cardTransitions = map[string][]string{
	models.CardPurchased:   {models.CardStored},
	models.CardStored:      {models.CardPulled, models.CardRemoved},
	models.CardPulled:      {models.CardPendingSale, models.CardStored, models.CardRemoved},
	models.CardPendingSale: {models.CardRemoved},
	models.CardRemoved:     {},
}

func transitionAllowed(from, to string) bool {
	for _, t := range cardTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// TransitionInput describes a requested card state change. BoxID is required
// when moving to STORED; RemovalReason when moving to REMOVED; SalePrice when
// the removal reason is SOLD.
type TransitionInput struct {
	Barcode       string
	ToState       string
	BoxID         *uint
	RemovalReason string
	SalePrice     *decimal.Decimal
	ActorID       string
	Note          string
}

// TransitionCard moves a raw card through its lifecycle. The card row, any
// box counter change, and the audit append commit in a single transaction; a
// rejected transition writes nothing.
func (s *Service) TransitionCard(ctx context.Context, in TransitionInput) (*models.RawCard, error) {
	if in.Barcode == "" {
		return nil, &ValidationError{Field: "barcode", Msg: "required"}
	}

	var card models.RawCard
	err := s.withRetry("transition card", func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&card, "barcode = ?", in.Barcode).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Kind: "card", ID: in.Barcode}
		}
		if err != nil {
			return &StorageFailure{Op: "lock card", Err: err}
		}

		if !transitionAllowed(card.State, in.ToState) {
			return &IllegalTransitionError{From: card.State, To: in.ToState}
		}
		if err := validateTransitionInput(card.State, &in); err != nil {
			return err
		}

		octx := models.TransitionContext{Version: 1, Note: in.Note}
		fromState := card.State

		// Box bookkeeping: a card references a box only while STORED. Counts
		// move in the same transaction as the state write.
		if card.StorageBoxID != nil {
			octx.FromBoxID = card.StorageBoxID
			if err := adjustBoxCount(tx, *card.StorageBoxID, -1); err != nil {
				return err
			}
			card.StorageBoxID = nil
		}

		switch in.ToState {
		case models.CardStored:
			box, err := lockBox(tx, *in.BoxID)
			if err != nil {
				return err
			}
			if box.CurrentCount >= box.Capacity {
				return &ValidationError{Field: "box_id",
					Msg: fmt.Sprintf("box %d is full (%d/%d)", box.BoxNumber, box.CurrentCount, box.Capacity)}
			}
			if err := adjustBoxCount(tx, box.ID, 1); err != nil {
				return err
			}
			card.StorageBoxID = in.BoxID
			octx.ToBoxID = in.BoxID

		case models.CardRemoved:
			reason := in.RemovalReason
			card.RemovalReason = &reason
			card.SalePrice = in.SalePrice
			octx.RemovalReason = reason
			octx.SalePrice = in.SalePrice
		}

		card.State = in.ToState
		if err := tx.Save(&card).Error; err != nil {
			return &StorageFailure{Op: "update card", Err: err}
		}

		cctx, err := models.MarshalContext(octx)
		if err != nil {
			return &StorageFailure{Op: "encode audit context", Err: err}
		}
		audit := models.CardAuditLog{
			CardID:    card.ID,
			Action:    models.AuditStateTransition,
			FromState: fromState,
			ToState:   in.ToState,
			ActorID:   in.ActorID,
			Context:   cctx,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return &StorageFailure{Op: "append audit record", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"barcode": card.Barcode,
		"to":      card.State,
	}).Info("card transitioned")
	return &card, nil
}

// validateTransitionInput enforces the per-target requirements of the
// transition table.
func validateTransitionInput(from string, in *TransitionInput) error {
	switch in.ToState {
	case models.CardStored:
		if in.BoxID == nil {
			return &ValidationError{Field: "box_id", Msg: "required when storing a card"}
		}
	case models.CardRemoved:
		switch in.RemovalReason {
		case models.RemovalSold:
			if from != models.CardPendingSale {
				return &IllegalTransitionError{From: from, To: models.CardRemoved}
			}
			if in.SalePrice == nil {
				return &ValidationError{Field: "sale_price", Msg: "required when removal reason is SOLD"}
			}
		case models.RemovalCardTrader, models.RemovalGrading, models.RemovalDamaged:
			if from != models.CardStored && from != models.CardPulled {
				return &IllegalTransitionError{From: from, To: models.CardRemoved}
			}
		case "":
			return &ValidationError{Field: "removal_reason", Msg: "required when removing a card"}
		default:
			return &ValidationError{Field: "removal_reason",
				Msg: fmt.Sprintf("unknown reason %q", in.RemovalReason)}
		}
	}
	return nil
}

// UpdateCardPrice records a new market price for a card and appends a
// price_update audit record.
func (s *Service) UpdateCardPrice(ctx context.Context, barcode string, newPrice decimal.Decimal, source, actorID string) (*models.RawCard, error) {
	if newPrice.IsNegative() {
		return nil, &ValidationError{Field: "price", Msg: "must not be negative"}
	}

	var card models.RawCard
	err := s.withRetry("update card price", func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&card, "barcode = ?", barcode).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Kind: "card", ID: barcode}
		}
		if err != nil {
			return &StorageFailure{Op: "lock card", Err: err}
		}
		if card.CurrentPrice.Equal(newPrice) {
			return nil // no-op writes get no audit row
		}

		cctx, err := models.MarshalContext(models.PriceUpdateContext{
			Version:  1,
			OldPrice: card.CurrentPrice,
			NewPrice: newPrice,
			Source:   source,
		})
		if err != nil {
			return &StorageFailure{Op: "encode audit context", Err: err}
		}

		card.CurrentPrice = newPrice
		if err := tx.Save(&card).Error; err != nil {
			return &StorageFailure{Op: "update card price", Err: err}
		}
		audit := models.CardAuditLog{
			CardID:  card.ID,
			Action:  models.AuditPriceUpdate,
			ActorID: actorID,
			Context: cctx,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return &StorageFailure{Op: "append audit record", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// GetCardByBarcode returns a card with its box and full audit history.
func (s *Service) GetCardByBarcode(ctx context.Context, barcode string) (*models.RawCard, []models.CardAuditLog, error) {
	var card models.RawCard
	err := s.db.WithContext(ctx).Preload("StorageBox").
		First(&card, "barcode = ?", barcode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, &NotFoundError{Kind: "card", ID: barcode}
	}
	if err != nil {
		return nil, nil, &StorageFailure{Op: "get card", Err: err}
	}

	var history []models.CardAuditLog
	if err := s.db.WithContext(ctx).
		Where("card_id = ?", card.ID).Order("created_at ASC, id ASC").
		Find(&history).Error; err != nil {
		return nil, nil, &StorageFailure{Op: "load audit history", Err: err}
	}
	return &card, history, nil
}

func lockBox(tx *gorm.DB, boxID uint) (*models.StorageBox, error) {
	var box models.StorageBox
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&box, "id = ?", boxID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Kind: "box", ID: fmt.Sprint(boxID)}
	}
	if err != nil {
		return nil, &StorageFailure{Op: "lock box", Err: err}
	}
	return &box, nil
}

func adjustBoxCount(tx *gorm.DB, boxID uint, delta int) error {
	res := tx.Model(&models.StorageBox{}).Where("id = ?", boxID).
		UpdateColumn("current_count", gorm.Expr("current_count + ?", delta))
	if res.Error != nil {
		return &StorageFailure{Op: "adjust box count", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Kind: "box", ID: fmt.Sprint(boxID)}
	}
	return nil
}
