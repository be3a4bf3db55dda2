package intake

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/packfresh/intakego/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StagedItem is the shape the import parser (or manual entry) hands to the
// core: one line of purchased product, possibly already carrying a TCGplayer
// ID from the upload.
type StagedItem struct {
	ProductName string
	ProductType string
	Quantity    int
	MarketPrice decimal.Decimal
	TCGPlayerID *int64
	SetName     string
	CardNumber  string
	Condition   string
	Rarity      string
	NeedsReview bool
}

// CreateSessionInput carries everything needed to open an intake session.
type CreateSessionInput struct {
	CustomerName    string
	SessionType     string
	OfferPercentage decimal.Decimal
	SourceFileName  string
	SourceFileHash  string
	EmployeeID      string
	Notes           string
}

// CreateSession opens a new in-progress session. When a source file hash is
// given and an existing non-cancelled session carries the same hash, creation
// fails with DuplicateImportError so re-uploads stay idempotent. The lookup is
// a fast path; the partial unique index on source_file_hash is what actually
// closes the gap between two concurrent uploads of the same file.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*models.IntakeSession, error) {
	if in.CustomerName == "" {
		return nil, &ValidationError{Field: "customer_name", Msg: "required"}
	}
	switch in.SessionType {
	case models.SessionTypeSealed, models.SessionTypeRaw, models.SessionTypeMixed:
	default:
		return nil, &ValidationError{Field: "session_type", Msg: "must be sealed, raw, or mixed"}
	}
	if in.OfferPercentage.LessThanOrEqual(decimal.Zero) || in.OfferPercentage.GreaterThan(hundred) {
		return nil, &ValidationError{Field: "offer_percentage", Msg: "must be in (0, 100]"}
	}

	session := models.IntakeSession{
		ID:              uuid.NewString(),
		CustomerName:    in.CustomerName,
		SessionType:     in.SessionType,
		Status:          models.SessionInProgress,
		OfferPercentage: in.OfferPercentage,
		SourceFileName:  in.SourceFileName,
		EmployeeID:      in.EmployeeID,
		Notes:           in.Notes,
	}
	if in.SourceFileHash != "" {
		session.SourceFileHash = &in.SourceFileHash
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.SourceFileHash != "" {
			var dup models.IntakeSession
			err := tx.Where("source_file_hash = ? AND status <> ?", in.SourceFileHash, models.SessionCancelled).
				First(&dup).Error
			if err == nil {
				return &DuplicateImportError{SessionID: dup.ID}
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return &StorageFailure{Op: "check duplicate import", Err: err}
			}
		}
		if err := tx.Create(&session).Error; err != nil {
			return &StorageFailure{Op: "create session", Err: err}
		}
		return nil
	})
	if err != nil {
		// A concurrent upload of the same file can slip past the lookup; the
		// unique index catches it and we report the session that won.
		if in.SourceFileHash != "" && isUniqueViolation(err) {
			var dup models.IntakeSession
			lookupErr := s.db.WithContext(ctx).
				Where("source_file_hash = ? AND status <> ?", in.SourceFileHash, models.SessionCancelled).
				First(&dup).Error
			if lookupErr == nil {
				return nil, &DuplicateImportError{SessionID: dup.ID}
			}
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"type":       session.SessionType,
		"customer":   session.CustomerName,
	}).Info("intake session created")
	return &session, nil
}

// GetSession returns a session with its items, unmapped first.
func (s *Service) GetSession(ctx context.Context, id string) (*models.IntakeSession, error) {
	var session models.IntakeSession
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("is_mapped ASC, product_name ASC")
		}).
		First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return nil, &StorageFailure{Op: "get session", Err: err}
	}
	return &session, nil
}

// ListSessions returns sessions filtered by status, newest first.
func (s *Service) ListSessions(ctx context.Context, status string, limit int) ([]models.IntakeSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var sessions []models.IntakeSession
	if err := q.Find(&sessions).Error; err != nil {
		return nil, &StorageFailure{Op: "list sessions", Err: err}
	}
	return sessions, nil
}

// AddItems stages a batch of parsed items into an in-progress session. Each
// item without a TCGplayer ID is first resolved against the mapping cache; a
// hit auto-maps it, a miss leaves it flagged for manual linking. Offer prices
// and session totals are computed in the same transaction.
func (s *Service) AddItems(ctx context.Context, sessionID string, staged []StagedItem) ([]models.IntakeItem, error) {
	if len(staged) == 0 {
		return nil, &ValidationError{Field: "items", Msg: "must not be empty"}
	}
	for _, it := range staged {
		if it.ProductName == "" {
			return nil, &ValidationError{Field: "product_name", Msg: "required"}
		}
		if it.ProductType != models.ProductSealed && it.ProductType != models.ProductRaw {
			return nil, &ValidationError{Field: "product_type", Msg: "must be sealed or raw"}
		}
		if it.Quantity < 1 {
			return nil, &ValidationError{Field: "quantity", Msg: "must be at least 1"}
		}
		if it.MarketPrice.IsNegative() {
			return nil, &ValidationError{Field: "market_price", Msg: "must not be negative"}
		}
	}

	var created []models.IntakeItem
	err := s.withRetry("add items", func(tx *gorm.DB) error {
		created = created[:0]

		session, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}

		for _, it := range staged {
			item := models.IntakeItem{
				ID:          uuid.NewString(),
				SessionID:   session.ID,
				ProductName: it.ProductName,
				ProductType: it.ProductType,
				SetName:     it.SetName,
				CardNumber:  it.CardNumber,
				Condition:   it.Condition,
				Rarity:      it.Rarity,
				Quantity:    it.Quantity,
				MarketPrice: it.MarketPrice,
				NeedsReview: it.NeedsReview,
				ItemStatus:  models.ItemGood,
				TCGPlayerID: it.TCGPlayerID,
			}

			// Cache lookup for items the parser could not identify.
			if item.TCGPlayerID == nil {
				var m models.ProductMapping
				err := tx.Where("source_name = ? AND product_type = ?",
					NormalizeName(it.ProductName), it.ProductType).First(&m).Error
				switch {
				case err == nil:
					id := m.TCGPlayerID
					item.TCGPlayerID = &id
					if err := tx.Model(&models.ProductMapping{}).Where("id = ?", m.ID).
						Updates(map[string]interface{}{
							"use_count":    gorm.Expr("use_count + 1"),
							"last_used_at": time.Now().UTC(),
						}).Error; err != nil {
						return &StorageFailure{Op: "bump mapping usage", Err: err}
					}
				case !errors.Is(err, gorm.ErrRecordNotFound):
					return &StorageFailure{Op: "resolve mapping", Err: err}
				}
			}
			item.IsMapped = item.TCGPlayerID != nil

			item.OfferPrice, item.UnitCostBasis = lineOffer(
				item.MarketPrice, item.Quantity, session.OfferPercentage, false)

			created = append(created, item)
		}

		if err := tx.CreateInBatches(&created, 200).Error; err != nil {
			return &StorageFailure{Op: "insert items", Err: err}
		}
		return recalcSessionTotals(tx, session.ID)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// MapItem links an intake item to a TCGplayer ID, optionally updating its
// market price from a fresh lookup, and caches the mapping for future imports.
// Offer price and session totals recompute in the same transaction.
func (s *Service) MapItem(ctx context.Context, itemID string, tcgplayerID int64, newMarketPrice *decimal.Decimal) (*models.IntakeItem, error) {
	if tcgplayerID <= 0 {
		return nil, &ValidationError{Field: "tcgplayer_id", Msg: "must be positive"}
	}
	if newMarketPrice != nil && newMarketPrice.IsNegative() {
		return nil, &ValidationError{Field: "market_price", Msg: "must not be negative"}
	}

	var item models.IntakeItem
	err := s.withRetry("map item", func(tx *gorm.DB) error {
		session, err := s.lockSessionForItem(tx, itemID, &item)
		if err != nil {
			return err
		}

		if newMarketPrice != nil {
			item.MarketPrice = *newMarketPrice
		}
		item.TCGPlayerID = &tcgplayerID
		item.IsMapped = true
		item.NeedsReview = false
		item.OfferPrice, item.UnitCostBasis = lineOffer(
			item.MarketPrice, item.Quantity, session.OfferPercentage,
			item.ItemStatus == models.ItemDamaged)

		if err := tx.Save(&item).Error; err != nil {
			return &StorageFailure{Op: "update item", Err: err}
		}

		// A successful manual link teaches the cache.
		var m models.ProductMapping
		if err := s.recordMappingTx(tx, &m, NormalizeName(item.ProductName),
			item.ProductType, tcgplayerID, item.SetName, item.CardNumber); err != nil {
			return err
		}

		return recalcSessionTotals(tx, session.ID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateOfferPercentage changes the session's offer percentage and recomputes
// every item's offer price plus the session totals.
func (s *Service) UpdateOfferPercentage(ctx context.Context, sessionID string, pct decimal.Decimal) (*models.IntakeSession, error) {
	if pct.LessThanOrEqual(decimal.Zero) || pct.GreaterThan(hundred) {
		return nil, &ValidationError{Field: "offer_percentage", Msg: "must be in (0, 100]"}
	}

	err := s.withRetry("update offer percentage", func(tx *gorm.DB) error {
		session, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		session.OfferPercentage = pct
		if err := tx.Save(session).Error; err != nil {
			return &StorageFailure{Op: "update session", Err: err}
		}

		var items []models.IntakeItem
		if err := tx.Where("session_id = ?", sessionID).Find(&items).Error; err != nil {
			return &StorageFailure{Op: "load items", Err: err}
		}
		for i := range items {
			items[i].OfferPrice, items[i].UnitCostBasis = lineOffer(
				items[i].MarketPrice, items[i].Quantity, pct,
				items[i].ItemStatus == models.ItemDamaged)
			if err := tx.Save(&items[i]).Error; err != nil {
				return &StorageFailure{Op: "update item offer", Err: err}
			}
		}
		return recalcSessionTotals(tx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

// CancelSession aborts an in-progress session. Nothing has been committed yet,
// so there is nothing to undo; the session just becomes terminal history.
func (s *Service) CancelSession(ctx context.Context, sessionID, reason string) (*models.IntakeSession, error) {
	err := s.withRetry("cancel session", func(tx *gorm.DB) error {
		session, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		session.Status = models.SessionCancelled
		session.CancelReason = reason
		session.CancelledAt = &now
		if err := tx.Save(session).Error; err != nil {
			return &StorageFailure{Op: "cancel session", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("session_id", sessionID).Info("intake session cancelled")
	return s.GetSession(ctx, sessionID)
}

// lockSession loads a session FOR UPDATE and rejects writes against terminal
// sessions.
func lockSession(tx *gorm.DB, sessionID string) (*models.IntakeSession, error) {
	var session models.IntakeSession
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Kind: "session", ID: sessionID}
	}
	if err != nil {
		return nil, &StorageFailure{Op: "lock session", Err: err}
	}
	if session.Status != models.SessionInProgress {
		return nil, &ImmutableSessionError{SessionID: sessionID, Status: session.Status}
	}
	return &session, nil
}

func loadItem(tx *gorm.DB, itemID string, out *models.IntakeItem) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(out, "id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Kind: "item", ID: itemID}
	}
	if err != nil {
		return &StorageFailure{Op: "load item", Err: err}
	}
	return nil
}

// recalcSessionTotals recomputes total_market_value and total_offer_amount
// from the active (good or damaged) items. Runs inside the caller's
// transaction so totals can never drift from the items.
func recalcSessionTotals(tx *gorm.DB, sessionID string) error {
	err := tx.Exec(`
		UPDATE intake_sessions SET
			total_market_value = (
				SELECT COALESCE(SUM(market_price * quantity), 0)
				FROM intake_items
				WHERE session_id = ? AND item_status IN ('good', 'damaged')
			),
			total_offer_amount = (
				SELECT COALESCE(SUM(offer_price), 0)
				FROM intake_items
				WHERE session_id = ? AND item_status IN ('good', 'damaged')
			)
		WHERE id = ?`, sessionID, sessionID, sessionID).Error
	if err != nil {
		return &StorageFailure{Op: "recalculate session totals", Err: err}
	}
	return nil
}
