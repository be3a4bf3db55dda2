package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/packfresh/intakego/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Mapping conflict policies. Overwrite is the default: re-recording a name with
// a different TCGplayer ID silently replaces the old link (last write wins).
// Strict makes the same call fail with ConflictError so the caller can ask the
// user to confirm first.
const (
	PolicyOverwrite = "overwrite"
	PolicyStrict    = "strict"
)

// NormalizeName canonicalizes a free-text product name for cache matching:
// trim, case-fold, collapse runs of whitespace. Matching is exact after
// normalization; fuzzy suggestion lives in the pricing client, not here.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ResolveMapping looks up a cached mapping for the given product name and type.
// A hit bumps use_count and last_used_at. Returns (nil, nil) on a cache miss.
func (s *Service) ResolveMapping(ctx context.Context, name, productType string) (*models.ProductMapping, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return nil, &ValidationError{Field: "name", Msg: "must not be empty"}
	}

	var m models.ProductMapping
	err := s.db.WithContext(ctx).
		Where("source_name = ? AND product_type = ?", normalized, productType).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageFailure{Op: "resolve mapping", Err: err}
	}

	// Bump usage stats. The increment runs in SQL so concurrent hits don't
	// lose counts.
	if err := s.db.WithContext(ctx).Model(&models.ProductMapping{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"use_count":    gorm.Expr("use_count + 1"),
			"last_used_at": time.Now().UTC(),
		}).Error; err != nil {
		return nil, &StorageFailure{Op: "bump mapping usage", Err: err}
	}
	m.UseCount++

	return &m, nil
}

// RecordMapping saves or updates the link between a product name and a
// TCGplayer ID. Every successful record is a commitment: all future items with
// the same normalized (name, type) auto-resolve to this ID.
func (s *Service) RecordMapping(ctx context.Context, name, productType string, tcgplayerID int64, setName, cardNumber string) (*models.ProductMapping, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return nil, &ValidationError{Field: "name", Msg: "must not be empty"}
	}
	if productType != models.ProductSealed && productType != models.ProductRaw {
		return nil, &ValidationError{Field: "product_type", Msg: fmt.Sprintf("unknown type %q", productType)}
	}
	if tcgplayerID <= 0 {
		return nil, &ValidationError{Field: "tcgplayer_id", Msg: "must be positive"}
	}

	var saved models.ProductMapping
	err := s.withRetry("record mapping", func(tx *gorm.DB) error {
		return s.recordMappingTx(tx, &saved, normalized, productType, tcgplayerID, setName, cardNumber)
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// recordMappingTx is the transactional body of RecordMapping, reused by
// MapItem so linking an item and caching the mapping commit together.
func (s *Service) recordMappingTx(tx *gorm.DB, out *models.ProductMapping, normalized, productType string, tcgplayerID int64, setName, cardNumber string) error {
	var existing models.ProductMapping
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("source_name = ? AND product_type = ?", normalized, productType).
		First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m := models.ProductMapping{
			SourceName:  normalized,
			ProductType: productType,
			TCGPlayerID: tcgplayerID,
			SetName:     setName,
			CardNumber:  cardNumber,
			UseCount:    1,
			LastUsedAt:  time.Now().UTC(),
		}
		if err := tx.Create(&m).Error; err != nil {
			if isUniqueViolation(err) {
				// Lost the create race on (source_name, product_type); retry the
				// whole transaction so the next attempt locks the winner's row.
				return &retryableConflict{err: err}
			}
			return &StorageFailure{Op: "create mapping", Err: err}
		}
		*out = m
		return nil

	case err != nil:
		return &StorageFailure{Op: "load mapping", Err: err}
	}

	if existing.TCGPlayerID != tcgplayerID && s.mappingPolicy == PolicyStrict {
		return &ConflictError{Msg: fmt.Sprintf(
			"%q (%s) is already mapped to tcgplayer_id %d", normalized, productType, existing.TCGPlayerID)}
	}

	existing.TCGPlayerID = tcgplayerID
	if setName != "" {
		existing.SetName = setName
	}
	if cardNumber != "" {
		existing.CardNumber = cardNumber
	}
	existing.UseCount++
	existing.LastUsedAt = time.Now().UTC()
	if err := tx.Save(&existing).Error; err != nil {
		return &StorageFailure{Op: "update mapping", Err: err}
	}
	*out = existing
	return nil
}

// ListMappings returns cached mappings, most used first, optionally filtered
// by product type.
func (s *Service) ListMappings(ctx context.Context, productType string) ([]models.ProductMapping, error) {
	q := s.db.WithContext(ctx).Order("use_count DESC")
	if productType != "" {
		q = q.Where("product_type = ?", productType)
	}
	var mappings []models.ProductMapping
	if err := q.Find(&mappings).Error; err != nil {
		return nil, &StorageFailure{Op: "list mappings", Err: err}
	}
	return mappings, nil
}
