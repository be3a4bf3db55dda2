package intake

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/packfresh/intakego/internal/models"
	"github.com/packfresh/intakego/internal/utils"
)

func TestFinalizeCreatesSealedLedger(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	session := openSession(t, svc, "100")

	id := int64(502001)
	if _, err := svc.AddItems(ctx, session.ID, []StagedItem{
		{ProductName: "Booster Box", ProductType: models.ProductSealed, Quantity: 2, MarketPrice: dec("10"), TCGPlayerID: &id},
	}); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}

	result, err := svc.FinalizeSession(ctx, session.ID, "emp-1")
	if err != nil {
		t.Fatalf("FinalizeSession failed: %v", err)
	}
	if result.SealedProcessed != 1 {
		t.Errorf("Expected 1 sealed line processed, got %d", result.SealedProcessed)
	}

	var entry models.SealedCogs
	if err := testDB.First(&entry, "tcgplayer_id = ?", id).Error; err != nil {
		t.Fatalf("Ledger entry not created: %v", err)
	}
	if entry.CurrentQuantity != 2 {
		t.Errorf("Expected quantity 2, got %d", entry.CurrentQuantity)
	}
	if !entry.TotalCost.Equal(dec("20")) {
		t.Errorf("Expected total cost 20, got %s", entry.TotalCost)
	}
	if !entry.AvgCogs.Equal(dec("10")) {
		t.Errorf("Expected avg cogs 10, got %s", entry.AvgCogs)
	}
	if entry.LastIntakeSessionID != session.ID {
		t.Errorf("Expected last session %s, got %s", session.ID, entry.LastIntakeSessionID)
	}
}

func TestFinalizeMergesWeightedAverage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := int64(502001)

	// First intake: 2 units at 10
	first := openSession(t, svc, "100")
	if _, err := svc.AddItems(ctx, first.ID, []StagedItem{
		{ProductName: "Booster Box", ProductType: models.ProductSealed, Quantity: 2, MarketPrice: dec("10"), TCGPlayerID: &id},
	}); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}
	if _, err := svc.FinalizeSession(ctx, first.ID, "emp-1"); err != nil {
		t.Fatalf("First finalize failed: %v", err)
	}

	// Second intake: 3 units at 20. (2*10 + 3*20) / 5 = 16
	second := openSession(t, svc, "100")
	if _, err := svc.AddItems(ctx, second.ID, []StagedItem{
		{ProductName: "Booster Box", ProductType: models.ProductSealed, Quantity: 3, MarketPrice: dec("20"), TCGPlayerID: &id},
	}); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}
	if _, err := svc.FinalizeSession(ctx, second.ID, "emp-1"); err != nil {
		t.Fatalf("Second finalize failed: %v", err)
	}

	var entry models.SealedCogs
	if err := testDB.First(&entry, "tcgplayer_id = ?", id).Error; err != nil {
		t.Fatalf("Ledger entry missing: %v", err)
	}
	if entry.CurrentQuantity != 5 {
		t.Errorf("Expected quantity 5, got %d", entry.CurrentQuantity)
	}
	if !entry.TotalCost.Equal(dec("80")) {
		t.Errorf("Expected total cost 80, got %s", entry.TotalCost)
	}
	if !entry.AvgCogs.Equal(dec("16")) {
		t.Errorf("Expected avg cogs 16, got %s", entry.AvgCogs)
	}

	// Both merges left history snapshots
	var history []models.CogsHistory
	if err := testDB.Where("sealed_cogs_id = ?", entry.ID).Order("id ASC").Find(&history).Error; err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 history rows, got %d", len(history))
	}
	if history[1].OldQuantity != 2 || history[1].NewQuantity != 5 {
		t.Errorf("Expected second snapshot 2 -> 5, got %d -> %d", history[1].OldQuantity, history[1].NewQuantity)
	}
	if !history[1].OldAvgCogs.Equal(dec("10")) || !history[1].NewAvgCogs.Equal(dec("16")) {
		t.Errorf("Expected avg snapshot 10 -> 16, got %s -> %s", history[1].OldAvgCogs, history[1].NewAvgCogs)
	}
	if !history[1].CostAdded.Equal(dec("60")) {
		t.Errorf("Expected cost added 60, got %s", history[1].CostAdded)
	}
}

func TestFinalizeConcurrentMergesLoseNoUpdate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := int64(502001)

	// Two sessions target the same ledger entry. Neither exists when the race
	// starts, so one finalize creates the row and the other must retry after
	// losing the insert, then merge on top.
	first := openSession(t, svc, "100")
	if _, err := svc.AddItems(ctx, first.ID, []StagedItem{
		{ProductName: "Booster Box", ProductType: models.ProductSealed, Quantity: 2, MarketPrice: dec("10"), TCGPlayerID: &id},
	}); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}
	second := openSession(t, svc, "100")
	if _, err := svc.AddItems(ctx, second.ID, []StagedItem{
		{ProductName: "Booster Box", ProductType: models.ProductSealed, Quantity: 3, MarketPrice: dec("20"), TCGPlayerID: &id},
	}); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, sessionID := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			_, err := svc.FinalizeSession(ctx, sid, "emp-1")
			errs <- err
		}(sessionID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent finalize failed: %v", err)
		}
	}

	var entry models.SealedCogs
	if err := testDB.First(&entry, "tcgplayer_id = ?", id).Error; err != nil {
		t.Fatalf("Ledger entry missing: %v", err)
	}
	if entry.CurrentQuantity != 5 {
		t.Errorf("Expected quantity 5 after both merges, got %d", entry.CurrentQuantity)
	}
	if !entry.TotalCost.Equal(dec("80")) {
		t.Errorf("Expected total cost 80, got %s", entry.TotalCost)
	}
	if !entry.AvgCogs.Equal(dec("16")) {
		t.Errorf("Expected avg cogs 16, got %s", entry.AvgCogs)
	}

	var historyCount int64
	testDB.Model(&models.CogsHistory{}).Where("sealed_cogs_id = ?", entry.ID).Count(&historyCount)
	if historyCount != 2 {
		t.Errorf("Expected 2 history snapshots, got %d", historyCount)
	}
}

func TestFinalizeExpandsRawCards(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	session := openSession(t, svc, "75")

	id := int64(490294)
	if _, err := svc.AddItems(ctx, session.ID, []StagedItem{
		{ProductName: "Charizard ex", ProductType: models.ProductRaw, Quantity: 3, MarketPrice: dec("20"), TCGPlayerID: &id, SetName: "Obsidian Flames", CardNumber: "125"},
	}); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}

	result, err := svc.FinalizeSession(ctx, session.ID, "emp-1")
	if err != nil {
		t.Fatalf("FinalizeSession failed: %v", err)
	}
	if result.RawCardsCreated != 3 {
		t.Fatalf("Expected 3 raw cards, got %d", result.RawCardsCreated)
	}
	if len(result.Barcodes) != 3 {
		t.Fatalf("Expected 3 barcodes, got %d", len(result.Barcodes))
	}

	seen := map[string]bool{}
	for _, bc := range result.Barcodes {
		if !utils.IsCardBarcode(bc) {
			t.Errorf("Invalid barcode format: %s", bc)
		}
		if seen[bc] {
			t.Errorf("Duplicate barcode: %s", bc)
		}
		seen[bc] = true
	}

	var cards []models.RawCard
	if err := testDB.Where("intake_session_id = ?", session.ID).Find(&cards).Error; err != nil {
		t.Fatalf("Failed to load cards: %v", err)
	}
	if len(cards) != 3 {
		t.Fatalf("Expected 3 card rows, got %d", len(cards))
	}
	for _, card := range cards {
		if card.State != models.CardPurchased {
			t.Errorf("Expected state PURCHASED, got %s", card.State)
		}
		// 20 * 0.75 = 15 per unit
		if !card.CostBasis.Equal(dec("15")) {
			t.Errorf("Expected cost basis 15, got %s", card.CostBasis)
		}
		if card.TCGPlayerID != id {
			t.Errorf("Expected tcgplayer id %d, got %d", id, card.TCGPlayerID)
		}

		// Provenance audit row per card
		var audits []models.CardAuditLog
		if err := testDB.Where("card_id = ?", card.ID).Find(&audits).Error; err != nil {
			t.Fatalf("Failed to load audit rows: %v", err)
		}
		if len(audits) != 1 {
			t.Fatalf("Expected 1 audit row per card, got %d", len(audits))
		}
		if audits[0].FromState != "" || audits[0].ToState != models.CardPurchased {
			t.Errorf("Expected creation audit to PURCHASED, got %q -> %q", audits[0].FromState, audits[0].ToState)
		}
	}
}

func TestFinalizeRejectsUnmappedItems(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	session := openSession(t, svc, "75")

	id := int64(502001)
	if _, err := svc.AddItems(ctx, session.ID, []StagedItem{
		{ProductName: "Mapped Box", ProductType: models.ProductSealed, Quantity: 1, MarketPrice: dec("100"), TCGPlayerID: &id},
		{ProductName: "Unknown Thing", ProductType: models.ProductRaw, Quantity: 1, MarketPrice: dec("5")},
	}); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}

	_, err := svc.FinalizeSession(ctx, session.ID, "emp-1")
	var unresolved *UnresolvedItemsError
	if !errors.As(err, &unresolved) {
		t.Fatalf("Expected UnresolvedItemsError, got %v", err)
	}
	if len(unresolved.ItemIDs) != 1 {
		t.Errorf("Expected 1 unresolved item, got %d", len(unresolved.ItemIDs))
	}

	// Atomicity: nothing was committed
	var ledgerCount, cardCount int64
	testDB.Model(&models.SealedCogs{}).Count(&ledgerCount)
	testDB.Model(&models.RawCard{}).Count(&cardCount)
	if ledgerCount != 0 || cardCount != 0 {
		t.Errorf("Expected no partial writes, got %d ledger rows, %d cards", ledgerCount, cardCount)
	}

	var reloaded models.IntakeSession
	testDB.First(&reloaded, "id = ?", session.ID)
	if reloaded.Status != models.SessionInProgress {
		t.Errorf("Expected session still in_progress, got %s", reloaded.Status)
	}
}

func TestFinalizeSkipsMissingAndRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	session := openSession(t, svc, "100")

	id := int64(502001)
	items, err := svc.AddItems(ctx, session.ID, []StagedItem{
		{ProductName: "Kept Box", ProductType: models.ProductSealed, Quantity: 1, MarketPrice: dec("10"), TCGPlayerID: &id},
		{ProductName: "Gone Box", ProductType: models.ProductSealed, Quantity: 4, MarketPrice: dec("10"), TCGPlayerID: &id},
	})
	if err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}

	// The second line never arrived; unmapped would not even matter
	if _, err := svc.MarkItemMissing(ctx, items[1].ID); err != nil {
		t.Fatalf("MarkItemMissing failed: %v", err)
	}

	if _, err := svc.FinalizeSession(ctx, session.ID, "emp-1"); err != nil {
		t.Fatalf("FinalizeSession failed: %v", err)
	}

	var entry models.SealedCogs
	if err := testDB.First(&entry, "tcgplayer_id = ?", id).Error; err != nil {
		t.Fatalf("Ledger entry missing: %v", err)
	}
	if entry.CurrentQuantity != 1 {
		t.Errorf("Expected only the kept unit in the ledger, got %d", entry.CurrentQuantity)
	}
}

func TestFinalizeIsTerminal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	session := openSession(t, svc, "100")

	id := int64(502001)
	if _, err := svc.AddItems(ctx, session.ID, []StagedItem{
		{ProductName: "Booster Box", ProductType: models.ProductSealed, Quantity: 1, MarketPrice: dec("10"), TCGPlayerID: &id},
	}); err != nil {
		t.Fatalf("AddItems failed: %v", err)
	}
	if _, err := svc.FinalizeSession(ctx, session.ID, "emp-1"); err != nil {
		t.Fatalf("FinalizeSession failed: %v", err)
	}

	var reloaded models.IntakeSession
	testDB.First(&reloaded, "id = ?", session.ID)
	if reloaded.Status != models.SessionFinalized {
		t.Fatalf("Expected finalized status, got %s", reloaded.Status)
	}
	if reloaded.FinalizedAt == nil {
		t.Error("Expected finalized_at to be set")
	}

	// Double finalize and late edits are both rejected
	var immutable *ImmutableSessionError
	if _, err := svc.FinalizeSession(ctx, session.ID, "emp-1"); !errors.As(err, &immutable) {
		t.Errorf("Expected ImmutableSessionError on double finalize, got %v", err)
	}
	if _, err := svc.AddItems(ctx, session.ID, []StagedItem{
		{ProductName: "Late", ProductType: models.ProductRaw, Quantity: 1, MarketPrice: dec("1")},
	}); !errors.As(err, &immutable) {
		t.Errorf("Expected ImmutableSessionError on post-finalize edit, got %v", err)
	}
}

func TestFinalizeEmptySession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	session := openSession(t, svc, "75")

	_, err := svc.FinalizeSession(ctx, session.ID, "emp-1")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError for empty session, got %v", err)
	}
}
