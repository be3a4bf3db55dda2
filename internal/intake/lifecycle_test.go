package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/packfresh/intakego/internal/models"
	"github.com/packfresh/intakego/internal/utils"
)

func seedCard(t *testing.T, state string) *models.RawCard {
	t.Helper()
	card := models.RawCard{
		Barcode:      utils.GenerateCardBarcode(),
		TCGPlayerID:  490294,
		CardName:     "Charizard ex",
		SetName:      "Obsidian Flames",
		CardNumber:   "125",
		Condition:    "NM",
		State:        state,
		CostBasis:    dec("15"),
		CurrentPrice: dec("20"),
	}
	if err := testDB.Create(&card).Error; err != nil {
		t.Fatalf("Failed to seed card: %v", err)
	}
	return &card
}

func auditCount(t *testing.T, cardID uint) int64 {
	t.Helper()
	var n int64
	if err := testDB.Model(&models.CardAuditLog{}).Where("card_id = ?", cardID).Count(&n).Error; err != nil {
		t.Fatalf("Failed to count audit rows: %v", err)
	}
	return n
}

func TestStoreCardInBox(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	box, err := svc.CreateBox(ctx, 400, "Shelf A-1")
	if err != nil {
		t.Fatalf("CreateBox failed: %v", err)
	}
	card := seedCard(t, models.CardPurchased)

	stored, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: card.Barcode,
		ToState: models.CardStored,
		BoxID:   &box.ID,
		ActorID: "emp-1",
	})
	if err != nil {
		t.Fatalf("TransitionCard failed: %v", err)
	}
	if stored.State != models.CardStored {
		t.Errorf("Expected STORED, got %s", stored.State)
	}
	if stored.StorageBoxID == nil || *stored.StorageBoxID != box.ID {
		t.Errorf("Expected box reference %d, got %v", box.ID, stored.StorageBoxID)
	}

	var reloadedBox models.StorageBox
	testDB.First(&reloadedBox, box.ID)
	if reloadedBox.CurrentCount != 1 {
		t.Errorf("Expected box count 1, got %d", reloadedBox.CurrentCount)
	}

	if n := auditCount(t, card.ID); n != 1 {
		t.Errorf("Expected exactly 1 audit row, got %d", n)
	}
}

func TestStoreRequiresBox(t *testing.T) {
	svc := newTestService(t)
	card := seedCard(t, models.CardPurchased)

	_, err := svc.TransitionCard(context.Background(), TransitionInput{
		Barcode: card.Barcode,
		ToState: models.CardStored,
		ActorID: "emp-1",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError without box, got %v", err)
	}
	if n := auditCount(t, card.ID); n != 0 {
		t.Errorf("Rejected transition must write no audit rows, got %d", n)
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		from string
		to   string
	}{
		{models.CardPurchased, models.CardPulled},
		{models.CardPurchased, models.CardPendingSale},
		{models.CardStored, models.CardPendingSale},
		{models.CardRemoved, models.CardStored},
		{models.CardRemoved, models.CardPulled},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_to_%s", tc.from, tc.to), func(t *testing.T) {
			card := seedCard(t, tc.from)
			_, err := svc.TransitionCard(ctx, TransitionInput{
				Barcode: card.Barcode,
				ToState: tc.to,
				ActorID: "emp-1",
			})
			var illegal *IllegalTransitionError
			if !errors.As(err, &illegal) {
				t.Fatalf("Expected IllegalTransitionError for %s -> %s, got %v", tc.from, tc.to, err)
			}
			if n := auditCount(t, card.ID); n != 0 {
				t.Errorf("Rejected transition must write no audit rows, got %d", n)
			}
		})
	}
}

func TestPullAndRestore(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	box, err := svc.CreateBox(ctx, 10, "Shelf B-1")
	if err != nil {
		t.Fatalf("CreateBox failed: %v", err)
	}
	card := seedCard(t, models.CardPurchased)

	if _, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: card.Barcode, ToState: models.CardStored, BoxID: &box.ID, ActorID: "emp-1",
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Pull releases the slot and clears the reference
	pulled, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: card.Barcode, ToState: models.CardPulled, ActorID: "emp-1",
	})
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if pulled.StorageBoxID != nil {
		t.Errorf("Expected box reference cleared on pull, got %v", pulled.StorageBoxID)
	}

	var reloadedBox models.StorageBox
	testDB.First(&reloadedBox, box.ID)
	if reloadedBox.CurrentCount != 0 {
		t.Errorf("Expected box count back to 0, got %d", reloadedBox.CurrentCount)
	}

	// Put it back
	if _, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: card.Barcode, ToState: models.CardStored, BoxID: &box.ID, ActorID: "emp-1",
	}); err != nil {
		t.Fatalf("Re-store failed: %v", err)
	}
	testDB.First(&reloadedBox, box.ID)
	if reloadedBox.CurrentCount != 1 {
		t.Errorf("Expected box count 1 after re-store, got %d", reloadedBox.CurrentCount)
	}

	if n := auditCount(t, card.ID); n != 3 {
		t.Errorf("Expected 3 audit rows for 3 transitions, got %d", n)
	}
}

func TestBoxCapacityEnforced(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	box, err := svc.CreateBox(ctx, 1, "Tiny Box")
	if err != nil {
		t.Fatalf("CreateBox failed: %v", err)
	}

	first := seedCard(t, models.CardPurchased)
	second := seedCard(t, models.CardPurchased)

	if _, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: first.Barcode, ToState: models.CardStored, BoxID: &box.ID, ActorID: "emp-1",
	}); err != nil {
		t.Fatalf("First store failed: %v", err)
	}

	_, err = svc.TransitionCard(ctx, TransitionInput{
		Barcode: second.Barcode, ToState: models.CardStored, BoxID: &box.ID, ActorID: "emp-1",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError for full box, got %v", err)
	}

	var reloadedCard models.RawCard
	testDB.First(&reloadedCard, second.ID)
	if reloadedCard.State != models.CardPurchased {
		t.Errorf("Rejected store must not change card state, got %s", reloadedCard.State)
	}
}

func TestRemoveSoldRequiresPendingSaleAndPrice(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// SOLD from STORED is illegal even though STORED -> REMOVED exists
	stored := seedCard(t, models.CardStored)
	_, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode:       stored.Barcode,
		ToState:       models.CardRemoved,
		RemovalReason: models.RemovalSold,
		ActorID:       "emp-1",
	})
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("Expected IllegalTransitionError for SOLD from STORED, got %v", err)
	}

	// SOLD from PENDING_SALE without a price is invalid
	pending := seedCard(t, models.CardPendingSale)
	_, err = svc.TransitionCard(ctx, TransitionInput{
		Barcode:       pending.Barcode,
		ToState:       models.CardRemoved,
		RemovalReason: models.RemovalSold,
		ActorID:       "emp-1",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError without sale price, got %v", err)
	}

	// With a price it goes through and records the final numbers
	price := dec("42.50")
	removed, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode:       pending.Barcode,
		ToState:       models.CardRemoved,
		RemovalReason: models.RemovalSold,
		SalePrice:     &price,
		ActorID:       "emp-1",
	})
	if err != nil {
		t.Fatalf("Sale removal failed: %v", err)
	}
	if removed.RemovalReason == nil || *removed.RemovalReason != models.RemovalSold {
		t.Errorf("Expected removal reason SOLD, got %v", removed.RemovalReason)
	}
	if removed.SalePrice == nil || !removed.SalePrice.Equal(price) {
		t.Errorf("Expected sale price 42.50, got %v", removed.SalePrice)
	}
}

func TestRemovalReasonRules(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// GRADING from PULLED is fine
	pulled := seedCard(t, models.CardPulled)
	if _, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode:       pulled.Barcode,
		ToState:       models.CardRemoved,
		RemovalReason: models.RemovalGrading,
		ActorID:       "emp-1",
	}); err != nil {
		t.Fatalf("GRADING removal from PULLED failed: %v", err)
	}

	// Missing reason is rejected
	stored := seedCard(t, models.CardStored)
	_, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: stored.Barcode,
		ToState: models.CardRemoved,
		ActorID: "emp-1",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError without reason, got %v", err)
	}

	// Unknown reason is rejected
	_, err = svc.TransitionCard(ctx, TransitionInput{
		Barcode:       stored.Barcode,
		ToState:       models.CardRemoved,
		RemovalReason: "LOST",
		ActorID:       "emp-1",
	})
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError for unknown reason, got %v", err)
	}
}

func TestRemovalFromStoredReleasesBox(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	box, err := svc.CreateBox(ctx, 5, "Shelf C-1")
	if err != nil {
		t.Fatalf("CreateBox failed: %v", err)
	}
	card := seedCard(t, models.CardPurchased)

	if _, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: card.Barcode, ToState: models.CardStored, BoxID: &box.ID, ActorID: "emp-1",
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	removed, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode:       card.Barcode,
		ToState:       models.CardRemoved,
		RemovalReason: models.RemovalCardTrader,
		ActorID:       "emp-1",
	})
	if err != nil {
		t.Fatalf("Removal failed: %v", err)
	}
	if removed.StorageBoxID != nil {
		t.Errorf("Expected box reference cleared on removal, got %v", removed.StorageBoxID)
	}

	var reloadedBox models.StorageBox
	testDB.First(&reloadedBox, box.ID)
	if reloadedBox.CurrentCount != 0 {
		t.Errorf("Expected box count released, got %d", reloadedBox.CurrentCount)
	}
}

func TestUpdateCardPrice(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	card := seedCard(t, models.CardStored)

	updated, err := svc.UpdateCardPrice(ctx, card.Barcode, dec("25"), "ppt", "emp-1")
	if err != nil {
		t.Fatalf("UpdateCardPrice failed: %v", err)
	}
	if !updated.CurrentPrice.Equal(dec("25")) {
		t.Errorf("Expected price 25, got %s", updated.CurrentPrice)
	}
	if n := auditCount(t, card.ID); n != 1 {
		t.Errorf("Expected 1 price audit row, got %d", n)
	}

	// Writing the same price again is a no-op with no audit row
	if _, err := svc.UpdateCardPrice(ctx, card.Barcode, dec("25"), "ppt", "emp-1"); err != nil {
		t.Fatalf("No-op price update failed: %v", err)
	}
	if n := auditCount(t, card.ID); n != 1 {
		t.Errorf("No-op update must not add audit rows, got %d", n)
	}
}

func TestGetCardByBarcode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	card := seedCard(t, models.CardPurchased)

	box, err := svc.CreateBox(ctx, 10, "Shelf D-1")
	if err != nil {
		t.Fatalf("CreateBox failed: %v", err)
	}
	if _, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: card.Barcode, ToState: models.CardStored, BoxID: &box.ID, ActorID: "emp-1",
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	found, history, err := svc.GetCardByBarcode(ctx, card.Barcode)
	if err != nil {
		t.Fatalf("GetCardByBarcode failed: %v", err)
	}
	if found.StorageBox == nil || found.StorageBox.ID != box.ID {
		t.Error("Expected box preloaded on card lookup")
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 history row, got %d", len(history))
	}

	_, _, err = svc.GetCardByBarcode(ctx, "PF-20260101-ZZZZZZ")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
}

func TestCreateBoxAllocatesSequentialBarcodes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateBox(ctx, 400, "Shelf A-1")
	if err != nil {
		t.Fatalf("CreateBox failed: %v", err)
	}
	second, err := svc.CreateBox(ctx, 400, "Shelf A-2")
	if err != nil {
		t.Fatalf("CreateBox failed: %v", err)
	}

	if first.BoxNumber != 1 || second.BoxNumber != 2 {
		t.Errorf("Expected box numbers 1 and 2, got %d and %d", first.BoxNumber, second.BoxNumber)
	}
	if first.Barcode != "BOX-000001" {
		t.Errorf("Expected barcode BOX-000001, got %s", first.Barcode)
	}
	if second.Barcode != "BOX-000002" {
		t.Errorf("Expected barcode BOX-000002, got %s", second.Barcode)
	}
}

func TestGetBoxByBarcode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	box, err := svc.CreateBox(ctx, 10, "Shelf E-1")
	if err != nil {
		t.Fatalf("CreateBox failed: %v", err)
	}

	stored := seedCard(t, models.CardPurchased)
	if _, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: stored.Barcode, ToState: models.CardStored, BoxID: &box.ID, ActorID: "emp-1",
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	// A card that left the box should not appear in its contents
	gone := seedCard(t, models.CardPurchased)
	if _, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: gone.Barcode, ToState: models.CardStored, BoxID: &box.ID, ActorID: "emp-1",
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := svc.TransitionCard(ctx, TransitionInput{
		Barcode: gone.Barcode, ToState: models.CardPulled, ActorID: "emp-1",
	}); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	found, err := svc.GetBoxByBarcode(ctx, box.Barcode)
	if err != nil {
		t.Fatalf("GetBoxByBarcode failed: %v", err)
	}
	if found.CurrentCount != 1 {
		t.Errorf("Expected count 1, got %d", found.CurrentCount)
	}
	if len(found.Cards) != 1 || found.Cards[0].Barcode != stored.Barcode {
		t.Errorf("Expected only the stored card in contents, got %d cards", len(found.Cards))
	}
}
