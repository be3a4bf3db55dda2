package main

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/packfresh/intakego/internal/config"
	"github.com/packfresh/intakego/internal/database"
	"github.com/packfresh/intakego/internal/intake"
	"github.com/packfresh/intakego/internal/models"
	"github.com/packfresh/intakego/internal/utils"
)

func main() {
	fmt.Println("Pack Fresh Intake Demo Seeder")
	fmt.Println("=============================")

	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	fmt.Println("Connected to database")

	err = db.AutoMigrate(
		&models.UserAuth{},
		&models.ProductMapping{},
		&models.IntakeSession{},
		&models.IntakeItem{},
		&models.SealedCogs{},
		&models.CogsHistory{},
		&models.RawCard{},
		&models.StorageBox{},
		&models.CardAuditLog{},
	)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Println("Migrations complete")

	var sessionCount int64
	db.Model(&models.IntakeSession{}).Count(&sessionCount)
	if sessionCount > 0 {
		fmt.Printf("Database already has %d sessions. Clear it first? (y/N): ", sessionCount)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted. Database not modified.")
			return
		}

		fmt.Println("Clearing existing data...")
		db.Exec("TRUNCATE TABLE card_audit_log CASCADE")
		db.Exec("TRUNCATE TABLE raw_cards CASCADE")
		db.Exec("TRUNCATE TABLE storage_boxes CASCADE")
		db.Exec("TRUNCATE TABLE cogs_history CASCADE")
		db.Exec("TRUNCATE TABLE sealed_cogs CASCADE")
		db.Exec("TRUNCATE TABLE intake_items CASCADE")
		db.Exec("TRUNCATE TABLE intake_sessions CASCADE")
		db.Exec("TRUNCATE TABLE product_mappings CASCADE")
		fmt.Println("Data cleared")
	}

	ctx := context.Background()
	svc := intake.NewService(db.DB, logger, cfg.Intake.MappingConflictPolicy)

	// Demo user
	fmt.Println("Creating demo user...")
	hashed, err := utils.HashPassword("intake-demo")
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	user := models.UserAuth{
		Username: "demo",
		Email:    "demo@packfresh.local",
		Password: hashed,
		Role:     "staff",
	}
	if err := db.Where("email = ?", user.Email).FirstOrCreate(&user).Error; err != nil {
		log.Fatalf("Failed to create demo user: %v", err)
	}

	// Storage boxes
	fmt.Println("Creating storage boxes...")
	for i := 0; i < 3; i++ {
		box, err := svc.CreateBox(ctx, 400, fmt.Sprintf("Shelf A-%d", i+1))
		if err != nil {
			log.Fatalf("Failed to create box: %v", err)
		}
		fmt.Printf("  %s (%s)\n", box.Barcode, box.Location)
	}

	// Mapping cache entries
	fmt.Println("Seeding mapping cache...")
	mappings := []struct {
		name        string
		productType string
		tcgplayerID int64
		setName     string
		cardNumber  string
	}{
		{"Obsidian Flames Booster Box", models.ProductSealed, 502001, "Obsidian Flames", ""},
		{"Scarlet & Violet 151 Elite Trainer Box", models.ProductSealed, 502002, "151", ""},
		{"Charizard ex 125/197", models.ProductRaw, 490294, "Obsidian Flames", "125"},
		{"Pikachu 25/165", models.ProductRaw, 490501, "151", "25"},
	}
	for _, m := range mappings {
		if _, err := svc.RecordMapping(ctx, m.name, m.productType, m.tcgplayerID, m.setName, m.cardNumber); err != nil {
			log.Fatalf("Failed to seed mapping %q: %v", m.name, err)
		}
	}

	// A demo session with staged items, mapped and finalized end to end
	fmt.Println("Creating demo intake session...")
	session, err := svc.CreateSession(ctx, intake.CreateSessionInput{
		CustomerName:    "Demo Customer",
		SessionType:     models.SessionTypeMixed,
		OfferPercentage: decimal.NewFromInt(75),
		EmployeeID:      user.ID,
		Notes:           "Seeded demo session",
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	sealedID := int64(502001)
	rawID := int64(490294)
	items, err := svc.AddItems(ctx, session.ID, []intake.StagedItem{
		{
			ProductName: "Obsidian Flames Booster Box",
			ProductType: models.ProductSealed,
			Quantity:    2,
			MarketPrice: decimal.NewFromInt(120),
			TCGPlayerID: &sealedID,
		},
		{
			ProductName: "Charizard ex 125/197",
			ProductType: models.ProductRaw,
			Quantity:    3,
			MarketPrice: decimal.NewFromInt(45),
			TCGPlayerID: &rawID,
			SetName:     "Obsidian Flames",
			CardNumber:  "125",
			Condition:   "NM",
		},
	})
	if err != nil {
		log.Fatalf("Failed to stage items: %v", err)
	}
	fmt.Printf("  Staged %d items\n", len(items))

	result, err := svc.FinalizeSession(ctx, session.ID, user.ID)
	if err != nil {
		log.Fatalf("Failed to finalize session: %v", err)
	}
	fmt.Printf("  Finalized: %d sealed lines merged, %d raw cards created\n",
		result.SealedProcessed, result.RawCardsCreated)
	for _, bc := range result.Barcodes {
		fmt.Printf("    %s\n", bc)
	}

	fmt.Println()
	fmt.Println("Demo data ready. Log in with demo@packfresh.local / intake-demo")
}
