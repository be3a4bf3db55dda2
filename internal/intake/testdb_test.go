package intake

import (
	"fmt"
	"io"
	"os"
	"testing"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/packfresh/intakego/internal/models"
)

const testPgPort = 5511

var testDB *gorm.DB

// TestMain starts a throwaway embedded PostgreSQL instance for the whole
// package. Real Postgres is required because the service leans on FOR UPDATE
// row locking and SQLSTATE codes.
func TestMain(m *testing.M) {
	runtimeDir, err := os.MkdirTemp("", "intake-pg-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	epg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		RuntimePath(runtimeDir).
		Port(testPgPort).
		Database("intake_test"))

	if err := epg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start embedded postgres: %v\n", err)
		os.RemoveAll(runtimeDir)
		os.Exit(1)
	}

	dsn := fmt.Sprintf(
		"host=localhost port=%d user=postgres password=postgres dbname=intake_test sslmode=disable",
		testPgPort,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to test database: %v\n", err)
		epg.Stop()
		os.RemoveAll(runtimeDir)
		os.Exit(1)
	}

	err = db.AutoMigrate(
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
		fmt.Fprintf(os.Stderr, "failed to migrate test schema: %v\n", err)
		epg.Stop()
		os.RemoveAll(runtimeDir)
		os.Exit(1)
	}

	testDB = db
	code := m.Run()

	epg.Stop()
	os.RemoveAll(runtimeDir)
	os.Exit(code)
}

// newTestService wipes all tables and returns a fresh service
func newTestService(t *testing.T) *Service {
	t.Helper()

	tables := []string{
		"card_audit_log",
		"raw_cards",
		"storage_boxes",
		"cogs_history",
		"sealed_cogs",
		"intake_items",
		"intake_sessions",
		"product_mappings",
	}
	for _, table := range tables {
		if err := testDB.Exec("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE").Error; err != nil {
			t.Fatalf("Failed to reset table %s: %v", table, err)
		}
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewService(testDB, log, PolicyOverwrite)
}
