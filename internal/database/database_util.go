package database

import (
	"os"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tgdrive/geonotify/internal/config"
)

const testDataSourceEnv = "GEONOTIFY_TEST_DB"

// NewTestDatabase connects to the database named by GEONOTIFY_TEST_DB and
// skips the test when it is unset.
func NewTestDatabase(tb testing.TB, migrate bool) *gorm.DB {
	dsn := os.Getenv(testDataSourceEnv)
	if dsn == "" {
		tb.Skipf("%s not set", testDataSourceEnv)
	}
	cfg := &config.DBConfig{DataSource: dsn, PrepareStmt: true, LogLevel: "fatal"}
	db, err := NewDatabase(cfg, zap.NewNop())
	if err != nil {
		tb.Fatalf("failed to init db %v", err)
	}
	if migrate {
		if err := MigrateDB(db); err != nil {
			tb.Fatalf("failed to migrate db %v", err)
		}
	}
	return db
}

// Truncate empties the given tables of the service schema.
func Truncate(tb testing.TB, db *gorm.DB, tables ...string) {
	for _, table := range tables {
		if err := db.Exec("TRUNCATE TABLE " + Schema + "." + table + " RESTART IDENTITY CASCADE").Error; err != nil {
			tb.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}
