package testutil

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/sunschool/sunschool/storage/database"
)

// DatabaseURLEnv names the variable holding the Postgres URL used by database tests.
const DatabaseURLEnv = "TEST_DATABASE_URL"

var truncateTables = []string{"achievements", "lessons", "learner_profiles", "db_sync_configs", "users"}

// DatabaseURL returns the test database URL, skipping the test when none is configured.
func DatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv(DatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", DatabaseURLEnv)
	}
	return url
}

// PrepareDB opens the test database, migrates it and empties its tables.
// The connection is closed at the end of the test.
func PrepareDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", DatabaseURL(t))
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	ResetDB(t, db)
	return db
}

// ResetDB deletes every row of the application tables.
func ResetDB(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range truncateTables {
		if _, err := db.Exec("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE"); err != nil {
			t.Fatalf("ResetDB() failed: %v", err)
		}
	}
}
