package storage

import (
	"testing"

	"github.com/randalmurphal/phasetrack/internal/db"
)

// NewTestDatabaseStore creates a database store over a migrated in-memory
// SQLite database. The store is closed when the test completes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    store := storage.NewTestDatabaseStore(t)
//	    // use store...
//	}
func NewTestDatabaseStore(t testing.TB, opts ...DatabaseOption) *DatabaseStore {
	t.Helper()
	// db.NewTestDB registers the Close cleanup.
	return NewDatabaseStore(db.NewTestDB(t), opts...)
}
