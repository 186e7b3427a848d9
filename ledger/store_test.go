package ledger

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// TestEntryCreateIssuesInsert exercises Entry's gorm wiring against a
// mocked SQL connection rather than a real file: creating an Entry, the
// call the background writer makes for each queued entry, is verified
// to issue an INSERT into usage_entries without touching disk.
func TestEntryCreateIssuesInsert(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	gormDB, err := gorm.Open(sqlite.Dialector{Conn: mockDB}, &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO .usage_entries.").WillReturnResult(sqlmock.NewResult(1, 1))

	err = gormDB.Create(&Entry{
		RequestID: "r1",
		Backend:   "anthropic",
		ServedAt:  time.Now(),
	}).Error
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
