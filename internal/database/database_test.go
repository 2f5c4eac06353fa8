package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *HistoryDB {
	t.Helper()
	db, err := NewHistoryDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})
	return db
}

// TestDatabaseCreation verifies database file creation in a nested directory
func TestDatabaseCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "history.db")

	db, err := NewHistoryDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

// TestWALModeEnabled verifies that WAL mode is properly configured
func TestWALModeEnabled(t *testing.T) {
	db := openTestDB(t)

	var journalMode string
	require.NoError(t, db.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

// TestSchemaIsIdempotent verifies reopening an existing database keeps its rows
func TestSchemaIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := NewHistoryDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.RecordAction(ActionRecord{Action: ActionRecompress, Operation: "jpeg", Path: "/p/a.jpg"}))
	require.NoError(t, db.Close())

	db, err = NewHistoryDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	records, err := db.GetRecentActions(10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecordAndQueryRecent(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().Add(-time.Hour)

	require.NoError(t, db.RecordAction(ActionRecord{
		Timestamp:  base,
		Action:     ActionRecompress,
		Operation:  "jpeg",
		Path:       "/photos/a.jpg",
		SizeBefore: 1000,
		SizeAfter:  900,
	}))
	require.NoError(t, db.RecordAction(ActionRecord{
		Timestamp:      base.Add(time.Minute),
		Action:         ActionConvert,
		Operation:      "png",
		Path:           "/photos/fake.png",
		OutputPath:     "/photos/fake.png.jpg",
		DetectedFormat: "JPEG",
		SizeBefore:     2000,
		SizeAfter:      1500,
	}))
	require.NoError(t, db.RecordAction(ActionRecord{
		Timestamp:    base.Add(2 * time.Minute),
		Action:       ActionError,
		Operation:    "png",
		Path:         "/photos/broken.png",
		ErrorMessage: "jpegtran exited with code 1",
	}))

	records, err := db.GetRecentActions(2)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, ActionError, records[0].Action)
	assert.Equal(t, "broken.png", records[0].FileName)
	assert.Equal(t, "jpegtran exited with code 1", records[0].ErrorMessage)

	assert.Equal(t, ActionConvert, records[1].Action)
	assert.Equal(t, "/photos/fake.png.jpg", records[1].OutputPath)
	assert.Equal(t, "JPEG", records[1].DetectedFormat)
	assert.Equal(t, int64(500), records[1].BytesSaved())
	assert.WithinDuration(t, base.Add(time.Minute), records[1].Timestamp, time.Second)
}

func TestQueryFilters(t *testing.T) {
	db := openTestDB(t)

	entries := []ActionRecord{
		{Action: ActionRecompress, Operation: "jpeg", Path: "/a/one.jpg", SizeBefore: 100, SizeAfter: 90},
		{Action: ActionRecompress, Operation: "jpeg", Path: "/b/two.jpg", SizeBefore: 500, SizeAfter: 100},
		{Action: ActionSkip, Operation: "png", Path: "/a/real.png", Reason: "format PNG"},
		{Action: ActionDelete, Operation: "png", Path: "/a/fake.png", SizeBefore: 300},
	}
	for _, e := range entries {
		require.NoError(t, db.RecordAction(e))
	}

	byAction, err := db.GetActionsByAction(ActionRecompress)
	require.NoError(t, err)
	assert.Len(t, byAction, 2)

	byPath, err := db.GetActionsByPath("/a/%")
	require.NoError(t, err)
	assert.Len(t, byPath, 3)

	largest, err := db.GetLargestSavings(1)
	require.NoError(t, err)
	require.Len(t, largest, 1)
	assert.Equal(t, "/b/two.jpg", largest[0].Path)
}

func TestActionStats(t *testing.T) {
	db := openTestDB(t)

	entries := []ActionRecord{
		{Action: ActionRecompress, Operation: "jpeg", Path: "/a/one.jpg", SizeBefore: 100, SizeAfter: 90},
		{Action: ActionConvert, Operation: "png", Path: "/a/fake.png", SizeBefore: 300, SizeAfter: 200},
		{Action: ActionDelete, Operation: "png", Path: "/a/fake.png", SizeBefore: 300},
		{Action: ActionSkip, Operation: "png", Path: "/a/real.png"},
		{Action: ActionError, Operation: "jpeg", Path: "/a/bad.jpg"},
		{Timestamp: time.Now().AddDate(0, 0, -60), Action: ActionRecompress, Operation: "jpeg", Path: "/old.jpg", SizeBefore: 10, SizeAfter: 5},
	}
	for _, e := range entries {
		require.NoError(t, db.RecordAction(e))
	}

	stats, err := db.GetActionStats(30)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Recompressed)
	assert.Equal(t, 1, stats.Converted)
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, int64(110), stats.BytesSaved)
	assert.Equal(t, 3, stats.ByOperation["png"])
	assert.Equal(t, 1, stats.ByAction[ActionDelete])
}

func TestDeleteOldRecords(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.RecordAction(ActionRecord{
		Timestamp: time.Now().AddDate(0, 0, -90),
		Action:    ActionRecompress, Operation: "jpeg", Path: "/old.jpg",
	}))
	require.NoError(t, db.RecordAction(ActionRecord{Action: ActionRecompress, Operation: "jpeg", Path: "/new.jpg"}))

	removed, err := db.DeleteOldRecords(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	require.NoError(t, db.Vacuum())

	records, err := db.GetRecentActions(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/new.jpg", records[0].Path)
}
