package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite3", "file:"+t.TempDir()+"/history.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runs := []Run{
		{ID: "run-1", Filename: "first", Succeeded: true, Attempts: 1, OutputCount: 1, DurationMs: 1200, CreatedAt: base},
		{ID: "run-2", Filename: "second", Succeeded: false, Category: "DEVICE_LIMIT_REACHED", Attempts: 1, Message: "limit hit", DurationMs: 900, CreatedAt: base.Add(time.Minute)},
		{ID: "run-3", Filename: "third", Succeeded: true, Attempts: 2, OutputCount: 2, DurationMs: 3400, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, run := range runs {
		require.NoError(t, store.Record(ctx, run))
	}

	got, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest first.
	assert.Equal(t, "run-3", got[0].ID)
	assert.Equal(t, "run-2", got[1].ID)
	assert.Equal(t, "run-1", got[2].ID)

	assert.Equal(t, "DEVICE_LIMIT_REACHED", got[1].Category)
	assert.Equal(t, "limit hit", got[1].Message)
	assert.Equal(t, 2, got[0].OutputCount)
	assert.True(t, got[0].Succeeded)
	assert.False(t, got[1].Succeeded)
}

func TestRecentRespectsLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, Run{
			ID:        "run-" + string(rune('a'+i)),
			Filename:  "book",
			Succeeded: true,
			Attempts:  1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRecentDefaultsLimit(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordDuplicateIDFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	run := Run{ID: "dup", Filename: "book", Succeeded: true, Attempts: 1, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Record(ctx, run))
	assert.Error(t, store.Record(ctx, run))
}

func TestRebindForPostgres(t *testing.T) {
	s := &Store{driver: "postgres"}
	assert.Equal(t, "INSERT INTO t VALUES ($1, $2, $3)", s.rebind("INSERT INTO t VALUES (?, ?, ?)"))

	s = &Store{driver: "sqlite3"}
	assert.Equal(t, "INSERT INTO t VALUES (?, ?, ?)", s.rebind("INSERT INTO t VALUES (?, ?, ?)"))
}
