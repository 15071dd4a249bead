package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoho-order-sync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.RunMigrations(ctx))
	return st
}

func TestEnqueue_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	created, err := st.Enqueue(ctx, 42)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.Enqueue(ctx, 42)
	require.NoError(t, err)
	assert.False(t, created)

	entries, err := st.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusQueued, entries[0].Status)
	assert.Equal(t, 0, entries[0].Tries)
	assert.Equal(t, "", entries[0].Message)
}

func TestEnqueue_NoopWhateverStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, err := st.Enqueue(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, st.UpdateStatus(ctx, 7, models.StatusSuccess, "pushed", true))

	created, err := st.Enqueue(ctx, 7)
	require.NoError(t, err)
	assert.False(t, created)

	entry, err := st.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, entry.Status)
	assert.Equal(t, 1, entry.Tries)
}

func TestUpdateStatus_TriesMonotonic(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Enqueue(ctx, 1)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, st.UpdateStatus(ctx, 1, models.StatusError, "boom", true))
		entry, err := st.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, i, entry.Tries)
	}

	require.NoError(t, st.UpdateStatus(ctx, 1, models.StatusQueued, "", false))
	entry, err := st.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, entry.Tries)
	assert.Equal(t, models.StatusQueued, entry.Status)
}

func TestUpdateStatus_EmptyMessagePreserved(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Enqueue(ctx, 9)
	require.NoError(t, err)

	require.NoError(t, st.UpdateStatus(ctx, 9, models.StatusError, "could not create contact", true))
	require.NoError(t, st.UpdateStatus(ctx, 9, models.StatusError, "", true))

	entry, err := st.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "could not create contact", entry.Message)
	assert.Equal(t, 2, entry.Tries)

	require.NoError(t, st.UpdateStatus(ctx, 9, models.StatusSuccess, "X", true))
	entry, err = st.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "X", entry.Message)
}

func TestUpdateStatus_MissingEntry(t *testing.T) {
	st := newTestStore(t)

	err := st.UpdateStatus(context.Background(), 404, models.StatusError, "x", true)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	st := newTestStore(t)

	err := st.UpdateStatus(context.Background(), 1, models.SyncStatus("leased"), "", false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEntryNotFound))
}

func TestListPending_RespectsMaxTries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	bump := func(id int64, status models.SyncStatus, tries int) {
		_, err := st.Enqueue(ctx, id)
		require.NoError(t, err)
		for i := 0; i < tries; i++ {
			require.NoError(t, st.UpdateStatus(ctx, id, status, "", true))
		}
		require.NoError(t, st.UpdateStatus(ctx, id, status, "", false))
	}
	bump(1, models.StatusError, 10)
	bump(2, models.StatusError, 11)
	bump(3, models.StatusQueued, 0)
	bump(4, models.StatusSuccess, 1)

	ids, err := st.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, ids)

	n, err := st.CountPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	exhausted, err := st.List(ctx, ListFilter{ExhaustedAbove: 10})
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, int64(2), exhausted[0].OrderID)
	assert.True(t, exhausted[0].Exhausted(10))
}

func TestList_ByStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	for _, id := range []int64{1, 2, 3} {
		_, err := st.Enqueue(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, st.UpdateStatus(ctx, 2, models.StatusSuccess, "ok", true))

	entries, err := st.List(ctx, ListFilter{Status: models.StatusSuccess})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].OrderID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestGet_Missing(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Get(context.Background(), 5)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestUpdateStatus_DriverErrorWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := NewWithDB(db, "pgx")

	mock.ExpectExec("UPDATE order_sync_queue").
		WillReturnError(errors.New("connection reset"))

	err = st.UpdateStatus(context.Background(), 3, models.StatusError, "x", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NoRowsIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := NewWithDB(db, "pgx")

	mock.ExpectExec("UPDATE order_sync_queue").
		WithArgs(int64(3), "success", "", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.UpdateStatus(context.Background(), 3, models.StatusSuccess, "", false)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverFor(t *testing.T) {
	tests := []struct {
		dsn        string
		wantDriver string
		wantSource string
		wantErr    bool
	}{
		{"postgres://u:p@localhost/db", "pgx", "postgres://u:p@localhost/db", false},
		{"postgresql://localhost/db", "pgx", "postgresql://localhost/db", false},
		{"sqlite://./sync.db", "sqlite", "./sync.db", false},
		{"file:sync.db?_pragma=busy_timeout(5000)", "sqlite", "file:sync.db?_pragma=busy_timeout(5000)", false},
		{"mysql://localhost/db", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			driver, source, err := driverFor(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}
