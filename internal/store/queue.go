package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"zoho-order-sync/internal/models"
)

// ErrEntryNotFound is returned when an order has never been enqueued.
var ErrEntryNotFound = errors.New("queue entry not found")

// Enqueue inserts a queued entry for the order unless one already exists,
// whatever its status. It reports whether a new entry was created.
func (s *Store) Enqueue(ctx context.Context, orderID int64) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_sync_queue (order_id, status, tries, message, created_at, updated_at)
		VALUES ($1, $2, 0, '', $3, $3)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID, string(models.StatusQueued), now)
	if err != nil {
		return false, fmt.Errorf("enqueue order %d: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue order %d: rows affected: %w", orderID, err)
	}
	return n == 1, nil
}

// ListPending returns ids of queued or failed orders still within maxTries.
func (s *Store) ListPending(ctx context.Context, maxTries int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id FROM order_sync_queue
		WHERE status IN ($1, $2) AND tries <= $3
		ORDER BY order_id
	`, string(models.StatusQueued), string(models.StatusError), maxTries)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountPending counts entries ListPending would return.
func (s *Store) CountPending(ctx context.Context, maxTries int) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM order_sync_queue WHERE status IN ($1, $2) AND tries <= $3
	`, string(models.StatusQueued), string(models.StatusError), maxTries).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// UpdateStatus sets the status of an entry in a single conditional UPDATE.
// An empty message keeps the previously recorded one; countAsTry bumps tries by one.
func (s *Store) UpdateStatus(ctx context.Context, orderID int64, status models.SyncStatus, message string, countAsTry bool) error {
	if !status.Valid() {
		return fmt.Errorf("update order %d: invalid status %q", orderID, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE order_sync_queue
		SET status = $2,
		    message = CASE WHEN CAST($3 AS TEXT) <> '' THEN CAST($3 AS TEXT) ELSE message END,
		    tries = tries + CASE WHEN $4 THEN 1 ELSE 0 END,
		    updated_at = $5
		WHERE order_id = $1
	`, orderID, string(status), message, countAsTry, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update order %d: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %d: rows affected: %w", orderID, err)
	}
	if n == 0 {
		return fmt.Errorf("update order %d: %w", orderID, ErrEntryNotFound)
	}
	return nil
}

const entryColumns = `order_id, status, tries, message, created_at, updated_at`

// Get fetches the queue entry of one order.
func (s *Store) Get(ctx context.Context, orderID int64) (models.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM order_sync_queue WHERE order_id = $1`, orderID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueueEntry{}, fmt.Errorf("order %d: %w", orderID, ErrEntryNotFound)
	}
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return entry, nil
}

// ListFilter narrows List. ExhaustedAbove > 0 keeps only non-successful
// entries whose tries exceed it.
type ListFilter struct {
	Status         models.SyncStatus
	ExhaustedAbove int
	Limit          int
}

// List returns queue entries for inspection, most recently updated first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]models.QueueEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.ExhaustedAbove > 0 {
		args = append(args, string(models.StatusSuccess), f.ExhaustedAbove)
		where = append(where, fmt.Sprintf("status <> $%d AND tries > $%d", len(args)-1, len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + entryColumns + ` FROM order_sync_queue`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY updated_at DESC, order_id LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (models.QueueEntry, error) {
	var (
		entry  models.QueueEntry
		status string
	)
	if err := row.Scan(&entry.OrderID, &status, &entry.Tries, &entry.Message, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return models.QueueEntry{}, err
	}
	entry.Status = models.SyncStatus(status)
	return entry, nil
}
