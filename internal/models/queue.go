package models

import (
	"time"
)

// SyncStatus enumerates queue entry states persisted in the sync queue.
type SyncStatus string

const (
	StatusQueued  SyncStatus = "queued"
	StatusSuccess SyncStatus = "success"
	StatusError   SyncStatus = "error"
)

// Valid reports whether s is one of the persisted states.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusSuccess, StatusError:
		return true
	}
	return false
}

// QueueEntry tracks one order's synchronization status and retry count.
type QueueEntry struct {
	OrderID   int64      `json:"order_id"`
	Status    SyncStatus `json:"status"`
	Tries     int        `json:"tries"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Exhausted reports whether automatic retries have given up on the entry.
func (e QueueEntry) Exhausted(maxTries int) bool {
	return e.Status != StatusSuccess && e.Tries > maxTries
}
