package pipeline

import (
	"zoho-order-sync/internal/models"
)

// Kind classifies why an attempt failed.
type Kind string

const (
	KindNone       Kind = "none"
	KindContact    Kind = "contact"
	KindSubmission Kind = "submission"
	KindUnexpected Kind = "unexpected"
)

const (
	MsgSuccess          = "Successfully pushed to Zoho."
	MsgContactFailed    = "could not create contact"
	MsgSubmissionFailed = "something went wrong with pushing the order data"
)

// Result is the outcome of one push attempt. The queue entry is updated
// from it, never the other way round.
type Result struct {
	OrderID       int64             `json:"order_id"`
	AttemptID     string            `json:"attempt_id"`
	Status        models.SyncStatus `json:"status"`
	Kind          Kind              `json:"kind"`
	Message       string            `json:"message"`
	SalesOrderID  string            `json:"salesorder_id,omitempty"`
	MissingLines  []string          `json:"missing_lines,omitempty"`
	InactiveLines []string          `json:"inactive_lines,omitempty"`
}

func (r Result) OK() bool {
	return r.Status == models.StatusSuccess
}

func failed(kind Kind, message string) Result {
	return Result{Status: models.StatusError, Kind: kind, Message: message}
}
