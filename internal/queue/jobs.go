package queue

import (
	"fmt"
	"strconv"
	"strings"
)

// JobKind is the trigger a job id encodes.
type JobKind string

const (
	KindPushOrder      JobKind = "push-order"
	KindProcessQueue   JobKind = "process-queue"
	KindRebuildCatalog JobKind = "rebuild-catalog"
)

const (
	ProcessQueueJob   = string(KindProcessQueue)
	RebuildCatalogJob = string(KindRebuildCatalog)
)

// PushOrderJob is the job id that pushes a single order.
func PushOrderJob(orderID int64) string {
	return string(KindPushOrder) + ":" + strconv.FormatInt(orderID, 10)
}

// ParseJob splits a job id into its kind and, for push-order jobs, the order id.
func ParseJob(jobID string) (JobKind, int64, error) {
	switch jobID {
	case ProcessQueueJob:
		return KindProcessQueue, 0, nil
	case RebuildCatalogJob:
		return KindRebuildCatalog, 0, nil
	}
	rest, ok := strings.CutPrefix(jobID, string(KindPushOrder)+":")
	if !ok {
		return "", 0, fmt.Errorf("unknown job %q", jobID)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("bad order id in job %q", jobID)
	}
	return KindPushOrder, id, nil
}
