package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpiryScan sweeps the lot registry for overdue lots.
	TaskExpiryScan = "stock:expiry_scan"
	// TaskStockResync recomputes one product's counters from its lots.
	TaskStockResync = "stock:resync"
)

// ExpiryScanPayload carries scheduling metadata for the nightly sweep.
type ExpiryScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewExpiryScanTask constructs the nightly expiry sweep task.
func NewExpiryScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExpiryScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryScan, body, asynq.Queue(QueueDefault)), nil
}

// StockResyncPayload names the product whose counters need recomputing.
type StockResyncPayload struct {
	ProductID int64 `json:"product_id"`
}

// NewStockResyncTask constructs a per-product resync task.
func NewStockResyncTask(productID int64) (*asynq.Task, error) {
	body, err := json.Marshal(StockResyncPayload{ProductID: productID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockResync, body, asynq.Queue(QueueDefault)), nil
}
