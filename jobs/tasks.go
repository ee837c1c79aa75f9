package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/schoolledger/schoolledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAutoPromotion runs the yearly promotion pass when its date comes round.
	TaskAutoPromotion = "promotion:auto"
	// TaskRefreshTotals recomputes stored student totals as of today.
	TaskRefreshTotals = "billing:refresh_totals"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// JobPayload names who asked for a run; it becomes the audit actor.
type JobPayload struct {
	RequestedBy string `json:"requested_by"`
}

func (p JobPayload) actor() string {
	if p.RequestedBy == "" {
		return "scheduler"
	}
	return p.RequestedBy
}

// NewAutoPromotionTask creates an Asynq task for the automatic promotion check.
func NewAutoPromotionTask(requestedBy string) (*asynq.Task, error) {
	return newTask(TaskAutoPromotion, requestedBy)
}

// NewRefreshTotalsTask creates an Asynq task for the totals refresh.
func NewRefreshTotalsTask(requestedBy string) (*asynq.Task, error) {
	return newTask(TaskRefreshTotals, requestedBy)
}

func newTask(typ, requestedBy string) (*asynq.Task, error) {
	body, err := json.Marshal(JobPayload{RequestedBy: requestedBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}

func decodePayload(task *asynq.Task) (JobPayload, error) {
	var payload JobPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
