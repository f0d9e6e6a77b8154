package notify

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/platform/logger"
)

// Redis is a publish-only StepNotifier: one channel, one Publish call per
// event, no delivery guarantee. That is acceptable here specifically
// because this path carries observational state (useful for a UI
// following along) rather than anything the engine depends on for
// correctness.
type Redis struct {
	rdb     *goredis.Client
	channel string
	log     *logger.Logger
}

func NewRedis(rdb *goredis.Client, channel string, baseLog *logger.Logger) *Redis {
	if channel == "" {
		channel = "stepflow:step-events"
	}
	return &Redis{rdb: rdb, channel: channel, log: baseLog.With("component", "RedisNotifier")}
}

type event struct {
	StepID     uint64             `json:"step_id"`
	WorkflowID string             `json:"workflow_id"`
	From       workflow.StepState `json:"from"`
	To         workflow.StepState `json:"to"`
}

func (n *Redis) StepTransitioned(ctx context.Context, step *workflow.Step, from workflow.StepState) {
	payload, err := json.Marshal(event{
		StepID:     step.ID,
		WorkflowID: step.WorkflowID.String(),
		From:       from,
		To:         step.State,
	})
	if err != nil {
		n.log.Error("notify: failed to encode event", "step_id", step.ID, "error", err)
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.log.Error("notify: publish failed", "step_id", step.ID, "error", err)
	}
}
