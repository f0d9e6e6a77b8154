package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stepflow/stepflow/internal/data/repos/testutil"
	"github.com/stepflow/stepflow/internal/domain/workflow"
	"github.com/stepflow/stepflow/internal/notify"
)

func TestRedisNotifier_PublishesOnTransition(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	notifier := notify.NewRedis(rdb, "", testutil.Logger(t))

	sub := rdb.Subscribe(context.Background(), "stepflow:step-events")
	defer sub.Close()
	// Wait for the subscription to register before publishing.
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	step := &workflow.Step{WorkflowID: uuid.New(), State: workflow.StateCompleted}
	step.ID = 5
	notifier.StepTransitioned(context.Background(), step, workflow.StateRunning)

	select {
	case msg := <-sub.Channel():
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload["step_id"].(float64) != 5 {
			t.Fatalf("expected step_id 5, got %v", payload["step_id"])
		}
		if payload["to"] != string(workflow.StateCompleted) {
			t.Fatalf("expected to=Completed, got %v", payload["to"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the published event")
	}
}

func TestNoopNotifier_DoesNotPanic(t *testing.T) {
	var n notify.Noop
	step := &workflow.Step{WorkflowID: uuid.New(), State: workflow.StateCompleted}
	n.StepTransitioned(context.Background(), step, workflow.StateRunning)
}
