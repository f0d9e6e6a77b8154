package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stepflow/stepflow/internal/data/repos/testutil"
	"github.com/stepflow/stepflow/internal/queue"
)

func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	return goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
}

func TestRedisTransport_Enqueue_PushesOntoList(t *testing.T) {
	rdb := newTestRedis(t)
	transport := queue.NewRedisTransport(rdb, "", testutil.Logger(t))

	if err := transport.Enqueue(context.Background(), "default", 7); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	length, err := rdb.LLen(context.Background(), "stepflow:queue:default").Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if length != 1 {
		t.Fatalf("expected one enqueued entry, got %d", length)
	}
}

func TestConsumer_Run_DeliversAndAcks(t *testing.T) {
	rdb := newTestRedis(t)
	transport := queue.NewRedisTransport(rdb, "", testutil.Logger(t))

	if err := transport.Enqueue(context.Background(), "default", 99); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var mu sync.Mutex
	var handled []uint64
	done := make(chan struct{})

	consumer := queue.NewConsumer(transport, "default", "worker-1", 50*time.Millisecond, func(ctx context.Context, stepID uint64) error {
		mu.Lock()
		handled = append(handled, stepID)
		mu.Unlock()
		close(done)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() { _ = consumer.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(900 * time.Millisecond):
		t.Fatal("timed out waiting for the consumer to deliver the enqueued step")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 1 || handled[0] != 99 {
		t.Fatalf("expected step 99 to be delivered exactly once, got %v", handled)
	}

	length, err := rdb.LLen(context.Background(), "stepflow:queue:default:processing:worker-1").Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if length != 0 {
		t.Fatalf("expected the processing list to be empty after ack, got %d entries", length)
	}
}
