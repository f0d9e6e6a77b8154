package queue

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stepflow/stepflow/internal/platform/logger"
)

// RedisTransport implements Transport on top of a Redis list per queue
// name: Enqueue is RPUSH, and a Consumer drains with BLMove into a
// per-worker processing list so a worker that dies mid-job leaves its
// claimed step recoverable rather than silently dropped, the reliable-
// queue pattern list-backed Redis queues use in place of pub/sub, which
// has no redelivery story for a subscriber that was offline when the
// message was published.
type RedisTransport struct {
	rdb    *goredis.Client
	prefix string
	log    *logger.Logger
}

func NewRedisTransport(rdb *goredis.Client, prefix string, baseLog *logger.Logger) *RedisTransport {
	if prefix == "" {
		prefix = "stepflow:queue:"
	}
	return &RedisTransport{rdb: rdb, prefix: prefix, log: baseLog.With("component", "RedisTransport")}
}

func (t *RedisTransport) key(queueName string) string {
	return t.prefix + queueName
}

func (t *RedisTransport) processingKey(queueName, worker string) string {
	return t.prefix + queueName + ":processing:" + worker
}

func (t *RedisTransport) Enqueue(ctx context.Context, queueName string, stepID uint64) error {
	return t.rdb.RPush(ctx, t.key(queueName), strconv.FormatUint(stepID, 10)).Err()
}

// Consumer drains one queue, handing each stepID to handle. It blocks on
// BLMove with a timeout so it can observe context cancellation between
// polls. It always removes the entry from the processing list after
// calling handle, even if handle returns an error: redelivering a step
// whose state has already moved past Dispatched is a harmless no-op in
// Runner, so there is no retry-on-transport-failure path here.
type Consumer struct {
	transport *RedisTransport
	queueName string
	worker    string
	handle    func(ctx context.Context, stepID uint64) error
	poll      time.Duration
}

func NewConsumer(transport *RedisTransport, queueName, worker string, poll time.Duration, handle func(ctx context.Context, stepID uint64) error) *Consumer {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Consumer{transport: transport, queueName: queueName, worker: worker, handle: handle, poll: poll}
}

func (c *Consumer) Run(ctx context.Context) error {
	src := c.transport.key(c.queueName)
	dst := c.transport.processingKey(c.queueName, c.worker)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		val, err := c.transport.rdb.BLMove(ctx, src, dst, "LEFT", "RIGHT", c.poll).Result()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.transport.log.Error("consumer BLMove failed", "queue", c.queueName, "error", err)
			continue
		}

		stepID, parseErr := strconv.ParseUint(val, 10, 64)
		if parseErr != nil {
			c.transport.log.Error("consumer got malformed step id", "raw", val, "error", parseErr)
			c.transport.rdb.LRem(ctx, dst, 1, val)
			continue
		}

		if err := c.handle(ctx, stepID); err != nil {
			c.transport.log.Error("consumer handle failed", "step_id", stepID, "error", err)
		}
		if err := c.transport.rdb.LRem(ctx, dst, 1, val).Err(); err != nil {
			c.transport.log.Error("consumer failed to ack", "step_id", stepID, "error", err)
		}
	}
}
