package queue

import "context"

// SyncTransport exists only so code paths that always go through a
// Transport value can be pointed at the `sync` sentinel without a special
// case; DispatcherTick itself never calls Enqueue for queue == "sync", it
// runs those inline through Runner instead. A Transport-typed field set
// to SyncTransport is useful in tests that want to assert nothing was
// ever enqueued.
type SyncTransport struct{}

func (SyncTransport) Enqueue(_ context.Context, queueName string, stepID uint64) error {
	panic("queue: SyncTransport.Enqueue called for queue " + queueName + "; sync steps must be handed to Runner directly")
}
