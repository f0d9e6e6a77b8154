// Package queue implements the named-queue transport contract: at-least-
// once delivery, with the engine never relying on it for ordering or
// exactly-once semantics. SyncTransport stands in for the `sync` sentinel
// but never executes anything (its Enqueue panics; DispatcherTick runs
// sync steps inline through Runner without touching a Transport);
// RedisTransport is a reliable list-backed queue rather than pub/sub,
// since pub/sub drops messages with no subscriber connected and this
// contract requires at-least-once
// delivery even across a worker restart.
package queue

import "context"

// Transport is the narrow surface DispatcherTick's hand-off stage needs.
// It matches dispatcher.Transport; defined again here (rather than
// imported) so this package has no dependency on the engine.
type Transport interface {
	Enqueue(ctx context.Context, queueName string, stepID uint64) error
}
