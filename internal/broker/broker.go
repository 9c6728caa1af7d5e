// Package broker is the pub/sub backbone for room broadcasts. Every API
// process publishes persisted messages here and delivers whatever arrives to
// its locally connected sessions; with more than one process live the Redis
// implementation is required, since in-process room membership is not visible
// across processes.
package broker

import "context"

// Handler receives every published room event, including events published by
// the local process.
type Handler func(room string, payload []byte)

// Broker implementations: Redis (multi-process), Memory (single process, -dev, tests).
type Broker interface {
	Publish(ctx context.Context, room string, payload []byte) error
	Subscribe(h Handler)
	Close() error
}
