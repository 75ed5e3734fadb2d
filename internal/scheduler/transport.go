package scheduler

import "context"

// Transport performs one sync round-trip for a document (spec §6.2's wire
// contract): send the update blob returned by the document store's
// getUpdate, receive back an update blob (possibly empty) to apply via
// applyRemoteUpdate. Implementations own the actual HTTP/fetch mechanics;
// the scheduler only knows about docId-scoped byte blobs.
type Transport interface {
	Sync(ctx context.Context, docID string, updateBlob []byte) (responseBlob []byte, err error)
}

// TransportFunc adapts a function to a Transport.
type TransportFunc func(ctx context.Context, docID string, updateBlob []byte) ([]byte, error)

func (f TransportFunc) Sync(ctx context.Context, docID string, updateBlob []byte) ([]byte, error) {
	return f(ctx, docID, updateBlob)
}

// Broadcaster is the cross-process fan-out the "network online" trigger
// rides on when one is configured (storage.RedisPubSub satisfies this): one
// process detecting connectivity return wakes every sibling process sharing
// the same backing store, not just its own dispatch loop.
type Broadcaster interface {
	PublishBroadcast(ctx context.Context, event string, data interface{}) error
	SubscribeToBroadcast(ctx context.Context, handler func(event string, data interface{})) error
}

const broadcastNetworkOnlineEvent = "network-online"
