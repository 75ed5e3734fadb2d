package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// queueEntry is one in-memory, awaiting-a-turn unit of work. It mirrors a
// durable sync-queue row (internal/storage) but carries the live backoff
// state a restart doesn't need to preserve.
type queueEntry struct {
	DocID         string
	DurableID     string
	Priority      int
	Retries       int
	LastAttemptAt time.Time
	EnqueuedAt    time.Time

	backoff *backoff.ExponentialBackOff
}

func newEntryBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryDelay
	b.Multiplier = cfg.RetryBackoffFactor
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(1<<63 - 1)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// nextDelay advances the entry's backoff state one step. With
// RandomizationFactor 0 this reproduces spec §4.4's
// retryDelay × backoffFactor^attempts exactly: the first call returns
// retryDelay, the second retryDelay×factor, and so on.
func (e *queueEntry) nextDelay() time.Duration {
	return e.backoff.NextBackOff()
}

// popBest removes and returns the highest-priority, fewest-retries,
// oldest-lastAttemptAt entry from queue (spec §4.4 step 1). Entries never
// attempted (zero LastAttemptAt) sort before any that have been.
func popBest(queue []*queueEntry) ([]*queueEntry, *queueEntry) {
	if len(queue) == 0 {
		return queue, nil
	}
	best := 0
	for i := 1; i < len(queue); i++ {
		if better(queue[i], queue[best]) {
			best = i
		}
	}
	entry := queue[best]
	queue = append(queue[:best], queue[best+1:]...)
	return queue, entry
}

func better(a, b *queueEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Retries != b.Retries {
		return a.Retries < b.Retries
	}
	return a.LastAttemptAt.Before(b.LastAttemptAt)
}
