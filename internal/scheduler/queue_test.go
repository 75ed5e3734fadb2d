package scheduler

import (
	"testing"
	"time"
)

func TestPopBest_PrefersHigherPriority(t *testing.T) {
	low := &queueEntry{DocID: "low", Priority: 0}
	high := &queueEntry{DocID: "high", Priority: 1}
	queue, got := popBest([]*queueEntry{low, high})
	if got.DocID != "high" {
		t.Fatalf("popBest = %s, want high", got.DocID)
	}
	if len(queue) != 1 || queue[0].DocID != "low" {
		t.Fatalf("remaining queue = %+v", queue)
	}
}

func TestPopBest_PrefersFewerRetries(t *testing.T) {
	retried := &queueEntry{DocID: "retried", Retries: 3}
	fresh := &queueEntry{DocID: "fresh", Retries: 0}
	_, got := popBest([]*queueEntry{retried, fresh})
	if got.DocID != "fresh" {
		t.Fatalf("popBest = %s, want fresh", got.DocID)
	}
}

func TestPopBest_PrefersOlderLastAttempt(t *testing.T) {
	now := time.Now()
	recent := &queueEntry{DocID: "recent", LastAttemptAt: now}
	older := &queueEntry{DocID: "older", LastAttemptAt: now.Add(-time.Hour)}
	_, got := popBest([]*queueEntry{recent, older})
	if got.DocID != "older" {
		t.Fatalf("popBest = %s, want older", got.DocID)
	}
}

func TestPopBest_NeverAttemptedSortsFirst(t *testing.T) {
	attempted := &queueEntry{DocID: "attempted", LastAttemptAt: time.Now()}
	never := &queueEntry{DocID: "never"}
	_, got := popBest([]*queueEntry{attempted, never})
	if got.DocID != "never" {
		t.Fatalf("popBest = %s, want never", got.DocID)
	}
}
