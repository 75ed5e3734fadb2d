package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldsync/offline-core/internal/crdt"
	"github.com/fieldsync/offline-core/internal/docstore"
	"github.com/fieldsync/offline-core/internal/storage"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.RetryBackoffFactor = 1
	cfg.MaxConcurrentSyncs = 2
	cfg.SyncOnStartup = false
	cfg.SyncOnDocumentChange = false
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config, transport Transport) (*Manager, *docstore.Store, storage.Adapter) {
	t.Helper()
	adapter := storage.NewMemoryAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	store := docstore.New(adapter, "replica-a", zerolog.Nop())
	mgr := New(cfg, store, adapter, transport, zerolog.Nop())
	return mgr, store, adapter
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManager_EnqueueDocument_SucceedsAndMarksSynced(t *testing.T) {
	transport := TransportFunc(func(ctx context.Context, docID string, update []byte) ([]byte, error) {
		return nil, nil
	})
	mgr, store, _ := newTestScheduler(t, fastConfig(), transport)
	ctx := context.Background()
	store.CreateDocument(ctx, "doc-1", crdt.KindMap, map[string]interface{}{"a": 1})

	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mgr.Stop()

	if err := mgr.EnqueueDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("EnqueueDocument failed: %v", err)
	}

	waitFor(t, func() bool { return mgr.Stats().SuccessCount == 1 })

	meta, err := store.GetMetadata(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.SyncStatus != storage.StatusSynced {
		t.Errorf("SyncStatus = %s, want synced", meta.SyncStatus)
	}
	if meta.LastSynced == nil {
		t.Error("LastSynced not set")
	}
}

func TestManager_ExcludedDocIsNeverDispatched(t *testing.T) {
	var calls int32
	transport := TransportFunc(func(ctx context.Context, docID string, update []byte) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	cfg := fastConfig()
	cfg.ExcludedDocs = map[string]bool{"doc-1": true}
	mgr, store, _ := newTestScheduler(t, cfg, transport)
	ctx := context.Background()
	store.CreateDocument(ctx, "doc-1", crdt.KindMap, map[string]interface{}{"a": 1})
	mgr.Start(ctx)
	defer mgr.Stop()

	mgr.EnqueueDocument(ctx, "doc-1")
	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("transport called %d times for excluded doc", calls)
	}
}

func TestManager_RetriesThenSucceeds(t *testing.T) {
	var attempts int32
	transport := TransportFunc(func(ctx context.Context, docID string, update []byte) ([]byte, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, errors.New("transient failure")
		}
		return nil, nil
	})
	mgr, store, _ := newTestScheduler(t, fastConfig(), transport)
	ctx := context.Background()
	store.CreateDocument(ctx, "doc-1", crdt.KindMap, map[string]interface{}{"a": 1})
	mgr.Start(ctx)
	defer mgr.Stop()

	mgr.EnqueueDocument(ctx, "doc-1")
	waitFor(t, func() bool { return mgr.Stats().SuccessCount == 1 })

	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestManager_MaxRetriesExhausted_MarksDocFailed(t *testing.T) {
	transport := TransportFunc(func(ctx context.Context, docID string, update []byte) ([]byte, error) {
		return nil, errors.New("permanent failure")
	})
	cfg := fastConfig()
	cfg.RetryLimit = 2
	mgr, store, _ := newTestScheduler(t, cfg, transport)
	ctx := context.Background()
	store.CreateDocument(ctx, "doc-1", crdt.KindMap, map[string]interface{}{"a": 1})

	var maxRetriesSeen int32
	mgr.OnEvent(func(ev Event) {
		if ev.Name == "sync:max-retries" {
			atomic.StoreInt32(&maxRetriesSeen, 1)
		}
	})

	mgr.Start(ctx)
	defer mgr.Stop()
	mgr.EnqueueDocument(ctx, "doc-1")

	waitFor(t, func() bool { return atomic.LoadInt32(&maxRetriesSeen) == 1 })

	meta, _ := store.GetMetadata(ctx, "doc-1")
	if meta.SyncStatus != storage.StatusFailed {
		t.Errorf("SyncStatus = %s, want failed", meta.SyncStatus)
	}
}

func TestManager_PauseStopsNewDispatch(t *testing.T) {
	var calls int32
	transport := TransportFunc(func(ctx context.Context, docID string, update []byte) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	mgr, store, _ := newTestScheduler(t, fastConfig(), transport)
	ctx := context.Background()
	store.CreateDocument(ctx, "doc-1", crdt.KindMap, map[string]interface{}{"a": 1})
	mgr.Start(ctx)
	defer mgr.Stop()

	mgr.Pause()
	mgr.EnqueueDocument(ctx, "doc-1")
	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("transport called while paused")
	}

	mgr.Resume()
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 1 })
}

func TestManager_SyncOnDocumentChangeTriggersEnqueue(t *testing.T) {
	transport := TransportFunc(func(ctx context.Context, docID string, update []byte) ([]byte, error) {
		return nil, nil
	})
	cfg := fastConfig()
	cfg.SyncOnDocumentChange = true
	mgr, store, _ := newTestScheduler(t, cfg, transport)
	ctx := context.Background()

	mgr.Start(ctx)
	defer mgr.Stop()

	doc, err := store.CreateDocument(ctx, "doc-1", crdt.KindMap, map[string]interface{}{"a": 1})
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	doc.Transact(crdt.OriginLocal, func(tx *crdt.Tx) error {
		return tx.SetPath("a", 2)
	})

	waitFor(t, func() bool { return mgr.Stats().SuccessCount >= 1 })
}
