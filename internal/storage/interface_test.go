package storage

import (
	"context"
	"testing"
	"time"

	"github.com/fieldsync/offline-core/internal/synccore"
)

func TestMemoryAdapter_DocumentAndMetadataAreAtomic(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	meta := Metadata{DocID: "doc-1", Kind: "map", Version: 1, SyncStatus: StatusUnsynced, CreatedAt: time.Now(), LastModified: time.Now()}
	if err := a.PutDocument(ctx, "doc-1", []byte("state"), meta); err != nil {
		t.Fatalf("PutDocument failed: %v", err)
	}

	state, gotMeta, err := a.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if string(state) != "state" {
		t.Errorf("state = %q, want %q", state, "state")
	}
	if gotMeta.Version != 1 {
		t.Errorf("meta.Version = %d, want 1", gotMeta.Version)
	}

	if err := a.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if _, _, err := a.GetDocument(ctx, "doc-1"); !synccore.Is(err, synccore.KindNotFound) {
		t.Errorf("expected not-found after delete, got %v", err)
	}
	if _, err := a.GetMetadata(ctx, "doc-1"); !synccore.Is(err, synccore.KindNotFound) {
		t.Errorf("expected metadata not-found after delete, got %v", err)
	}
}

func TestMemoryAdapter_UpdateMetadataPatch(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	a.Connect(ctx)

	meta := Metadata{DocID: "doc-1", Version: 1, SyncStatus: StatusUnsynced}
	a.PutDocument(ctx, "doc-1", []byte("x"), meta)

	synced := StatusSynced
	version := int64(2)
	if err := a.UpdateMetadata(ctx, "doc-1", MetadataPatch{SyncStatus: &synced, Version: &version}); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}

	got, err := a.GetMetadata(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if got.SyncStatus != StatusSynced || got.Version != 2 {
		t.Errorf("metadata after patch = %+v", got)
	}
}

func TestMemoryAdapter_SyncQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	a.Connect(ctx)

	id, err := a.EnqueueSync(ctx, QueueEntry{DocID: "doc-1", Operation: OpUpdate, Status: QueuePending, EnqueuedAt: time.Now()})
	if err != nil {
		t.Fatalf("EnqueueSync failed: %v", err)
	}

	pending := QueuePending
	entries, err := a.ListSyncQueue(ctx, &pending)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListSyncQueue(pending) = %v, %v", entries, err)
	}

	done := QueueCompleted
	if err := a.UpdateSyncQueue(ctx, id, QueueEntryPatch{Status: &done}); err != nil {
		t.Fatalf("UpdateSyncQueue failed: %v", err)
	}
	entries, _ = a.ListSyncQueue(ctx, &pending)
	if len(entries) != 0 {
		t.Errorf("expected 0 pending entries after completion, got %d", len(entries))
	}

	if err := a.ClearSyncQueue(ctx, &done); err != nil {
		t.Fatalf("ClearSyncQueue failed: %v", err)
	}
	all, _ := a.ListSyncQueue(ctx, nil)
	if len(all) != 0 {
		t.Errorf("expected empty queue after clear, got %d", len(all))
	}
}

func TestMemoryAdapter_AssetsAndConfigs(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter()
	a.Connect(ctx)

	if err := a.PutAsset(ctx, "tile-1", []byte("png-bytes")); err != nil {
		t.Fatalf("PutAsset failed: %v", err)
	}
	got, err := a.GetAsset(ctx, "tile-1")
	if err != nil || string(got) != "png-bytes" {
		t.Errorf("GetAsset = %q, %v", got, err)
	}

	if err := a.PutConfig(ctx, "scheduler", []byte(`{"maxConcurrent":3}`)); err != nil {
		t.Fatalf("PutConfig failed: %v", err)
	}
	cfg, err := a.GetConfig(ctx, "scheduler")
	if err != nil || string(cfg) != `{"maxConcurrent":3}` {
		t.Errorf("GetConfig = %q, %v", cfg, err)
	}
}
