package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryAdapter is an in-process Adapter, used for tests and for a
// single-device deployment with no backing database configured. It
// guards all five collections with one mutex, favoring straightforward,
// obviously-correct synchronization over fine-grained locking in
// non-hot-path code.
type MemoryAdapter struct {
	mu sync.RWMutex

	connected bool

	documents map[string][]byte
	metadata  map[string]Metadata
	assets    map[string][]byte
	configs   map[string][]byte
	queue     map[string]QueueEntry
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		documents: make(map[string][]byte),
		metadata:  make(map[string]Metadata),
		assets:    make(map[string][]byte),
		configs:   make(map[string][]byte),
		queue:     make(map[string]QueueEntry),
	}
}

func (a *MemoryAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *MemoryAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *MemoryAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *MemoryAdapter) HealthCheck(ctx context.Context) (bool, error) {
	return a.IsConnected(), nil
}

func (a *MemoryAdapter) PutDocument(ctx context.Context, id string, state []byte, meta Metadata) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := make([]byte, len(state))
	copy(buf, state)
	a.documents[id] = buf
	a.metadata[id] = meta
	return nil
}

func (a *MemoryAdapter) GetDocument(ctx context.Context, id string) ([]byte, *Metadata, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	state, ok := a.documents[id]
	if !ok {
		return nil, nil, notFound("document", id)
	}
	meta := a.metadata[id]
	buf := make([]byte, len(state))
	copy(buf, state)
	return buf, &meta, nil
}

func (a *MemoryAdapter) DeleteDocument(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.documents, id)
	delete(a.metadata, id)
	return nil
}

func (a *MemoryAdapter) ListDocumentIDs(ctx context.Context, limit, offset int) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.documents))
	for id := range a.documents {
		ids = append(ids, id)
	}
	if offset >= len(ids) {
		return []string{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end], nil
}

func (a *MemoryAdapter) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	meta, ok := a.metadata[id]
	if !ok {
		return nil, notFound("metadata", id)
	}
	return &meta, nil
}

func (a *MemoryAdapter) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	meta, ok := a.metadata[id]
	if !ok {
		return notFound("metadata", id)
	}
	applyMetadataPatch(&meta, patch)
	a.metadata[id] = meta
	return nil
}

func applyMetadataPatch(meta *Metadata, patch MetadataPatch) {
	if patch.LastModified != nil {
		meta.LastModified = *patch.LastModified
	}
	if patch.LastSynced != nil {
		meta.LastSynced = patch.LastSynced
	}
	if patch.Version != nil {
		meta.Version = *patch.Version
	}
	if patch.SyncStatus != nil {
		meta.SyncStatus = *patch.SyncStatus
	}
	if patch.Size != nil {
		meta.Size = *patch.Size
	}
	if patch.UpdatedBy != nil {
		meta.UpdatedBy = *patch.UpdatedBy
	}
}

func (a *MemoryAdapter) PutAsset(ctx context.Context, key string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	a.assets[key] = buf
	return nil
}

func (a *MemoryAdapter) GetAsset(ctx context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.assets[key]
	if !ok {
		return nil, notFound("asset", key)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (a *MemoryAdapter) DeleteAsset(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.assets, key)
	return nil
}

func (a *MemoryAdapter) PutConfig(ctx context.Context, key string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs[key] = append([]byte(nil), data...)
	return nil
}

func (a *MemoryAdapter) GetConfig(ctx context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.configs[key]
	if !ok {
		return nil, notFound("config", key)
	}
	return append([]byte(nil), data...), nil
}

func (a *MemoryAdapter) DeleteConfig(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.configs, key)
	return nil
}

func (a *MemoryAdapter) EnqueueSync(ctx context.Context, entry QueueEntry) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	a.queue[entry.ID] = entry
	return entry.ID, nil
}

func (a *MemoryAdapter) ListSyncQueue(ctx context.Context, status *QueueStatus) ([]QueueEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]QueueEntry, 0, len(a.queue))
	for _, e := range a.queue {
		if status == nil || e.Status == *status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *MemoryAdapter) UpdateSyncQueue(ctx context.Context, id string, patch QueueEntryPatch) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.queue[id]
	if !ok {
		return notFound("sync queue entry", id)
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.Retries != nil {
		e.Retries = *patch.Retries
	}
	if patch.LastAttemptAt != nil {
		e.LastAttemptAt = patch.LastAttemptAt
	}
	if patch.LastError != nil {
		e.LastError = *patch.LastError
	}
	a.queue[id] = e
	return nil
}

func (a *MemoryAdapter) RemoveSyncQueue(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.queue, id)
	return nil
}

func (a *MemoryAdapter) ClearSyncQueue(ctx context.Context, status *QueueStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status == nil {
		a.queue = make(map[string]QueueEntry)
		return nil
	}
	for id, e := range a.queue {
		if e.Status == *status {
			delete(a.queue, id)
		}
	}
	return nil
}
