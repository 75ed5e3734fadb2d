// Package docstore is the Document Store (spec §4.2): lifecycle of
// replicated documents and their metadata, brokering every read/write and
// emitting change events the Scheduler and Conflict Manager observe.
package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldsync/offline-core/internal/crdt"
	"github.com/fieldsync/offline-core/internal/storage"
	"github.com/fieldsync/offline-core/internal/synccore"
)

// ChangeEvent is delivered to subscribers on every local or remote mutation.
type ChangeEvent struct {
	DocID  string
	Origin crdt.Origin
	Update []byte
}

// Observer receives change events; origin distinguishes local from remote
// so a Scheduler can break the echo loop on applyRemoteUpdate (spec §4.2).
type Observer func(ChangeEvent)

// Store owns the in-memory map of replicated documents (spec §4.2).
type Store struct {
	adapter   storage.Adapter
	replicaID string
	log       zerolog.Logger

	mu   sync.RWMutex
	docs map[string]crdt.Document

	obsMu       sync.Mutex
	observers   map[string]map[int]Observer
	globalObs   map[int]Observer
	nextObsID   int

	savers sync.Map // docId -> *docSaver
}

// New constructs a Store backed by adapter. replicaID identifies this
// process for CRDT tiebreaks (spec §6.3).
func New(adapter storage.Adapter, replicaID string, log zerolog.Logger) *Store {
	return &Store{
		adapter:   adapter,
		replicaID: replicaID,
		log:       log.With().Str("component", "docstore").Logger(),
		docs:      make(map[string]crdt.Document),
		observers: make(map[string]map[int]Observer),
		globalObs: make(map[int]Observer),
	}
}

func (s *Store) HasDocument(docID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[docID]
	return ok
}

// CreateDocument fails with an already-exists-kind error if docID already exists.
func (s *Store) CreateDocument(ctx context.Context, docID string, kind crdt.Kind, initialFields map[string]interface{}) (crdt.Document, error) {
	s.mu.Lock()
	if _, exists := s.docs[docID]; exists {
		s.mu.Unlock()
		return nil, synccore.AlreadyExists("document already exists: "+docID, nil)
	}

	doc, err := crdt.New(docID, s.replicaID, kind)
	if err != nil {
		s.mu.Unlock()
		return nil, synccore.InvalidArgument(err.Error(), err)
	}
	s.docs[docID] = doc
	s.mu.Unlock()

	s.wire(doc)

	now := time.Now()
	meta := storage.Metadata{
		DocID:        docID,
		Kind:         string(kind),
		CreatedAt:    now,
		LastModified: now,
		Version:      0,
		SyncStatus:   storage.StatusUnsynced,
	}

	if len(initialFields) > 0 {
		if err := doc.Transact(crdt.OriginLocal, func(tx *crdt.Tx) error {
			for k, v := range initialFields {
				if err := tx.SetPath(k, v); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			s.mu.Lock()
			delete(s.docs, docID)
			s.mu.Unlock()
			return nil, synccore.InvalidArgument("failed to apply initial fields", err)
		}
		meta.Version = 1
	}

	if err := s.adapter.PutDocument(ctx, docID, mustUpdate(doc), meta); err != nil {
		s.mu.Lock()
		delete(s.docs, docID)
		s.mu.Unlock()
		return nil, synccore.Storage("failed to persist new document", err)
	}

	return doc, nil
}

// GetDocument lazy-loads docID from the persistence layer if it is not
// already resident in memory.
func (s *Store) GetDocument(ctx context.Context, docID string) (crdt.Document, error) {
	s.mu.RLock()
	doc, ok := s.docs[docID]
	s.mu.RUnlock()
	if ok {
		return doc, nil
	}

	state, meta, err := s.adapter.GetDocument(ctx, docID)
	if err != nil {
		return nil, synccore.NotFound("document not found: "+docID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[docID]; ok {
		return doc, nil
	}

	newDoc, err := crdt.New(docID, s.replicaID, crdt.Kind(meta.Kind))
	if err != nil {
		return nil, synccore.Storage("failed to construct document from stored kind", err)
	}
	if err := newDoc.ApplyUpdate(state, crdt.OriginRemote); err != nil {
		return nil, synccore.Storage("failed to hydrate document from stored state", err)
	}
	s.docs[docID] = newDoc
	s.wire(newDoc)
	return newDoc, nil
}

// DeleteDocument is idempotent and cascades to metadata.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	s.mu.Lock()
	delete(s.docs, docID)
	s.mu.Unlock()

	s.obsMu.Lock()
	delete(s.observers, docID)
	s.obsMu.Unlock()

	if err := s.adapter.DeleteDocument(ctx, docID); err != nil {
		return synccore.Storage("failed to delete document", err)
	}
	return nil
}

// ApplyRemoteUpdate applies update bytes under origin=remote; observers MUST
// NOT enqueue sync work for the resulting event.
func (s *Store) ApplyRemoteUpdate(ctx context.Context, docID string, update []byte) error {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if err := doc.ApplyUpdate(update, crdt.OriginRemote); err != nil {
		return synccore.Storage("failed to apply remote update", err)
	}
	return nil
}

func (s *Store) GetUpdate(ctx context.Context, docID string, sinceStateVector []byte) ([]byte, error) {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	update, err := doc.GetUpdate(sinceStateVector)
	if err != nil {
		return nil, synccore.Storage("failed to compute update", err)
	}
	return update, nil
}

func (s *Store) GetStateVector(ctx context.Context, docID string) ([]byte, error) {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	sv, err := doc.GetStateVector()
	if err != nil {
		return nil, synccore.Storage("failed to compute state vector", err)
	}
	return sv, nil
}

// Subscribe registers observer for docID and returns an unsubscribe func.
func (s *Store) Subscribe(docID string, observer Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	if s.observers[docID] == nil {
		s.observers[docID] = make(map[int]Observer)
	}
	id := s.nextObsID
	s.nextObsID++
	s.observers[docID][id] = observer
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers[docID], id)
	}
}

// SubscribeAll registers observer for every document's changes, present and
// future, without the caller needing to know document IDs in advance. The
// Scheduler uses this for its "sync on document change" trigger (spec §4.4).
func (s *Store) SubscribeAll(observer Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObsID
	s.nextObsID++
	s.globalObs[id] = observer
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.globalObs, id)
	}
}

func (s *Store) GetMetadata(ctx context.Context, docID string) (*storage.Metadata, error) {
	meta, err := s.adapter.GetMetadata(ctx, docID)
	if err != nil {
		return nil, synccore.NotFound("metadata not found: "+docID, err)
	}
	return meta, nil
}

func (s *Store) UpdateMetadata(ctx context.Context, docID string, patch storage.MetadataPatch) error {
	if err := s.adapter.UpdateMetadata(ctx, docID, patch); err != nil {
		return synccore.Storage("failed to update metadata", err)
	}
	return nil
}

// wire attaches the store's change pipeline to a document's CRDT observer,
// exactly once per document.
func (s *Store) wire(doc crdt.Document) {
	doc.Observe(func(update []byte, origin crdt.Origin) {
		s.onChange(doc.ID(), update, origin)
	})
}

// onChange implements the change pipeline (spec §4.2): local mutations bump
// version and schedule a coalesced save; remote mutations mark the document
// synced. Both paths notify subscribers.
func (s *Store) onChange(docID string, update []byte, origin crdt.Origin) {
	ctx := context.Background()
	meta, err := s.adapter.GetMetadata(ctx, docID)
	if err != nil {
		s.log.Warn().Err(err).Str("docId", docID).Msg("change pipeline: metadata missing")
		return
	}

	now := time.Now()
	switch origin {
	case crdt.OriginLocal:
		meta.Version++
		meta.LastModified = now
		if meta.SyncStatus != storage.StatusConflict {
			meta.SyncStatus = storage.StatusUnsynced
		}
	case crdt.OriginRemote:
		meta.LastSynced = &now
		meta.SyncStatus = storage.StatusSynced
	}

	patch := storage.MetadataPatch{
		LastModified: &meta.LastModified,
		LastSynced:   meta.LastSynced,
		Version:      &meta.Version,
		SyncStatus:   &meta.SyncStatus,
	}
	if err := s.adapter.UpdateMetadata(ctx, docID, patch); err != nil {
		s.log.Warn().Err(err).Str("docId", docID).Msg("change pipeline: metadata update failed")
	}

	s.scheduleSave(docID)

	s.obsMu.Lock()
	obs := make([]Observer, 0, len(s.observers[docID])+len(s.globalObs))
	for _, o := range s.observers[docID] {
		obs = append(obs, o)
	}
	for _, o := range s.globalObs {
		obs = append(obs, o)
	}
	s.obsMu.Unlock()

	event := ChangeEvent{DocID: docID, Origin: origin, Update: update}
	for _, o := range obs {
		o(event)
	}
}

// docSaver coalesces concurrent save requests for one docId: at most one
// persist runs at a time, and a save requested while one is in flight is
// folded into a single follow-up pass over the then-current state, rather
// than queued as a backlog (spec §4.2 "save coalescing").
type docSaver struct {
	mu     sync.Mutex
	saving bool
	dirty  bool
}

func (s *Store) scheduleSave(docID string) {
	v, _ := s.savers.LoadOrStore(docID, &docSaver{})
	saver := v.(*docSaver)

	saver.mu.Lock()
	if saver.saving {
		saver.dirty = true
		saver.mu.Unlock()
		return
	}
	saver.saving = true
	saver.mu.Unlock()

	go s.saveLoop(docID, saver)
}

func (s *Store) saveLoop(docID string, saver *docSaver) {
	for {
		if err := s.persist(docID); err != nil {
			s.log.Warn().Err(err).Str("docId", docID).Msg("save failed, marking syncStatus=failed")
			failed := storage.StatusFailed
			s.adapter.UpdateMetadata(context.Background(), docID, storage.MetadataPatch{SyncStatus: &failed})
		}

		saver.mu.Lock()
		if saver.dirty {
			saver.dirty = false
			saver.mu.Unlock()
			continue
		}
		saver.saving = false
		saver.mu.Unlock()
		return
	}
}

func (s *Store) persist(docID string) error {
	s.mu.RLock()
	doc, ok := s.docs[docID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	meta, err := s.adapter.GetMetadata(context.Background(), docID)
	if err != nil {
		return err
	}
	return s.adapter.PutDocument(context.Background(), docID, mustUpdate(doc), *meta)
}

func mustUpdate(doc crdt.Document) []byte {
	update, err := doc.GetUpdate(nil)
	if err != nil {
		return nil
	}
	return update
}
