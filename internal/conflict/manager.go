package conflict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldsync/offline-core/internal/crdt"
	"github.com/fieldsync/offline-core/internal/docstore"
	"github.com/fieldsync/offline-core/internal/storage"
	"github.com/fieldsync/offline-core/internal/synccore"
)

// Manager is the Conflict Manager (spec §4.3): detects divergence between
// snapshots and writes a chosen resolution back into the live document.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*Record
	audit   []AuditEntry

	store *docstore.Store
	log   zerolog.Logger
}

func New(store *docstore.Store, log zerolog.Logger) *Manager {
	return &Manager{
		records: make(map[string]*Record),
		store:   store,
		log:     log.With().Str("component", "conflict").Logger(),
	}
}

// DetectAndRecord runs Detect against the given snapshots and files each
// resulting candidate as a detected conflict record, returning the stored
// records.
func (m *Manager) DetectAndRecord(docID string, local, remote interface{}) []*Record {
	candidates := Detect(local, remote)
	if len(candidates) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Record, 0, len(candidates))
	for _, c := range candidates {
		c.ID = uuid.NewString()
		c.DocID = docID
		c.Status = StatusDetected
		c.DetectedAt = time.Now()
		m.records[c.ID] = c
		out = append(out, c)
		m.appendAudit(c.ID, docID, "detected", nil, fmt.Sprintf("path=%s type=%s", c.Path, c.Type))
	}
	return out
}

// Resolve applies strategy to conflictID and writes the result back into
// the document's CRDT state via docstore (spec §4.3).
func (m *Manager) Resolve(ctx context.Context, conflictID string, strategy Strategy, principal string, custom interface{}, fieldResolutions map[string]Strategy) (*ResolutionResult, error) {
	m.mu.Lock()
	record, ok := m.records[conflictID]
	if !ok {
		m.mu.Unlock()
		return nil, synccore.NotFound("conflict not found: "+conflictID, nil)
	}
	if record.Status == StatusResolved || record.Status == StatusIgnored {
		m.mu.Unlock()
		return nil, synccore.AlreadyResolved("conflict already "+string(record.Status), nil)
	}
	m.mu.Unlock()

	resolvedValue, err := m.computeResolution(record, strategy, custom, fieldResolutions)
	if err != nil {
		return nil, err
	}

	if err := m.writeback(ctx, record, resolvedValue); err != nil {
		m.log.Warn().Err(err).Str("conflictId", conflictID).Msg("writeback failed, conflict remains detected")
		m.mu.Lock()
		m.appendAudit(conflictID, record.DocID, "writeback-failed", &principal, err.Error())
		m.mu.Unlock()
		return nil, synccore.Storage("writeback failed", err)
	}

	m.mu.Lock()
	now := time.Now()
	record.Status = StatusResolved
	record.Strategy = &strategy
	record.ResolvedValue = resolvedValue
	record.ResolvedAt = &now
	record.ResolvedBy = &principal
	m.appendAudit(conflictID, record.DocID, "resolved", &principal, fmt.Sprintf("strategy=%s", strategy))
	m.mu.Unlock()

	// The document store's own change pipeline keeps syncStatus=conflict
	// intact across ordinary local edits (spec §4.2's "unless currently
	// conflict, which wins"); this is the one caller allowed to override
	// that and actually move the status off conflict, per §4.3 step 3.
	unsynced := storage.StatusUnsynced
	if err := m.store.UpdateMetadata(ctx, record.DocID, storage.MetadataPatch{SyncStatus: &unsynced}); err != nil {
		m.log.Warn().Err(err).Str("docId", record.DocID).Msg("failed to clear conflict syncStatus")
	}

	return &ResolutionResult{Record: record, ResolvedValue: resolvedValue}, nil
}

func (m *Manager) computeResolution(record *Record, strategy Strategy, custom interface{}, fieldResolutions map[string]Strategy) (interface{}, error) {
	switch strategy {
	case StrategyCustom:
		if custom == nil {
			return nil, synccore.InvalidArgument("custom strategy requires a value", nil)
		}
		return custom, nil
	case StrategyFieldLevel:
		return m.resolveFieldLevel(record, fieldResolutions)
	default:
		return resolveValue(record, strategy)
	}
}

// resolveFieldLevel starts from local and, for each field named in
// fieldResolutions, takes local/remote/merged as specified (spec §4.3).
func (m *Manager) resolveFieldLevel(record *Record, fieldResolutions map[string]Strategy) (interface{}, error) {
	localObj, ok := record.LocalValue.(map[string]interface{})
	if !ok {
		return nil, synccore.InvalidArgument("field_level requires an object-shaped conflict", nil)
	}
	remoteObj, _ := record.RemoteValue.(map[string]interface{})

	out := make(map[string]interface{}, len(localObj))
	for k, v := range localObj {
		out[k] = v
	}
	for field, strategy := range fieldResolutions {
		sub := &Record{
			LocalValue:       localObj[field],
			RemoteValue:      remoteObj[field],
			LocalModifiedAt:  record.LocalModifiedAt,
			RemoteModifiedAt: record.RemoteModifiedAt,
		}
		val, err := resolveValue(sub, strategy)
		if err != nil {
			return nil, err
		}
		out[field] = val
	}
	record.FieldResolutions = fieldResolutions
	return out, nil
}

func (m *Manager) writeback(ctx context.Context, record *Record, value interface{}) error {
	doc, err := m.store.GetDocument(ctx, record.DocID)
	if err != nil {
		return err
	}
	return doc.Transact(crdt.OriginLocal, func(tx *crdt.Tx) error {
		return tx.SetPath(record.Path, value)
	})
}

func (m *Manager) appendAudit(conflictID, docID, action string, principal *string, details string) {
	m.audit = append(m.audit, AuditEntry{
		ID:         uuid.NewString(),
		ConflictID: conflictID,
		DocID:      docID,
		Timestamp:  time.Now(),
		Action:     action,
		Principal:  principal,
		Details:    details,
	})
}

func (m *Manager) GetByDoc(docID string) []*Record { return m.filter(func(r *Record) bool { return r.DocID == docID }) }

func (m *Manager) GetByUser(principal string) []*Record {
	return m.filter(func(r *Record) bool { return r.ResolvedBy != nil && *r.ResolvedBy == principal })
}

func (m *Manager) GetByStatus(status Status) []*Record {
	return m.filter(func(r *Record) bool { return r.Status == status })
}

func (m *Manager) GetPending() []*Record { return m.GetByStatus(StatusDetected) }

func (m *Manager) GetAll() []*Record { return m.filter(func(*Record) bool { return true }) }

func (m *Manager) filter(pred func(*Record) bool) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Record
	for _, r := range m.records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Manager) GetAuditForConflict(conflictID string) []AuditEntry {
	return m.filterAudit(func(e AuditEntry) bool { return e.ConflictID == conflictID })
}

func (m *Manager) GetAuditForDocument(docID string) []AuditEntry {
	return m.filterAudit(func(e AuditEntry) bool { return e.DocID == docID })
}

func (m *Manager) GetAllAudit() []AuditEntry { return m.filterAudit(func(AuditEntry) bool { return true }) }

func (m *Manager) filterAudit(pred func(AuditEntry) bool) []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuditEntry
	for _, e := range m.audit {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// ClearResolved drops resolved records but retains their audit entries
// (spec §4.3).
func (m *Manager) ClearResolved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.Status == StatusResolved {
			delete(m.records, id)
		}
	}
}
