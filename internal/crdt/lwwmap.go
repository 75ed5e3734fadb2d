package crdt

import "sync"

// LWWMap is a map-of-named-fields CRDT: each top-level key is an
// LWW-register. This is the "map of named fields" document kind from
// spec §3.1, and the algebra this backend's root handler names directly
// ("crdt": "LWW conflict resolution").
type LWWMap struct {
	mu        sync.RWMutex
	id        string
	replicaID string
	clock     *hybridClock

	fields map[string]fieldEntry // top-level key -> entry
	seen   map[string]uint64     // replicaID -> max seq applied from that replica

	observers   map[int]UpdateObserver
	nextObsID   int
	obsMu       sync.Mutex
}

type fieldEntry struct {
	Stamp stamp
	Value interface{}
}

// NewLWWMap creates an empty map document with the given stable identity.
// replicaID identifies this process/device for LWW tiebreaks and state
// vectors.
func NewLWWMap(id, replicaID string) *LWWMap {
	return &LWWMap{
		id:        id,
		replicaID: replicaID,
		clock:     newHybridClock(replicaID),
		fields:    make(map[string]fieldEntry),
		seen:      make(map[string]uint64),
		observers: make(map[int]UpdateObserver),
	}
}

func (m *LWWMap) ID() string   { return m.id }
func (m *LWWMap) Kind() Kind   { return KindMap }

func (m *LWWMap) Observe(observer UpdateObserver) func() {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = observer
	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		delete(m.observers, id)
	}
}

func (m *LWWMap) notify(update []byte, origin Origin) {
	m.obsMu.Lock()
	obs := make([]UpdateObserver, 0, len(m.observers))
	for _, o := range m.observers {
		obs = append(obs, o)
	}
	m.obsMu.Unlock()
	for _, o := range obs {
		o(update, origin)
	}
}

// Transact batches SetPath calls from fn into one update blob, stamps each
// changed top-level field with a fresh hybrid-clock tuple, merges them into
// local state, and notifies observers once.
func (m *LWWMap) Transact(origin Origin, fn func(*Tx) error) error {
	tx := &Tx{doc: m, changed: make(map[string]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.changed) == 0 {
		return nil
	}

	m.mu.Lock()
	entries := make(map[string]fieldEntry, len(tx.changed))
	for key := range tx.changed {
		entries[key] = m.fields[key]
	}
	m.mu.Unlock()

	blob, err := gobEncode(wireMapUpdate{ReplicaID: m.replicaID, Fields: entries})
	if err != nil {
		return err
	}
	m.notify(blob, origin)
	return nil
}

func (m *LWWMap) setPath(tx *Tx, path string, value interface{}) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil // root replace unsupported, spec §9 no-op
	}
	key := segs[0]

	m.mu.Lock()
	cur := m.fields[key]
	newValue, err := navigateSet(cur.Value, segs[1:], value)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	ts, seq := m.clock.next()
	m.fields[key] = fieldEntry{Stamp: stamp{Ts: ts, ReplicaID: m.replicaID, Seq: seq}, Value: newValue}
	m.seen[m.replicaID] = seq
	m.mu.Unlock()

	tx.changed[key] = true
	return nil
}

func (m *LWWMap) getPath(path string) (interface{}, bool) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return m.Snapshot(), true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.fields[segs[0]]
	if !ok {
		return nil, false
	}
	if len(segs) == 1 {
		return entry.Value, true
	}
	cur := entry.Value
	for _, seg := range segs[1:] {
		next, err := step(deepClone(cur), seg)
		if err != nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Snapshot materializes the document as a plain map[string]interface{}.
func (m *LWWMap) Snapshot() interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]interface{}, len(m.fields))
	for k, e := range m.fields {
		out[k] = deepClone(e.Value)
	}
	return out
}

type wireMapUpdate struct {
	ReplicaID string
	Fields    map[string]fieldEntry
}

type wireMapStateVector struct {
	Seen map[string]uint64
}

// GetUpdate returns fields whose stamp sequence (on their owning replica)
// is newer than what sinceStateVector records having seen, or the full
// state when sinceStateVector is nil.
func (m *LWWMap) GetUpdate(sinceStateVector []byte) ([]byte, error) {
	var sv wireMapStateVector
	if sinceStateVector != nil {
		if err := gobDecode(sinceStateVector, &sv); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make(map[string]fieldEntry)
	for key, entry := range m.fields {
		if sv.Seen == nil {
			entries[key] = entry
			continue
		}
		if entry.Stamp.Seq > sv.Seen[entry.Stamp.ReplicaID] {
			entries[key] = entry
		}
	}
	return gobEncode(wireMapUpdate{ReplicaID: m.replicaID, Fields: entries})
}

func (m *LWWMap) GetStateVector() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]uint64, len(m.seen))
	for k, v := range m.seen {
		seen[k] = v
	}
	return gobEncode(wireMapStateVector{Seen: seen})
}

// ApplyUpdate merges incoming entries by the LWW rule (higher stamp wins,
// ties broken by replica id then sequence) and is idempotent: applying the
// same update twice leaves state unchanged the second time.
func (m *LWWMap) ApplyUpdate(blob []byte, origin Origin) error {
	var update wireMapUpdate
	if err := gobDecode(blob, &update); err != nil {
		return err
	}
	if len(update.Fields) == 0 {
		return nil
	}

	m.mu.Lock()
	anyApplied := false
	for key, incoming := range update.Fields {
		cur, exists := m.fields[key]
		if !exists || incoming.Stamp.greaterThan(cur.Stamp) {
			m.fields[key] = incoming
			anyApplied = true
		}
		if incoming.Stamp.Seq > m.seen[incoming.Stamp.ReplicaID] {
			m.seen[incoming.Stamp.ReplicaID] = incoming.Stamp.Seq
		}
		m.clock.observeSeq(incoming.Stamp.Seq)
	}
	m.mu.Unlock()

	if anyApplied {
		m.notify(blob, origin)
	}
	return nil
}
