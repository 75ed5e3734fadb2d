// Package crdt is the default CRDT collaborator consumed by the document
// store (spec §6.3). The core itself does not mandate an algebra — it only
// requires the Document interface below — but no third-party Go CRDT
// library appears anywhere in the retrieved reference pack, so this
// package implements the two algebras named in this backend's own design
// notes: an LWW-element-map for structured documents, and an order-key sequence
// (Fugue-inspired: every element carries a globally unique, densely
// orderable position key, so inserts never require renumbering neighbors)
// for ordered text/lists.
package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind identifies a document's CRDT algebra, fixed at creation (spec §3.1).
type Kind string

const (
	KindMap  Kind = "map"
	KindList Kind = "list"
	KindText Kind = "text"
)

// Origin distinguishes a locally-initiated transaction from one replaying
// bytes received from a remote replica (spec §4.2 "origin tag").
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// UpdateObserver is notified once per transaction with the update blob that
// transaction produced and its origin.
type UpdateObserver func(update []byte, origin Origin)

// Document is the CRDT collaborator interface the core consumes (spec §6.3).
type Document interface {
	ID() string
	Kind() Kind

	// Transact batches mutations made via fn into a single update.
	Transact(origin Origin, fn func(*Tx) error) error

	// GetUpdate returns the incremental update since sinceStateVector, or
	// the full state if sinceStateVector is nil.
	GetUpdate(sinceStateVector []byte) ([]byte, error)
	GetStateVector() ([]byte, error)
	ApplyUpdate(blob []byte, origin Origin) error

	// Snapshot materializes the document as plain Go values for conflict
	// detection and for serializing responses.
	Snapshot() interface{}

	// Observe registers an observer and returns an unsubscribe func.
	Observe(observer UpdateObserver) (unsubscribe func())
}

// Tx is the transaction handle passed to Transact's callback. SetPath
// addresses a dotted path ("owner", "a.b.0.c") the same way conflict
// writeback does (spec §4.3 "Writeback"): a single top-level segment is a
// direct register/element set; deeper segments navigate the current
// materialized value of the addressed top-level field/element with plain
// Go map/slice indexing, mutate a clone, and set the whole field back —
// the field's LWW metadata (or the sequence element's) is what actually
// converges, with nested structure riding along as its payload.
type Tx struct {
	doc     crdtCore
	changed map[string]bool
}

// SetPath writes value at path. path == "" addresses the root, which is a
// no-op for Map/List roots per spec §9 ("writeback at the root is a
// semantic no-op unless the CRDT supports a replace-root transaction") —
// this collaborator does not support replace-root.
func (tx *Tx) SetPath(path string, value interface{}) error {
	return tx.doc.setPath(tx, path, value)
}

// Get reads the current materialized value at path, for callers that need
// to read-modify-write within a transaction.
func (tx *Tx) Get(path string) (interface{}, bool) {
	return tx.doc.getPath(path)
}

type crdtCore interface {
	setPath(tx *Tx, path string, value interface{}) error
	getPath(path string) (interface{}, bool)
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	return segs
}

// navigateSet mutates a deep-cloned plain value at the given sub-path
// (everything after the first segment) and returns the new root value.
func navigateSet(root interface{}, subPath []string, value interface{}) (interface{}, error) {
	if len(subPath) == 0 {
		return value, nil
	}
	cloned := deepClone(root)
	cur := cloned
	for i := 0; i < len(subPath)-1; i++ {
		next, err := step(cur, subPath[i])
		if err != nil {
			return nil, err
		}
		cur = next
	}
	last := subPath[len(subPath)-1]
	switch c := cur.(type) {
	case map[string]interface{}:
		c[last] = value
	case []interface{}:
		idx, err := atoi(last)
		if err != nil {
			return nil, err
		}
		for idx >= len(c) {
			c = append(c, nil)
		}
		c[idx] = value
	default:
		return nil, fmt.Errorf("crdt: cannot navigate into %T at segment %q", cur, last)
	}
	return cloned, nil
}

func step(cur interface{}, seg string) (interface{}, error) {
	switch c := cur.(type) {
	case map[string]interface{}:
		next, ok := c[seg]
		if !ok {
			next = map[string]interface{}{}
			c[seg] = next
		}
		return next, nil
	case []interface{}:
		idx, err := atoi(seg)
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(c) {
			return nil, fmt.Errorf("crdt: index %d out of range", idx)
		}
		return c[idx], nil
	default:
		return nil, fmt.Errorf("crdt: cannot navigate into %T", cur)
	}
}

func atoi(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("crdt: invalid numeric path segment %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

func deepClone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = deepClone(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = deepClone(vv)
		}
		return out
	default:
		return v
	}
}

// hybridClock produces (wallMillis, replica-local sequence) stamps so two
// writes issued within the same millisecond on the same replica still
// order deterministically against each other and against remote writes.
type hybridClock struct {
	mu       sync.Mutex
	replica  string
	lastTime int64
	seq      uint64
}

func newHybridClock(replica string) *hybridClock {
	return &hybridClock{replica: replica}
}

func (c *hybridClock) next() (ts int64, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= c.lastTime {
		now = c.lastTime + 1
	}
	c.lastTime = now
	c.seq++
	return now, c.seq
}

func (c *hybridClock) observeSeq(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seq {
		c.seq = seq
	}
}

func (c *hybridClock) localSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// stamp is the LWW tiebreak tuple: higher Ts wins; equal Ts breaks on
// ReplicaID then Seq so all replicas agree.
type stamp struct {
	Ts        int64
	ReplicaID string
	Seq       uint64
}

func (s stamp) greaterThan(o stamp) bool {
	if s.Ts != o.Ts {
		return s.Ts > o.Ts
	}
	if s.ReplicaID != o.ReplicaID {
		return s.ReplicaID > o.ReplicaID
	}
	return s.Seq > o.Seq
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func sortedKeys(m map[string]stamp) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
