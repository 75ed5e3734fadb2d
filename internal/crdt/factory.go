package crdt

import "fmt"

// New constructs the default collaborator for the given document kind.
func New(id, replicaID string, kind Kind) (Document, error) {
	switch kind {
	case KindMap:
		return NewLWWMap(id, replicaID), nil
	case KindList, KindText:
		return NewSequence(id, replicaID, kind), nil
	default:
		return nil, fmt.Errorf("crdt: unknown kind %q", kind)
	}
}
