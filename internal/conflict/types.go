// Package conflict is the Conflict Manager (spec §4.3): detects structural
// divergence between a document's local and remote snapshots, classifies
// it, and projects a chosen resolution back into the live CRDT via
// internal/docstore.
package conflict

import "time"

// Kind is the per-divergence classification tag (spec §3.4).
type Kind string

const (
	KindValue      Kind = "value"
	KindStructure  Kind = "structure"
	KindDeletion   Kind = "deletion"
	KindExistence  Kind = "existence"
	KindDependency Kind = "dependency"
	KindVersion    Kind = "version"
	KindSchema     Kind = "schema"
	KindOther      Kind = "other"
)

// Status is a Record's lifecycle state (spec §3.4).
type Status string

const (
	StatusDetected Status = "detected"
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
)

// Strategy is the closed set of resolution strategies (spec §4.3).
type Strategy string

const (
	StrategyKeepLocal    Strategy = "keep_local"
	StrategyAcceptRemote Strategy = "accept_remote"
	StrategyTakeNewer    Strategy = "take_newer"
	StrategyTakeOlder    Strategy = "take_older"
	StrategyAutoMerge    Strategy = "auto_merge"
	StrategyMerge        Strategy = "merge"
	StrategyFieldLevel   Strategy = "field_level"
	StrategyCustom       Strategy = "custom"
	StrategyManual       Strategy = "manual"
)

// Record is a detected conflict (spec §3.4). LocalModifiedAt/RemoteModifiedAt
// are optional metadata timestamps supplied by the caller of Detect, used by
// take_newer/take_older.
type Record struct {
	ID          string
	DocID       string
	Path        string
	Type        Kind
	LocalValue  interface{}
	RemoteValue interface{}
	Status      Status

	LocalModifiedAt  *time.Time
	RemoteModifiedAt *time.Time

	DetectedAt time.Time
	ResolvedAt *time.Time
	ResolvedBy *string

	Strategy         *Strategy
	ResolvedValue    interface{}
	FieldResolutions map[string]Strategy
}

// AuditEntry is an immutable, append-only log row (spec §3.5).
type AuditEntry struct {
	ID         string
	ConflictID string
	DocID      string
	Timestamp  time.Time
	Action     string
	Principal  *string
	Details    string
}

// ResolutionResult is returned by Resolve.
type ResolutionResult struct {
	Record        *Record
	ResolvedValue interface{}
}
