// Package scheduler is the Background Sync Scheduler (spec §4.4): a durable
// outbound queue of per-document work, driven by network, focus, and
// document-change triggers, with bounded concurrency and bounded retries.
package scheduler

import "time"

// Mode selects when the scheduler processes its queue.
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeBackground Mode = "background"
	ModeManual     Mode = "manual"
	ModeScheduled  Mode = "scheduled"
)

// Direction constrains which way a sync round-trip moves data.
type Direction string

const (
	DirectionUpload       Direction = "upload"
	DirectionDownload     Direction = "download"
	DirectionBidirectional Direction = "bidirectional"
)

// State is the scheduler's own run state, distinct from any one document's
// per-entry queue status.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StatePaused  State = "paused"
	StateError   State = "error"
)

// Config is the closed set of recognized scheduler options (spec §4.4,
// §6.5). Unknown keys arriving from outside this struct (e.g. decoded from
// JSON/viper) must be rejected by the caller before constructing one.
type Config struct {
	Mode      Mode
	Direction Direction

	RetryLimit         int
	RetryDelay         time.Duration
	RetryBackoffFactor float64

	MaxConcurrentSyncs int
	BatchSize          int
	NetworkTimeout     time.Duration

	SyncOnStartup        bool
	SyncOnNetworkChange  bool
	SyncOnFocus          bool
	SyncOnDocumentChange bool

	PriorityDocs map[string]bool
	ExcludedDocs map[string]bool

	SyncInterval time.Duration
}

// DefaultConfig returns spec §4.4's documented defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeImmediate,
		Direction:            DirectionBidirectional,
		RetryLimit:           5,
		RetryDelay:           5 * time.Second,
		RetryBackoffFactor:   1.5,
		MaxConcurrentSyncs:   3,
		BatchSize:            10,
		NetworkTimeout:       30 * time.Second,
		SyncOnStartup:        true,
		SyncOnNetworkChange:  true,
		SyncOnFocus:          true,
		SyncOnDocumentChange: true,
		PriorityDocs:         map[string]bool{},
		ExcludedDocs:         map[string]bool{},
	}
}

// Stats tracks the rolling observability counters spec §4.4 requires.
type Stats struct {
	TotalSyncs   int64
	SuccessCount int64
	FailCount    int64

	LastDurations []time.Duration // most recent first, capped at 10
	LastResults   []Result        // most recent first, capped at 10
}

// AverageDuration is the rolling average over LastDurations.
func (s Stats) AverageDuration() time.Duration {
	if len(s.LastDurations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.LastDurations {
		total += d
	}
	return total / time.Duration(len(s.LastDurations))
}

// Result records the outcome of one completed sync round-trip.
type Result struct {
	DocID     string
	Success   bool
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

// Event is an observability notification (spec §4.4's "Observability" list).
type Event struct {
	Name  string
	DocID string
	Err   error
}

// EventHandler receives scheduler events; registered via Manager.OnEvent.
type EventHandler func(Event)
