// Package storage is the Persistence Layer (spec §4.1): durable,
// transactional, key-indexed storage for the five logical collections
// (documents, metadata, syncQueue, assets, configs), generalized from the
// teacher's single-table Postgres document store.
package storage

import "time"

// SyncStatus is the closed set of document sync states (spec §3.2).
type SyncStatus string

const (
	StatusUnsynced SyncStatus = "unsynced"
	StatusSyncing  SyncStatus = "syncing"
	StatusSynced   SyncStatus = "synced"
	StatusFailed   SyncStatus = "failed"
	StatusConflict SyncStatus = "conflict"
	StatusOffline  SyncStatus = "offline"
)

// Metadata is the per-document record maintained by the Document Store and
// persisted through this layer (spec §3.2).
type Metadata struct {
	DocID        string     `json:"docId"`
	Kind         string     `json:"kind"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastModified time.Time  `json:"lastModified"`
	LastSynced   *time.Time `json:"lastSynced,omitempty"`
	Version      int64      `json:"version"`
	SyncStatus   SyncStatus `json:"syncStatus"`
	Size         int64      `json:"size"`
	CreatedBy    string     `json:"createdBy"`
	UpdatedBy    string     `json:"updatedBy"`
}

// MetadataPatch updates a subset of Metadata fields; nil fields are left
// unchanged.
type MetadataPatch struct {
	LastModified *time.Time
	LastSynced   *time.Time
	Version      *int64
	SyncStatus   *SyncStatus
	Size         *int64
	UpdatedBy    *string
}

// QueueOperation is the closed set of sync-queue operations (spec §3.3).
type QueueOperation string

const (
	OpCreate QueueOperation = "create"
	OpUpdate QueueOperation = "update"
	OpDelete QueueOperation = "delete"
)

// QueueStatus is the closed set of sync-queue entry states (spec §3.3).
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueEntry is a durable record describing outbound sync work for one
// document (spec §3.3).
type QueueEntry struct {
	ID            string
	DocID         string
	Operation     QueueOperation
	Payload       []byte
	Status        QueueStatus
	Retries       int
	Priority      int
	EnqueuedAt    time.Time
	LastAttemptAt *time.Time
	LastError     string
}

// QueueEntryPatch updates a subset of QueueEntry fields.
type QueueEntryPatch struct {
	Status        *QueueStatus
	Retries       *int
	LastAttemptAt *time.Time
	LastError     *string
}

// Asset is a per-document (or standalone) binary attachment, backing both
// generic document attachments and, via internal/mapcache, tile bytes
// (spec §6.1).
type Asset struct {
	Key         string
	Bytes       []byte
	ContentType string
	UpdatedAt   time.Time
}
