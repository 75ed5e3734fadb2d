package storage

import "github.com/fieldsync/offline-core/internal/synccore"

// ErrNotConnected is returned by any operation attempted before Connect.
var ErrNotConnected = synccore.Storage("storage: not connected", nil)

func notFound(resource, id string) error {
	return synccore.NotFound(resource+" not found: "+id, nil)
}

func storageErr(message string, cause error) error {
	return synccore.Storage(message, cause)
}
