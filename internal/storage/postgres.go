package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAdapter implements Adapter for PostgreSQL, across five tables:
// documents, metadata, sync_queue, assets, configs. Document and metadata
// rows are written in the same transaction so a reader never observes one
// without the other.
type PostgresAdapter struct {
	config    *Config
	pool      *pgxpool.Pool
	connected bool
}

func NewPostgresAdapter(config *Config) *PostgresAdapter {
	if config == nil {
		config = DefaultConfig()
	}
	return &PostgresAdapter{config: config}
}

func (p *PostgresAdapter) Connect(ctx context.Context) error {
	poolConfig, err := pgxpool.ParseConfig(p.config.ConnectionString)
	if err != nil {
		return storageErr("failed to parse connection string", err)
	}

	poolConfig.MinConns = p.config.PoolMinConns
	poolConfig.MaxConns = p.config.PoolMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return storageErr("failed to connect to postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return storageErr("failed to ping postgres", err)
	}

	p.pool = pool
	p.connected = true
	return nil
}

func (p *PostgresAdapter) Disconnect(ctx context.Context) error {
	if p.pool != nil {
		p.pool.Close()
		p.connected = false
	}
	return nil
}

func (p *PostgresAdapter) IsConnected() bool { return p.connected && p.pool != nil }

func (p *PostgresAdapter) HealthCheck(ctx context.Context) (bool, error) {
	if !p.IsConnected() {
		return false, ErrNotConnected
	}
	err := p.pool.Ping(ctx)
	return err == nil, err
}

func (p *PostgresAdapter) PutDocument(ctx context.Context, id string, state []byte, meta Metadata) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return storageErr("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, state)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET state = $2
	`, id, state)
	if err != nil {
		return storageErr("failed to upsert document", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO metadata (doc_id, kind, created_at, last_modified, last_synced, version, sync_status, size, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (doc_id) DO UPDATE SET
			last_modified = $4, last_synced = $5, version = $6, sync_status = $7,
			size = $8, updated_by = $10
	`, id, meta.Kind, meta.CreatedAt, meta.LastModified, meta.LastSynced, meta.Version, meta.SyncStatus, meta.Size, meta.CreatedBy, meta.UpdatedBy)
	if err != nil {
		return storageErr("failed to upsert metadata", err)
	}

	return tx.Commit(ctx)
}

func (p *PostgresAdapter) GetDocument(ctx context.Context, id string) ([]byte, *Metadata, error) {
	if !p.IsConnected() {
		return nil, nil, ErrNotConnected
	}

	var state []byte
	err := p.pool.QueryRow(ctx, `SELECT state FROM documents WHERE id = $1`, id).Scan(&state)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, notFound("document", id)
		}
		return nil, nil, storageErr("failed to get document", err)
	}

	meta, err := p.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return state, meta, nil
}

func (p *PostgresAdapter) DeleteDocument(ctx context.Context, id string) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return storageErr("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return storageErr("failed to delete document", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM metadata WHERE doc_id = $1`, id); err != nil {
		return storageErr("failed to delete metadata", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresAdapter) ListDocumentIDs(ctx context.Context, limit, offset int) ([]string, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.pool.Query(ctx, `SELECT id FROM documents ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, storageErr("failed to list documents", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("failed to scan document id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *PostgresAdapter) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	var m Metadata
	m.DocID = id
	err := p.pool.QueryRow(ctx, `
		SELECT kind, created_at, last_modified, last_synced, version, sync_status, size, created_by, updated_by
		FROM metadata WHERE doc_id = $1
	`, id).Scan(&m.Kind, &m.CreatedAt, &m.LastModified, &m.LastSynced, &m.Version, &m.SyncStatus, &m.Size, &m.CreatedBy, &m.UpdatedBy)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound("metadata", id)
		}
		return nil, storageErr("failed to get metadata", err)
	}
	return &m, nil
}

func (p *PostgresAdapter) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	meta, err := p.GetMetadata(ctx, id)
	if err != nil {
		return err
	}
	applyMetadataPatch(meta, patch)

	_, err = p.pool.Exec(ctx, `
		UPDATE metadata SET last_modified = $2, last_synced = $3, version = $4,
			sync_status = $5, size = $6, updated_by = $7
		WHERE doc_id = $1
	`, id, meta.LastModified, meta.LastSynced, meta.Version, meta.SyncStatus, meta.Size, meta.UpdatedBy)
	if err != nil {
		return storageErr("failed to update metadata", err)
	}
	return nil
}

func (p *PostgresAdapter) PutAsset(ctx context.Context, key string, data []byte) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO assets (key, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET data = $2, updated_at = NOW()
	`, key, data)
	if err != nil {
		return storageErr("failed to put asset", err)
	}
	return nil
}

func (p *PostgresAdapter) GetAsset(ctx context.Context, key string) ([]byte, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM assets WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound("asset", key)
		}
		return nil, storageErr("failed to get asset", err)
	}
	return data, nil
}

func (p *PostgresAdapter) DeleteAsset(ctx context.Context, key string) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM assets WHERE key = $1`, key)
	if err != nil {
		return storageErr("failed to delete asset", err)
	}
	return nil
}

func (p *PostgresAdapter) PutConfig(ctx context.Context, key string, data []byte) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO configs (key, data) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET data = $2
	`, key, data)
	if err != nil {
		return storageErr("failed to put config", err)
	}
	return nil
}

func (p *PostgresAdapter) GetConfig(ctx context.Context, key string) ([]byte, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM configs WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound("config", key)
		}
		return nil, storageErr("failed to get config", err)
	}
	return data, nil
}

func (p *PostgresAdapter) DeleteConfig(ctx context.Context, key string) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM configs WHERE key = $1`, key)
	if err != nil {
		return storageErr("failed to delete config", err)
	}
	return nil
}

func (p *PostgresAdapter) EnqueueSync(ctx context.Context, entry QueueEntry) (string, error) {
	if !p.IsConnected() {
		return "", ErrNotConnected
	}
	var id string
	err := p.pool.QueryRow(ctx, `
		INSERT INTO sync_queue (doc_id, operation, payload, status, retries, priority, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, entry.DocID, entry.Operation, entry.Payload, entry.Status, entry.Retries, entry.Priority, entry.EnqueuedAt).Scan(&id)
	if err != nil {
		return "", storageErr("failed to enqueue sync entry", err)
	}
	return id, nil
}

func (p *PostgresAdapter) ListSyncQueue(ctx context.Context, status *QueueStatus) ([]QueueEntry, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	query := `SELECT id, doc_id, operation, payload, status, retries, priority, enqueued_at, last_attempt_at, last_error FROM sync_queue`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY priority DESC, enqueued_at ASC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to list sync queue", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.ID, &e.DocID, &e.Operation, &e.Payload, &e.Status, &e.Retries, &e.Priority, &e.EnqueuedAt, &e.LastAttemptAt, &e.LastError); err != nil {
			return nil, storageErr("failed to scan sync queue entry", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (p *PostgresAdapter) UpdateSyncQueue(ctx context.Context, id string, patch QueueEntryPatch) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	entries, err := p.ListSyncQueue(ctx, nil)
	if err != nil {
		return err
	}
	var found *QueueEntry
	for i := range entries {
		if entries[i].ID == id {
			found = &entries[i]
			break
		}
	}
	if found == nil {
		return notFound("sync queue entry", id)
	}
	if patch.Status != nil {
		found.Status = *patch.Status
	}
	if patch.Retries != nil {
		found.Retries = *patch.Retries
	}
	if patch.LastAttemptAt != nil {
		found.LastAttemptAt = patch.LastAttemptAt
	}
	if patch.LastError != nil {
		found.LastError = *patch.LastError
	}

	_, err = p.pool.Exec(ctx, `
		UPDATE sync_queue SET status = $2, retries = $3, last_attempt_at = $4, last_error = $5
		WHERE id = $1
	`, id, found.Status, found.Retries, found.LastAttemptAt, found.LastError)
	if err != nil {
		return storageErr("failed to update sync queue entry", err)
	}
	return nil
}

func (p *PostgresAdapter) RemoveSyncQueue(ctx context.Context, id string) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return storageErr("failed to remove sync queue entry", err)
	}
	return nil
}

func (p *PostgresAdapter) ClearSyncQueue(ctx context.Context, status *QueueStatus) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	var err error
	if status == nil {
		_, err = p.pool.Exec(ctx, `DELETE FROM sync_queue`)
	} else {
		_, err = p.pool.Exec(ctx, `DELETE FROM sync_queue WHERE status = $1`, *status)
	}
	if err != nil {
		return storageErr("failed to clear sync queue", err)
	}
	return nil
}
