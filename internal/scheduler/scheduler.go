package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/fieldsync/offline-core/internal/crdt"
	"github.com/fieldsync/offline-core/internal/docstore"
	"github.com/fieldsync/offline-core/internal/storage"
	"github.com/fieldsync/offline-core/internal/synccore"
)

// Manager is the Background Sync Scheduler (spec §4.4). It owns an
// in-memory ordered queue mirrored by a durable one in the persistence
// layer, and drives documents toward the server's view subject to bounded
// concurrency and bounded retries.
type Manager struct {
	cfg       Config
	store     *docstore.Store
	adapter   storage.Adapter
	transport Transport
	log       zerolog.Logger

	sem *semaphore.Weighted

	mu            sync.Mutex
	state         State
	queue         []*queueEntry
	activeSyncs   map[string]struct{}
	activeCancels map[string]context.CancelFunc

	statsMu sync.Mutex
	stats   Stats

	obsMu    sync.Mutex
	handlers map[int]EventHandler
	nextObs  int

	wakeCh  chan struct{}
	stopCh  chan struct{}
	stopped chan struct{}

	presence       Broadcaster
	unsubDocChange func()
	ticker         *time.Ticker
}

// SetPresence wires a cross-process Broadcaster in before Start is called.
func (m *Manager) SetPresence(p Broadcaster) {
	m.presence = p
}

// New constructs a Manager. It does not start processing until Start is
// called.
func New(cfg Config, store *docstore.Store, adapter storage.Adapter, transport Transport, log zerolog.Logger) *Manager {
	if cfg.MaxConcurrentSyncs <= 0 {
		cfg.MaxConcurrentSyncs = 1
	}
	return &Manager{
		cfg:           cfg,
		store:         store,
		adapter:       adapter,
		transport:     transport,
		log:           log.With().Str("component", "scheduler").Logger(),
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrentSyncs)),
		state:         StateIdle,
		activeSyncs:   make(map[string]struct{}),
		activeCancels: make(map[string]context.CancelFunc),
		handlers:      make(map[int]EventHandler),
		wakeCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start rebuilds the in-memory queue from durable state, wires triggers, and
// begins the dispatch loop (spec §4.4 "Queue").
func (m *Manager) Start(ctx context.Context) error {
	if err := m.rebuildFromDurable(ctx); err != nil {
		return err
	}

	if m.cfg.SyncOnDocumentChange {
		m.unsubDocChange = m.store.SubscribeAll(func(ev docstore.ChangeEvent) {
			if ev.Origin != crdt.OriginLocal {
				return
			}
			m.EnqueueDocument(context.Background(), ev.DocID)
		})
	}

	if m.cfg.SyncOnStartup {
		if err := m.SyncAll(ctx); err != nil {
			m.log.Warn().Err(err).Msg("sync-on-startup enqueue failed")
		}
	}

	if m.cfg.Mode == ModeScheduled && m.cfg.SyncInterval > 0 {
		m.ticker = time.NewTicker(m.cfg.SyncInterval)
		go m.scheduledLoop()
	}

	if m.presence != nil {
		if err := m.presence.SubscribeToBroadcast(ctx, m.handleRemoteBroadcast); err != nil {
			m.log.Warn().Err(err).Msg("failed to subscribe to presence broadcast, continuing without it")
			m.presence = nil
		}
	}

	go m.loop()
	return nil
}

// handleRemoteBroadcast reacts to presence events published by sibling
// processes sharing this scheduler's backing store.
func (m *Manager) handleRemoteBroadcast(event string, _ interface{}) {
	if event != broadcastNetworkOnlineEvent {
		return
	}
	if m.cfg.SyncOnNetworkChange {
		m.wake()
	}
}

// Stop halts the dispatch loop and trigger wiring. In-flight syncs are left
// to finish; callers wanting a hard stop should cancel documents first.
func (m *Manager) Stop() {
	if m.unsubDocChange != nil {
		m.unsubDocChange()
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.stopCh)
	<-m.stopped
}

func (m *Manager) rebuildFromDurable(ctx context.Context) error {
	entries, err := m.adapter.ListSyncQueue(ctx, nil)
	if err != nil {
		return synccore.Storage("failed to rebuild sync queue", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.Status == storage.QueueCompleted {
			continue
		}
		qe := &queueEntry{
			DocID:         e.DocID,
			DurableID:     e.ID,
			Priority:      m.priorityOf(e.DocID),
			Retries:       e.Retries,
			EnqueuedAt:    e.EnqueuedAt,
			backoff:       newEntryBackoff(m.cfg),
		}
		if e.LastAttemptAt != nil {
			qe.LastAttemptAt = *e.LastAttemptAt
		}
		m.queue = append(m.queue, qe)
	}
	return nil
}

func (m *Manager) priorityOf(docID string) int {
	if m.cfg.PriorityDocs[docID] {
		return 1
	}
	return 0
}

// EnqueueDocument is the manual syncDocument() trigger (spec §4.4) and the
// landing point for every other trigger (observer, online, focus, startup,
// timer). Excluded documents are silently dropped; offline enqueue always
// succeeds since only the durable write, not a network call, happens here.
func (m *Manager) EnqueueDocument(ctx context.Context, docID string) error {
	if m.cfg.ExcludedDocs[docID] {
		return nil
	}

	m.mu.Lock()
	if _, active := m.activeSyncs[docID]; active {
		m.mu.Unlock()
		return nil
	}
	for _, e := range m.queue {
		if e.DocID == docID {
			m.mu.Unlock()
			return nil
		}
	}
	m.mu.Unlock()

	durableID, err := m.adapter.EnqueueSync(ctx, storage.QueueEntry{
		DocID:      docID,
		Operation:  storage.OpUpdate,
		Status:     storage.QueuePending,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		return synccore.Storage("failed to enqueue sync entry", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, &queueEntry{
		DocID:      docID,
		DurableID:  durableID,
		Priority:   m.priorityOf(docID),
		EnqueuedAt: time.Now(),
		backoff:    newEntryBackoff(m.cfg),
	})
	queueDepth.Set(float64(len(m.queue)))
	m.mu.Unlock()

	m.emit(Event{Name: "queue:added", DocID: docID})
	m.emit(Event{Name: "sync:enqueued", DocID: docID})
	m.wake()
	return nil
}

// SyncDocument is an alias of EnqueueDocument for the manual trigger.
func (m *Manager) SyncDocument(ctx context.Context, docID string) error {
	return m.EnqueueDocument(ctx, docID)
}

// SyncAll enqueues every known document (manual trigger and the
// syncOnStartup/scheduled-timer triggers).
func (m *Manager) SyncAll(ctx context.Context) error {
	ids, err := m.adapter.ListDocumentIDs(ctx, 0, 0)
	if err != nil {
		return synccore.Storage("failed to list documents for syncAll", err)
	}
	for _, id := range ids {
		if err := m.EnqueueDocument(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CancelDocument discards any queued or in-flight work for docID (spec
// §4.4/§5 "Cancellation and timeouts"): called from deleteDocument.
func (m *Manager) CancelDocument(ctx context.Context, docID string) {
	m.mu.Lock()
	filtered := m.queue[:0]
	for _, e := range m.queue {
		if e.DocID != docID {
			filtered = append(filtered, e)
		}
	}
	m.queue = filtered
	if cancel, ok := m.activeCancels[docID]; ok {
		cancel()
	}
	m.mu.Unlock()

	entries, err := m.adapter.ListSyncQueue(ctx, nil)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.DocID == docID {
			m.adapter.RemoveSyncQueue(ctx, e.ID)
		}
	}
	m.emit(Event{Name: "queue:removed", DocID: docID})
}

// OnNetworkOnline is the "network online" trigger (spec §4.4): the host
// environment calls this when connectivity returns. When a Broadcaster is
// configured, it also wakes every sibling process sharing this backing
// store, since they observe the same documents and connectivity is usually
// a property of the host, not of one process.
func (m *Manager) OnNetworkOnline() {
	if m.cfg.SyncOnNetworkChange {
		m.wake()
	}
	if m.presence != nil {
		m.presence.PublishBroadcast(context.Background(), broadcastNetworkOnlineEvent, nil)
	}
}

// OnFocus is the window-focus trigger.
func (m *Manager) OnFocus() {
	if m.cfg.SyncOnFocus {
		m.wake()
	}
}

func (m *Manager) scheduledLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.ticker.C:
			m.SyncAll(context.Background())
		}
	}
}

// Pause stops dequeue; in-flight syncs complete but no new ones start, and
// scheduled timers stop (spec §4.4 "States").
func (m *Manager) Pause() {
	m.mu.Lock()
	m.state = StatePaused
	m.mu.Unlock()
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.emit(Event{Name: "sync:paused"})
}

// Resume restores the trigger set and drains the queue.
func (m *Manager) Resume() {
	m.mu.Lock()
	if m.state == StatePaused {
		m.state = StateIdle
	}
	m.mu.Unlock()
	if m.ticker != nil {
		m.ticker = time.NewTicker(m.cfg.SyncInterval)
		go m.scheduledLoop()
	}
	m.emit(Event{Name: "sync:resumed"})
	m.wake()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// OnEvent registers handler for every observability event (spec §4.4) and
// returns an unsubscribe func.
func (m *Manager) OnEvent(handler EventHandler) func() {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.handlers[id] = handler
	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		delete(m.handlers, id)
	}
}

func (m *Manager) emit(ev Event) {
	m.obsMu.Lock()
	handlers := make([]EventHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.obsMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (m *Manager) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

func (m *Manager) loop() {
	defer close(m.stopped)
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.wakeCh:
			m.drain()
		}
	}
}

// drain dispatches as many queued entries as maxConcurrentSyncs allows,
// then returns; it is re-entered whenever something wakes the loop again
// (spec §4.4 scheduling algorithm steps 1-3).
func (m *Manager) drain() {
	for {
		m.mu.Lock()
		if m.state == StatePaused {
			m.mu.Unlock()
			return
		}
		if len(m.queue) == 0 {
			if len(m.activeSyncs) == 0 {
				m.state = StateIdle
			}
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		if !m.sem.TryAcquire(1) {
			return
		}

		m.mu.Lock()
		var entry *queueEntry
		m.queue, entry = popBest(m.queue)
		m.activeSyncs[entry.DocID] = struct{}{}
		m.state = StateSyncing
		queueDepth.Set(float64(len(m.queue)))
		activeSyncsGauge.Set(float64(len(m.activeSyncs)))
		m.mu.Unlock()

		go m.runSync(entry)
	}
}

// runSync executes one sync round-trip for entry (spec §4.4 step 4, §6.2).
func (m *Manager) runSync(entry *queueEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NetworkTimeout)
	m.mu.Lock()
	m.activeCancels[entry.DocID] = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.activeSyncs, entry.DocID)
		delete(m.activeCancels, entry.DocID)
		activeSyncsGauge.Set(float64(len(m.activeSyncs)))
		m.mu.Unlock()
		m.sem.Release(1)
		m.wake()
	}()

	m.adapter.UpdateSyncQueue(ctx, entry.DurableID, storage.QueueEntryPatch{Status: queueStatusPtr(storage.QueueProcessing)})
	m.emit(Event{Name: "sync:started", DocID: entry.DocID})

	start := time.Now()
	err := m.roundTrip(ctx, entry.DocID)
	duration := time.Since(start)

	if errors.Is(err, context.Canceled) {
		return
	}

	if err != nil {
		m.onFailure(entry, err, duration)
		return
	}
	m.onSuccess(entry, duration)
}

// roundTrip sends the current update blob and applies whatever the server
// sends back, per direction (spec §4.4's direction option, §6.2). The local
// update blob is always sent as the request body regardless of direction
// (the wire contract has no "send nothing" shape); direction only gates
// whether a server response is applied locally.
func (m *Manager) roundTrip(ctx context.Context, docID string) error {
	update, err := m.store.GetUpdate(ctx, docID, nil)
	if err != nil {
		return err
	}

	resp, err := m.transport.Sync(ctx, docID, update)
	if err != nil {
		return synccore.Network("sync round-trip failed", err)
	}

	if m.cfg.Direction == DirectionUpload {
		return nil
	}
	if len(resp) == 0 {
		return nil
	}
	return m.store.ApplyRemoteUpdate(ctx, docID, resp)
}

func (m *Manager) onSuccess(entry *queueEntry, duration time.Duration) {
	ctx := context.Background()
	m.adapter.UpdateSyncQueue(ctx, entry.DurableID, storage.QueueEntryPatch{Status: queueStatusPtr(storage.QueueCompleted)})
	m.adapter.RemoveSyncQueue(ctx, entry.DurableID)

	now := time.Now()
	synced := storage.StatusSynced
	m.store.UpdateMetadata(ctx, entry.DocID, storage.MetadataPatch{SyncStatus: &synced, LastSynced: &now})

	m.recordResult(Result{DocID: entry.DocID, Success: true, Duration: duration, Timestamp: now})
	syncsTotal.WithLabelValues("success").Inc()
	syncDuration.Observe(duration.Seconds())
	m.emit(Event{Name: "sync:success", DocID: entry.DocID})
}

func (m *Manager) onFailure(entry *queueEntry, err error, duration time.Duration) {
	ctx := context.Background()
	entry.Retries++
	now := time.Now()
	entry.LastAttemptAt = now

	m.emit(Event{Name: "sync:error", DocID: entry.DocID, Err: err})
	syncDuration.Observe(duration.Seconds())

	if entry.Retries >= m.cfg.RetryLimit {
		m.adapter.UpdateSyncQueue(ctx, entry.DurableID, storage.QueueEntryPatch{
			Status:        queueStatusPtr(storage.QueueFailed),
			Retries:       &entry.Retries,
			LastAttemptAt: &entry.LastAttemptAt,
			LastError:     errStringPtr(err),
		})
		failed := storage.StatusFailed
		m.store.UpdateMetadata(ctx, entry.DocID, storage.MetadataPatch{SyncStatus: &failed})

		m.recordResult(Result{DocID: entry.DocID, Success: false, Err: err, Duration: duration, Timestamp: now})
		syncsTotal.WithLabelValues("max-retries").Inc()
		m.emit(Event{Name: "sync:max-retries", DocID: entry.DocID, Err: err})
		return
	}

	m.adapter.UpdateSyncQueue(ctx, entry.DurableID, storage.QueueEntryPatch{
		Status:        queueStatusPtr(storage.QueuePending),
		Retries:       &entry.Retries,
		LastAttemptAt: &entry.LastAttemptAt,
		LastError:     errStringPtr(err),
	})

	syncsTotal.WithLabelValues("retry").Inc()
	m.emit(Event{Name: "sync:retry", DocID: entry.DocID, Err: err})

	delay := entry.nextDelay()
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.queue = append(m.queue, entry)
		m.mu.Unlock()
		m.wake()
	})
}

func (m *Manager) recordResult(r Result) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.TotalSyncs++
	if r.Success {
		m.stats.SuccessCount++
	} else {
		m.stats.FailCount++
	}
	m.stats.LastDurations = prependCap(m.stats.LastDurations, r.Duration, 10)
	m.stats.LastResults = prependResultCap(m.stats.LastResults, r, 10)
}

func prependCap(s []time.Duration, v time.Duration, cap int) []time.Duration {
	s = append([]time.Duration{v}, s...)
	if len(s) > cap {
		s = s[:cap]
	}
	return s
}

func prependResultCap(s []Result, v Result, cap int) []Result {
	s = append([]Result{v}, s...)
	if len(s) > cap {
		s = s[:cap]
	}
	return s
}

func queueStatusPtr(s storage.QueueStatus) *storage.QueueStatus { return &s }

func errStringPtr(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
