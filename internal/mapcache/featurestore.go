package mapcache

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldsync/offline-core/internal/synccore"
)

// FeatureStore is the per-layer vector feature store of spec §4.5.
type FeatureStore struct {
	client *http.Client
	log    zerolog.Logger

	mu     sync.RWMutex
	layers map[string]map[string]*Feature // layerID -> featureID -> feature
}

func NewFeatureStore(client *http.Client, log zerolog.Logger) *FeatureStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &FeatureStore{
		client: client,
		log:    log.With().Str("component", "mapcache").Logger(),
		layers: make(map[string]map[string]*Feature),
	}
}

// Save marks the feature unsynced and updates lastModified (spec §4.5).
func (s *FeatureStore) Save(f Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.Synced = false
	f.LastModified = time.Now()
	layer, ok := s.layers[f.LayerID]
	if !ok {
		layer = make(map[string]*Feature)
		s.layers[f.LayerID] = layer
	}
	stored := f
	layer[f.ID] = &stored
}

func (s *FeatureStore) ByLayer(layerID string) []Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	layer := s.layers[layerID]
	out := make([]Feature, 0, len(layer))
	for _, f := range layer {
		out = append(out, *f)
	}
	return out
}

// ByBBox filters a layer's features for those intersecting bbox: point-in-box
// for Point geometries, bbox-overlap for features with a declared BBox, and
// conservative inclusion otherwise (spec §4.5).
func (s *FeatureStore) ByBBox(layerID string, bbox BBox) []Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	layer := s.layers[layerID]
	var out []Feature
	for _, f := range layer {
		if matchesBBox(f.Geometry, bbox) {
			out = append(out, *f)
		}
	}
	return out
}

func matchesBBox(g Geometry, bbox BBox) bool {
	if g.Point != nil {
		return bbox.contains(*g.Point)
	}
	if g.BBox != nil {
		return bbox.overlaps(*g.BBox)
	}
	return true
}

func (s *FeatureStore) unsyncedLocked(layerID string) []Feature {
	layer := s.layers[layerID]
	var out []Feature
	for _, f := range layer {
		if !f.Synced {
			out = append(out, *f)
		}
	}
	return out
}

type reconcileRequest struct {
	LayerID  string    `json:"layerId"`
	Features []Feature `json:"features"`
}

type reconcileResponse struct {
	Features []Feature `json:"features"`
	Deleted  []string  `json:"deleted"`
}

// Reconcile batches every unsynced feature in layerID to endpoint (spec
// §4.5 "Layer reconciliation", wire shape per spec §6.2): server-returned
// features overwrite locals and are marked synced; ids in Deleted are
// removed; on failure, attempted features remain unsynced for the next
// attempt and are reported as Failed rather than lost.
func (s *FeatureStore) Reconcile(ctx context.Context, layerID, endpoint string) (*ReconcileSummary, error) {
	s.mu.RLock()
	pending := s.unsyncedLocked(layerID)
	s.mu.RUnlock()

	if len(pending) == 0 {
		return &ReconcileSummary{}, nil
	}

	body, err := json.Marshal(reconcileRequest{LayerID: layerID, Features: pending})
	if err != nil {
		return nil, synccore.InvalidArgument("failed to encode reconcile request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, synccore.Network("failed to build reconcile request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return s.failAttempt(layerID, pending, err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return s.failAttempt(layerID, pending, synccore.Network("reconcile endpoint returned non-2xx", nil)), nil
	}

	var decoded reconcileResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return s.failAttempt(layerID, pending, err), nil
	}

	s.mu.Lock()
	layer := s.layers[layerID]
	if layer == nil {
		layer = make(map[string]*Feature)
		s.layers[layerID] = layer
	}
	for _, f := range decoded.Features {
		f.Synced = true
		stored := f
		layer[f.ID] = &stored
	}
	for _, id := range decoded.Deleted {
		delete(layer, id)
	}
	s.mu.Unlock()

	return &ReconcileSummary{Applied: len(decoded.Features), Deleted: len(decoded.Deleted)}, nil
}

func (s *FeatureStore) failAttempt(layerID string, attempted []Feature, cause error) *ReconcileSummary {
	ids := make([]string, len(attempted))
	for i, f := range attempted {
		ids[i] = f.ID
	}
	s.log.Warn().Err(cause).Str("layerId", layerID).Int("count", len(attempted)).Msg("reconcile attempt failed, features remain unsynced")
	return &ReconcileSummary{Failed: ids, Err: cause}
}
