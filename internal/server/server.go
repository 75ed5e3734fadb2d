// Package server is a fixture HTTP+push-channel server implementing the
// wire contracts internal/scheduler and internal/mapcache speak against
// (spec §6.2's sync endpoint, the layer reconciliation endpoint), plus the
// push channel for wake/presence notifications. It exists for integration
// tests and manual exploration of a client engine against something that
// looks like a real sync backend — it is not the engine itself, and a real
// deployment would put a production sync service behind this same wire
// contract.
package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fieldsync/offline-core/internal/auth"
	"github.com/fieldsync/offline-core/internal/config"
	"github.com/fieldsync/offline-core/internal/crdt"
	"github.com/fieldsync/offline-core/internal/pushchannel"
	"github.com/fieldsync/offline-core/internal/security"
	"github.com/fieldsync/offline-core/internal/storage"
)

var upgrader = gorilla.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		env := os.Getenv("ENVIRONMENT")
		if env != "production" {
			return true
		}
		allowed := os.Getenv("CORS_ORIGINS")
		if allowed == "" || allowed == "*" {
			return true
		}
		for _, o := range strings.Split(allowed, ",") {
			if strings.TrimSpace(o) == origin {
				return true
			}
		}
		return false
	},
}

// Server is the fixture sync backend.
type Server struct {
	cfg             *config.Config
	hub             *pushchannel.Hub
	presence        *storage.RedisPubSub
	server          *http.Server
	securityManager *security.SecurityManager
	log             zerolog.Logger

	docsMu sync.Mutex
	docs   map[string]crdt.Document // docId -> server-side replica

	layersMu sync.Mutex
	layers   map[string]map[string]json.RawMessage // layerId -> featureId -> feature JSON
}

func New(cfg *config.Config, log zerolog.Logger) *Server {
	componentLog := log.With().Str("component", "server").Logger()
	hub := pushchannel.NewHub(cfg.JWTSecret)

	var presence *storage.RedisPubSub
	if cfg.RedisURL != "" {
		pubsub, err := storage.NewRedisPubSub(&storage.RedisPubSubConfig{
			URL:           cfg.RedisURL,
			ChannelPrefix: cfg.RedisChannelPrefix,
		})
		if err != nil {
			componentLog.Warn().Err(err).Msg("failed to configure redis presence, continuing without it")
		} else if err := pubsub.Connect(context.Background()); err != nil {
			componentLog.Warn().Err(err).Msg("failed to connect to redis presence, continuing without it")
		} else {
			presence = pubsub
			hub.SetPresence(pubsub)
		}
	}

	go hub.Run()

	return &Server{
		cfg:             cfg,
		hub:             hub,
		presence:        presence,
		securityManager: security.NewSecurityManager(),
		log:             componentLog,
		docs:            make(map[string]crdt.Document),
		layers:          make(map[string]map[string]json.RawMessage),
	}
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/push", s.handlePushChannel)
	mux.HandleFunc("/sync/", s.handleSync)
	mux.HandleFunc("/reconcile/", s.handleReconcile)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.presence != nil {
		s.presence.Disconnect(ctx)
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"name":        "fieldsync fixture sync server",
		"description": "reference implementation of the §6.2 sync wire contract, for tests only",
		"endpoints": map[string]string{
			"health":    "/health",
			"push":      "/push",
			"sync":      "/sync/{docId}",
			"reconcile": "/reconcile/{layerId}",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handlePushChannel(w http.ResponseWriter, r *http.Request) {
	clientIP := s.getClientIP(r)

	if !s.securityManager.ConnectionLimiter.CanConnect(clientIP) {
		s.log.Warn().Str("ip", clientIP).Msg("connection limit exceeded")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("push channel upgrade failed")
		return
	}

	s.securityManager.ConnectionLimiter.AddConnection(clientIP)

	conn := pushchannel.NewConnection(generateConnID(), ws, s.hub)
	conn.ClientIP = clientIP
	conn.SecurityManager = s.securityManager
	s.hub.Register <- conn

	go conn.WritePump()
	go conn.ReadPump()
}

// handleSync implements spec §6.2's wire contract: POST body is an update
// blob, X-Document-ID names the document, an optional X-State-Vector lets
// the client ask for only what it's missing, and the response body is an
// update blob to apply locally (empty means nothing new).
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.Header.Get("X-Document-ID")
	if docID == "" {
		docID = strings.TrimPrefix(r.URL.Path, "/sync/")
	}
	if docID == "" {
		http.Error(w, "missing document id", http.StatusBadRequest)
		return
	}

	if !s.canWriteSync(r, docID) {
		http.Error(w, "permission denied", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var sinceStateVector []byte
	if header := r.Header.Get("X-State-Vector"); header != "" {
		sinceStateVector, err = base64.StdEncoding.DecodeString(header)
		if err != nil {
			http.Error(w, "malformed state vector", http.StatusBadRequest)
			return
		}
	}

	s.docsMu.Lock()
	doc, ok := s.docs[docID]
	if !ok {
		var err error
		doc, err = crdt.New(docID, "fixture-server", crdt.KindMap)
		if err != nil {
			s.docsMu.Unlock()
			http.Error(w, "failed to create document", http.StatusInternalServerError)
			return
		}
		s.docs[docID] = doc
	}
	if len(body) > 0 {
		if err := doc.ApplyUpdate(body, crdt.OriginRemote); err != nil {
			s.docsMu.Unlock()
			http.Error(w, "malformed update", http.StatusBadRequest)
			return
		}
	}
	response, err := doc.GetUpdate(sinceStateVector)
	s.docsMu.Unlock()
	if err != nil {
		http.Error(w, "failed to compute update", http.StatusInternalServerError)
		return
	}

	s.hub.Notify(docID)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(response)
}

// canWriteSync applies the same bearer-token permission model the push
// channel's subscribe handler uses for reads (auth.CanReadDocument) to the
// sync endpoint's writes. Unlike the push channel, a missing token doesn't
// reject the request outright: this fixture server is exercised directly by
// scheduler/docstore integration tests that have no notion of a principal,
// so an absent token is treated as an unauthenticated caller with full
// access, and the permission check only bites once a token is actually
// presented.
func (s *Server) canWriteSync(r *http.Request, docID string) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return true
	}
	payload, err := auth.VerifyToken(token, s.cfg.JWTSecret)
	if err != nil {
		return false
	}
	return auth.CanWriteDocument(payload, docID)
}

type reconcileRequest struct {
	LayerID  string            `json:"layerId"`
	Features []json.RawMessage `json:"features"`
}

type reconcileResponse struct {
	Features []json.RawMessage `json:"features"`
	Deleted  []string          `json:"deleted"`
}

// handleReconcile is the layer reconciliation endpoint mapcache.FeatureStore
// talks to: it simply echoes back the submitted features as the server's
// view (a real backend would merge against its own authoritative layer).
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	s.layersMu.Lock()
	layer, ok := s.layers[req.LayerID]
	if !ok {
		layer = make(map[string]json.RawMessage)
		s.layers[req.LayerID] = layer
	}
	var idHolder struct {
		ID string `json:"id"`
	}
	for _, raw := range req.Features {
		if err := json.Unmarshal(raw, &idHolder); err == nil && idHolder.ID != "" {
			layer[idHolder.ID] = raw
		}
	}
	s.layersMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reconcileResponse{Features: req.Features, Deleted: nil})
}

func (s *Server) getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		for i, ch := range forwarded {
			if ch == ',' {
				return forwarded[:i]
			}
		}
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Document-ID, X-State-Vector")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func generateConnID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
