// Package pushchannel is the optional realtime transport of spec §4.4's
// "wake on document change" trigger and the presence/awareness channel
// (spec §4.5's "Supplemented features"). It carries no document bytes: a
// client that receives a wake message still fetches the update over the
// HTTP sync endpoint (spec §6.2). Losing this channel only costs latency,
// never correctness, since the scheduler's own poll/retry loop (internal/
// scheduler) covers the same ground on a timer.
package pushchannel

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/fieldsync/offline-core/internal/auth"
	"github.com/fieldsync/offline-core/internal/protocol"
	"github.com/fieldsync/offline-core/internal/security"
)

// broadcastWakeEvent is the event name Hub instances publish/subscribe on
// their Broadcaster to relay a wake across processes.
const broadcastWakeEvent = "doc-wake"

// Broadcaster is the cross-process fan-out a Hub rides on when one is
// configured (storage.RedisPubSub satisfies this). Without one, Notify only
// reaches connections registered on this process.
type Broadcaster interface {
	PublishBroadcast(ctx context.Context, event string, data interface{}) error
	SubscribeToBroadcast(ctx context.Context, handler func(event string, data interface{})) error
}

// AwarenessTimeout is the time after which a stale presence entry is purged.
const AwarenessTimeout = 30 * time.Second

// AwarenessCleanupInterval is how often the purge sweep runs.
const AwarenessCleanupInterval = 30 * time.Second

// Hub fans wake and presence notifications out to subscribed connections.
type Hub struct {
	jwtSecret string

	connections map[string]*Connection
	mu          sync.RWMutex

	// subscribers tracks which connections want wake/presence notifications
	// for a docId.
	subscribers map[string]map[string]bool // docId -> connectionId -> true

	awareness map[string]map[string]interface{} // docId -> clientId -> state
	awareMu   sync.RWMutex

	cleanupTicker *time.Ticker
	stopChan      chan struct{}

	presence Broadcaster

	Register      chan *Connection
	Unregister    chan *Connection
	HandleMessage chan *MessageEvent
}

// MessageEvent pairs an inbound message with the connection it arrived on.
type MessageEvent struct {
	Connection *Connection
	Message    *protocol.Message
}

func NewHub(jwtSecret string) *Hub {
	return &Hub{
		jwtSecret:     jwtSecret,
		connections:   make(map[string]*Connection),
		subscribers:   make(map[string]map[string]bool),
		awareness:     make(map[string]map[string]interface{}),
		stopChan:      make(chan struct{}),
		Register:      make(chan *Connection),
		Unregister:    make(chan *Connection),
		HandleMessage: make(chan *MessageEvent, 256),
	}
}

// SetPresence wires a cross-process Broadcaster in before Run is called.
// When set, Notify relays wakes to sibling processes and this hub relays
// wakes published by them to its own locally-registered connections.
func (h *Hub) SetPresence(p Broadcaster) {
	h.presence = p
}

// Run drives the hub's connection lifecycle and message dispatch until Stop.
func (h *Hub) Run() {
	h.cleanupTicker = time.NewTicker(AwarenessCleanupInterval)
	go h.runAwarenessCleanup()

	if h.presence != nil {
		if err := h.presence.SubscribeToBroadcast(context.Background(), h.handleRemoteBroadcast); err != nil {
			h.presence = nil
		}
	}

	for {
		select {
		case <-h.stopChan:
			if h.cleanupTicker != nil {
				h.cleanupTicker.Stop()
			}
			return

		case conn := <-h.Register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()

		case conn := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				for docID := range conn.Subscriptions {
					if subs, exists := h.subscribers[docID]; exists {
						delete(subs, conn.ID)
						if len(subs) == 0 {
							delete(h.subscribers, docID)
						}
					}
				}

				h.awareMu.Lock()
				for docID := range conn.Subscriptions {
					if states, exists := h.awareness[docID]; exists {
						delete(states, conn.ClientID)
						if len(states) == 0 {
							delete(h.awareness, docID)
						}
					}
				}
				h.awareMu.Unlock()

				delete(h.connections, conn.ID)
				close(conn.send)
			}
			h.mu.Unlock()

		case event := <-h.HandleMessage:
			h.handleMessage(event.Connection, event.Message)
		}
	}
}

// Stop shuts the hub down; in-flight connections are closed by Unregister.
func (h *Hub) Stop() {
	close(h.stopChan)
}

// Notify wakes every connection subscribed to docID, on this process and
// (when a Broadcaster is configured) on every sibling process sharing it.
// internal/server's sync handler calls this after every sync request so
// other devices know to pull the update over the sync endpoint.
func (h *Hub) Notify(docID string) {
	h.notifyLocal(docID)
	if h.presence != nil {
		h.presence.PublishBroadcast(context.Background(), broadcastWakeEvent, map[string]interface{}{"docId": docID})
	}
}

// notifyLocal wakes only connections registered on this process.
func (h *Hub) notifyLocal(docID string) {
	h.mu.RLock()
	subs := h.subscribers[docID]
	h.mu.RUnlock()

	for connID := range subs {
		h.mu.RLock()
		conn := h.connections[connID]
		h.mu.RUnlock()
		if conn != nil {
			conn.SendMessage(protocol.TypeWake, map[string]interface{}{
				"type":      protocol.TypeWake,
				"id":        generateID(),
				"timestamp": time.Now().UnixMilli(),
				"docId":     docID,
			})
		}
	}
}

// handleRemoteBroadcast relays a wake published by a sibling process to
// this process's locally-registered connections.
func (h *Hub) handleRemoteBroadcast(event string, data interface{}) {
	if event != broadcastWakeEvent {
		return
	}
	payload, ok := data.(map[string]interface{})
	if !ok {
		return
	}
	docID, _ := payload["docId"].(string)
	if docID == "" {
		return
	}
	h.notifyLocal(docID)
}

func (h *Hub) runAwarenessCleanup() {
	for {
		select {
		case <-h.stopChan:
			return
		case <-h.cleanupTicker.C:
			h.cleanupStaleAwareness()
		}
	}
}

func (h *Hub) cleanupStaleAwareness() {
	now := time.Now().UnixMilli()
	timeoutMs := AwarenessTimeout.Milliseconds()

	h.awareMu.Lock()
	defer h.awareMu.Unlock()

	for docID, clients := range h.awareness {
		for clientID, stateRaw := range clients {
			state, ok := stateRaw.(map[string]interface{})
			if !ok {
				continue
			}
			if lastUpdate, ok := state["lastUpdate"].(float64); ok {
				if now-int64(lastUpdate) > timeoutMs {
					delete(clients, clientID)
				}
			}
		}
		if len(clients) == 0 {
			delete(h.awareness, docID)
		}
	}
}

func (h *Hub) handleMessage(conn *Connection, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypePing:
		conn.SendMessage(protocol.TypePong, map[string]interface{}{
			"type":      protocol.TypePong,
			"id":        msg.ID,
			"timestamp": time.Now().UnixMilli(),
		})

	case protocol.TypeAuth:
		h.handleAuth(conn, msg)

	case protocol.TypeSubscribe:
		h.handleSubscribe(conn, msg)

	case protocol.TypeUnsubscribe:
		h.handleUnsubscribe(conn, msg)

	case protocol.TypeAwarenessUpdate:
		h.handleAwarenessUpdate(conn, msg)
	}
}

func (h *Hub) handleAuth(conn *Connection, msg *protocol.Message) {
	token, _ := msg.Payload["token"].(string)

	if token != "" {
		decoded, err := auth.VerifyToken(token, h.jwtSecret)
		if err != nil {
			conn.SendMessage(protocol.TypeAuthError, map[string]interface{}{
				"type":      protocol.TypeAuthError,
				"id":        msg.ID,
				"timestamp": time.Now().UnixMilli(),
				"error":     "Invalid or expired token",
				"code":      "INVALID_TOKEN",
			})
			return
		}
		conn.Authenticated = true
		conn.UserID = decoded.UserID
		conn.TokenPayload = decoded
	} else {
		authRequired := os.Getenv("FIELDSYNC_AUTH_REQUIRED") != "false"
		if authRequired {
			conn.SendMessage(protocol.TypeAuthError, map[string]interface{}{
				"type":      protocol.TypeAuthError,
				"id":        msg.ID,
				"timestamp": time.Now().UnixMilli(),
				"error":     "Authentication required",
				"code":      "AUTH_REQUIRED",
			})
			return
		}
		conn.Authenticated = true
		if userID, ok := msg.Payload["userId"].(string); ok {
			conn.UserID = userID
		} else {
			conn.UserID = "anonymous"
		}
		conn.TokenPayload = &auth.TokenPayload{
			UserID:      conn.UserID,
			Permissions: auth.CreateUserPermissions([]string{"*"}, nil),
		}
	}

	if clientID, ok := msg.Payload["clientId"].(string); ok {
		conn.ClientID = clientID
	} else {
		conn.ClientID = generateID()
	}

	conn.SendMessage(protocol.TypeAuthSuccess, map[string]interface{}{
		"type":      protocol.TypeAuthSuccess,
		"id":        msg.ID,
		"timestamp": time.Now().UnixMilli(),
		"userId":    conn.UserID,
		"permissions": map[string]interface{}{
			"canRead":  conn.TokenPayload.Permissions.CanRead,
			"canWrite": conn.TokenPayload.Permissions.CanWrite,
			"isAdmin":  conn.TokenPayload.Permissions.IsAdmin,
		},
	})
}

func (h *Hub) handleSubscribe(conn *Connection, msg *protocol.Message) {
	docID, ok := msg.Payload["docId"].(string)
	if !ok {
		conn.SendError("Missing docId", "INVALID_REQUEST")
		return
	}

	if !conn.Authenticated || conn.TokenPayload == nil {
		conn.SendError("Not authenticated", "NOT_AUTHENTICATED")
		return
	}

	if valid, errMsg := security.ValidateDocumentID(docID); !valid {
		conn.SendError(errMsg, "INVALID_DOCUMENT_ID")
		return
	}

	if !security.CanAccessDocument(docID) && !auth.CanReadDocument(conn.TokenPayload, docID) {
		conn.SendError("Permission denied", "PERMISSION_DENIED")
		return
	}

	conn.Subscriptions[docID] = true
	h.mu.Lock()
	if _, exists := h.subscribers[docID]; !exists {
		h.subscribers[docID] = make(map[string]bool)
	}
	h.subscribers[docID][conn.ID] = true
	h.mu.Unlock()

	conn.SendMessage(protocol.TypeSubscribe, map[string]interface{}{
		"type":      protocol.TypeSubscribe,
		"id":        msg.ID,
		"timestamp": time.Now().UnixMilli(),
		"docId":     docID,
	})
}

func (h *Hub) handleUnsubscribe(conn *Connection, msg *protocol.Message) {
	docID, ok := msg.Payload["docId"].(string)
	if !ok {
		conn.SendError("Missing docId", "INVALID_REQUEST")
		return
	}

	delete(conn.Subscriptions, docID)

	h.mu.Lock()
	if subs, exists := h.subscribers[docID]; exists {
		delete(subs, conn.ID)
		if len(subs) == 0 {
			delete(h.subscribers, docID)
		}
	}
	h.mu.Unlock()

	h.awareMu.Lock()
	if states, exists := h.awareness[docID]; exists {
		delete(states, conn.ClientID)
		if len(states) == 0 {
			delete(h.awareness, docID)
		}
	}
	h.awareMu.Unlock()
}

func (h *Hub) handleAwarenessUpdate(conn *Connection, msg *protocol.Message) {
	docID, ok := msg.Payload["docId"].(string)
	if !ok {
		return
	}
	state, ok := msg.Payload["state"].(map[string]interface{})
	if !ok {
		return
	}

	state["lastUpdate"] = float64(time.Now().UnixMilli())

	h.awareMu.Lock()
	if h.awareness[docID] == nil {
		h.awareness[docID] = make(map[string]interface{})
	}
	h.awareness[docID][conn.ClientID] = state
	h.awareMu.Unlock()

	h.broadcastAwareness(docID, conn.ClientID, state, conn.ID)
}

func (h *Hub) broadcastAwareness(docID, clientID string, state map[string]interface{}, senderID string) {
	h.mu.RLock()
	subs := h.subscribers[docID]
	h.mu.RUnlock()

	for connID := range subs {
		if connID == senderID {
			continue
		}
		h.mu.RLock()
		conn := h.connections[connID]
		h.mu.RUnlock()
		if conn != nil {
			conn.SendMessage(protocol.TypeAwarenessState, map[string]interface{}{
				"type":      protocol.TypeAwarenessState,
				"id":        generateID(),
				"timestamp": time.Now().UnixMilli(),
				"docId":     docID,
				"clientId":  clientID,
				"state":     state,
			})
		}
	}
}

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
