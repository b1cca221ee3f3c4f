package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"sitegen-backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TokenVerifier checks the token query parameter. A nil verifier accepts
// every connection.
type TokenVerifier interface {
	ParseToken(token string) (string, error)
}

// OwnerLookup resolves the recorded owner of a project.
type OwnerLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.GeneratedProject, error)
}

// Hub relays a project's pub/sub channel to every socket watching it.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
	redisClient *redis.Client
	verifier    TokenVerifier
	owners      OwnerLookup
	channel     func(uuid.UUID) string
	cancelFuncs map[uuid.UUID]context.CancelFunc
}

func NewHub(redisClient *redis.Client, verifier TokenVerifier, channel func(uuid.UUID) string) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*websocket.Conn),
		redisClient: redisClient,
		verifier:    verifier,
		channel:     channel,
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
	}
}

// RestrictToOwners makes token holders watch only their own projects.
// Projects without a recorded owner stay open.
func (h *Hub) RestrictToOwners(owners OwnerLookup) *Hub {
	h.owners = owners
	return h
}

func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, projectID uuid.UUID) {
	if h.verifier != nil {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		subject, err := h.verifier.ParseToken(tokenStr)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !h.mayWatch(r.Context(), projectID, subject) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.registerConnection(projectID, conn)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(projectID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) mayWatch(ctx context.Context, projectID uuid.UUID, subject string) bool {
	if h.owners == nil {
		return true
	}
	p, err := h.owners.GetByID(ctx, projectID)
	if err != nil {
		return true
	}
	return p.Owner == "" || p.Owner == subject
}

// Watchers reports how many sockets follow a project.
func (h *Hub) Watchers(projectID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[projectID])
}

func (h *Hub) registerConnection(projectID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[projectID] = append(h.connections[projectID], conn)

	// First watcher starts the subscription
	if len(h.connections[projectID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[projectID] = cancel
		go h.subscribe(ctx, projectID)
	}

	log.Debug().Str("project_id", projectID.String()).Int("watchers", len(h.connections[projectID])).Msg("WebSocket connected")
}

func (h *Hub) unregisterConnection(projectID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	conns := h.connections[projectID]
	for i, c := range conns {
		if c == conn {
			h.connections[projectID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	// Last watcher cancels it
	if len(h.connections[projectID]) == 0 {
		delete(h.connections, projectID)
		if cancel, ok := h.cancelFuncs[projectID]; ok {
			cancel()
			delete(h.cancelFuncs, projectID)
		}
	}

	log.Debug().Str("project_id", projectID.String()).Msg("WebSocket disconnected")
}

func (h *Hub) subscribe(ctx context.Context, projectID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, h.channel(projectID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(projectID, []byte(msg.Payload))
		}
	}
}

// broadcast is called only from the project's single subscription goroutine,
// so writes to one connection never overlap.
func (h *Hub) broadcast(projectID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[projectID] {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

// CloseAll drops every socket and subscription.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conns := range h.connections {
		for _, c := range conns {
			c.Close()
		}
		delete(h.connections, id)
	}
	for id, cancel := range h.cancelFuncs {
		cancel()
		delete(h.cancelFuncs, id)
	}
}
