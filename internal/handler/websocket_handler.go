package handler

import (
	"net/http"
	"sync"
	"time"

	"GraderUsageETL/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
)

// Upgrade HTTP connection to WebSocket
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClient struct {
	send chan models.Event
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans pipeline events out to WebSocket clients. A client whose buffer
// is full is dropped instead of blocking the pipeline.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[*wsClient]struct{}), log: log}
}

// Publish is a pipeline.Observer.
func (h *Hub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			delete(h.clients, c)
			c.close()
			h.log.Warn("dropping slow websocket client", zap.String("run_id", ev.RunID))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) register() *wsClient {
	c := &wsClient{send: make(chan models.Event, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// HandleRunEvents godoc
// @Summary      Run progress WebSocket
// @Description  Streams pipeline events as JSON messages.
// @Description  <br>
// @Description  **Note: this is not a plain HTTP endpoint.**
// @Description  Clients connect with the `ws://` or `wss://` scheme.
// @Description  Authentication uses the **'token' query parameter**, not the Authorization header.
// @Tags         WebSocket (Runs)
// @Param        token query    string true "JWT issued by /login"
// @Success      101   {string} string "101 Switching Protocols"
// @Failure      401   {object} handler.ErrorResponse "missing or invalid token"
// @Router       /ws/runs [get]
func (h *Handler) HandleRunEvents(c *gin.Context) {
	claims, err := h.deps.Issuer.ValidateToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid token"})
		return
	}
	username := claims.Username

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("HandleRunEvents(): failed to upgrade to WebSocket",
			zap.String("username", username), zap.Error(err))
		return
	}
	h.log.Info("WebSocket connection established", zap.String("username", username))

	client := h.deps.Hub.register()
	defer h.deps.Hub.unregister(client)

	// The read loop only notices the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-done
		h.log.Info("WebSocket connection closed", zap.String("username", username))
	}()

	for {
		select {
		case ev, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Warn("error sending event", zap.String("username", username), zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
