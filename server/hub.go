package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/reel/gateway"
	"github.com/teranos/reel/job"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pipeline"
)

// WebSocket timeouts, per the gorilla chat example
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// JobEvent is one message on the job feed
type JobEvent struct {
	Type string                 `json:"type"` // "job_update"
	Job  gateway.StatusResponse `json:"job"`
}

// Hub fans job updates from the store out to websocket clients
type Hub struct {
	store   *job.Store
	updates chan *job.Job
	logger  *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

// NewHub subscribes to store's update notifications. Updates buffer until
// Run is called.
func NewHub(store *job.Store, log *zap.SugaredLogger) *Hub {
	return &Hub{
		store:   store,
		updates: store.Subscribe(),
		logger:  log.Named("hub"),
		clients: make(map[*feedClient]struct{}),
	}
}

// Run forwards store updates until ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer h.store.Unsubscribe(h.updates)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case j, ok := <-h.updates:
			if !ok {
				return
			}
			h.broadcast(j)
		}
	}
}

func (h *Hub) broadcast(j *job.Job) {
	ev := JobEvent{
		Type: "job_update",
		Job:  gateway.NewStatusResponse(&pipeline.StatusReport{Job: j}),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(j) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			// slow client; drop rather than block the feed
			h.logger.Debugw("Dropped job event for slow client", "client", c.id, logger.FieldJobID, j.ID)
		}
	}
}

func (h *Hub) add(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// feedClient is one websocket subscriber, optionally filtered to one user
// or one job
type feedClient struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan JobEvent
	userID string
	jobID  string
}

func (c *feedClient) wants(j *job.Job) bool {
	if c.jobID != "" && c.jobID != j.ID {
		return false
	}
	if c.userID != "" && c.userID != j.UserID {
		return false
	}
	return true
}

// handleJobFeed upgrades to a websocket streaming job updates.
// Query: user_id, job_id.
func (s *Server) handleJobFeed(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("WebSocket upgrade failed", logger.FieldError, err.Error())
		return
	}

	c := &feedClient{
		id:     uuid.NewString(),
		hub:    s.hub,
		conn:   conn,
		send:   make(chan JobEvent, sendBuffer),
		userID: r.URL.Query().Get("user_id"),
		jobID:  r.URL.Query().Get("job_id"),
	}
	s.hub.add(c)
	s.logger.Debugw("Job feed client connected", "client", c.id, logger.FieldUserID, c.userID)

	go c.writePump()
	c.readPump()
}

// readPump discards inbound messages and detects disconnects
func (c *feedClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
