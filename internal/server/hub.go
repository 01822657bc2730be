package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/scrypster/recall/pkg/types"
)

// RunEvent is the message pushed to /ws/status clients when a processing run
// finishes.
type RunEvent struct {
	Type        string    `json:"type"`
	ContentUUID string    `json:"content_uuid"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	CostUSD     float64   `json:"cost_usd"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hub fans run lifecycle events out to connected websocket clients. Slow
// clients are disconnected rather than allowed to back up the broadcast loop.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan any
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan any, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run is the hub's event loop. Call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("server: websocket client connected (total: %d)", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Printf("server: websocket client disconnected (total: %d)", n)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("server: failed to marshal websocket event: %v", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and closes all client connections.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for all clients, dropping it if the hub is
// saturated.
func (h *Hub) Broadcast(event any) {
	select {
	case h.broadcast <- event:
	default:
		log.Println("server: websocket broadcast channel full, dropping event")
	}
}

// RunFinished satisfies the enrichment orchestrator's listener contract.
func (h *Hub) RunFinished(contentUUID, title string, run *types.ProcessingRun) {
	h.Broadcast(RunEvent{
		Type:        "run_finished",
		ContentUUID: contentUUID,
		Title:       title,
		Status:      string(run.Status),
		CostUSD:     run.CostUSD,
		Error:       run.Error,
		Timestamp:   time.Now().UTC(),
	})
}

// ServeHTTP upgrades the connection and hands it to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, 64)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *wsClient) writePump() {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			c.hub.unregister <- c
			return
		}
	}
}

// readPump drains client messages so the connection notices disconnects.
func (c *wsClient) readPump() {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			c.hub.unregister <- c
			return
		}
	}
}
