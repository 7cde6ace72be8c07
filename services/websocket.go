package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client represents a WebSocket connection subscribed to one board
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	UserID  string
	BoardID string

	// mu guards closed and every send on Send.
	mu     sync.Mutex
	closed bool
}

// enqueue offers msg to the client without blocking. It reports false if the buffer is
// full or the client has already been shut down.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// close closes Send once. Later calls do nothing.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Event is the message format pushed to board subscribers
type Event struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	Data    any    `json:"data,omitempty"`
}

type envelope struct {
	boardID string
	payload []byte
}

// ReadPump drains the connection, answering application pings. Board changes are made
// over HTTP, so anything else a client sends is ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.WithError(err).WithField("user_id", c.UserID).Warn("WebSocket error")
			}
			break
		}

		var msg Event
		if err := json.Unmarshal(message, &msg); err != nil {
			c.Hub.log.WithError(err).Debug("Ignoring malformed WebSocket message")
			continue
		}

		if msg.Type == "ping" {
			pong, err := json.Marshal(Event{
				Type:    "pong",
				BoardID: c.BoardID,
				Data:    map[string]string{"timestamp": time.Now().Format(time.RFC3339)},
			})
			if err == nil {
				c.enqueue(pong)
			}
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per frame so clients can parse each frame as JSON.
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub maintains the clients subscribed to each board and fans events out to them
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}

	log logrus.FieldLogger
}

// NewHub creates a new hub instance
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan envelope, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		log:        logger,
	}
}

// Attach registers an upgraded connection for boardID and starts its pumps
func (h *Hub) Attach(conn *websocket.Conn, userID, boardID string) *Client {
	client := &Client{
		Hub:     h,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		UserID:  userID,
		BoardID: boardID,
	}
	h.Register(client)

	go client.WritePump()
	go client.ReadPump()
	return client
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopped:
		client.close()
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// Publish sends an event to every client watching boardID. It satisfies board.Notifier.
func (h *Hub) Publish(boardID, eventType string, data any) {
	payload, err := json.Marshal(Event{Type: eventType, BoardID: boardID, Data: data})
	if err != nil {
		h.log.WithError(err).WithField("type", eventType).Error("Error marshalling event")
		return
	}

	select {
	case h.broadcast <- envelope{boardID: boardID, payload: payload}:
	case <-h.stopped:
	}
}

// ClientCount returns the number of connections watching boardID
func (h *Hub) ClientCount(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[boardID])
}

// Run starts the hub's main loop. It returns when ctx is cancelled, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for boardID, clients := range h.clients {
				for client := range clients {
					client.close()
				}
				delete(h.clients, boardID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BoardID] == nil {
				h.clients[client.BoardID] = make(map[*Client]bool)
			}
			h.clients[client.BoardID][client] = true
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"board_id": client.BoardID, "user_id": client.UserID}).Info("Client connected")

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients[msg.boardID] {
				if !client.enqueue(msg.payload) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			// Client's send buffer is full, assume disconnected
			for _, client := range slow {
				h.log.WithField("user_id", client.UserID).Warn("Client send buffer full, removing client")
				h.remove(client)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[client.BoardID]
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, client.BoardID)
	}
	client.close()
	h.log.WithFields(logrus.Fields{"board_id": client.BoardID, "user_id": client.UserID}).Info("Client disconnected")
}
