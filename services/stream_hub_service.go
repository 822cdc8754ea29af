package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Constants for hub configuration.
const (
	MaxStreamClients      = 100
	StreamWriteTimeout    = 10 * time.Second
	StreamPongTimeout     = 60 * time.Second
	StreamPingInterval    = 30 * time.Second
	StreamSendBufferSize  = 256
	StreamBroadcastBuffer = 256
)

// StreamMessage is the envelope broadcast to chart clients.
type StreamMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// StreamClient represents one connected chart client.
type StreamClient struct {
	conn       *websocket.Conn
	send       chan []byte
	subscribed map[string]bool
	mu         sync.RWMutex
}

func (c *StreamClient) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscribed) == 0 {
		return true
	}
	return c.subscribed[symbol]
}

// StreamHub fans live candle updates out to websocket clients. It
// subscribes to the aggregator registry and re-broadcasts every applied
// open-candle update to clients subscribed to that symbol.
type StreamHub struct {
	clients    map[*StreamClient]bool
	broadcast  chan StreamMessage
	register   chan *StreamClient
	unregister chan *StreamClient
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewStreamHub creates the hub and wires it to aggregator updates.
func NewStreamHub(aggregator *AggregatorService) *StreamHub {
	hub := &StreamHub{
		clients:    make(map[*StreamClient]bool),
		broadcast:  make(chan StreamMessage, StreamBroadcastBuffer),
		register:   make(chan *StreamClient),
		unregister: make(chan *StreamClient),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	aggregator.OnUpdate(func(update *AggregatorUpdate) {
		msg := StreamMessage{
			Type: "candle",
			Data: update,
			Time: time.Now().Format(time.RFC3339),
		}
		select {
		case hub.broadcast <- msg:
		default:
			// Hub backlogged; drop rather than stall the feed.
		}
	})

	go hub.run()
	return hub
}

// Shutdown closes all client connections.
func (h *StreamHub) Shutdown() {
	close(h.shutdown)

	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*StreamClient]bool)
	h.mu.Unlock()

	log.Println("Stream hub shutdown complete")
}

func (h *StreamHub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxStreamClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("Stream client rejected: max clients reached (%d)", MaxStreamClients)
				continue
			}
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("Stream client connected. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("Stream client disconnected. Total clients: %d", clientCount)

		case message := <-h.broadcast:
			symbol := ""
			if update, ok := message.Data.(*AggregatorUpdate); ok {
				symbol = update.Key.Symbol
			}
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("Error marshaling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			deadClients := make([]*StreamClient, 0)
			for client := range h.clients {
				if symbol != "" && !client.wants(symbol) {
					continue
				}
				select {
				case client.send <- data:
				default:
					deadClients = append(deadClients, client)
				}
			}
			for _, client := range deadClients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request into a stream client.
func (h *StreamHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxStreamClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Stream upgrade error: %v", err)
		return
	}

	client := &StreamClient{
		conn:       conn,
		send:       make(chan []byte, StreamSendBufferSize),
		subscribed: make(map[string]bool),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

// writePump writes messages to the websocket connection.
func (c *StreamClient) writePump() {
	ticker := time.NewTicker(StreamPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(StreamWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(StreamWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles subscribe/unsubscribe commands from the client.
func (c *StreamClient) readPump(h *StreamHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(StreamPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(StreamPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Stream read error: %v", err)
			}
			break
		}

		var cmd struct {
			Action  string   `json:"action"`
			Symbols []string `json:"symbols"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.mu.Lock()
			for _, symbol := range cmd.Symbols {
				c.subscribed[symbol] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			for _, symbol := range cmd.Symbols {
				delete(c.subscribed, symbol)
			}
			c.mu.Unlock()
		}
	}
}

// GetClientCount returns the number of connected clients.
func (h *StreamHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
