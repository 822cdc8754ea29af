package services

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"chart_engine_backend/models"

	"github.com/gorilla/websocket"
)

// Tick feed connection settings.
const (
	TickFeedDialTimeout   = 10 * time.Second
	TickFeedReconnectBase = time.Second
	TickFeedReconnectCap  = 30 * time.Second
	TickFeedWriteTimeout  = 10 * time.Second
	TickFeedPongTimeout   = 60 * time.Second
	TickFeedPingInterval  = 30 * time.Second
)

// tickMessage is the wire shape of the live tick channel.
type tickMessage struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume,omitempty"`
	Bid    float64 `json:"bid,omitempty"`
	Ask    float64 `json:"ask,omitempty"`
	Change float64 `json:"change,omitempty"`
	Time   int64   `json:"time,omitempty"`
}

type feedCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// TickFeedService maintains the websocket connection to the live tick
// channel. A single read goroutine decodes messages and applies them to
// the aggregator registry, which preserves per-symbol arrival order.
// The connection reconnects with backoff and resubscribes on recovery.
type TickFeedService struct {
	url        string
	aggregator *AggregatorService

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]bool
	running    bool
	stopChan   chan struct{}
}

// NewTickFeedService creates the feed client. It does not connect until
// Start is called.
func NewTickFeedService(url string, aggregator *AggregatorService) *TickFeedService {
	return &TickFeedService{
		url:        url,
		aggregator: aggregator,
		subscribed: make(map[string]bool),
	}
}

// Start connects and begins the read loop. Safe to call once.
func (s *TickFeedService) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("tick feed already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop()
	log.Printf("Tick feed started against %s", s.url)
	return nil
}

// Stop closes the connection and halts reconnection.
func (s *TickFeedService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	log.Println("Tick feed stopped")
}

// Subscribe asks the feed for a symbol's ticks. Subscriptions survive
// reconnects.
func (s *TickFeedService) Subscribe(symbol string) error {
	s.mu.Lock()
	s.subscribed[symbol] = true
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.send(conn, feedCommand{Action: "subscribe", Symbols: []string{symbol}})
}

// Unsubscribe stops a symbol's ticks.
func (s *TickFeedService) Unsubscribe(symbol string) error {
	s.mu.Lock()
	delete(s.subscribed, symbol)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.send(conn, feedCommand{Action: "unsubscribe", Symbols: []string{symbol}})
}

func (s *TickFeedService) send(conn *websocket.Conn, cmd feedCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(TickFeedWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// runLoop dials, reads until failure, then reconnects with exponential
// backoff until stopped.
func (s *TickFeedService) runLoop() {
	backoff := TickFeedReconnectBase
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, err := s.dial()
		if err != nil {
			log.Printf("Tick feed dial failed: %v (retrying in %v)", err, backoff)
			select {
			case <-s.stopChan:
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > TickFeedReconnectCap {
				backoff = TickFeedReconnectCap
			}
			continue
		}
		backoff = TickFeedReconnectBase

		s.readPump(conn)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		stillRunning := s.running
		s.mu.Unlock()
		conn.Close()
		if !stillRunning {
			return
		}
	}
}

func (s *TickFeedService) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: TickFeedDialTimeout}
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conn = conn
	symbols := make([]string, 0, len(s.subscribed))
	for symbol := range s.subscribed {
		symbols = append(symbols, symbol)
	}
	s.mu.Unlock()

	if len(symbols) > 0 {
		if err := s.send(conn, feedCommand{Action: "subscribe", Symbols: symbols}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("resubscribe failed: %w", err)
		}
	}

	log.Printf("Tick feed connected (%d symbols)", len(symbols))
	return conn, nil
}

// readPump decodes ticks and applies them in arrival order.
func (s *TickFeedService) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(TickFeedPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(TickFeedPongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(TickFeedPingInterval)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-s.stopChan:
				return
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(TickFeedWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Tick feed read error: %v", err)
			}
			return
		}

		var msg tickMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Symbol == "" {
			continue
		}

		ts := msg.Time
		if ts == 0 {
			ts = time.Now().Unix()
		}
		s.aggregator.ApplyTick(ts, models.Tick{
			Symbol: msg.Symbol,
			Price:  msg.Price,
			Volume: msg.Volume,
			Bid:    msg.Bid,
			Ask:    msg.Ask,
			Change: msg.Change,
		})
	}
}
