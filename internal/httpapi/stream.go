package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"housesim/internal/domain"
)

const streamBuffer = 16

type streamClient struct {
	ws     *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// EventStream fans tick event batches out to websocket subscribers. Slow
// subscribers miss batches rather than stall the tick.
type EventStream struct {
	mu       sync.RWMutex
	clients  map[string]*streamClient
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewEventStream(logger *slog.Logger) *EventStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStream{
		clients: make(map[string]*streamClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func (s *EventStream) register(id string, ws *websocket.Conn) *streamClient {
	c := &streamClient{
		ws:     ws,
		sendCh: make(chan []byte, streamBuffer),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()
	return c
}

func (s *EventStream) unregister(id string) {
	s.mu.Lock()
	c := s.clients[id]
	delete(s.clients, id)
	s.mu.Unlock()
	if c != nil {
		c.close()
	}
}

func (s *EventStream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// PublishEvents implements scheduler.EventSink.
func (s *EventStream) PublishEvents(_ context.Context, events []domain.WorldEvent) error {
	if len(events) == 0 {
		return nil
	}
	body, err := json.Marshal(events)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, c := range s.clients {
		select {
		case <-c.done:
		case c.sendCh <- body:
		default:
			s.logger.Warn("event stream subscriber lagging, batch dropped", "subscriber", id)
		}
	}
	return nil
}

func (s *EventStream) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn("upgrade websocket failed", "error", err)
		return
	}

	id := uuid.NewString()
	c := s.register(id, ws)
	defer func() {
		s.unregister(id)
		_ = ws.Close()
	}()
	s.logger.Info("event stream subscribed", "subscriber", id)

	go s.writeLoop(c)

	// reads only detect the close; clients have nothing to say
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			s.logger.Info("event stream closed", "subscriber", id)
			return
		}
	}
}

func (s *EventStream) writeLoop(c *streamClient) {
	for {
		select {
		case <-c.done:
			return
		case body := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
				c.close()
				return
			}
		}
	}
}
