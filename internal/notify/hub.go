package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event is the frame pushed to WebSocket clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func SubjectTopic(id uuid.UUID) string  { return "subject/" + id.String() }
func ProviderTopic(id uuid.UUID) string { return "provider/" + id.String() }

type client struct {
	id     string
	topics []string
	send   chan []byte
}

// Hub tracks WebSocket clients by topic and is the real-time push channel.
// Subjects listen on subject/<id>; provider dashboards on provider/<id>.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // topic -> clients
	logger  zerolog.Logger
	now     func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range c.topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*client]struct{})
		}
		h.clients[topic][c] = struct{}{}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := false
	for _, topic := range c.topics {
		subscribers, ok := h.clients[topic]
		if !ok {
			continue
		}
		if _, ok := subscribers[c]; ok {
			removed = true
			delete(subscribers, c)
		}
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
	if removed {
		close(c.send)
	}
}

// Broadcast sends data to every client on topic. Slow clients are skipped.
func (h *Hub) Broadcast(topic string, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	frame, err := json.Marshal(Event{
		Type:      eventType,
		Topic:     topic,
		Timestamp: h.now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[topic] {
		select {
		case c.send <- frame:
		default:
			h.logger.Debug().Str("client_id", c.id).Str("topic", topic).Msg("websocket client buffer full")
		}
	}
	return nil
}

// TopicCount returns the number of clients listening on topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) PublishRescheduled(_ context.Context, n Rescheduled) error {
	if err := h.Broadcast(SubjectTopic(n.SubjectID), "appointment.rescheduled", n); err != nil {
		return err
	}
	return h.Broadcast(ProviderTopic(n.ProviderID), "appointment.rescheduled", n)
}

func (h *Hub) PublishRefund(_ context.Context, s RefundSignal) error {
	return h.Broadcast(SubjectTopic(s.SubjectID), "appointment.refund_eligible", s)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeHTTP upgrades the request and subscribes the connection to the
// subject_id and/or provider_id given in the query string.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var topics []string
	for param, topic := range map[string]func(uuid.UUID) string{
		"subject_id":  SubjectTopic,
		"provider_id": ProviderTopic,
	} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, param+" must be a valid UUID", http.StatusBadRequest)
			return
		}
		topics = append(topics, topic(id))
	}
	if len(topics) == 0 {
		http.Error(w, "subject_id or provider_id is required", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:     uuid.NewString(),
		topics: topics,
		send:   make(chan []byte, 64),
	}
	h.register(c)

	go h.writePump(c, ws)
	go h.readPump(c, ws)
}

// readPump only watches for the peer going away.
func (h *Hub) readPump(c *client, ws *websocket.Conn) {
	defer func() {
		h.unregister(c)
		ws.Close()
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client, ws *websocket.Conn) {
	defer ws.Close()

	for frame := range c.send {
		_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}
