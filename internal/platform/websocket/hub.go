// Package websocket pushes recorded audit events to connected admin
// consoles. Clients subscribe to resource types ("patients", "lab_results")
// or to "*" for everything.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/chartlog/internal/platform/auth"
)

// AllTopics receives every published event.
const AllTopics = "*"

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Conn is the part of a websocket connection the pumps use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Client struct {
	ID     string
	UserID string
	Send   chan []byte

	topics map[string]struct{}
}

func NewClient(userID string, topics ...string) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}),
	}
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
	return c
}

// Hub tracks clients by topic. It implements audit.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	for t := range c.topics {
		h.addLocked(c, t)
	}
}

// Unregister drops c from every topic and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for t := range c.topics {
		h.removeLocked(c, t)
	}
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = struct{}{}
		h.addLocked(c, t)
	}
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, t)
		h.removeLocked(c, t)
	}
}

func (h *Hub) addLocked(c *Client, topic string) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][c] = struct{}{}
}

func (h *Hub) removeLocked(c *Client, topic string) {
	subs, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.clients, topic)
	}
}

func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	}
}

// Publish sends value to subscribers of the resource type that prefixes key
// ("patients/<id>" goes to "patients") and to AllTopics subscribers. A client
// whose buffer is full misses the event; it never blocks the publisher.
func (h *Hub) Publish(_ context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal live event: %w", err)
	}
	topic, _, _ := strings.Cut(key, "/")

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, t := range []string{topic, AllTopics} {
		for c := range h.clients[t] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			select {
			case c.Send <- data:
			default:
				h.logger.Warn().Str("client_id", c.ID).Str("topic", topic).Msg("live client too slow, event dropped")
			}
		}
	}
	return nil
}

// Handler upgrades admin requests to a live audit feed.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts upgrades from requests without an Origin header and from
// the listed origins.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	api.GET("/audit-logs/stream", h.Connect, mw...)
}

// Connect upgrades the request. The optional "topics" query parameter is a
// comma-separated initial subscription.
func (h *Handler) Connect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the error response
		return nil
	}

	var topics []string
	for _, t := range strings.Split(c.QueryParam("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	client := NewClient(auth.UserIDFromContext(c.Request().Context()), topics...)
	h.hub.Register(client)
	h.hub.logger.Info().Str("client_id", client.ID).Strs("topics", topics).Msg("live client connected")

	go writePump(client, ws)
	go readPump(h.hub, client, ws)
	return nil
}

func readPump(hub *Hub, c *Client, conn Conn) {
	defer func() {
		hub.Unregister(c)
		conn.Close()
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		hub.ProcessMessage(c, msg)
	}
}

func writePump(c *Client, conn Conn) {
	defer conn.Close()
	for data := range c.Send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
			return
		}
	}
}
