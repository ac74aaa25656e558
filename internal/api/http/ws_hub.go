package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lunchfinder/discovery/internal/domain"
)

const (
	wsSendBuffer   = 64
	wsQueryBuffer  = 8
	wsReadLimit    = 4096
	wsPingInterval = 30 * time.Second
	wsPongWait     = 60 * time.Second
	wsWriteWait    = 10 * time.Second
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsInbound is what clients send: {"type":"query","query":"..."} feeds the
// debounced search, {"type":"location","latitude":..,"longitude":..} reports
// a device fix.
type wsInbound struct {
	Type      string   `json:"type"`
	Query     string   `json:"query,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

type directMessage struct {
	client  *wsClient
	payload []byte
}

type wsHub struct {
	clients    map[*wsClient]bool
	count      atomic.Int32
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	logger     *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		direct:     make(chan directMessage, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				h.drop(client)
			}
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int32(len(h.clients)))
			h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					h.drop(client)
				}
			}
		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; !ok {
				continue
			}
			select {
			case msg.client.send <- msg.payload:
			default:
				h.drop(msg.client)
			}
		}
	}
}

func (h *wsHub) drop(client *wsClient) {
	close(client.send)
	delete(h.clients, client)
	h.count.Store(int32(len(h.clients)))
}

// Close signals the hub to stop and disconnect all clients.
func (h *wsHub) Close() {
	close(h.done)
}

func (h *wsHub) clientCount() int {
	return int(h.count.Load())
}

func (h *wsHub) add(client *wsClient) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *wsHub) remove(client *wsClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends a typed JSON message to all connected WebSocket clients.
// Updates are dropped when the hub is backed up.
func (h *wsHub) Broadcast(msgType string, data any) {
	if h.clientCount() == 0 {
		return
	}
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

// SendTo delivers a typed JSON message to one client.
func (h *wsHub) SendTo(client *wsClient, msgType string, data any) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.direct <- directMessage{client: client, payload: payload}:
	case <-h.done:
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// startPush forwards the shared state streams to every WebSocket client.
func (s *Server) startPush() {
	go s.hub.run()
	if s.pipeline != nil {
		go pump(s.hub, "status", s.pipeline.SubscribeStatus(s.rootCtx))
		go pump(s.hub, "location", s.pipeline.ThrottledLocation(s.rootCtx))
	}
	if s.favorites != nil {
		go pump(s.hub, "favorites", s.favorites.Subscribe(s.rootCtx))
	}
}

func pump[T any](hub *wsHub, msgType string, ch <-chan T) {
	for value := range ch {
		hub.Broadcast(msgType, value)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
	if !s.hub.add(client) {
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(s.rootCtx)
	queries := make(chan string, wsQueryBuffer)
	if s.pipeline != nil {
		results := s.pipeline.DebouncedSearchWith(ctx, queries, domain.SearchIntent{RadiusMeters: s.defaultRadius})
		go func() {
			for items := range results {
				s.hub.SendTo(client, "results", items)
			}
		}()
	}
	go client.writePump()
	go s.readPump(ctx, cancel, client, queries)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, cancel context.CancelFunc, c *wsClient, queries chan<- string) {
	defer func() {
		cancel()
		close(queries)
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.SendTo(c, "error", map[string]string{"message": "invalid message"})
			continue
		}
		switch strings.ToLower(strings.TrimSpace(msg.Type)) {
		case "query":
			select {
			case queries <- msg.Query:
			case <-ctx.Done():
				return
			}
		case "location":
			if s.location == nil || msg.Latitude == nil || msg.Longitude == nil {
				c.hub.SendTo(c, "error", map[string]string{"message": "latitude and longitude are required"})
				continue
			}
			if err := s.location.Update(domain.Coordinate{Latitude: *msg.Latitude, Longitude: *msg.Longitude}); err != nil {
				c.hub.SendTo(c, "error", map[string]string{"message": err.Error()})
			}
		case "cancel":
			if s.pipeline != nil {
				s.pipeline.CancelAll()
			}
		default:
			c.hub.SendTo(c, "error", map[string]string{"message": "unknown message type"})
		}
	}
}
