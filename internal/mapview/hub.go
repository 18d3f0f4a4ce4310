package mapview

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/geocoin/engine/internal/geo"
	"github.com/geocoin/engine/internal/metrics"
	"github.com/geocoin/engine/internal/neighborhood"
)

// Message types sent to map view clients.
const (
	TypePanTo        = "pan_to"
	TypePlayerMarker = "player_marker"
	TypePathPoint    = "path_point"
	TypePathReset    = "path_reset"
	TypeCacheMarker  = "cache_marker"
	TypeClearMarkers = "clear_markers"
	TypeWarning      = "warning"
)

// Message is a JSON render command sent to websocket clients.
type Message struct {
	Type     string         `json:"type"`
	Cell     string         `json:"cell,omitempty"`
	Bounds   *[2][2]float64 `json:"bounds,omitempty"` // [[south, west], [north, east]]
	Position *geo.Position  `json:"position,omitempty"`
	Path     []geo.Position `json:"path,omitempty"`
	Text     string         `json:"text,omitempty"`
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
}

// Hub broadcasts render commands to every connected client. It also keeps
// the current render state so late joiners see the same map.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex

	// render state, guarded by stateMu
	stateMu sync.Mutex
	markers map[string][]byte
	player  []byte
	center  []byte
	path    []geo.Position
}

// NewHub creates a new map view hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		markers:    make(map[string][]byte),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			for _, msg := range h.replay() {
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					delete(h.clients, c)
					c.conn.Close()
					break
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("map view client connected", "client", c.id.String(), "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					c.conn.Close()
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// replay returns the messages that rebuild the current map from scratch.
func (h *Hub) replay() [][]byte {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	var out [][]byte
	if h.center != nil {
		out = append(out, h.center)
	}
	if h.player != nil {
		out = append(out, h.player)
	}
	if len(h.path) > 0 {
		if data, err := json.Marshal(Message{Type: TypePathReset, Path: h.path}); err == nil {
			out = append(out, data)
		}
	}
	for _, m := range h.markers {
		out = append(out, m)
	}
	return out
}

func (h *Hub) send(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full so the session loop never blocks on clients.
	}
	return data
}

func (h *Hub) PanTo(pos geo.Position) {
	data := h.send(Message{Type: TypePanTo, Position: &pos})
	h.stateMu.Lock()
	h.center = data
	h.stateMu.Unlock()
}

func (h *Hub) SetPlayerMarker(pos geo.Position) {
	data := h.send(Message{Type: TypePlayerMarker, Position: &pos})
	h.stateMu.Lock()
	h.player = data
	h.stateMu.Unlock()
}

func (h *Hub) AppendPathPoint(pos geo.Position) {
	h.send(Message{Type: TypePathPoint, Position: &pos})
	h.stateMu.Lock()
	h.path = append(h.path, pos)
	h.stateMu.Unlock()
}

func (h *Hub) ResetPath(path []geo.Position) {
	h.send(Message{Type: TypePathReset, Path: path})
	h.stateMu.Lock()
	h.path = append([]geo.Position(nil), path...)
	h.stateMu.Unlock()
}

func (h *Hub) AddCacheMarker(m *neighborhood.Marker) {
	bounds := [2][2]float64{
		{m.Bounds.Min.Lat(), m.Bounds.Min.Lon()},
		{m.Bounds.Max.Lat(), m.Bounds.Max.Lon()},
	}
	cell := m.Cell.String()
	data := h.send(Message{Type: TypeCacheMarker, Cell: cell, Bounds: &bounds})
	h.stateMu.Lock()
	h.markers[cell] = data
	h.stateMu.Unlock()
}

func (h *Hub) RemoveAllCacheMarkers() {
	h.send(Message{Type: TypeClearMarkers})
	h.stateMu.Lock()
	clear(h.markers)
	h.stateMu.Unlock()
}

func (h *Hub) Warn(text string) {
	h.send(Message{Type: TypeWarning, Text: text})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // The UI may be served from a dev server on another port.
	},
}

// HandleWS handles websocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{id: uuid.New(), conn: conn}
	h.register <- c

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- c }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[c]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()
}
