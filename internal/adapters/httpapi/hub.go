package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/auctionbets/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// filter limita qué eventos recibe un cliente. Vacío = todos.
type filter struct {
	marketID uint64
	kinds    map[domain.EventKind]bool
}

func (f filter) match(e eventDTO) bool {
	if f.marketID != 0 && e.MarketID != f.marketID {
		return false
	}
	if len(f.kinds) > 0 && !f.kinds[domain.EventKind(e.Kind)] {
		return false
	}
	return true
}

// parseFilter lee ?market=<id>&kinds=SHARES_BOUGHT,PAYOUT_CLAIMED.
func parseFilter(r *http.Request) (filter, error) {
	var f filter
	q := r.URL.Query()
	if v := q.Get("market"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid market %q", v)
		}
		f.marketID = id
	}
	if v := q.Get("kinds"); v != "" {
		f.kinds = make(map[domain.EventKind]bool)
		for _, k := range strings.Split(v, ",") {
			if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
				f.kinds[domain.EventKind(k)] = true
			}
		}
	}
	return f, nil
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter filter
}

type broadcastMsg struct {
	event eventDTO
	data  []byte
}

// Hub reenvía los eventos del motor a los clientes WebSocket conectados.
// Implementa ports.EventSink.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Publish encola el evento sin bloquear al motor. Con la cola llena se descarta.
func (h *Hub) Publish(_ context.Context, e domain.Event) error {
	dto := toEventDTO(e)
	data, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("hub.Publish: %w", err)
	}
	select {
	case h.broadcast <- broadcastMsg{event: dto, data: data}:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event",
			"seq", e.Seq,
			"kind", string(e.Kind),
		)
	}
	return nil
}

// Run atiende registros y broadcast hasta que ctx se cancela.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", "total_clients", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", "total_clients", total)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver reparte msg a los clientes cuyo filtro coincide. Un cliente con el
// buffer lleno ya perdió eventos: se lo desconecta para que re-sincronice
// con GET /api/events en lugar de seguir con un stream con huecos.
func (h *Hub) deliver(msg broadcastMsg) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.filter.match(msg.event) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Warn("ws: dropped slow clients", "dropped", len(slow), "seq", msg.event.Seq, "total_clients", total)
}

// HandleWS hace el upgrade y registra al cliente.
// GET /ws?market=1&kinds=SHARES_BOUGHT
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", "error", err.Error())
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		filter: f,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump solo mantiene viva la conexión; los clientes no envían comandos.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", "error", err.Error())
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
