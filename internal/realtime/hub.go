package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/tabletop/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64
)

var (
	// ErrUnknownConnection is returned when delivering to a connection that is not registered.
	ErrUnknownConnection = errors.New("realtime: unknown connection")
	// ErrBackpressure is returned when a client's send buffer is full. The client is dropped.
	ErrBackpressure = errors.New("realtime: send buffer full")
)

// Client identifies one websocket connection bound to a session and user.
type Client struct {
	ConnectionID string
	SessionID    string
	UserID       string
}

// Dispatcher handles inbound frames for a connection. HandleFrame runs on the
// connection's read goroutine, so frames from one client are handled in order.
type Dispatcher interface {
	HandleFrame(ctx context.Context, client Client, frame Frame) (any, error)
	HandleClose(ctx context.Context, client Client)
}

// Hub tracks websocket connections per session and delivers messages to them.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	sessions    map[string]map[string]*connection
	upgrader    websocket.Upgrader
	bufferSize  int
	newID       func() string
	log         *zap.Logger
}

// HubOption customises the hub.
type HubOption func(*Hub)

// WithAllowedOrigins restricts websocket upgrades to the supplied origins. Without it,
// same-host and loopback origins are accepted.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		allowed := make(map[string]struct{}, len(origins))
		for _, origin := range origins {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowed[strings.ToLower(origin)] = struct{}{}
			}
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := strings.ToLower(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// WithBufferSize overrides the per-connection send buffer.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// WithHubLogger overrides the hub logger.
func WithHubLogger(log *zap.Logger) HubOption {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// WithConnectionIDGenerator overrides connection id generation, primarily for tests.
func WithConnectionIDGenerator(fn func() string) HubOption {
	return func(h *Hub) {
		if fn != nil {
			h.newID = fn
		}
	}
}

// NewHub constructs a realtime hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		connections: make(map[string]*connection),
		sessions:    make(map[string]map[string]*connection),
		bufferSize:  defaultBufferSize,
		newID:       uuid.NewString,
		log:         logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve upgrades the HTTP connection to a websocket bound to the session and user, then
// feeds inbound frames to the dispatcher until the socket closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID, userID string, dispatcher Dispatcher) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &connection{
		hub:    h,
		socket: socket,
		info:   Client{ConnectionID: h.newID(), SessionID: sessionID, UserID: userID},
		send:   make(chan Message, h.bufferSize),
		cancel: cancel,
	}
	h.register(client)

	go client.writeLoop()
	_ = h.deliver(client, Message{
		Type:      MessageConnected,
		SessionID: sessionID,
		Data:      map[string]string{"connection_id": client.info.ConnectionID, "user_id": userID},
	})
	client.readLoop(ctx, dispatcher)

	if dispatcher != nil {
		dispatcher.HandleClose(context.Background(), client.info)
	}
}

// Send delivers a message to one connection.
func (h *Hub) Send(connectionID string, message Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.connections[connectionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	return h.enqueueLocked(client, message)
}

// Broadcast delivers a message to every connection of a session except the excluded ones.
// It returns the combined errors of the connections that could not be served.
func (h *Hub) Broadcast(sessionID string, message Message, excludeConnectionIDs ...string) error {
	excluded := make(map[string]struct{}, len(excludeConnectionIDs))
	for _, id := range excludeConnectionIDs {
		excluded[id] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var errs error
	for id, client := range h.sessions[sessionID] {
		if _, skip := excluded[id]; skip {
			continue
		}
		errs = multierr.Append(errs, h.enqueueLocked(client, message))
	}
	return errs
}

// ConnectionCount returns the number of open connections for a session.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// ActiveConnections returns the number of open connections across all sessions.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Connections lists the clients connected to a session ordered by connection id.
func (h *Hub) Connections(sessionID string) []Client {
	h.mu.RLock()
	clients := make([]Client, 0, len(h.sessions[sessionID]))
	for _, client := range h.sessions[sessionID] {
		clients = append(clients, client.info)
	}
	h.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].ConnectionID < clients[j].ConnectionID })
	return clients
}

// Disconnect closes one connection. It reports whether the connection was open.
func (h *Hub) Disconnect(connectionID string) bool {
	h.mu.RLock()
	client, ok := h.connections[connectionID]
	h.mu.RUnlock()
	if ok {
		client.close()
	}
	return ok
}

// CloseSession closes every connection of a session and returns how many were closed.
func (h *Hub) CloseSession(sessionID string) int {
	h.mu.RLock()
	clients := make([]*connection, 0, len(h.sessions[sessionID]))
	for _, client := range h.sessions[sessionID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.close()
	}
	return len(clients)
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[client.info.ConnectionID] = client
	if h.sessions[client.info.SessionID] == nil {
		h.sessions[client.info.SessionID] = make(map[string]*connection)
	}
	h.sessions[client.info.SessionID][client.info.ConnectionID] = client
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[client.info.ConnectionID] != client {
		return
	}
	delete(h.connections, client.info.ConnectionID)
	members := h.sessions[client.info.SessionID]
	delete(members, client.info.ConnectionID)
	if len(members) == 0 {
		delete(h.sessions, client.info.SessionID)
	}
}

// deliver queues a message for a connection that may be closing.
func (h *Hub) deliver(client *connection, message Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.connections[client.info.ConnectionID] != client {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, client.info.ConnectionID)
	}
	return h.enqueueLocked(client, message)
}

// enqueueLocked must run under h.mu. A client whose buffer is full is closed
// asynchronously because close needs the write lock.
func (h *Hub) enqueueLocked(client *connection, message Message) error {
	select {
	case client.send <- message:
		return nil
	default:
		h.log.Warn("dropping backpressure client",
			zap.String("session_id", client.info.SessionID),
			zap.String("user_id", client.info.UserID),
			zap.String("connection_id", client.info.ConnectionID),
		)
		go client.close()
		return fmt.Errorf("%w: %s", ErrBackpressure, client.info.ConnectionID)
	}
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	info   Client
	send   chan Message
	cancel context.CancelFunc
	once   sync.Once
}

func (c *connection) readLoop(ctx context.Context, dispatcher Dispatcher) {
	defer c.close()

	log := c.hub.log.With(
		zap.String("session_id", c.info.SessionID),
		zap.String("user_id", c.info.UserID),
		zap.String("connection_id", c.info.ConnectionID),
	)

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil || strings.TrimSpace(frame.Type) == "" {
			log.Debug("invalid frame", zap.Error(err))
			_ = c.hub.deliver(c, errorReply(Frame{Type: MessageError}, errInvalidFrame))
			continue
		}
		frame.Type = strings.TrimSpace(frame.Type)

		if frame.Type == FramePing {
			_ = c.hub.deliver(c, Message{Type: MessagePong, RequestID: frame.RequestID})
			continue
		}
		if dispatcher == nil {
			continue
		}

		data, err := dispatcher.HandleFrame(ctx, c.info, frame)
		if err != nil {
			log.Debug("frame failed", zap.String("type", frame.Type), zap.Error(err))
			_ = c.hub.deliver(c, errorReply(frame, err))
			continue
		}
		_ = c.hub.deliver(c, okReply(frame, data))
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close unregisters before closing the send channel so no sender holding the read
// lock can observe a closed channel.
func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		c.cancel()
		close(c.send)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
