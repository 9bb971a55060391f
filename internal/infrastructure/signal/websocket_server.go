package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
	"lessonlive/internal/core/services"
	"lessonlive/internal/infrastructure/middleware"
	"lessonlive/pkg/config"
	apperrors "lessonlive/pkg/errors"
	"lessonlive/pkg/tracing"
	"lessonlive/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const disconnectTimeout = 10 * time.Second

var (
	errNotJoined    = errors.New("join must be the first message")
	errRoomMismatch = errors.New("connection is bound to another room")
)

type Options struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	SendQueueSize     int
	MaxMessageBytes   int64
	AllowedOrigins    []string
	MessagesPerSecond float64 // 0 disables per-connection limiting
	MessageBurst      int
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PingInterval:    cfg.Signal.PingInterval,
		PongTimeout:     cfg.Signal.PongTimeout,
		WriteTimeout:    cfg.Signal.WriteTimeout,
		SendQueueSize:   cfg.Signal.SendQueueSize,
		MaxMessageBytes: cfg.Signal.MaxMessageBytes,
		AllowedOrigins:  cfg.Signal.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.MessageBurst = cfg.RateLimiting.WebSocket.Burst
	}
	return opts
}

// Metrics is the transport side of the session metrics.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageReceived(msgType string)
	SendQueueOverflow()
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()      {}
func (noopMetrics) ConnectionClosed()      {}
func (noopMetrics) MessageReceived(string) {}
func (noopMetrics) SendQueueOverflow()     {}

// WebSocketServer terminates signaling connections. It is the coordinator's
// event sink: deliveries are queued per connection and written by a single
// goroutine, so events reach each client in the order they were produced.
type WebSocketServer struct {
	coord    ports.Coordinator
	auth     services.AuthService
	opts     Options
	metrics  Metrics
	upgrader websocket.Upgrader

	clients map[domain.ConnectionID]*client
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

func NewWebSocketServer(auth services.AuthService, opts Options, metrics Metrics, logger *zap.SugaredLogger) *WebSocketServer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 256
	}
	s := &WebSocketServer{
		auth:    auth,
		opts:    opts,
		metrics: metrics,
		clients: make(map[domain.ConnectionID]*client),
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

// Attach sets the coordinator. The coordinator needs the server as its sink,
// so the two are wired in two steps.
func (s *WebSocketServer) Attach(coord ports.Coordinator) {
	s.coord = coord
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Host {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.ValidateToken(middleware.BearerToken(r))
	if err != nil {
		http.Error(w, `{"error":"UNAUTHORIZED","message":"valid bearer token required"}`, http.StatusUnauthorized)
		return
	}
	roomID := r.URL.Query().Get("room_id")
	if err := validation.ValidateRoomID(roomID); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"INVALID_INPUT","message":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, s.opts.SendQueueSize)
	c.id = domain.ConnectionID(uuid.NewString())
	c.identity = claims.Identity
	c.displayName = claims.DisplayName
	c.admin = claims.Admin
	c.roomID = domain.RoomID(roomID)
	if s.opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.MessageBurst)
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.metrics.ConnectionOpened()

	s.logger.Infow("signaling connection opened",
		"connection_id", c.id,
		"identity", c.identity,
		"room_id", c.roomID,
	)

	go c.writePump(s.opts.PingInterval, s.opts.WriteTimeout, func(err error) {
		s.logger.Debugw("write failed", "connection_id", c.id, "error", err)
	})

	s.readPump(c)
	s.cleanup(c)
}

func (s *WebSocketServer) readPump(c *client) {
	conn := c.conn
	if s.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.opts.MaxMessageBytes)
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Infow("error reading from connection", "connection_id", c.id, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if c.limiter != nil && !c.limiter.Allow() {
			s.sendError(c, apperrors.NewRateLimitError())
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			s.sendError(c, apperrors.NewInvalidInputError("malformed message"))
			continue
		}
		s.metrics.MessageReceived(msg.Type)

		ctx, span := tracing.TraceSignalMessage(context.Background(), msg.Type, string(c.id))
		if err := s.handleMessage(ctx, c, msg); err != nil {
			if _, rejected := domain.RejectionReason(err); !rejected {
				tracing.RecordError(ctx, err)
			}
			s.logger.Debugw("signaling message failed",
				"connection_id", c.id,
				"type", msg.Type,
				"error", err,
			)
			s.sendError(c, err)
		}
		span.End()
	}
}

func (s *WebSocketServer) cleanup(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.abort()
	s.metrics.ConnectionClosed()

	if c.joined && s.coord != nil {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		s.coord.Disconnect(ctx, c.id)
		cancel()
	}
	s.logger.Infow("signaling connection closed", "connection_id", c.id, "identity", c.identity, "room_id", c.roomID)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, c *client, msg Message) error {
	if msg.RoomID != "" && msg.RoomID != c.roomID {
		return errRoomMismatch
	}
	if !c.joined && msg.Type != TypeJoin {
		return errNotJoined
	}

	switch msg.Type {
	case TypeJoin:
		return s.handleJoin(ctx, c, msg)

	case TypeLeave:
		err := s.coord.Leave(ctx, c.id)
		c.joined = false
		s.Close(c.id, "left")
		return err

	case TypeRaiseHand:
		var p RaiseHandPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return s.coord.RaiseHand(ctx, c.id, p.Raised == nil || *p.Raised)

	case TypeSetMedia:
		var p domain.MediaUpdate
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return s.coord.SetMedia(ctx, c.id, p)

	case TypeRequestScreenShare:
		err := s.coord.RequestScreenShare(ctx, c.id)
		if _, denied := domain.RejectionReason(err); denied {
			// screen-share-denied was already delivered
			return nil
		}
		return err

	case TypeReleaseScreenShare:
		return s.coord.ReleaseScreenShare(ctx, c.id)

	case TypeScreenShareEnded:
		return s.coord.HandleTransportStop(ctx, c.id)

	case TypeModerate:
		var req domain.ModerationRequest
		if err := decode(msg.Payload, &req); err != nil {
			return err
		}
		if err := validation.ValidateReason(req.Reason); err != nil {
			return apperrors.NewInvalidInputError(err.Error())
		}
		return s.coord.Moderate(ctx, c.roomID, c.identity, req)

	case TypeEditNote:
		var p EditNotePayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		_, err := s.coord.EditNote(ctx, c.id, p.Content)
		return err

	case TypeChat:
		var p ChatPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return s.coord.SendChat(ctx, c.id, p.Text)

	case TypeHandQueue:
		entries, err := s.coord.HandQueue(ctx, c.id)
		if err != nil {
			return err
		}
		s.send(c, domain.Event{
			Type:    domain.EventHandQueue,
			RoomID:  c.roomID,
			Payload: domain.HandQueuePayload{Entries: entries},
		})
		return nil

	case TypeEndRoom:
		return s.coord.TeardownRoom(ctx, c.roomID, c.identity, c.admin)

	default:
		return apperrors.NewInvalidInputError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *WebSocketServer) handleJoin(ctx context.Context, c *client, msg Message) error {
	var p JoinPayload
	if err := decode(msg.Payload, &p); err != nil {
		return err
	}
	fallback := c.displayName
	if fallback == "" {
		fallback = string(c.identity)
	}
	name, err := validation.NormalizeDisplayName(p.DisplayName, fallback)
	if err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	_, err = s.coord.Join(ctx, domain.JoinRequest{
		RoomID:        c.roomID,
		Identity:      c.identity,
		DisplayName:   name,
		ConnectionID:  c.id,
		RequestedRole: p.Role,
		Media:         p.Media,
	})
	if reason, rejected := domain.RejectionReason(err); rejected {
		s.send(c, domain.Event{
			Type:    domain.EventJoinRejected,
			RoomID:  c.roomID,
			Payload: domain.JoinRejectedPayload{Reason: reason},
		})
		s.Close(c.id, "join rejected: "+string(reason))
		return nil
	}
	if err != nil {
		return err
	}
	c.joined = true
	return nil
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.NewInvalidInputError("invalid payload: " + err.Error())
	}
	return nil
}

// Deliver implements ports.EventSink.
func (s *WebSocketServer) Deliver(connIDs []domain.ConnectionID, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Errorw("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	s.mu.RLock()
	targets := make([]*client, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := s.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		s.push(c, outbound{data: data})
	}
}

// Close implements ports.EventSink.
func (s *WebSocketServer) Close(connID domain.ConnectionID, reason string) {
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if ok {
		s.push(c, outbound{close: true, reason: reason})
	}
}

func (s *WebSocketServer) push(c *client, msg outbound) {
	if c.enqueue(msg) {
		return
	}
	s.metrics.SendQueueOverflow()
	s.logger.Warnw("send queue full, closing slow connection",
		"connection_id", c.id,
		"identity", c.identity,
		"room_id", c.roomID,
	)
	c.abort()
}

func (s *WebSocketServer) send(c *client, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Errorw("failed to marshal event", "type", event.Type, "error", err)
		return
	}
	s.push(c, outbound{data: data})
}

func (s *WebSocketServer) sendError(c *client, err error) {
	s.send(c, domain.Event{
		Type:    domain.EventError,
		RoomID:  c.roomID,
		Payload: errorPayload(err),
	})
}

func errorPayload(err error) domain.ErrorPayload {
	if reason, ok := domain.RejectionReason(err); ok {
		return domain.ErrorPayload{Code: string(reason), Message: err.Error()}
	}
	switch {
	case errors.Is(err, errNotJoined):
		return domain.ErrorPayload{Code: "not_joined", Message: err.Error()}
	case errors.Is(err, errRoomMismatch):
		return domain.ErrorPayload{Code: "room_mismatch", Message: err.Error()}
	}
	appErr := middleware.MapError(err)
	msg := appErr.Message
	if appErr.Code == apperrors.ErrCodeInternal {
		msg = "internal error"
	}
	return domain.ErrorPayload{Code: string(appErr.Code), Message: msg}
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// CloseAll flushes and closes every connection.
func (s *WebSocketServer) CloseAll(reason string) {
	s.mu.RLock()
	ids := make([]domain.ConnectionID, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Close(id, reason)
	}
}
