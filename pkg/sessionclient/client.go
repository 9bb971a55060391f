package sessionclient

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
	"lessonlive/internal/infrastructure/signal"
	"lessonlive/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized = errors.New("token rejected by coordinator")
	ErrRoomClosed   = errors.New("room closed")
	ErrReplaced     = errors.New("session replaced by another connection")
	ErrNotConnected = errors.New("not connected")
)

// RejectedError ends Run when the room refused or removed the user.
type RejectedError struct {
	Reason domain.RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected from room: %s", e.Reason)
}

// Event is an outbound coordinator event with its payload left raw.
type Event struct {
	Type    domain.EventType `json:"type"`
	RoomID  domain.RoomID    `json:"room_id"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

type Config struct {
	URL         string // e.g. ws://host:8080/ws
	RoomID      domain.RoomID
	Token       string
	DisplayName string
	Media       domain.MediaUpdate

	// Reconnect paces reconnect attempts. MaxAttempts bounds consecutive
	// failed attempts; a successful join resets the count.
	Reconnect retry.Config

	Dialer *websocket.Dialer
	Logger *zap.SugaredLogger
}

func DefaultConfig() Config {
	return Config{
		Reconnect: retry.Config{
			Enabled:      true,
			MaxAttempts:  10,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
	}
}

// Client keeps one signaling connection to a room. Every connect, including
// automatic reconnects, sends a fresh join, and the KickGuard is consulted
// first.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.SugaredLogger

	Roster *RosterView
	Note   *NoteReplica
	Guard  *KickGuard

	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	role    domain.Role
	self    domain.ConnectionID
	leaving bool
}

// New builds a client. Share one KickGuard across clients of the same user.
func New(cfg Config, guard *KickGuard) *Client {
	if guard == nil {
		guard = NewKickGuard()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.With("room_id", cfg.RoomID),
		Roster: NewRosterView(),
		Note:   NewNoteReplica(),
		Guard:  guard,
		events: make(chan Event, 256),
	}
}

// Events yields every event received, in order. It is never closed; stop
// reading when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Role() domain.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) ConnectionID() domain.ConnectionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Run connects and stays connected until ctx is done, Leave is called or the
// session ends for good. Kicks, rejections, teardown, replacement by another
// session and exhausted reconnects all end it.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.leaving = false
	c.mu.Unlock()

	failures := 0
	for {
		if reason, blocked := c.Guard.Blocked(c.cfg.RoomID); blocked {
			return &RejectedError{Reason: reason}
		}

		joined, err := c.session(ctx)
		if c.hasLeft() {
			return nil
		}
		if isTerminal(err) || ctx.Err() != nil {
			return err
		}
		if joined {
			failures = 0
		}
		failures++
		if c.cfg.Reconnect.MaxAttempts > 0 && failures >= c.cfg.Reconnect.MaxAttempts {
			return fmt.Errorf("giving up after %d reconnect attempts: %w", failures, err)
		}

		delay := retry.Backoff(c.cfg.Reconnect, failures-1)
		c.logger.Infow("connection lost, reconnecting", "error", err, "attempt", failures, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isTerminal(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrRoomClosed) ||
		errors.Is(err, ErrReplaced)
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set("room_id", string(c.cfg.RoomID))
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session runs one connection. joined reports whether the room admitted us.
func (c *Client) session(ctx context.Context) (joined bool, err error) {
	target, err := c.dialURL()
	if err != nil {
		return false, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, ErrUnauthorized
		}
		return false, fmt.Errorf("dial failed: %w", err)
	}

	c.setConn(conn)
	defer func() {
		c.setConn(nil)
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := c.Send(signal.TypeJoin, signal.JoinPayload{DisplayName: c.cfg.DisplayName, Media: c.cfg.Media}); err != nil {
		return false, err
	}

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return joined, ctx.Err()
			}
			return joined, fmt.Errorf("connection lost: %w", err)
		}

		endErr := c.apply(ev)
		if ev.Type == domain.EventJoined {
			joined = true
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return joined, ctx.Err()
		}
		if endErr != nil {
			return joined, endErr
		}
	}
}

// apply folds ev into local state and returns an error when it ends the
// session.
func (c *Client) apply(ev Event) error {
	switch ev.Type {
	case domain.EventJoined:
		var p domain.JoinedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("bad joined payload: %w", err)
		}
		c.mu.Lock()
		c.role, c.self = p.Role, p.ConnectionID
		c.mu.Unlock()
		c.Roster.Replace(p.Roster)
		c.Note.Reset(p.Note)

	case domain.EventParticipantsUpdate:
		var p domain.ParticipantsUpdatePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.logger.Warnw("bad participants-update payload", "error", err)
			return nil
		}
		c.Roster.Replace(p.Roster)

	case domain.EventNoteUpdated:
		var p domain.NoteUpdatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.logger.Warnw("bad note-updated payload", "error", err)
			return nil
		}
		c.Note.ApplyRemote(p)

	case domain.EventPromoted:
		var p domain.PromotedPayload
		if err := json.Unmarshal(ev.Payload, &p); err == nil {
			if self, ok := c.Roster.Find(p.Identity); ok && self.ConnectionID == c.ConnectionID() {
				c.mu.Lock()
				c.role = p.NewRole
				c.mu.Unlock()
			}
		}

	case domain.EventJoinRejected:
		var p domain.JoinRejectedPayload
		_ = json.Unmarshal(ev.Payload, &p)
		if p.Reason == domain.RejectBanned || p.Reason == domain.RejectKicked {
			c.Guard.Record(c.cfg.RoomID, p.Reason == domain.RejectBanned)
		}
		return &RejectedError{Reason: p.Reason}

	case domain.EventKicked:
		var p domain.KickedPayload
		_ = json.Unmarshal(ev.Payload, &p)
		c.Guard.Record(c.cfg.RoomID, p.IsBanned)
		c.Roster.Clear()
		if p.IsBanned {
			return &RejectedError{Reason: domain.RejectBanned}
		}
		return &RejectedError{Reason: domain.RejectKicked}

	case domain.EventRoomClosed:
		c.Roster.Clear()
		return ErrRoomClosed

	case domain.EventSessionReplaced:
		return ErrReplaced
	}
	return nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Send writes one signaling message on the current connection.
func (c *Client) Send(msgType string, payload interface{}) error {
	msg := signal.Message{Type: msgType, RoomID: c.cfg.RoomID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) RaiseHand(raised bool) error {
	return c.Send(signal.TypeRaiseHand, signal.RaiseHandPayload{Raised: &raised})
}

func (c *Client) SetMedia(update domain.MediaUpdate) error {
	return c.Send(signal.TypeSetMedia, update)
}

func (c *Client) RequestScreenShare() error {
	return c.Send(signal.TypeRequestScreenShare, nil)
}

func (c *Client) ReleaseScreenShare() error {
	return c.Send(signal.TypeReleaseScreenShare, nil)
}

// PublishNote ends the local edit and sends the draft.
func (c *Client) PublishNote() error {
	content, _ := c.Note.Content()
	c.Note.EndEdit()
	return c.Send(signal.TypeEditNote, signal.EditNotePayload{Content: content})
}

func (c *Client) Chat(text string) error {
	return c.Send(signal.TypeChat, signal.ChatPayload{Text: text})
}

func (c *Client) Moderate(req domain.ModerationRequest) error {
	return c.Send(signal.TypeModerate, req)
}

// Leave leaves the room; Run returns nil once the server closes the socket.
func (c *Client) Leave() error {
	c.mu.Lock()
	c.leaving = true
	c.mu.Unlock()
	return c.Send(signal.TypeLeave, nil)
}

func (c *Client) hasLeft() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaving
}
