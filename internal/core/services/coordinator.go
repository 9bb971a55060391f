package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
	"lessonlive/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxActorAttempts = 3

type CoordinatorConfig struct {
	AutoCreateRooms         bool
	DefaultRoomKind         domain.RoomKind
	DefaultParticipantLimit int
	MailboxSize             int
	StoreTimeout            time.Duration
	Policy                  ModerationPolicy
	ScreenShareRoles        []domain.Role // empty = every role
	NoteMaxBytes            int
	ChatMaxLength           int
	ChatHistorySize         int
	MirrorBufferSize        int
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		AutoCreateRooms:         true,
		DefaultRoomKind:         domain.RoomKindLiveSession,
		DefaultParticipantLimit: 0,
		MailboxSize:             64,
		StoreTimeout:            5 * time.Second,
		Policy:                  NewModerationPolicy(false, false, true),
		NoteMaxBytes:            64 * 1024,
		ChatMaxLength:           2000,
		ChatHistorySize:         50,
		MirrorBufferSize:        1024,
	}
}

func (cfg CoordinatorConfig) screenShareAllowed(role domain.Role) bool {
	if len(cfg.ScreenShareRoles) == 0 {
		return true
	}
	for _, r := range cfg.ScreenShareRoles {
		if r == role {
			return true
		}
	}
	return false
}

// CoordinatorDeps are the collaborators of the coordinator. Media, Mirror,
// Commands, Leaser and Metrics are optional.
type CoordinatorDeps struct {
	Rooms      ports.RoomRepository
	Moderation ports.ModerationStore
	Notes      ports.NoteStore
	Roles      ports.RoleStore
	Resolver   ports.RoleResolver
	Sink       ports.EventSink
	Media      ports.MediaTransport
	Mirror     ports.EventMirror
	Commands   ports.CommandPublisher
	Leaser     ports.RoomLeaser
	Metrics    ports.SessionMetrics
	Logger     *zap.SugaredLogger
}

type coordinator struct {
	cfg CoordinatorConfig

	rooms       ports.RoomRepository
	moderation  ports.ModerationStore
	notes       ports.NoteStore
	roles       ports.RoleStore
	resolver    ports.RoleResolver
	sink        ports.EventSink
	media       ports.MediaTransport
	eventMirror ports.EventMirror
	commands    ports.CommandPublisher
	leaser      ports.RoomLeaser
	metrics     ports.SessionMetrics
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	actors   map[domain.RoomID]*roomActor
	stopping bool

	connMu sync.RWMutex
	conns  map[domain.ConnectionID]domain.RoomID

	mirrorQueue chan domain.Event
	mirrorStop  chan struct{}
	mirrorDone  chan struct{}
}

func NewCoordinator(deps CoordinatorDeps, cfg CoordinatorConfig) ports.Coordinator {
	if cfg.MailboxSize < 1 {
		cfg.MailboxSize = 1
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Policy.allowed == nil {
		cfg.Policy = NewModerationPolicy(false, false, true)
	}

	c := &coordinator{
		cfg:         cfg,
		rooms:       deps.Rooms,
		moderation:  deps.Moderation,
		notes:       deps.Notes,
		roles:       deps.Roles,
		resolver:    deps.Resolver,
		sink:        deps.Sink,
		media:       deps.Media,
		eventMirror: deps.Mirror,
		commands:    deps.Commands,
		leaser:      deps.Leaser,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		actors:      make(map[domain.RoomID]*roomActor),
		conns:       make(map[domain.ConnectionID]domain.RoomID),
	}
	if c.logger == nil {
		c.logger = zap.NewNop().Sugar()
	}
	if c.sink == nil {
		c.sink = discardSink{}
	}
	if c.media == nil {
		c.media = NewSignalingMediaTransport(c.sink)
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	if c.resolver == nil {
		c.resolver = NewRoleResolver(c.roles, domain.RoleParticipant)
	}
	if c.eventMirror != nil {
		c.mirrorQueue = make(chan domain.Event, cfg.MirrorBufferSize)
		c.mirrorStop = make(chan struct{})
		c.mirrorDone = make(chan struct{})
		go c.runMirror()
	}
	return c
}

// acquire returns the live actor of roomID, starting one when create is set.
// Each successful call reserves one pending task slot on the actor.
func (c *coordinator) acquire(roomID domain.RoomID, create bool) (*roomActor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopping {
		return nil, domain.ErrRoomClosed
	}
	if a, ok := c.actors[roomID]; ok {
		a.pending++
		return a, nil
	}
	if !create {
		return nil, nil
	}

	a := newRoomActor(roomID, c)
	a.pending = 2 // hydrate + the caller's task
	a.mailbox <- func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
		defer cancel()
		a.hydrate(ctx)
	}
	c.actors[roomID] = a
	go a.run()
	return a, nil
}

// settle runs on the actor goroutine after each task and decides retirement.
func (c *coordinator) settle(a *roomActor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	a.pending--
	if a.state.closed || (a.pending <= 0 && a.state.idle()) {
		if c.actors[a.id] == a {
			delete(c.actors, a.id)
		}
		return true
	}
	return false
}

// leaseLost schedules eviction on an actor whose room lease is gone.
func (c *coordinator) leaseLost(a *roomActor) {
	c.mu.Lock()
	if c.actors[a.id] != a {
		c.mu.Unlock()
		return
	}
	a.pending++
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
	defer cancel()
	if err := a.submit(ctx, a.evict); err != nil && !errors.Is(err, errActorStopped) {
		c.logger.Errorw("failed to evict room after lease loss", "room_id", a.id, "error", err)
	}
}

func (c *coordinator) release(a *roomActor) {
	c.mu.Lock()
	a.pending--
	c.mu.Unlock()
}

// withRoom runs fn on the room's actor. found is false when no actor is live
// and create is not set.
func (c *coordinator) withRoom(ctx context.Context, roomID domain.RoomID, create bool, fn func(a *roomActor)) (bool, error) {
	for attempt := 0; attempt < maxActorAttempts; attempt++ {
		a, err := c.acquire(roomID, create)
		if err != nil {
			return false, err
		}
		if a == nil {
			return false, nil
		}
		err = a.submit(ctx, func() { fn(a) })
		if errors.Is(err, errActorStopped) {
			continue
		}
		return true, err
	}
	return false, domain.ErrRoomClosed
}

func (c *coordinator) withConnection(ctx context.Context, connID domain.ConnectionID, fn func(a *roomActor)) error {
	roomID := c.roomOf(connID)
	if roomID == "" {
		return domain.ErrNotInRoom
	}
	found, err := c.withRoom(ctx, roomID, false, fn)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotInRoom
	}
	return nil
}

func (c *coordinator) bind(connID domain.ConnectionID, roomID domain.RoomID) {
	c.connMu.Lock()
	c.conns[connID] = roomID
	c.connMu.Unlock()
}

func (c *coordinator) unbind(connID domain.ConnectionID) {
	c.connMu.Lock()
	delete(c.conns, connID)
	c.connMu.Unlock()
}

func (c *coordinator) roomOf(connID domain.ConnectionID) domain.RoomID {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conns[connID]
}

func (c *coordinator) observe(ctx context.Context, op string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "coordinator."+op)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			if _, rejected := domain.RejectionReason(*errp); !rejected {
				tracing.RecordError(ctx, *errp)
			}
		}
		span.End()
		c.metrics.ObserveOperation(op, time.Since(start))
	}
}

func (c *coordinator) CreateRoom(ctx context.Context, room *domain.Room, hosts []domain.Identity) (*domain.Room, error) {
	if room.Kind == "" {
		room.Kind = c.cfg.DefaultRoomKind
	}
	if room.ParticipantLimit < 0 {
		room.ParticipantLimit = 0
	}
	room.CreatedAt = time.Now()

	if err := c.rooms.Create(ctx, room); err != nil {
		return nil, err
	}
	for _, host := range hosts {
		if err := c.roles.Assign(ctx, room.ID, host, domain.RoleHost); err != nil {
			return nil, fmt.Errorf("failed to assign host: %w", err)
		}
	}
	c.logger.Infow("room created", "room_id", room.ID, "kind", room.Kind, "participant_limit", room.ParticipantLimit, "hosts", hosts)
	return room, nil
}

func (c *coordinator) GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	return c.rooms.GetByID(ctx, roomID)
}

func (c *coordinator) Join(ctx context.Context, req domain.JoinRequest) (res *domain.JoinResult, err error) {
	ctx, done := c.observe(ctx, "join")
	defer done(&err)

	if req.ConnectionID == "" {
		req.ConnectionID = domain.ConnectionID(uuid.NewString())
	}
	if current := c.roomOf(req.ConnectionID); current != "" && current != req.RoomID {
		return nil, domain.ErrAlreadyInOtherRoom
	}

	var joinErr error
	if _, err = c.withRoom(ctx, req.RoomID, true, func(a *roomActor) {
		res, joinErr = a.join(ctx, req)
	}); err != nil {
		return nil, err
	}
	if reason, rejected := domain.RejectionReason(joinErr); rejected {
		c.metrics.JoinRejected(reason)
		c.logger.Infow("join rejected", "room_id", req.RoomID, "identity", req.Identity, "reason", reason)
	}
	return res, joinErr
}

func (c *coordinator) Leave(ctx context.Context, connID domain.ConnectionID) (err error) {
	ctx, done := c.observe(ctx, "leave")
	defer done(&err)

	err = c.withConnection(ctx, connID, func(a *roomActor) { a.leave(connID) })
	if errors.Is(err, domain.ErrNotInRoom) {
		return nil
	}
	return err
}

func (c *coordinator) Disconnect(ctx context.Context, connID domain.ConnectionID) {
	if err := c.Leave(ctx, connID); err != nil {
		c.logger.Warnw("failed to process disconnect", "connection_id", connID, "error", err)
	}
}

func (c *coordinator) GetRoster(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error) {
	var roster []domain.Participant
	var loadErr error
	found, err := c.withRoom(ctx, roomID, false, func(a *roomActor) {
		if a.state.loadErr != nil {
			loadErr = a.state.loadErr
			return
		}
		roster = a.state.roster()
	})
	if err != nil {
		return nil, err
	}
	if found && loadErr == nil {
		return roster, nil
	}

	if _, err := c.rooms.GetByID(ctx, roomID); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, domain.ErrUnknownRoom
		}
		return nil, err
	}
	return []domain.Participant{}, nil
}

func (c *coordinator) CheckAdmission(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.Admission, error) {
	var adm *domain.Admission
	var admErr error
	found, err := c.withRoom(ctx, roomID, false, func(a *roomActor) {
		adm, admErr = a.admission(ctx, identity)
	})
	if err != nil {
		return nil, err
	}
	if found {
		return adm, admErr
	}
	return c.offlineAdmission(ctx, roomID, identity)
}

// offlineAdmission answers from the stores when the room has no live actor.
func (c *coordinator) offlineAdmission(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*domain.Admission, error) {
	adm := &domain.Admission{RoomID: roomID, Identity: identity}

	room, err := c.rooms.GetByID(ctx, roomID)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		if !c.cfg.AutoCreateRooms {
			adm.Reason = domain.RejectUnknownRoom
			return adm, nil
		}
		adm.ParticipantLimit = c.cfg.DefaultParticipantLimit
	case err != nil:
		return nil, err
	default:
		adm.RoomExists = true
		adm.ParticipantLimit = room.ParticipantLimit
	}

	rec, err := c.moderation.Get(ctx, roomID, identity)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		adm.Admissible = true
	case err != nil:
		return nil, fmt.Errorf("failed to read moderation record: %w", err)
	case rec.IsPermanent:
		adm.Reason = domain.RejectBanned
	default:
		adm.Reason = domain.RejectKicked
	}
	return adm, nil
}

func (c *coordinator) SetMedia(ctx context.Context, connID domain.ConnectionID, update domain.MediaUpdate) error {
	err := c.withConnection(ctx, connID, func(a *roomActor) { a.setMedia(connID, update) })
	if errors.Is(err, domain.ErrNotInRoom) {
		return nil
	}
	return err
}

func (c *coordinator) RaiseHand(ctx context.Context, connID domain.ConnectionID, raised bool) error {
	err := c.withConnection(ctx, connID, func(a *roomActor) { a.raiseHand(connID, raised) })
	if errors.Is(err, domain.ErrNotInRoom) {
		return nil
	}
	return err
}

func (c *coordinator) HandQueue(ctx context.Context, connID domain.ConnectionID) ([]domain.HandRaise, error) {
	var entries []domain.HandRaise
	var qErr error
	if err := c.withConnection(ctx, connID, func(a *roomActor) {
		entries, qErr = a.handQueue(connID)
	}); err != nil {
		return nil, err
	}
	return entries, qErr
}

func (c *coordinator) RequestScreenShare(ctx context.Context, connID domain.ConnectionID) (err error) {
	ctx, done := c.observe(ctx, "request_screen_share")
	defer done(&err)

	var shareErr error
	if err := c.withConnection(ctx, connID, func(a *roomActor) {
		shareErr = a.requestScreenShare(ctx, connID)
	}); err != nil {
		return err
	}
	return shareErr
}

func (c *coordinator) ReleaseScreenShare(ctx context.Context, connID domain.ConnectionID) error {
	err := c.withConnection(ctx, connID, func(a *roomActor) { a.releaseScreenShare(ctx, connID) })
	if errors.Is(err, domain.ErrNotInRoom) {
		return nil
	}
	return err
}

// HandleTransportStop is reported by the media transport when capture ended
// outside our control. It takes the regular release path.
func (c *coordinator) HandleTransportStop(ctx context.Context, connID domain.ConnectionID) error {
	return c.ReleaseScreenShare(ctx, connID)
}

func (c *coordinator) Moderate(ctx context.Context, roomID domain.RoomID, acting domain.Identity, req domain.ModerationRequest) (err error) {
	ctx, done := c.observe(ctx, "moderate")
	defer done(&err)

	var modErr error
	if _, err := c.withRoom(ctx, roomID, true, func(a *roomActor) {
		if a.state.pendingCreate {
			modErr = domain.ErrUnknownRoom
			return
		}
		modErr = a.moderate(ctx, acting, req)
	}); err != nil {
		return err
	}
	return modErr
}

func (c *coordinator) authorizeHost(ctx context.Context, roomID domain.RoomID, acting domain.Identity, admin bool) error {
	if admin {
		return nil
	}
	role, err := c.resolver.Resolve(ctx, roomID, acting)
	if err != nil {
		return fmt.Errorf("failed to resolve role: %w", err)
	}
	if role != domain.RoleHost {
		return domain.ErrUnauthorized
	}
	return nil
}

func (c *coordinator) ClearKick(ctx context.Context, roomID domain.RoomID, target, acting domain.Identity, admin bool) error {
	if err := c.authorizeHost(ctx, roomID, acting, admin); err != nil {
		return err
	}

	var clearErr error
	found, err := c.withRoom(ctx, roomID, false, func(a *roomActor) {
		clearErr = a.clearKick(ctx, target, true)
	})
	if err != nil {
		return err
	}
	if !found {
		clearErr = c.moderation.ClearKick(ctx, roomID, target)
	}
	if clearErr != nil {
		return clearErr
	}

	c.publishCommand(ctx, ports.RemoteCommand{Type: ports.CommandKickCleared, RoomID: roomID, Identity: target})
	c.logger.Infow("kick cleared", "room_id", roomID, "identity", target, "by", acting)
	return nil
}

func (c *coordinator) LiftBan(ctx context.Context, roomID domain.RoomID, target domain.Identity) error {
	var liftErr error
	found, err := c.withRoom(ctx, roomID, false, func(a *roomActor) {
		liftErr = a.liftBan(ctx, target, true)
	})
	if err != nil {
		return err
	}
	if !found {
		liftErr = c.moderation.Lift(ctx, roomID, target)
	}
	if liftErr != nil {
		return liftErr
	}

	c.publishCommand(ctx, ports.RemoteCommand{Type: ports.CommandBanLifted, RoomID: roomID, Identity: target})
	c.logger.Infow("ban lifted", "room_id", roomID, "identity", target)
	return nil
}

func (c *coordinator) ListModeration(ctx context.Context, roomID domain.RoomID, acting domain.Identity, admin bool) ([]*domain.ModerationRecord, error) {
	if !admin {
		role, err := c.resolver.Resolve(ctx, roomID, acting)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role: %w", err)
		}
		if !role.Privileged() {
			return nil, domain.ErrUnauthorized
		}
	}
	return c.moderation.ListByRoom(ctx, roomID)
}

func (c *coordinator) TeardownRoom(ctx context.Context, roomID domain.RoomID, acting domain.Identity, admin bool) (err error) {
	ctx, done := c.observe(ctx, "teardown")
	defer done(&err)

	if err := c.authorizeHost(ctx, roomID, acting, admin); err != nil {
		return err
	}

	var tdErr error
	found, err := c.withRoom(ctx, roomID, false, func(a *roomActor) {
		tdErr = a.teardown(ctx, true)
	})
	if err != nil {
		return err
	}
	if !found {
		tdErr = c.destroyRoom(ctx, roomID)
	}
	if tdErr != nil {
		return tdErr
	}

	c.publishCommand(ctx, ports.RemoteCommand{Type: ports.CommandRoomTeardown, RoomID: roomID})
	return nil
}

// destroyRoom removes the persisted room, its kick markers and its note. Bans
// and role assignments are kept.
func (c *coordinator) destroyRoom(ctx context.Context, roomID domain.RoomID) error {
	if err := c.rooms.Delete(ctx, roomID); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return domain.ErrUnknownRoom
		}
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if err := c.moderation.ClearKicks(ctx, roomID); err != nil {
		return fmt.Errorf("failed to clear kick markers: %w", err)
	}
	if err := c.notes.Delete(ctx, roomID); err != nil && !errors.Is(err, domain.ErrNoteNotFound) {
		return fmt.Errorf("failed to delete shared note: %w", err)
	}
	return nil
}

func (c *coordinator) EditNote(ctx context.Context, connID domain.ConnectionID, content string) (*domain.NoteDocument, error) {
	var doc *domain.NoteDocument
	var editErr error
	if err := c.withConnection(ctx, connID, func(a *roomActor) {
		doc, editErr = a.editNote(ctx, connID, content)
	}); err != nil {
		return nil, err
	}
	return doc, editErr
}

func (c *coordinator) GetNote(ctx context.Context, roomID domain.RoomID) (*domain.NoteDocument, error) {
	var doc *domain.NoteDocument
	found, err := c.withRoom(ctx, roomID, false, func(a *roomActor) {
		if a.state.loadErr == nil {
			doc = noteCopy(a.state.note)
		}
	})
	if err != nil {
		return nil, err
	}
	if found && doc != nil {
		return doc, nil
	}

	if _, err := c.rooms.GetByID(ctx, roomID); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, domain.ErrUnknownRoom
		}
		return nil, err
	}
	doc, err = c.notes.Get(ctx, roomID)
	if errors.Is(err, domain.ErrNoteNotFound) {
		return &domain.NoteDocument{RoomID: roomID}, nil
	}
	return doc, err
}

func (c *coordinator) SendChat(ctx context.Context, connID domain.ConnectionID, text string) error {
	var chatErr error
	if err := c.withConnection(ctx, connID, func(a *roomActor) {
		chatErr = a.sendChat(connID, text)
	}); err != nil {
		return err
	}
	return chatErr
}

// ApplyRemoteCommand mirrors an admin action taken on another instance into
// the local actor. Persistence already happened there.
func (c *coordinator) ApplyRemoteCommand(ctx context.Context, cmd ports.RemoteCommand) error {
	var applyErr error
	_, err := c.withRoom(ctx, cmd.RoomID, false, func(a *roomActor) {
		switch cmd.Type {
		case ports.CommandKickCleared:
			applyErr = a.clearKick(ctx, cmd.Identity, false)
		case ports.CommandBanLifted:
			applyErr = a.liftBan(ctx, cmd.Identity, false)
		case ports.CommandRoomTeardown:
			applyErr = a.teardown(ctx, false)
		default:
			applyErr = fmt.Errorf("unknown remote command %q", cmd.Type)
		}
	})
	if err != nil {
		return err
	}
	return applyErr
}

func (c *coordinator) publishCommand(ctx context.Context, cmd ports.RemoteCommand) {
	if c.commands == nil {
		return
	}
	if err := c.commands.PublishCommand(ctx, cmd); err != nil {
		c.logger.Warnw("failed to publish remote command", "type", cmd.Type, "room_id", cmd.RoomID, "error", err)
	}
}

func (c *coordinator) mirror(ev domain.Event) {
	if c.mirrorQueue == nil {
		return
	}
	select {
	case c.mirrorQueue <- ev:
	default:
		c.logger.Debugw("mirror queue full, dropping event", "type", ev.Type, "room_id", ev.RoomID)
	}
}

func (c *coordinator) runMirror() {
	defer close(c.mirrorDone)
	for {
		select {
		case ev := <-c.mirrorQueue:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StoreTimeout)
			if err := c.eventMirror.Mirror(ctx, ev); err != nil {
				c.logger.Debugw("failed to mirror event", "type", ev.Type, "room_id", ev.RoomID, "error", err)
			}
			cancel()
		case <-c.mirrorStop:
			return
		}
	}
}

// Shutdown retires every live actor and releases their leases.
func (c *coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.stopping = true
	actors := make([]*roomActor, 0, len(c.actors))
	for _, a := range c.actors {
		a.pending++
		actors = append(actors, a)
	}
	c.mu.Unlock()

	var firstErr error
	for _, a := range actors {
		actor := a
		err := actor.submit(ctx, func() { actor.state.closed = true })
		if err != nil && !errors.Is(err, errActorStopped) && firstErr == nil {
			firstErr = err
		}
	}

	if c.mirrorStop != nil {
		close(c.mirrorStop)
		select {
		case <-c.mirrorDone:
		case <-ctx.Done():
		}
	}
	return firstErr
}

type noopMetrics struct{}

func (noopMetrics) RoomOpened(domain.RoomID)                         {}
func (noopMetrics) RoomClosed(domain.RoomID)                         {}
func (noopMetrics) ParticipantJoined(domain.RoomID, domain.Role)     {}
func (noopMetrics) ParticipantLeft(domain.RoomID, domain.Role)       {}
func (noopMetrics) JoinRejected(domain.RejectReason)                 {}
func (noopMetrics) ModerationApplied(domain.ModerationAction)        {}
func (noopMetrics) ScreenShareChanged(domain.RoomID, bool)           {}
func (noopMetrics) ObserveOperation(string, time.Duration)           {}
