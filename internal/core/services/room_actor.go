package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
)

var errActorStopped = errors.New("room actor stopped")

type roomTask func()

// roomActor owns all live state of one room. Every read and write of state
// happens on the run goroutine; callers only submit closures.
type roomActor struct {
	id      domain.RoomID
	c       *coordinator
	mailbox chan roomTask
	done    chan struct{}
	state   *roomState

	// pending counts tasks handed out by acquire and not yet run. Guarded by
	// c.mu, which is also what the retire decision is made under.
	pending int
}

func newRoomActor(id domain.RoomID, c *coordinator) *roomActor {
	return &roomActor{
		id:      id,
		c:       c,
		mailbox: make(chan roomTask, c.cfg.MailboxSize),
		done:    make(chan struct{}),
		state:   newRoomState(id, c.cfg.ChatHistorySize),
	}
}

// submit enqueues fn and waits for it to run. Once a task is accepted it always
// runs to completion; ctx only bounds the enqueue.
func (a *roomActor) submit(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	task := func() {
		defer close(reply)
		fn()
	}

	select {
	case a.mailbox <- task:
	case <-a.done:
		a.c.release(a)
		return errActorStopped
	case <-ctx.Done():
		// The pending slot taken in acquire still has to be returned on the
		// actor goroutine so the idle check stays correct.
		go a.enqueueNoop()
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-a.done:
		select {
		case <-reply:
			return nil
		default:
			return errActorStopped
		}
	}
}

func (a *roomActor) enqueueNoop() {
	select {
	case a.mailbox <- func() {}:
	case <-a.done:
		a.c.release(a)
	}
}

func (a *roomActor) run() {
	for {
		task := <-a.mailbox
		task()
		if a.c.settle(a) {
			a.retire()
			return
		}
	}
}

// hydrate loads persisted state. It is always the first task of an actor.
func (a *roomActor) hydrate(ctx context.Context) {
	st := a.state
	c := a.c

	if c.leaser != nil {
		lease, err := c.leaser.Acquire(ctx, a.id)
		if err != nil {
			st.loadErr = err
			return
		}
		st.lease = lease
		go a.watchLease(lease.Lost())
	}

	room, err := c.rooms.GetByID(ctx, a.id)
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		if !c.cfg.AutoCreateRooms {
			st.loadErr = domain.ErrUnknownRoom
			return
		}
		room = &domain.Room{
			ID:               a.id,
			Kind:             c.cfg.DefaultRoomKind,
			ParticipantLimit: c.cfg.DefaultParticipantLimit,
			CreatedAt:        time.Now(),
		}
		st.pendingCreate = true
	case err != nil:
		st.loadErr = fmt.Errorf("failed to load room: %w", err)
		return
	}
	st.room = room

	records, err := c.moderation.ListByRoom(ctx, a.id)
	if err != nil {
		st.loadErr = fmt.Errorf("failed to load moderation records: %w", err)
		return
	}
	for _, rec := range records {
		st.applyRecord(rec)
	}

	note, err := c.notes.Get(ctx, a.id)
	switch {
	case errors.Is(err, domain.ErrNoteNotFound):
		st.note = &domain.NoteDocument{RoomID: a.id}
	case err != nil:
		st.loadErr = fmt.Errorf("failed to load shared note: %w", err)
		return
	default:
		st.note = note
	}

	st.live = true
	c.metrics.RoomOpened(a.id)
	c.logger.Debugw("room actor started", "room_id", a.id)
}

// watchLease evicts the room once another instance owns it. Two actors
// serving the same room would split its roster.
func (a *roomActor) watchLease(lost <-chan struct{}) {
	select {
	case <-lost:
		a.c.leaseLost(a)
	case <-a.done:
	}
}

// evict drops every member without touching persisted state; the new owner
// hydrates the room from the stores.
func (a *roomActor) evict() {
	st := a.state
	if st.closed {
		return
	}
	ids := st.connectionIDs()
	for _, connID := range ids {
		a.removeParticipant(connID)
		a.c.sink.Close(connID, "room moved to another instance")
	}
	st.closed = true
	a.c.logger.Warnw("room lease lost, members evicted",
		"room_id", a.id,
		"evicted", len(ids),
	)
}

func (a *roomActor) retire() {
	st := a.state
	if st.lease != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := st.lease.Release(ctx); err != nil {
			a.c.logger.Warnw("failed to release room lease", "room_id", a.id, "error", err)
		}
		cancel()
	}
	if st.live {
		a.c.metrics.RoomClosed(a.id)
	}
	close(a.done)
	a.c.logger.Debugw("room actor retired", "room_id", a.id)
}

// broadcast sends event to every member in roster order and mirrors it.
func (a *roomActor) broadcast(eventType domain.EventType, payload interface{}) {
	ev := domain.Event{Type: eventType, RoomID: a.id, Payload: payload}
	if ids := a.state.connectionIDs(); len(ids) > 0 {
		a.c.sink.Deliver(ids, ev)
	}
	a.c.mirror(ev)
}

func (a *roomActor) send(connID domain.ConnectionID, eventType domain.EventType, payload interface{}) {
	a.c.sink.Deliver([]domain.ConnectionID{connID}, domain.Event{Type: eventType, RoomID: a.id, Payload: payload})
}

func (a *roomActor) sendPrivileged(eventType domain.EventType, payload interface{}) {
	if ids := a.state.privilegedConnectionIDs(); len(ids) > 0 {
		a.c.sink.Deliver(ids, domain.Event{Type: eventType, RoomID: a.id, Payload: payload})
	}
}

func (a *roomActor) broadcastRoster() {
	a.broadcast(domain.EventParticipantsUpdate, domain.ParticipantsUpdatePayload{Roster: a.state.roster()})
}

func (a *roomActor) publishHandQueue() {
	a.sendPrivileged(domain.EventHandQueue, domain.HandQueuePayload{Entries: a.state.hands.entries()})
}

var _ ports.EventSink = (*discardSink)(nil)

type discardSink struct{}

func (discardSink) Deliver([]domain.ConnectionID, domain.Event) {}
func (discardSink) Close(domain.ConnectionID, string)           {}
