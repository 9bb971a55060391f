package services

import (
	"context"
	"fmt"
	"time"

	"lessonlive/internal/core/domain"
)

// ModerationPolicy is an explicit allow-list of roles per action. Nothing is
// inherited from "not a participant".
type ModerationPolicy struct {
	allowed map[domain.ModerationAction]map[domain.Role]bool
}

func NewModerationPolicy(moderatorsCanKick, moderatorsCanBan, moderatorsCanMute bool) ModerationPolicy {
	p := ModerationPolicy{allowed: map[domain.ModerationAction]map[domain.Role]bool{
		domain.ActionKick:    {domain.RoleHost: true},
		domain.ActionBan:     {domain.RoleHost: true},
		domain.ActionPromote: {domain.RoleHost: true},
		domain.ActionDemote:  {domain.RoleHost: true},
		domain.ActionMute:    {domain.RoleHost: true},
	}}
	if moderatorsCanKick {
		p.allowed[domain.ActionKick][domain.RoleModerator] = true
	}
	if moderatorsCanBan {
		p.allowed[domain.ActionBan][domain.RoleModerator] = true
	}
	if moderatorsCanMute {
		p.allowed[domain.ActionMute][domain.RoleModerator] = true
	}
	return p
}

func (p ModerationPolicy) Allows(role domain.Role, action domain.ModerationAction) bool {
	return p.allowed[action][role]
}

// CanActOn reports whether actor may moderate target. Hosts may act on anyone;
// everyone else only on lower roles.
func (p ModerationPolicy) CanActOn(actor, target domain.Role) bool {
	if actor == domain.RoleHost {
		return true
	}
	return actor.Rank() > target.Rank()
}

func (a *roomActor) moderate(ctx context.Context, acting domain.Identity, req domain.ModerationRequest) error {
	st := a.state
	c := a.c
	if st.loadErr != nil {
		return st.loadErr
	}
	if !req.Action.Valid() {
		return domain.ErrInvalidAction
	}

	// Authority comes first: a caller without the right never learns more
	// than Unauthorized, whatever the target.
	actingRole, err := c.resolver.Resolve(ctx, a.id, acting)
	if err != nil {
		return fmt.Errorf("failed to resolve role: %w", err)
	}
	if !c.cfg.Policy.Allows(actingRole, req.Action) {
		return domain.ErrUnauthorized
	}
	if acting == req.Target {
		return domain.ErrSelfModeration
	}
	targetRole, err := c.resolver.Resolve(ctx, a.id, req.Target)
	if err != nil {
		return fmt.Errorf("failed to resolve role: %w", err)
	}
	if !c.cfg.Policy.CanActOn(actingRole, targetRole) {
		return domain.ErrUnauthorized
	}

	switch req.Action {
	case domain.ActionKick:
		err = a.removeByModeration(ctx, acting, req, false)
	case domain.ActionBan:
		err = a.removeByModeration(ctx, acting, req, true)
	case domain.ActionPromote, domain.ActionDemote:
		err = a.changeRole(ctx, req, targetRole)
	case domain.ActionMute:
		a.forceMute(acting, req.Target)
	}
	if err != nil {
		return err
	}

	c.metrics.ModerationApplied(req.Action)
	c.logger.Infow("moderation applied",
		"room_id", a.id,
		"action", req.Action,
		"acting", acting,
		"target", req.Target,
		"new_role", req.NewRole,
	)
	return nil
}

// removeByModeration persists the record before touching live state, so a
// store failure leaves the room exactly as it was.
func (a *roomActor) removeByModeration(ctx context.Context, acting domain.Identity, req domain.ModerationRequest, permanent bool) error {
	st := a.state
	c := a.c

	_, alreadyBanned := st.banned[req.Target]
	if !(alreadyBanned && !permanent) {
		rec := &domain.ModerationRecord{
			RoomID:      a.id,
			Identity:    req.Target,
			Reason:      req.Reason,
			IssuedBy:    acting,
			IssuedAt:    time.Now(),
			IsPermanent: permanent,
		}
		if err := c.moderation.Put(ctx, rec); err != nil {
			return fmt.Errorf("failed to persist moderation record: %w", err)
		}
		st.applyRecord(rec)
	}

	connID, present := st.byIdentity[req.Target]
	if !present {
		return nil
	}
	a.send(connID, domain.EventKicked, domain.KickedPayload{
		RoomID:   a.id,
		Reason:   req.Reason,
		IsBanned: permanent || alreadyBanned,
	})
	a.removeParticipant(connID)
	c.sink.Close(connID, "removed by moderator")
	a.broadcastRoster()
	return nil
}

func (a *roomActor) changeRole(ctx context.Context, req domain.ModerationRequest, current domain.Role) error {
	st := a.state
	c := a.c

	if !req.NewRole.Valid() {
		return domain.ErrInvalidRoleChange
	}
	switch req.Action {
	case domain.ActionPromote:
		if req.NewRole.Rank() <= current.Rank() {
			return domain.ErrInvalidRoleChange
		}
	case domain.ActionDemote:
		if req.NewRole.Rank() >= current.Rank() {
			return domain.ErrInvalidRoleChange
		}
	}

	// The assignment is what a reconnecting client resolves to.
	if err := c.roles.Assign(ctx, a.id, req.Target, req.NewRole); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	p := st.byIdentityLookup(req.Target)
	if p != nil {
		p.Role = req.NewRole
		if req.NewRole != domain.RoleParticipant && st.hands.remove(p.Identity) {
			p.IsHandRaised = false
			a.broadcast(domain.EventHandRaised, domain.HandRaisedPayload{Identity: p.Identity, IsRaised: false})
			a.publishHandQueue()
		}
	}

	a.broadcast(domain.EventPromoted, domain.PromotedPayload{Identity: req.Target, NewRole: req.NewRole})
	if p != nil {
		if req.NewRole.Privileged() {
			a.send(p.ConnectionID, domain.EventHandQueue, domain.HandQueuePayload{Entries: st.hands.entries()})
		}
		a.broadcastRoster()
	}
	return nil
}

func (a *roomActor) forceMute(acting, target domain.Identity) {
	p := a.state.byIdentityLookup(target)
	if p == nil || p.MicMuted {
		return
	}
	p.MicMuted = true
	a.send(p.ConnectionID, domain.EventForceMuted, domain.ForceMutedPayload{By: acting})
	a.broadcastRoster()
}

func (a *roomActor) clearKick(ctx context.Context, target domain.Identity, persist bool) error {
	if persist {
		if err := a.c.moderation.ClearKick(ctx, a.id, target); err != nil {
			return fmt.Errorf("failed to clear kick: %w", err)
		}
	}
	delete(a.state.kicked, target)
	return nil
}

func (a *roomActor) liftBan(ctx context.Context, target domain.Identity, persist bool) error {
	if persist {
		if err := a.c.moderation.Lift(ctx, a.id, target); err != nil {
			return fmt.Errorf("failed to lift ban: %w", err)
		}
	}
	delete(a.state.banned, target)
	delete(a.state.kicked, target)
	return nil
}

// teardown closes every connection and destroys the room. Bans outlive the
// room; kick markers and the shared note do not.
func (a *roomActor) teardown(ctx context.Context, persist bool) error {
	st := a.state
	c := a.c

	if persist {
		if err := c.destroyRoom(ctx, a.id); err != nil {
			return err
		}
	}

	a.broadcast(domain.EventRoomClosed, domain.RoomClosedPayload{RoomID: a.id})
	for _, connID := range st.connectionIDs() {
		a.removeParticipant(connID)
		c.sink.Close(connID, "room closed")
	}
	for identity := range st.kicked {
		delete(st.kicked, identity)
	}
	st.closed = true
	c.logger.Infow("room torn down", "room_id", a.id)
	return nil
}
