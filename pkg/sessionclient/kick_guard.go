package sessionclient

import (
	"context"
	"fmt"
	"sync"

	"lessonlive/internal/core/domain"
)

// KickGuard remembers rooms the user was kicked or banned from. A client
// consults it before every (re)connect so a transport reconnect never turns
// into a silent rejoin. Entries go away only through Clear or Refresh.
type KickGuard struct {
	mu      sync.Mutex
	blocked map[domain.RoomID]domain.RejectReason
}

func NewKickGuard() *KickGuard {
	return &KickGuard{blocked: make(map[domain.RoomID]domain.RejectReason)}
}

func (g *KickGuard) Record(roomID domain.RoomID, banned bool) {
	reason := domain.RejectKicked
	if banned {
		reason = domain.RejectBanned
	}
	g.mu.Lock()
	// A ban is never downgraded to a kick.
	if g.blocked[roomID] != domain.RejectBanned {
		g.blocked[roomID] = reason
	}
	g.mu.Unlock()
}

func (g *KickGuard) Blocked(roomID domain.RoomID) (domain.RejectReason, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	reason, ok := g.blocked[roomID]
	return reason, ok
}

func (g *KickGuard) Clear(roomID domain.RoomID) {
	g.mu.Lock()
	delete(g.blocked, roomID)
	g.mu.Unlock()
}

// Refresh asks the server whether the room is admissible again and clears
// the entry when it is. It reports whether the room is still blocked.
func (g *KickGuard) Refresh(ctx context.Context, admission *AdmissionClient, roomID domain.RoomID) (bool, error) {
	if _, ok := g.Blocked(roomID); !ok {
		return false, nil
	}
	adm, err := admission.Check(ctx, roomID)
	if err != nil {
		return true, fmt.Errorf("failed to check admission: %w", err)
	}
	switch {
	case adm.Admissible:
		g.Clear(roomID)
		return false, nil
	case adm.Reason == domain.RejectBanned || adm.Reason == domain.RejectKicked:
		// The server is authoritative here, so a lifted ban may become a kick.
		g.mu.Lock()
		g.blocked[roomID] = adm.Reason
		g.mu.Unlock()
		return true, nil
	default:
		// Full or unknown rooms are not moderation state.
		g.Clear(roomID)
		return false, nil
	}
}
