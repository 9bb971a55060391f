package distributed

import (
	"context"
	"errors"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
	"lessonlive/pkg/distributed"
	"lessonlive/pkg/retry"

	"go.uber.org/zap"
)

// RoomLeaser hands out one redis lock per live room so that a room's actor
// runs on a single instance. Acquisition retries briefly to ride over the
// previous owner releasing during a handover.
type RoomLeaser struct {
	locker      *distributed.Locker
	retryConfig retry.Config
	instanceID  string
	logger      *zap.SugaredLogger
}

func NewRoomLeaser(locker *distributed.Locker, retryConfig retry.Config, instanceID string, logger *zap.SugaredLogger) *RoomLeaser {
	retryConfig.Retryable = func(err error) bool {
		return errors.Is(err, distributed.ErrNotAcquired)
	}
	return &RoomLeaser{
		locker:      locker,
		retryConfig: retryConfig,
		instanceID:  instanceID,
		logger:      logger,
	}
}

func (l *RoomLeaser) Acquire(ctx context.Context, roomID domain.RoomID) (ports.RoomLease, error) {
	lock, err := retry.DoWithResult(ctx, l.retryConfig, func(ctx context.Context) (*distributed.Lock, error) {
		return l.locker.TryAcquire(ctx, string(roomID))
	})
	if errors.Is(err, distributed.ErrNotAcquired) {
		l.logger.Infow("room is owned by another instance", "room_id", roomID, "instance_id", l.instanceID)
		return nil, domain.ErrRoomHeldElsewhere
	}
	if err != nil {
		return nil, err
	}

	lease := &roomLease{lock: lock, done: make(chan struct{})}
	go lease.watch(roomID, l.logger)
	l.logger.Debugw("room lease acquired", "room_id", roomID, "key", lock.Key())
	return lease, nil
}

type roomLease struct {
	lock *distributed.Lock
	done chan struct{}
}

func (rl *roomLease) watch(roomID domain.RoomID, logger *zap.SugaredLogger) {
	select {
	case <-rl.lock.Lost():
		logger.Errorw("room lease lost, evicting local members", "room_id", roomID)
	case <-rl.done:
	}
}

func (rl *roomLease) Lost() <-chan struct{} {
	return rl.lock.Lost()
}

func (rl *roomLease) Release(ctx context.Context) error {
	close(rl.done)
	err := rl.lock.Release(ctx)
	if errors.Is(err, distributed.ErrNotHeld) {
		return nil
	}
	return err
}
