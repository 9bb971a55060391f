package monitoring

import (
	"context"
	"fmt"
	"time"

	"lessonlive/internal/core/ports"
	"lessonlive/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, interval, timeout)
}

// AddRoomStoreCheck lists rooms as a cheap end-to-end check of the room store.
func (h *HealthChecker) AddRoomStoreCheck(rooms ports.RoomRepository, interval, timeout time.Duration) {
	h.AddCheck("room_store", func(ctx context.Context) error {
		_, err := rooms.List(ctx)
		return err
	}, interval, timeout)
}

// AddBreakerCheck reports unhealthy while the breaker is open.
func (h *HealthChecker) AddBreakerCheck(cb *circuitbreaker.CircuitBreaker, interval time.Duration) {
	h.AddCheck("breaker_"+cb.Name(), func(ctx context.Context) error {
		if state := cb.State(); state == circuitbreaker.StateOpen {
			return fmt.Errorf("circuit %s", state)
		}
		return nil
	}, interval, time.Second)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
