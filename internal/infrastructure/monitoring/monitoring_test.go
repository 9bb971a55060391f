package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/infrastructure/repositories/memory"
	"lessonlive/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var d dto.Metric
	require.NoError(t, m.Write(&d))
	if d.Gauge != nil {
		return d.Gauge.GetValue()
	}
	return d.Counter.GetValue()
}

func count(c prometheus.Collector) int {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	return len(ch)
}

func TestCollectorTracksRooms(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RoomOpened("algebra-101")
	c.ParticipantJoined("algebra-101", domain.RoleHost)
	c.ParticipantJoined("algebra-101", domain.RoleParticipant)
	c.ParticipantLeft("algebra-101", domain.RoleParticipant)
	c.ScreenShareChanged("algebra-101", true)
	c.JoinRejected(domain.RejectBanned)
	c.ModerationApplied(domain.ActionKick)

	assert.Equal(t, 1.0, value(t, c.roomsLive))
	assert.Equal(t, 1.0, value(t, c.roomParticipants.WithLabelValues("algebra-101")))
	assert.Equal(t, 1.0, value(t, c.participantsTotal.WithLabelValues("host")))
	assert.Equal(t, 1.0, value(t, c.screenSharers.WithLabelValues("algebra-101")))
	assert.Equal(t, 1.0, value(t, c.joinRejections.WithLabelValues("banned")))
	assert.Equal(t, 1.0, value(t, c.moderation.WithLabelValues("kick")))

	c.RoomClosed("algebra-101")
	assert.Equal(t, 0.0, value(t, c.roomsLive))
	assert.Equal(t, 0, count(c.roomParticipants))
}

func TestCollectorTracksBreaker(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())
	cb := circuitbreaker.New("moderation", circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})
	c.TrackBreaker(cb)

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	assert.Equal(t, float64(circuitbreaker.StateOpen), value(t, c.breakerState.WithLabelValues("moderation")))
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker()
	h.AddRoomStoreCheck(memory.NewMemoryRoomRepository(), time.Minute, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") }, time.Minute, time.Second)
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["room_store"])
	assert.Equal(t, "connection refused", status.Checks["postgres"])
	assert.Equal(t, "unhealthy", h.LastStatus().Status)
}

func TestBreakerCheck(t *testing.T) {
	h := NewHealthChecker()
	cb := circuitbreaker.New("notes", circuitbreaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})
	h.AddBreakerCheck(cb, time.Minute)
	assert.True(t, h.IsReady(context.Background()))

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })
	assert.False(t, h.IsReady(context.Background()))
}
