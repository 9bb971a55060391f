package monitoring

import (
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.SessionMetrics and carries the
// transport metrics of the signaling server.
type PrometheusCollector struct {
	roomsLive         prometheus.Gauge
	participantsTotal *prometheus.GaugeVec
	roomParticipants  *prometheus.GaugeVec
	screenSharers     *prometheus.GaugeVec

	joinRejections   *prometheus.CounterVec
	moderation       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec

	connectionsActive prometheus.Gauge
	messagesReceived  *prometheus.CounterVec
	messagesDropped   prometheus.Counter
	breakerState      *prometheus.GaugeVec
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		roomsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lessonlive_rooms_live",
			Help: "Number of rooms with a live actor on this instance",
		}),

		participantsTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lessonlive_participants",
			Help: "Number of participants in live rooms by role",
		}, []string{"role"}),

		roomParticipants: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lessonlive_room_participants",
			Help: "Number of participants in each live room",
		}, []string{"room_id"}),

		screenSharers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lessonlive_room_screen_sharers",
			Help: "Number of active screen shares in each live room",
		}, []string{"room_id"}),

		joinRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonlive_join_rejections_total",
			Help: "Join attempts rejected by reason",
		}, []string{"reason"}),

		moderation: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonlive_moderation_actions_total",
			Help: "Moderation actions applied by action",
		}, []string{"action"}),

		operationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lessonlive_operation_duration_seconds",
			Help:    "Duration of coordinator operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lessonlive_ws_connections_active",
			Help: "Number of open signaling connections",
		}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lessonlive_ws_messages_received_total",
			Help: "Inbound signaling messages by type",
		}, []string{"type"}),

		messagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "lessonlive_ws_send_queue_overflows_total",
			Help: "Connections closed because their send queue was full",
		}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lessonlive_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
	}
}

func (p *PrometheusCollector) RoomOpened(roomID domain.RoomID) {
	p.roomsLive.Inc()
	p.roomParticipants.WithLabelValues(string(roomID)).Set(0)
}

func (p *PrometheusCollector) RoomClosed(roomID domain.RoomID) {
	p.roomsLive.Dec()
	p.roomParticipants.DeleteLabelValues(string(roomID))
	p.screenSharers.DeleteLabelValues(string(roomID))
}

func (p *PrometheusCollector) ParticipantJoined(roomID domain.RoomID, role domain.Role) {
	p.participantsTotal.WithLabelValues(string(role)).Inc()
	p.roomParticipants.WithLabelValues(string(roomID)).Inc()
}

func (p *PrometheusCollector) ParticipantLeft(roomID domain.RoomID, role domain.Role) {
	p.participantsTotal.WithLabelValues(string(role)).Dec()
	p.roomParticipants.WithLabelValues(string(roomID)).Dec()
}

func (p *PrometheusCollector) JoinRejected(reason domain.RejectReason) {
	p.joinRejections.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusCollector) ModerationApplied(action domain.ModerationAction) {
	p.moderation.WithLabelValues(string(action)).Inc()
}

func (p *PrometheusCollector) ScreenShareChanged(roomID domain.RoomID, sharing bool) {
	if sharing {
		p.screenSharers.WithLabelValues(string(roomID)).Inc()
		return
	}
	p.screenSharers.WithLabelValues(string(roomID)).Dec()
}

func (p *PrometheusCollector) ObserveOperation(op string, d time.Duration) {
	p.operationLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (p *PrometheusCollector) ConnectionOpened() { p.connectionsActive.Inc() }
func (p *PrometheusCollector) ConnectionClosed() { p.connectionsActive.Dec() }

func (p *PrometheusCollector) MessageReceived(msgType string) {
	p.messagesReceived.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) SendQueueOverflow() {
	p.messagesDropped.Inc()
}

// TrackBreaker mirrors a circuit breaker's state into a gauge.
func (p *PrometheusCollector) TrackBreaker(cb *circuitbreaker.CircuitBreaker) {
	p.breakerState.WithLabelValues(cb.Name()).Set(float64(cb.State()))
	cb.OnStateChange(func(name string, _, to circuitbreaker.State) {
		p.breakerState.WithLabelValues(name).Set(float64(to))
	})
}
