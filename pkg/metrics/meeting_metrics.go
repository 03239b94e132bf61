// Package metrics provides Prometheus metrics for monitoring the meeting service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Meeting session metrics
var (
	// joinDecisionsTotal records the outcome of every join attempt.
	// Labels:
	//   - verdict: Decision verdict (e.g., "admit", "wait", "deny")
	//   - reason: Denial reason, empty string when not denied (e.g., "MEETING_FULL")
	joinDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_join_decisions_total",
			Help: "Total number of join decisions by verdict and denial reason",
		},
		[]string{"verdict", "reason"},
	)

	// activeMeetings tracks meetings currently in the live state.
	activeMeetings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meeting_active_meetings",
			Help: "Number of meetings currently live",
		},
	)

	// connectedParticipants tracks connected participants per meeting.
	// Labels:
	//   - meeting_id: Meeting identifier
	connectedParticipants = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meeting_connected_participants",
			Help: "Number of connected participants per meeting",
		},
		[]string{"meeting_id"},
	)

	// joinDuration records how long a join attempt takes end to end.
	// Buckets: 5ms, 10ms, 50ms, 100ms, 500ms, 1s, 5s
	joinDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meeting_join_duration_seconds",
			Help:    "Duration of join attempts in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// chatMessagesTotal records chat messages accepted per meeting.
	// Labels:
	//   - meeting_id: Meeting identifier
	chatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_chat_messages_total",
			Help: "Total number of chat messages accepted",
		},
		[]string{"meeting_id"},
	)

	// transportReconnectsTotal records client reconnect attempts after a drop.
	// Labels:
	//   - result: Reconnect result (e.g., "success", "failed", "gave_up")
	transportReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_transport_reconnects_total",
			Help: "Total number of transport reconnect attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all meeting-related metrics with Prometheus
	prometheus.MustRegister(joinDecisionsTotal)
	prometheus.MustRegister(activeMeetings)
	prometheus.MustRegister(connectedParticipants)
	prometheus.MustRegister(joinDuration)
	prometheus.MustRegister(chatMessagesTotal)
	prometheus.MustRegister(transportReconnectsTotal)
}

// RecordJoinDecision records the outcome of a join attempt.
// Parameters:
//   - verdict: Decision verdict ("admit", "wait", "deny")
//   - reason: Denial reason, empty when the join was not denied
func RecordJoinDecision(verdict, reason string) {
	joinDecisionsTotal.WithLabelValues(verdict, reason).Inc()
}

// RecordJoinDuration records the duration of a join attempt.
func RecordJoinDuration(seconds float64) {
	joinDuration.Observe(seconds)
}

// SetActiveMeetings sets the number of currently live meetings.
func SetActiveMeetings(n int) {
	activeMeetings.Set(float64(n))
}

// SetConnectedParticipants sets the connected-participant gauge for a meeting.
func SetConnectedParticipants(meetingID string, n int) {
	connectedParticipants.WithLabelValues(meetingID).Set(float64(n))
}

// DropMeetingGauges removes per-meeting gauges once a meeting has ended.
func DropMeetingGauges(meetingID string) {
	connectedParticipants.DeleteLabelValues(meetingID)
}

// RecordChatMessage records an accepted chat message.
func RecordChatMessage(meetingID string) {
	chatMessagesTotal.WithLabelValues(meetingID).Inc()
}

// RecordTransportReconnect records a reconnect attempt result.
// Parameters:
//   - result: "success", "failed" or "gave_up"
func RecordTransportReconnect(result string) {
	transportReconnectsTotal.WithLabelValues(result).Inc()
}
