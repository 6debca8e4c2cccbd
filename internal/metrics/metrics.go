package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_sessions_created_total",
			Help: "Quiz sessions created",
		},
	)
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_session_transitions_total",
			Help: "Session status transitions by target status",
		},
		[]string{"status"},
	)
	ParticipantsJoined = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_participants_joined_total",
			Help: "Participants that joined a session",
		},
	)
	Answers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Answers scored, by outcome",
		},
		[]string{"outcome"},
	)
	AnswersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_answers_rejected_total",
			Help: "Answers rejected before scoring, by reason",
		},
		[]string{"reason"},
	)
	BroadcastFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_broadcast_failures_total",
			Help: "Events that could not be published, by backend",
		},
		[]string{"backend"},
	)
	BroadcastDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_broadcast_dropped_total",
			Help: "Stale events dropped for slow subscribers",
		},
	)
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quiz_ws_connections",
			Help: "Open websocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsCreated,
		SessionTransitions,
		ParticipantsJoined,
		Answers,
		AnswersRejected,
		BroadcastFailures,
		BroadcastDropped,
		WSConnections,
	)
}
