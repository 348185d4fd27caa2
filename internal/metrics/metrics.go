package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicedesk_active_calls",
		Help: "Number of call sessions that have not reached a terminal state",
	})
	RelayParties = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicedesk_relay_parties",
		Help: "Number of parties subscribed to the signaling relay",
	})
)

// Counters
var (
	CallsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicedesk_calls_started_total",
		Help: "Call sessions created, by role",
	}, []string{"role"})
	CallsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicedesk_calls_rejected_total",
		Help: "Call attempts rejected before a session existed, by cause",
	}, []string{"cause"})
	CallsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicedesk_calls_ended_total",
		Help: "Call sessions that reached a terminal state, by end reason",
	}, []string{"reason"})
	SignalSendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicedesk_signal_send_failures_total",
		Help: "Signaling sends that failed after all retries, by message type",
	}, []string{"type"})
	SignalDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicedesk_signal_dropped_total",
		Help: "Inbound signaling messages dropped by the session host, by cause",
	}, []string{"cause"})
	RelayMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicedesk_relay_messages_total",
		Help: "Messages handled by the signaling relay, by type and outcome",
	}, []string{"type", "outcome"})
	RTPPacketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicedesk_rtp_packets_total",
		Help: "Remote RTP audio packets received across all calls",
	})
	RTPGapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicedesk_rtp_gaps_total",
		Help: "Remote RTP sequence number gaps detected",
	})
)

// Histograms
var (
	CallSetupSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicedesk_call_setup_seconds",
		Help:    "Time from session creation to CONNECTED",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})
)
