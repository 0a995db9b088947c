// Package prom exports SPTPS session events as Prometheus metrics.
package prom

import (
	"net/http"

	"github.com/floegence/sptps/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SessionObserver exports SPTPS session metrics to Prometheus.
type SessionObserver struct {
	handshakeStarted  *prometheus.CounterVec
	handshakeFinished *prometheus.CounterVec
	renegotiated      *prometheus.CounterVec
	replayDropped     *prometheus.CounterVec
	recordsSent       *prometheus.CounterVec
	recordsReceived   *prometheus.CounterVec
	sessionsStopped   *prometheus.CounterVec
}

// NewSessionObserver registers SPTPS session metrics on the registry.
func NewSessionObserver(reg *prometheus.Registry) *SessionObserver {
	o := &SessionObserver{
		handshakeStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_handshake_started_total",
			Help: "SPTPS handshakes started, by role.",
		}, []string{"role"}),
		handshakeFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_handshake_finished_total",
			Help: "SPTPS handshakes finished, by role, result, and negotiated suite.",
		}, []string{"role", "result", "suite"}),
		renegotiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_renegotiated_total",
			Help: "SPTPS renegotiations (force_kex) started, by role.",
		}, []string{"role"}),
		replayDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_replay_dropped_total",
			Help: "Records dropped by the replay window, by reason.",
		}, []string{"reason"}),
		recordsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_records_sent_total",
			Help: "Records sent, by record type.",
		}, []string{"record_type"}),
		recordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_records_received_total",
			Help: "Records accepted on receipt, by record type.",
		}, []string{"record_type"}),
		sessionsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sptps_sessions_stopped_total",
			Help: "Sessions stopped, by role.",
		}, []string{"role"}),
	}
	reg.MustRegister(
		o.handshakeStarted,
		o.handshakeFinished,
		o.renegotiated,
		o.replayDropped,
		o.recordsSent,
		o.recordsReceived,
		o.sessionsStopped,
	)
	return o
}

func (o *SessionObserver) HandshakeStarted(role string) {
	o.handshakeStarted.WithLabelValues(role).Inc()
}

func (o *SessionObserver) HandshakeFinished(role string, result observability.HandshakeResult, suite uint8) {
	o.handshakeFinished.WithLabelValues(role, string(result), suiteLabel(suite)).Inc()
}

func (o *SessionObserver) Renegotiated(role string) {
	o.renegotiated.WithLabelValues(role).Inc()
}

func (o *SessionObserver) ReplayDropped(reason observability.ReplayReason) {
	o.replayDropped.WithLabelValues(string(reason)).Inc()
}

func (o *SessionObserver) RecordSent(recordType uint8, n int) {
	o.recordsSent.WithLabelValues(recordTypeLabel(recordType)).Inc()
}

func (o *SessionObserver) RecordReceived(recordType uint8, n int) {
	o.recordsReceived.WithLabelValues(recordTypeLabel(recordType)).Inc()
}

func (o *SessionObserver) SessionStopped(role string) {
	o.sessionsStopped.WithLabelValues(role).Inc()
}

func suiteLabel(suite uint8) string {
	switch suite {
	case 0:
		return "chacha20poly1305"
	case 1:
		return "aes256gcm"
	default:
		return "unknown"
	}
}

func recordTypeLabel(recordType uint8) string {
	if recordType == 128 {
		return "handshake"
	}
	return "application"
}
