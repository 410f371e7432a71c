// Package metrics holds the process-wide prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsEstablished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphersync_sessions_established_total",
		Help: "Sessions created, by role (initiator/responder).",
	}, []string{"role"})

	PreKeysPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphersync_prekeys_published_total",
		Help: "Key material uploads accepted by the relay, by kind.",
	}, []string{"kind"})

	DeliveryResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphersync_delivery_results_total",
		Help: "Per-device send results (sent/failed).",
	}, []string{"result"})

	RecoveryHandshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphersync_recovery_handshakes_total",
		Help: "Recovery handshakes run on diverged sessions, by outcome.",
	}, []string{"outcome"})

	MailboxProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ciphersync_mailbox_processed_total",
		Help: "Inbound mails handled, by result (processed/failed).",
	}, []string{"result"})

	ResendAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ciphersync_resend_attempts_total",
		Help: "Pending messages re-sent on reconnect.",
	})

	RelayRequestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ciphersync_relay_request_seconds",
		Help:    "Round-trip latency of relay requests, by event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	// Relay (server) side.
	RelayOnlineConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ciphersync_relay_online_conns",
		Help: "Current online websocket connections.",
	})
	RelayMailboxQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ciphersync_relay_mailbox_queued_total",
		Help: "Messages parked in a mailbox because the device was offline or did not process them.",
	})
	RelayLivePushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ciphersync_relay_live_pushed_total",
		Help: "Messages delivered by live push and acknowledged as processed.",
	})
)

// All returns every collector, for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SessionsEstablished, PreKeysPublished, DeliveryResults,
		RecoveryHandshakes, MailboxProcessed, ResendAttempts,
		RelayRequestSeconds,
		RelayOnlineConns, RelayMailboxQueued, RelayLivePushed,
	}
}

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(All()...)
}
