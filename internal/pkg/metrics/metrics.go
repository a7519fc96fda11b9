package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebsocketReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvia_websocket_reconnects_total",
		Help: "Subscription channel reconnect attempts.",
	}, []string{"channel"})

	MutationAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvia_mutation_attempts_total",
		Help: "Device mutation attempts including retries.",
	})

	MutationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvia_mutation_failures_total",
		Help: "Device mutations that exhausted their retries.",
	})

	SnapshotUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvia_snapshot_updates_total",
		Help: "State store updates by source.",
	}, []string{"source"})

	TokenRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvia_token_renewals_total",
		Help: "Successful id token renewals.",
	})

	LastUpdateTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvia_last_update_timestamp_seconds",
		Help: "Unix time of the most recent snapshot update.",
	})
)
