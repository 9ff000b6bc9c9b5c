package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Metrics are constructed at package init so incrementing them is always
// safe; InitCustomMetrics only attaches them to a registry.
var (
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhive_logins_success_total",
		Help: "Total number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhive_logins_failure_total",
		Help: "Total number of failed logins.",
	})
	TokensRefreshedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhive_tokens_refreshed_total",
		Help: "Total number of refresh token rotations.",
	})
	SessionsRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhive_sessions_revoked_total",
		Help: "Total number of sessions revoked by logout.",
	})
	RotationConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhive_rotation_conflicts_total",
		Help: "Total number of refresh rotations lost to a concurrent winner.",
	})
	ActiveConnectionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskhive_ws_active_connections",
		Help: "Current number of open websocket connections per namespace.",
	}, []string{"namespace"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskhive_cache_hits_total",
		Help: "Cache lookups by outcome (hit or miss).",
	}, []string{"outcome"})
	CredentialsSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskhive_credentials_swept_total",
		Help: "Total number of stale credential rows removed by the sweeper.",
	})
)

// InitCustomMetrics registers the custom Prometheus metrics.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := []prometheus.Collector{
		LoginSuccessTotal,
		LoginFailureTotal,
		TokensRefreshedTotal,
		SessionsRevokedTotal,
		RotationConflictsTotal,
		ActiveConnectionsGauge,
		CacheHitsTotal,
		CredentialsSweptTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register Prometheus metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
