// Package metrics agrupa los collectors Prometheus del core de sesión.
// Viven en un paquete aparte para que cache, profile, session y gate puedan
// instrumentarse sin importarse entre sí.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CacheReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_reads_total",
		Help: "Lecturas de cache por store (kv|blob) y resultado (hit|miss|stale|error)",
	}, []string{"store", "result"})

	CacheWriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_write_failures_total",
		Help: "Escrituras de cache fallidas por store",
	}, []string{"store"})

	ProfileFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_fetch_total",
		Help: "Resoluciones de perfil por origen (network|created|fallback|absent)",
	}, []string{"source"})

	GateVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_verdicts_total",
		Help: "Veredictos del access gate por tipo",
	}, []string{"kind"})

	LivenessTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_liveness_timeouts_total",
		Help: "Resoluciones forzadas de loading por timeout de seguridad",
	}, []string{"path"})

	RealtimeEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_total",
		Help: "Eventos de cambio de perfil recibidos por realtime",
	})
)

// Register registra los collectors en reg (o el default si es nil),
// ignorando duplicados.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		CacheReads, CacheWriteFailures, ProfileFetches, GateVerdicts, LivenessTimeouts, RealtimeEvents,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
