package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpl_sync_events_applied_total",
		Help: "Total change-log events applied to mirrors.",
	})

	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpl_consistency_checks_total",
		Help: "Total consistency checks by result.",
	}, []string{"result"})

	resyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpl_mirror_resyncs_total",
		Help: "Total mirror rebuilds from the authoritative store.",
	})
)
