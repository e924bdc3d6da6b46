package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Contadores de domínio do quickplay, registrados no registry default
// e expostos pelo StartMetricsServer de cada serviço.
var (
	TicketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickplay_tickets_created_total",
		Help: "Tickets de quickplay admitidos na fila",
	})

	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickplay_matches_created_total",
		Help: "Matches criados pelo pareamento",
	})

	MovesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quickplay_moves_accepted_total",
		Help: "Jogadas aceitas (write-once) pelo state machine",
	})

	MatchesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quickplay_matches_settled_total",
		Help: "Liquidações aplicadas, por status terminal do match",
	}, []string{"status"})

	LockBusy = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quickplay_lock_busy_total",
		Help: "Aquisições de lock negadas por contenção, por escopo",
	}, []string{"scope"})
)
