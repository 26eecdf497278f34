package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rostersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "itendance_rosters_submitted_total",
		Help: "Roster submissions accepted.",
	})

	reportRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itendance_report_requests_total",
		Help: "Report queries served, by kind.",
	}, []string{"kind"})
)
