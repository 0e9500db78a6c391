// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package credits

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promReservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillworks_credits_reservations_total",
			Help: "Credit reservation attempts by result",
		},
		[]string{"result"},
	)
	promSettlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillworks_credits_settlements_total",
			Help: "Reservation settlements by kind",
		},
		[]string{"kind"},
	)
	promCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillworks_credits_ledger_commits_total",
			Help: "Per-workspace ledger commit outcomes",
		},
		[]string{"result"},
	)
	promSweptReservations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quillworks_credits_swept_reservations_total",
			Help: "Expired reservations reclaimed by the sweeper",
		},
	)
)

func init() {
	prometheus.MustRegister(promReservations)
	prometheus.MustRegister(promSettlements)
	prometheus.MustRegister(promCommits)
	prometheus.MustRegister(promSweptReservations)
}

func recordReservation(result string) {
	promReservations.WithLabelValues(result).Inc()
}

func recordSettlement(kind string) {
	promSettlements.WithLabelValues(kind).Inc()
}

func recordCommit(result string) {
	promCommits.WithLabelValues(result).Inc()
}
