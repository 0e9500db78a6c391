// Copyright 2026 Quillworks
// SPDX-License-Identifier: BUSL-1.1

package limits

import (
	"github.com/prometheus/client_golang/prometheus"
)

var promLimitDenials = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quillworks_limits_denials_total",
		Help: "Admission checks denied by plan caps, by resource kind",
	},
	[]string{"resource_kind"},
)

func init() {
	prometheus.MustRegister(promLimitDenials)
}

func recordLimitDenied(kind string) {
	promLimitDenials.WithLabelValues(kind).Inc()
}
