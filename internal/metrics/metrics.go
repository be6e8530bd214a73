// Package metrics exposes Prometheus counters for the check-in pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Checkins counts gate outcomes by reason; accepted requests use
	// outcome="accepted".
	Checkins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qattend_checkins_total",
		Help: "Check-in requests by gate outcome.",
	}, []string{"outcome"})

	// QRSessions counts QR sessions started by admins.
	QRSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qattend_qr_sessions_total",
		Help: "QR sessions started.",
	})

	// RosterImports counts roster rows imported via upload.
	RosterImports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qattend_roster_rows_imported_total",
		Help: "Roster rows imported from uploads.",
	})
)
