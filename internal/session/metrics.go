package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_opened_total",
		Help: "Attendance sessions opened.",
	})
	verifyFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_verify_fallbacks_total",
		Help: "Sessions reconciled from recognition output alone because verification failed.",
	})
	mergeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_merge_conflicts_total",
		Help: "Contract violations resolved during reconciliation merge.",
	})
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_submissions_total",
		Help: "Submission attempts by outcome.",
	}, []string{"outcome"})
)
