package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashflow_requests_created_total",
		Help: "Cash requests created",
	}, []string{"account", "op_type"})

	decisionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashflow_decisions_total",
		Help: "Ledger decisions recorded, labeled by decision and attempt",
	}, []string{"decision", "attempt"})

	decisionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashflow_decisions_rejected_total",
		Help: "Decisions rejected by a precondition",
	}, []string{"reason"})

	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashflow_status_transitions_total",
		Help: "Request status changes, labeled by target status",
	}, []string{"status"})

	retriesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cashflow_retries_total",
		Help: "Retry rounds opened by admins",
	})

	notificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashflow_notification_failures_total",
		Help: "Notifications that could not be delivered",
	}, []string{"type"})
)
