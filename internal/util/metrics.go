package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders confirmed paid via webhook",
	})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders with all tasks finished",
	})

	WebhookNoopTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_noop_total",
		Help: "Webhook deliveries answered as no-ops",
	}, []string{"reason"})

	EnrollAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enroll_attempts_total",
		Help: "Total number of enrollment attempts",
	})

	EnrollFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enroll_failed_total",
		Help: "Total number of failed enrollment attempts",
	}, []string{"reason"})

	EnrollVerifyTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enroll_verify_timeouts_total",
		Help: "Enrollments whose persisted state never became visible in time",
	})

	EnrollLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "enroll_latency_seconds",
		Help:    "Latency of enrollment calls including verification",
		Buckets: prometheus.DefBuckets,
	})

	JobsDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_jobs_dispatched_total",
		Help: "Total number of download jobs pushed to the queue",
	})

	DispatchFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_jobs_dispatch_failed_total",
		Help: "Download job dispatches that failed and need manual replay",
	})

	TasksCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasks_completed_total",
		Help: "Tasks finished with a drive link",
	})

	TasksFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_failed_total",
		Help: "Tasks marked failed",
	}, []string{"stage"})

	TasksRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasks_recovered_total",
		Help: "Stuck tasks re-dispatched by the recovery worker",
	})

	GrantAccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drive_grants_total",
		Help: "Drive read-permission grants",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
