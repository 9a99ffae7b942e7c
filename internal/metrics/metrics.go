// Package metrics содержит счётчики Prometheus сервиса платёжного реестра.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PaymentsRecorded считает успешно сохранённые записи платежей.
	PaymentsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loanledger_payments_recorded_total",
		Help: "Number of payment entries persisted.",
	})

	// RateLimitRejections считает отказы допуска по политикам.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loanledger_ratelimit_rejections_total",
		Help: "Number of requests rejected by admission control.",
	}, []string{"policy"})

	// NotificationFailures считает проглоченные ошибки создания уведомлений.
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loanledger_notification_failures_total",
		Help: "Number of notification records that failed to persist.",
	})

	// NotificationsDropped считает события, отброшенные при переполнении очереди.
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loanledger_notifications_dropped_total",
		Help: "Number of notification events dropped due to a full queue.",
	})

	// RequestDuration измеряет длительность HTTP-запросов по маршрутам.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loanledger_http_request_duration_seconds",
		Help:    "HTTP request duration by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler возвращает HTTP-обработчик эндпоинта /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
