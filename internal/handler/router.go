package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/lenddesk/loanledger/internal/middleware"
	"github.com/lenddesk/loanledger/internal/metrics"
	"github.com/lenddesk/loanledger/internal/ratelimit"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
// Чувствительные операции записи идут под строгой политикой допуска,
// чтение — под политикой по умолчанию, поверхность уведомлений —
// под политикой аутентифицированной сессии.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.RequestMetrics)

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RateLimit(h.limiter, ratelimit.PolicyStrict, h.logger))

			r.Post("/loans", h.CreateLoan)
			r.Post("/loans/{loanID}/payments", h.RecordPayment)
		})

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RateLimit(h.limiter, ratelimit.PolicyDefault, h.logger))

			r.Get("/loans/{loanID}/payments", h.ListPayments)
			r.Get("/loans/{loanID}/account", h.GetAccount)
		})

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.RateLimit(h.limiter, ratelimit.PolicyAuth, h.logger))

			r.Get("/notifications", h.GetNotifications)
			r.Post("/notifications/{notificationID}/read", h.MarkNotificationRead)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
