package middleware

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lenddesk/loanledger/internal/metrics"
	"github.com/lenddesk/loanledger/internal/ratelimit"
)

// RateLimit возвращает middleware допуска запросов по указанной политике.
// Ключ — идентификатор аутентифицированного субъекта, для анонимных
// запросов — адрес клиента. Отказ — это ожидаемый исход, а не ошибка:
// клиент получает 429 и подсказку, когда повторить запрос.
func RateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := GetActorFromContext(r.Context())
			if !ok {
				key = ClientIP(r)
			}

			// Вёдра разных политик не должны делить состояние одного идентификатора.
			decision := limiter.Check(policy.Name+":"+key, policy)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				metrics.RateLimitRejections.WithLabelValues(policy.Name).Inc()
				logger.Debug("request rejected by admission control",
					zap.String("policy", policy.Name),
					zap.String("key", key),
					zap.Int64("resetInMs", decision.ResetInMs),
				)

				retryAfterSec := (decision.ResetInMs + 999) / 1000
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSec, 10))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
