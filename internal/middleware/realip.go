package middleware

import (
	"net/http"
	"strings"
)

// unknownClient подставляется, когда адрес клиента определить не удалось.
// Полное ведро для отсутствующего идентификатора — безопасное поведение.
const unknownClient = "unknown"

// ClientIP определяет адрес клиента: первый элемент x-forwarded-for,
// затем x-real-ip, иначе сентинел "unknown".
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if idx := strings.Index(fwd, ","); idx >= 0 {
			first = fwd[:idx]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	return unknownClient
}
