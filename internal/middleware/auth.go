// Package middleware содержит HTTP middleware сервиса платёжного реестра.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const actorIDKey contextKey = "actorID"

const (
	actorCookieName = "actor_token"
	actorCookieTTL  = 365 * 24 * time.Hour
)

// ActorAuth проверяет подписанный cookie и извлекает идентификатор субъекта.
// Выдача сессий — забота внешнего слоя идентификации; здесь только проверка
// подписи с общим секретом.
type ActorAuth struct {
	secretKey []byte
}

// NewActorAuth создаёт middleware аутентификации с указанным секретным ключом.
func NewActorAuth(secret string) *ActorAuth {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &ActorAuth{
		secretKey: key,
	}
}

// Middleware проверяет cookie и добавляет идентификатор субъекта в контекст запроса.
func (a *ActorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(actorCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actorID, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorIDKey, actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetActorCookie устанавливает cookie для указанного идентификатора субъекта.
func (a *ActorAuth) SetActorCookie(w http.ResponseWriter, actorID string) {
	cookie := &http.Cookie{
		Name:     actorCookieName,
		Value:    a.signActorID(actorID),
		Path:     "/",
		Expires:  time.Now().Add(actorCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *ActorAuth) signActorID(actorID string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(actorID))
	return actorID + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *ActorAuth) parseCookie(cookieValue string) (string, bool) {
	// Идентификатор может содержать точки: подпись отделяется последней.
	idx := strings.LastIndex(cookieValue, ".")
	if idx <= 0 {
		return "", false
	}

	actorID := cookieValue[:idx]
	signature := cookieValue[idx+1:]

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(actorID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}

	return actorID, true
}

// GetActorFromContext извлекает идентификатор субъекта из контекста запроса.
func GetActorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorIDKey).(string)
	return id, ok
}
