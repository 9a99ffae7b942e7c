// Package ratelimit реализует допуск запросов по алгоритму token bucket.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/lenddesk/loanledger/internal/clock"
)

// Policy задаёт параметры ведра: ёмкость и скорость пополнения.
type Policy struct {
	Name            string
	MaxTokens       int
	RefillPerSecond float64
}

// Именованные политики допуска для разных групп эндпоинтов.
var (
	PolicyDefault = Policy{Name: "default", MaxTokens: 60, RefillPerSecond: 1}
	PolicyAuth    = Policy{Name: "auth", MaxTokens: 10, RefillPerSecond: 0.2}
	PolicyStrict  = Policy{Name: "strict", MaxTokens: 5, RefillPerSecond: 0.1}
)

// Decision — результат проверки допуска. Отказ не является ошибкой.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetInMs int64
}

type bucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefillAt time.Time
}

// Limiter хранит вёдра по идентификаторам (IP или идентификатор пользователя).
// Состояние живёт в памяти процесса и не переживает перезапуск.
type Limiter struct {
	clock clock.Clock

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// New создаёт лимитер с указанным источником времени.
func New(c clock.Clock) *Limiter {
	return &Limiter{
		clock:   c,
		buckets: make(map[string]*bucket),
	}
}

// Check выполняет атомарную проверку и расход одного токена для идентификатора.
// Никогда не блокируется и не возвращает ошибок.
func (l *Limiter) Check(identifier string, p Policy) Decision {
	now := l.clock.Now()

	l.mu.RLock()
	b, ok := l.buckets[identifier]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		b, ok = l.buckets[identifier]
		if !ok {
			// Первое обращение: полное ведро минус потраченный токен.
			l.buckets[identifier] = &bucket{
				tokens:       float64(p.MaxTokens - 1),
				lastRefillAt: now,
			}
			l.mu.Unlock()
			return Decision{Allowed: true, Remaining: p.MaxTokens - 1}
		}
		l.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefillAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	tokensToAdd := math.Floor(elapsed * p.RefillPerSecond)
	newTokens := math.Min(float64(p.MaxTokens), b.tokens+tokensToAdd)

	if newTokens < 1 {
		// Оценка ожидания считается от ещё не пополненного остатка —
		// консервативная, чуть завышенная величина.
		wait := math.Ceil((1 - b.tokens) / p.RefillPerSecond * 1000)
		return Decision{Allowed: false, Remaining: 0, ResetInMs: int64(wait)}
	}

	// Часы пополнения сдвигаются только при фактическом начислении токенов,
	// иначе плотная серия запросов никогда не дала бы ведру пополниться.
	if tokensToAdd > 0 {
		b.lastRefillAt = now
	}

	b.tokens = newTokens - 1
	return Decision{Allowed: true, Remaining: int(b.tokens)}
}

// Sweep удаляет вёдра, не обновлявшиеся дольше maxAge, и возвращает число удалённых.
// Гонка с параллельным Check безвредна: история идентификатора просто начнётся заново.
func (l *Limiter) Sweep(maxAge time.Duration) int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefillAt)
		b.mu.Unlock()

		if idle > maxAge {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}

// Size возвращает текущее число вёдер.
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// StartSweeping запускает периодическую очистку простаивающих вёдер
// до отмены контекста.
func (l *Limiter) StartSweeping(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep(maxAge)
			}
		}
	}()
}
