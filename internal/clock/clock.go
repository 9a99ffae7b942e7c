// Package clock содержит абстракцию источника времени.
package clock

import (
	"sync"
	"time"
)

// Clock возвращает текущее время. Внедряется во все компоненты,
// зависящие от времени, для детерминированности тестов.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System возвращает источник реального времени.
func System() Clock { return systemClock{} }

// Fake — управляемый источник времени для тестов.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake создаёт фиктивные часы, установленные на указанный момент.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now возвращает текущее фиктивное время.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance сдвигает фиктивное время вперёд.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
