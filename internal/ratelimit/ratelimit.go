// Package ratelimit wraps github.com/joeycumines/go-catrate's category
// rate limiter for the single category this module needs today: accepted
// connections per listening server. It has no direct analogue in
// ljrServer (the original relies on the OS backlog alone), so it is an
// ambient addition to the accept path documented as domain-stack wiring
// rather than a ported component.
package ratelimit

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// Limiter enforces a requests-per-second budget (with one-second
// granularity) for a single named category, via catrate's sliding-window
// counting.
type Limiter struct {
	inner    *catrate.Limiter
	category string
}

// New constructs a Limiter allowing up to perSecond events per second for
// category (the server name, conventionally). perSecond <= 0 disables the
// limit (Allow always returns true).
func New(category string, perSecond int) *Limiter {
	if perSecond <= 0 {
		return &Limiter{category: category}
	}
	return &Limiter{
		inner:    catrate.NewLimiter(map[time.Duration]int{time.Second: perSecond}),
		category: category,
	}
}

// Allow reports whether one more event may proceed right now. When
// disabled (perSecond <= 0 at construction) it always returns true.
func (l *Limiter) Allow() bool {
	if l.inner == nil {
		return true
	}
	_, ok := l.inner.Allow(l.category)
	return ok
}
