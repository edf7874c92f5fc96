package live

import (
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// MessageLimiter bounds one connection's inbound message rate with a token
// bucket and tracks consecutive rejections. A disallowed message is dropped,
// never queued; Exhausted reports when the strike threshold closes the
// connection. Only the connection's receive loop touches it, so it needs no
// locking.
type MessageLimiter struct {
	limiter    *rate.Limiter
	clock      clockwork.Clock
	strikes    int
	maxStrikes int
}

// NewMessageLimiter creates a limiter allowing perSecond sustained messages
// with bursts up to burst. maxStrikes consecutive rejections mark the
// limiter exhausted.
func NewMessageLimiter(perSecond float64, burst, maxStrikes int, clock clockwork.Clock) *MessageLimiter {
	return &MessageLimiter{
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		clock:      clock,
		maxStrikes: maxStrikes,
	}
}

// Allow consumes a token if one is available. A success resets the strike
// counter; a rejection increments it.
func (l *MessageLimiter) Allow() bool {
	if l.limiter.AllowN(l.clock.Now(), 1) {
		l.strikes = 0
		return true
	}
	l.strikes++
	return false
}

// Exhausted reports whether the connection hit the consecutive-rejection
// threshold and must be closed.
func (l *MessageLimiter) Exhausted() bool {
	return l.strikes >= l.maxStrikes
}

// Strikes returns the current consecutive-rejection count.
func (l *MessageLimiter) Strikes() int {
	return l.strikes
}
