package http

import "golang.org/x/time/rate"

// inboundLimiter throttles frames read from a single connection.
type inboundLimiter struct {
	lim *rate.Limiter
}

// newInboundLimiter returns nil, meaning unlimited, when perSecond is not positive.
func newInboundLimiter(perSecond float64, burst int) *inboundLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &inboundLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *inboundLimiter) allow() bool {
	if l == nil {
		return true
	}
	return l.lim.Allow()
}
