package api

import (
	"net/http"
	"strings"
)

// IntakeLimiter bounds how many upload requests hold server resources at
// once. It is a try-acquire semaphore: a full intake path turns requests
// away immediately instead of queueing them.
type IntakeLimiter struct {
	slots chan struct{}
}

func NewIntakeLimiter(maxConcurrent int) *IntakeLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &IntakeLimiter{slots: make(chan struct{}, maxConcurrent)}
}

// TryAcquire reports whether a slot was taken. Callers that get true must
// call Release.
func (l *IntakeLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *IntakeLimiter) Release() {
	<-l.slots
}

// InUse returns the number of held slots.
func (l *IntakeLimiter) InUse() int {
	return len(l.slots)
}

// GetClientIP extracts the client IP from the request, honoring proxy
// headers before falling back to the socket address.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
