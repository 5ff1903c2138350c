package webhook

import (
	gosync "sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// idleAfter is how long a client may be silent before its limiter is dropped.
const idleAfter = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiter hands out a token bucket per remote IP.
type limiter struct {
	every rate.Limit
	burst int
	now   func() time.Time

	mu      gosync.Mutex
	clients map[string]*client
}

func newLimiter(perMinute int, now func() time.Time) *limiter {
	return &limiter{
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		now:     now,
		clients: make(map[string]*client),
	}
}

func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.every, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// sweep forgets clients idle for longer than idleAfter.
func (l *limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleAfter)
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// handler rejects requests over the limit with 429.
func (l *limiter) handler(c *fiber.Ctx) error {
	if !l.allow(c.IP()) {
		return c.Status(fiber.StatusTooManyRequests).JSON(Response{
			Success: false,
			Message: "Rate limit exceeded. Please try again later.",
		})
	}
	return c.Next()
}
