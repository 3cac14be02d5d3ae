package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Limiter is a per-client fixed-window request counter. Match queries are
// expensive enough that a coarse window is sufficient.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	maxRequests int
	windowSize  time.Duration
	logger      *zap.Logger
}

type window struct {
	count   int
	startAt time.Time
}

type Config struct {
	MaxRequestsPerMinute int
	Logger               *zap.Logger
}

func New(cfg Config) *Limiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Limiter{
		windows:     make(map[string]*window),
		maxRequests: cfg.MaxRequestsPerMinute,
		windowSize:  time.Minute,
		logger:      cfg.Logger,
	}

	go l.sweep()
	return l
}

func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if clientID := c.Get("X-Client-ID"); clientID != "" {
			key = clientID
		}

		if !l.allow(key) {
			l.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.startAt) >= l.windowSize {
		l.windows[key] = &window{count: 1, startAt: now}
		return true
	}

	if w.count >= l.maxRequests {
		return false
	}
	w.count++
	return true
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		now := time.Now()
		for key, w := range l.windows {
			if now.Sub(w.startAt) > 10*time.Minute {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}
