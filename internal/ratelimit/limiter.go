package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const keyPrefix = "ratelimit:"

const (
	ClassDefault = "default"
	ClassSend    = "send"
	ClassReact   = "react"
)

// Counter is a shared fixed-window counter, normally Redis.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Limiter counts requests per key in one-minute windows. With a shared
// counter every instance sees the same budget; without one, or while the
// counter is failing, each instance enforces a token bucket of its own.
type Limiter struct {
	counter     Counter
	enabled     bool
	limits      map[string]LimitConfig
	localCache  map[string]*rate.Limiter
	mu          sync.Mutex
	logger      *zap.Logger
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

type LimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

func NewLimiter(counter Counter, requestsPerMinute, burst int, enabled bool, logger *zap.Logger) *Limiter {
	l := &Limiter{
		counter: counter,
		enabled: enabled,
		limits: map[string]LimitConfig{
			ClassDefault: {
				RequestsPerMinute: requestsPerMinute,
				Burst:             burst,
			},
			ClassSend: {
				RequestsPerMinute: 120,
				Burst:             20,
			},
			ClassReact: {
				RequestsPerMinute: 240,
				Burst:             40,
			},
		},
		localCache:  make(map[string]*rate.Limiter),
		logger:      logger,
		cleanupDone: make(chan struct{}),
	}

	if enabled {
		go l.cleanup()
	}

	return l
}

// Allow reports whether subject may make another request of the given class.
func (l *Limiter) Allow(ctx context.Context, class, subject string) bool {
	if !l.enabled {
		return true
	}

	cfg, ok := l.limits[class]
	if !ok {
		class = ClassDefault
		cfg = l.limits[ClassDefault]
	}
	key := fmt.Sprintf("%s:%s", class, subject)

	if l.counter != nil {
		count, err := l.counter.IncrWindow(ctx, keyPrefix+key, time.Minute)
		if err == nil {
			return count <= int64(cfg.RequestsPerMinute)
		}
		l.logger.Warn("shared rate limit counter unavailable, using local limiter", zap.Error(err))
	}

	return l.allowLocal(key, cfg)
}

func (l *Limiter) allowLocal(key string, cfg LimitConfig) bool {
	l.mu.Lock()
	limiter, exists := l.localCache[key]
	if !exists {
		limit := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
		limiter = rate.NewLimiter(limit, cfg.Burst)
		l.localCache[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

func (l *Limiter) Reset(ctx context.Context, class, subject string) error {
	key := fmt.Sprintf("%s:%s", class, subject)

	l.mu.Lock()
	delete(l.localCache, key)
	l.mu.Unlock()

	if l.counter != nil {
		return l.counter.Delete(ctx, keyPrefix+key)
	}

	return nil
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			l.localCache = make(map[string]*rate.Limiter)
			l.mu.Unlock()
		case <-l.cleanupDone:
			return
		}
	}
}

func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.cleanupDone) })
}

// ClearAll drops every window, local and shared. It returns the number of
// shared keys removed.
func (l *Limiter) ClearAll(ctx context.Context) (int, error) {
	l.mu.Lock()
	l.localCache = make(map[string]*rate.Limiter)
	l.mu.Unlock()

	if l.counter != nil {
		return l.counter.DeletePattern(ctx, keyPrefix+"*")
	}

	return 0, nil
}
