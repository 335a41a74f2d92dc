package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	apiContext "hookrelay/internal/api/context"
	"hookrelay/internal/pkg/errors"
	"hookrelay/internal/platform/models"
)

// PollLimiter allows one manual poll per relay per interval.
type PollLimiter struct {
	interval time.Duration
	store    *sync.Map // map[string]*bucket
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

type bucket struct {
	mu   sync.Mutex
	last time.Time
}

func NewPollLimiter(interval time.Duration) *PollLimiter {
	l := &PollLimiter{
		interval: interval,
		store:    &sync.Map{},
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	if interval > 0 {
		go l.cleanupLoop()
	}
	return l
}

func (l *PollLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		now := l.now()
		l.store.Range(func(key, value interface{}) bool {
			b := value.(*bucket)
			b.mu.Lock()
			if now.Sub(b.last) > l.interval {
				l.store.Delete(key)
			}
			b.mu.Unlock()
			return true
		})
	}
}

func (l *PollLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow records an attempt for key. When the attempt comes too soon it
// returns false and how long the caller should wait.
func (l *PollLimiter) Allow(key string) (bool, time.Duration) {
	if l.interval <= 0 {
		return true, 0
	}

	now := l.now()
	val, loaded := l.store.LoadOrStore(key, &bucket{last: now})
	if !loaded {
		return true, 0
	}

	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	if wait := b.last.Add(l.interval).Sub(now); wait > 0 {
		return false, wait
	}
	b.last = now
	return true, 0
}

// Handle limits requests per relay loaded by RelayLoader.
func (l *PollLimiter) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if relay, ok := r.Context().Value(apiContext.Relay).(*models.Relay); ok {
			key = relay.ID
		}

		if ok, wait := l.Allow(key); !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded,
				"Relay was polled too recently", map[string]int{"retry_after": secs})
			return
		}

		next(w, r)
	}
}
