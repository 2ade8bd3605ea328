package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poyaz/multi-squid-ipv4-proxy-api-sub001/internal/api/response"
)

type slidingWindowCounter struct {
	mu         sync.Mutex
	timestamps []int64
}

// RateLimiter keeps one sliding window per key.
type RateLimiter struct {
	limit  int
	window time.Duration
	store  sync.Map
	now    func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limit: limit, window: window, now: time.Now}
}

// ByClientIP limits requests per remote address.
func (l *RateLimiter) ByClientIP() gin.HandlerFunc {
	return l.handler(func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	})
}

// ByHeader limits requests per header value and falls back to the client ip
// when the header is absent.
func (l *RateLimiter) ByHeader(headerName string) gin.HandlerFunc {
	headerName = strings.TrimSpace(headerName)
	return l.handler(func(c *gin.Context) string {
		value := strings.TrimSpace(c.GetHeader(headerName))
		if headerName == "" || value == "" {
			return "ip:" + c.ClientIP()
		}
		return "header:" + strings.ToLower(headerName) + ":" + value
	})
}

func (l *RateLimiter) handler(keyResolver func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyResolver(c)
		if key == "" {
			key = "global"
		}
		if !l.allow(key) {
			response.Fail(c, http.StatusTooManyRequests, response.ErrRateLimited, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allow(key string) bool {
	entryAny, _ := l.store.LoadOrStore(key, &slidingWindowCounter{
		timestamps: make([]int64, 0, l.limit),
	})
	entry := entryAny.(*slidingWindowCounter)

	now := l.now().UnixNano()
	cutoff := now - l.window.Nanoseconds()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts > cutoff {
			next = append(next, ts)
		}
	}
	entry.timestamps = next

	if len(entry.timestamps) >= l.limit {
		return false
	}
	entry.timestamps = append(entry.timestamps, now)
	return true
}
