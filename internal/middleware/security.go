package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"pideck/internal/logging"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// sweepThreshold bounds how many idle per-IP limiters are kept around.
const sweepThreshold = 1024

// RateLimiter implements token bucket rate limiting per IP.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	now      func() time.Time
}

func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// NewLoginRateLimiter allows attempts per window, all of which may be used
// at once.
func NewLoginRateLimiter(attempts int, window time.Duration) *RateLimiter {
	if attempts <= 0 {
		attempts = 10
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return NewRateLimiter(rate.Every(window/time.Duration(attempts)), attempts)
}

// GetLimiter gets or creates a limiter for an IP address.
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[ip]; exists {
		return limiter
	}

	if len(rl.limiters) >= sweepThreshold {
		rl.sweep()
	}
	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters[ip] = limiter
	return limiter
}

// sweep drops limiters that have refilled completely.
func (rl *RateLimiter) sweep() {
	now := rl.now()
	for ip, l := range rl.limiters {
		if l.TokensAt(now) >= float64(rl.burst) {
			delete(rl.limiters, ip)
		}
	}
}

// Reserve takes a token for ip. When none is available it returns the time
// until one is, and takes nothing.
func (rl *RateLimiter) Reserve(ip string) (time.Duration, bool) {
	now := rl.now()
	r := rl.GetLimiter(ip).ReserveN(now, 1)
	if !r.OK() {
		return time.Duration(math.MaxInt64), false
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// RateLimitMiddleware enforces rate limiting per IP.
func RateLimitMiddleware(limiter *RateLimiter, security *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if delay, ok := limiter.Reserve(ip); !ok {
			security.LogRateLimited(ip, c.FullPath())
			c.Header("Retry-After", retryAfter(delay))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func retryAfter(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Header("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		if secure {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

// CORSMiddleware answers cross-origin requests from allowedOrigins. With no
// origins configured only same-origin requests are served.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			wildcard = true
		default:
			allowed[o] = true
		}
	}

	return func(c *gin.Context) {
		origin := strings.TrimRight(c.GetHeader("Origin"), "/")

		if origin != "" && (wildcard || allowed[origin]) {
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// IPWhitelist restricts access to listed addresses and prefixes. Loopback
// is always allowed.
type IPWhitelist struct {
	prefixes []netip.Prefix
}

func NewIPWhitelist(entries []string) (*IPWhitelist, error) {
	wl := &IPWhitelist{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, err
			}
			wl.prefixes = append(wl.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, err
		}
		wl.prefixes = append(wl.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return wl, nil
}

// IsAllowed checks if an IP is whitelisted.
func (wl *IPWhitelist) IsAllowed(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || len(wl.prefixes) == 0 {
		return true
	}
	for _, p := range wl.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IPWhitelistMiddleware enforces IP whitelisting.
func IPWhitelistMiddleware(whitelist *IPWhitelist, security *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !whitelist.IsAllowed(ip) {
			security.LogDenied(ip, "address not whitelisted")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}

// SecurityLogger tags security events so they can be filtered out of the
// application log.
type SecurityLogger struct {
	logger *slog.Logger
}

func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logging.OrDiscard(logger).With("security", true)}
}

func (sl *SecurityLogger) LogFailedAuth(ip, reason string) {
	if sl == nil {
		return
	}
	sl.logger.Warn("authentication failed", "ip", ip, "reason", reason)
}

func (sl *SecurityLogger) LogLogin(ip string) {
	if sl == nil {
		return
	}
	sl.logger.Info("session issued", "ip", ip)
}

func (sl *SecurityLogger) LogRateLimited(ip, path string) {
	if sl == nil {
		return
	}
	sl.logger.Warn("rate limit exceeded", "ip", ip, "path", path)
}

func (sl *SecurityLogger) LogDenied(ip, reason string) {
	if sl == nil {
		return
	}
	sl.logger.Warn("access denied", "ip", ip, "reason", reason)
}

func (sl *SecurityLogger) LogWebSocketConnected(ip, clientID string) {
	if sl == nil {
		return
	}
	sl.logger.Info("websocket connected", "ip", ip, "client", clientID)
}

func (sl *SecurityLogger) LogWebSocketDisconnected(ip, clientID string) {
	if sl == nil {
		return
	}
	sl.logger.Info("websocket disconnected", "ip", ip, "client", clientID)
}
