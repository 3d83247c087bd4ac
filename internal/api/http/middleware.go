package apihttp

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"musicdiscovery/searchcore/internal/metrics"
)

// knownRoutes bounds the path label cardinality of the HTTP metrics.
var knownRoutes = map[string]struct{}{
	"/health":                  {},
	"/metrics":                 {},
	"/search":                  {},
	"/search/providers":        {},
	"/search/providers/health": {},
}

func routeLabel(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	if _, ok := knownRoutes[path]; ok {
		return path
	}
	return "other"
}

// statusRecorder keeps the first status written; an implicit 200 is
// recorded on the first Write.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *statusRecorder) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// observeMiddleware logs one line per request and feeds the HTTP metrics.
// Search requests are logged with their decoded parameters instead of the
// raw query string.
func observeMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		route := routeLabel(r.URL.Path)
		status := rw.code()
		if route != "/metrics" {
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int("bytes", rw.bytes),
			slog.Int64("durationMs", elapsed.Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		if route == "/search" {
			params := r.URL.Query()
			attrs = append(attrs, slog.String("q", truncate(strings.TrimSpace(params.Get("q")), 80)))
			if format := strings.TrimSpace(params.Get("format")); format != "" {
				attrs = append(attrs, slog.String("format", truncate(format, 16)))
			}
			if minSeeders := strings.TrimSpace(params.Get("minSeeders")); minSeeders != "" {
				attrs = append(attrs, slog.String("minSeeders", truncate(minSeeders, 10)))
			}
		}
		logger.LogAttrs(r.Context(), requestLogLevel(route, status), "http request", attrs...)
	})
}

// requestLogLevel keeps upstream timeouts and client disconnects out of the
// error level; they say nothing about this service's health.
func requestLogLevel(route string, status int) slog.Level {
	switch {
	case status == http.StatusGatewayTimeout || status == statusClientClosedRequest:
		return slog.LevelInfo
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case route == "/health" || route == "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("handler panic recovered",
					slog.Any("error", recovered),
					slog.String("route", routeLabel(r.URL.Path)),
					slog.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// clientIP is used for logging only; forwarded headers are not trusted for
// rate limiting.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

const clientLimiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters hands out one token bucket per remote host so a single
// noisy caller cannot starve the others of upstream capacity.
type clientLimiters struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

func (c *clientLimiters) allow(host string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) > clientLimiterIdle {
		for key, entry := range c.clients {
			if now.Sub(entry.lastSeen) > clientLimiterIdle {
				delete(c.clients, key)
			}
		}
		c.lastSweep = now
	}

	entry, ok := c.clients[host]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(c.rps, c.burst)}
		c.clients[host] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// rateLimitMiddleware answers 429 once the caller's token bucket is empty.
// Health and metrics scrapes are never limited.
func rateLimitMiddleware(limiters *clientLimiters, now func() time.Time, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch routeLabel(r.URL.Path) {
		case "/health", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if !limiters.allow(remoteHost(r), now()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
