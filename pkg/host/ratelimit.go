package host

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/kadirpekel/optica/pkg/config"
)

// clientLimiters keeps one token bucket per client address. Idle clients are
// forgotten after an hour.
type clientLimiters struct {
	limit rate.Limit
	burst int
	cache *expirable.LRU[string, *rate.Limiter]
}

func newClientLimiters(cfg config.RateLimitConfig) *clientLimiters {
	if !cfg.Enabled || cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	return &clientLimiters{
		limit: rate.Limit(cfg.RequestsPerSecond),
		burst: burst,
		cache: expirable.NewLRU[string, *rate.Limiter](10000, nil, time.Hour),
	}
}

func (l *clientLimiters) allow(client string) bool {
	lim, ok := l.cache.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.cache.Add(client, lim)
	}
	return lim.Allow()
}

// middleware rejects requests over the client's rate with 429.
func (l *clientLimiters) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientAddr(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
