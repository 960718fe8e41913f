// Package ratelimit protects cmd/coordinatord from heartbeat and
// rendezvous storms: a campaign with thousands of clients configured
// to retry aggressively can otherwise saturate a single driver's
// single-threaded event loop. Wires golang.org/x/time/rate, which the
// teacher's go.mod already carried as an indirect dependency for its
// own outbound throttling.
package ratelimit

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fedcoord/coordinator/internal/observability"
)

// PerClient hands out an independent token-bucket limiter per
// (campaign, client) pair, so one noisy client can't starve others.
type PerClient struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewPerClient builds a limiter allowing rps requests/sec per client
// with burst headroom.
func NewPerClient(rps float64, burst int) *PerClient {
	return &PerClient{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (p *PerClient) limiterFor(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[key] = l
	}
	return l
}

// Allow reports whether a request keyed by campaignID+clientID may
// proceed right now.
func (p *PerClient) Allow(campaignID, clientID string) bool {
	return p.limiterFor(campaignID + ":" + clientID).Allow()
}

// Middleware enforces the limiter using the X-Campaign-ID header and
// a client identifier extracted by keyFn (typically the path or a
// request field), rejecting with 429 when the bucket is empty.
func (p *PerClient) Middleware(endpoint string, keyFn func(r *http.Request) (campaignID, clientID string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			campaignID, clientID := keyFn(r)
			if !p.Allow(campaignID, clientID) {
				observability.APIRateLimited.WithLabelValues(endpoint).Inc()
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
