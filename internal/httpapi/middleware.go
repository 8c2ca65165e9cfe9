package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/llmosd/llmosd/pkg/protocol"
)

// middleware applies the per-client rate limit and logs the request.
func (s *Server) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limits.allow(r.RemoteAddr) {
			writeJSON(w, http.StatusTooManyRequests, protocol.ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		start := time.Now()
		next(w, r)
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}

// clientLimits keeps one token bucket per client address.
type clientLimits struct {
	mu    sync.Mutex
	per   map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

func newClientLimits(rps float64) *clientLimits {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &clientLimits{
		per:   make(map[string]*rate.Limiter),
		limit: rate.Limit(rps),
		burst: burst,
	}
}

func (cl *clientLimits) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	cl.mu.Lock()
	lim, ok := cl.per[host]
	if !ok {
		lim = rate.NewLimiter(cl.limit, cl.burst)
		cl.per[host] = lim
	}
	cl.mu.Unlock()
	return lim.Allow()
}
