package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

// Middleware admits each request through lim without blocking and answers
// 429 with Retry-After when the limiter refuses.
func Middleware(next http.Handler, lim *limiter.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gate(w, r, next, lim)
	})
}

// PerClient gives every client its own limiter from reg, created from cfg
// on first sight. Clients are keyed by the first X-Forwarded-For address,
// falling back to the remote host without its port.
func PerClient(next http.Handler, reg *limiter.Registry, cfg limiter.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim, err := reg.GetOrCreate(clientKey(r), cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		gate(w, r, next, lim)
	})
}

func gate(w http.ResponseWriter, r *http.Request, next http.Handler, lim *limiter.Limiter) {
	admitted := lim.TryAcquire()
	setRateLimitHeaders(w, lim.Stats())
	if !admitted {
		setRetryAfter(w, lim.WaitTime())
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	next.ServeHTTP(w, r)
}

func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setRateLimitHeaders(w http.ResponseWriter, s limiter.Stats) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.WindowLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(s.WindowLimit-s.WindowOccupancy, 0)))
}

// setRetryAfter rounds wait up to whole seconds, with a floor of one.
func setRetryAfter(w http.ResponseWriter, wait time.Duration) {
	secs := int(math.Ceil(wait.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
}
