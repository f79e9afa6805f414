package api

import (
    "bufio"
    "errors"
    "log"
    "net"
    "net/http"
    "strconv"
    "time"

    "golang.org/x/time/rate"

    "fleetvision/internal/metrics"
)

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (sr *statusRecorder) WriteHeader(code int) {
    sr.status = code
    sr.ResponseWriter.WriteHeader(code)
}

// Hijack passes WebSocket upgrades through to the underlying connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    hj, ok := sr.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, errors.New("response writer does not support hijacking")
    }
    sr.status = http.StatusSwitchingProtocols
    return hj.Hijack()
}

func (sr *statusRecorder) Flush() {
    if f, ok := sr.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// LogMiddleware logs each request and feeds the HTTP metrics.
func LogMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(sr, r)
        dur := time.Since(start)
        status := strconv.Itoa(sr.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
        log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, sr.status, dur)
    })
}

// RateLimit wraps a handler with a token-bucket limiter. The telemetry
// webhook uses it so a misbehaving upstream cannot starve the API.
func RateLimit(rps, burst int, next http.HandlerFunc) http.HandlerFunc {
    if rps <= 0 { return next }
    lim := rate.NewLimiter(rate.Limit(rps), burst)
    return func(w http.ResponseWriter, r *http.Request) {
        if !lim.Allow() {
            writeProblem(w, http.StatusTooManyRequests, "Rate limited", "telemetry intake is saturated, retry later", r.URL.Path)
            return
        }
        next(w, r)
    }
}
