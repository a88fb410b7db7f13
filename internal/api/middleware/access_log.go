package middleware

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// SlowRequest marks access log entries that took at least this long. Searches
// that trigger transcription routinely exceed it.
var SlowRequest = 2 * time.Second

type accessLogEntry struct {
	Timestamp  string `json:"ts"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Route      string `json:"route,omitempty"`
	Query      string `json:"query,omitempty"`
	Range      string `json:"range,omitempty"`
	Status     int    `json:"status"`
	Bytes      int    `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
	Slow       bool   `json:"slow,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Client     string `json:"client,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// responseRecorder remembers the first status written and counts body bytes.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// AccessLog writes one JSON line per request. Health probes are not logged.
// Media requests record their Range header so seeks to a clip timestamp show up.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		payload, err := json.Marshal(newAccessLogEntry(r, rec, start, time.Since(start)))
		if err != nil {
			log.Printf("access_log: marshal failed: %v", err)
			return
		}
		log.Println(string(payload))
	})
}

func newAccessLogEntry(r *http.Request, rec *responseRecorder, start time.Time, took time.Duration) accessLogEntry {
	e := accessLogEntry{
		Timestamp:  start.UTC().Format(time.RFC3339Nano),
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Status:     rec.status,
		Bytes:      rec.bytes,
		DurationMS: took.Milliseconds(),
		Slow:       SlowRequest > 0 && took >= SlowRequest,
		RequestID:  GetRequestID(r.Context()),
		Client:     clientIP(r),
		UserAgent:  r.UserAgent(),
	}
	if e.Status == 0 {
		e.Status = http.StatusOK
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		e.Route = rctx.RoutePattern()
	}
	if strings.HasPrefix(r.URL.Path, "/media/") {
		e.Range = r.Header.Get("Range")
	}
	return e
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer.
func clientIP(r *http.Request) string {
	if fwd, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(fwd) != "" {
		return strings.TrimSpace(fwd)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
