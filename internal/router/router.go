// Package router wraps the CardDAV handler with request logging and
// exposes the loopback health endpoint.
package router

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

func New(handler http.Handler, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.Handle("/", withLogging(handler, logger))
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func withLogging(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		var logEvent *zerolog.Event
		switch r.Method {
		case "PROPFIND", "REPORT", http.MethodGet, http.MethodHead:
			logEvent = logger.Debug()
		default:
			logEvent = logger.Info()
		}

		logEvent.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("ip", realIP(r)).
			Int("status", statusOrDefault(rec.status)).
			Int("bytes", rec.bytes).
			Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0).
			Msg("http request")
	})
}
