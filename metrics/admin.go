package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is what the admin endpoints report about the running server
type Status interface {
	// Info returns the INFO text of the given sections, all when empty
	Info(sections ...string) string

	// Healthy returns nil when the server can serve requests
	Healthy() error
}

// NewAdminHandler returns the admin HTTP API:
//
//	GET /metrics            Prometheus exposition of c's registry
//	GET /healthz            200 "ok", or 503 with the reason
//	GET /info[?section=s]   INFO output as plain text
func NewAdminHandler(c *Collector, status Status) http.Handler {
	r := chi.NewRouter()

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := status.Healthy(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(status.Info(r.URL.Query()["section"]...)))
	})

	return r
}
