package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/middleware"
)

type RouterOptions struct {
	Checker        *health.Checker
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	RequestTimeout time.Duration
	// Limiter, when set, rate-limits the /api/v1 routes per client address.
	Limiter *pkgmw.Limiter
}

// NewRouter builds the service's HTTP handler.
//
// Route table:
//
//	POST   /api/v1/documents         index a document (?async=true queues it)
//	GET    /api/v1/documents?url=    stored document and its term rows
//	DELETE /api/v1/documents?url=    remove a document from the index
//	GET    /api/v1/search?q=&limit=  ranked retrieval
//	POST   /api/v1/cache/invalidate  drop cached rankings
//	GET    /api/v1/stats             corpus size
//	GET    /health/live, /health/ready
//	GET    /metrics
//
// Health and metrics routes bypass the rate limit and the request timeout.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(pkgmw.RequestID)
	r.Use(chimw.Recoverer)
	if opts.Metrics != nil {
		r.Use(pkgmw.Metrics(opts.Metrics))
	}

	if opts.Checker != nil {
		r.Get("/health/live", opts.Checker.LiveHandler())
		r.Get("/health/ready", opts.Checker.ReadyHandler())
	}
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(pkgmw.RateLimit(opts.Limiter))
		}
		r.Use(pkgmw.Timeout(opts.RequestTimeout))
		r.Post("/documents", h.IndexDocument)
		r.Get("/documents", h.GetDocument)
		r.Delete("/documents", h.DeleteDocument)
		r.Get("/search", h.Search)
		r.Post("/cache/invalidate", h.InvalidateCache)
		r.Get("/stats", h.Stats)
	})
	return r
}
