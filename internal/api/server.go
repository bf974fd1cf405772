// Package api serves the read-only JSON API over deals, games and wishlists.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/user/dealtracker/internal/catalog"
	"github.com/user/dealtracker/internal/scheduler"
	"github.com/user/dealtracker/internal/storage"
	"github.com/user/dealtracker/pkg/logger"
)

// JobLister reports scheduled jobs.
type JobLister interface {
	Status() []scheduler.JobStatus
}

// Handler serves the API routes.
type Handler struct {
	repo   *storage.Repository
	region string
	jobs   JobLister
	policy catalog.SimilarityPolicy
}

// NewHandler creates a handler. region is used when a request names none; jobs
// may be nil.
func NewHandler(db *storage.Database, region string, jobs JobLister) *Handler {
	return &Handler{
		repo:   db.Repository(),
		region: region,
		jobs:   jobs,
		policy: catalog.DefaultPolicy(),
	}
}

// Router returns the chi router with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/deals", func(r chi.Router) {
			r.Get("/", h.listDeals)
			r.Get("/hot", h.hotDeals)
			r.Get("/recent", h.recentDeals)
			r.Get("/free", h.freeGames)
			r.Get("/ending-soon", h.endingSoon)
			r.Get("/weekly", h.weeklyBest)
			r.Get("/stats", h.dealStats)
		})
		r.Get("/stores", h.listStores)
		r.Route("/games", func(r chi.Router) {
			r.Get("/search", h.searchGames)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getGame)
				r.Get("/history", h.priceHistory)
				r.Get("/lowest", h.lowestPrice)
				r.Get("/similar", h.similarGames)
			})
		})
		r.Get("/users/{id}/wishlist/deals", h.wishlistDeals)
		r.Get("/scheduler", h.schedulerStatus)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request completed")
	})
}
