package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/remitdesk/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса сделок.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Metrics(h.metrics))

	r.Get("/health", h.Health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/deals/{dealID}", func(r chi.Router) {
			r.Get("/", h.GetDeal)
			r.Get("/messages", h.GetMessages)
			r.Post("/messages", h.SendMessage)
			r.Get("/transitions", h.GetTransitions)
			r.Get("/accounts", h.GetAccounts)

			r.With(h.rateLimiter.Middleware).Post("/actions/{action}", h.RequestAction)
		})

		r.With(h.rateLimiter.Middleware).Post("/confirmations/{ticketID}", h.Confirm)
		r.Post("/files", h.UploadFiles)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeStatus(w, http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeStatus(w, http.StatusMethodNotAllowed)
	})

	return r
}
