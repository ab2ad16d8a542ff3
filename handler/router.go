package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dispute-agent/internal/usecase"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(correlationIDMiddleware)
	r.Use(recoverMiddleware(h))
	r.Use(loggingMiddleware(h))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.postChat)
		r.Post("/reset", h.postReset)
		r.Get("/transactions", h.listTransactions)
		r.Get("/disputes", h.listDisputes)
		r.Get("/disputes/{dispute_id}/status", h.getStatus)
		r.Post("/disputes/{dispute_id}/close", h.closeDispute)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, &usecase.Error{Code: usecase.ErrorNotFound, Reason: "route_not_found"}, correlationIDFromContext(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "method_not_allowed"}, correlationIDFromContext(r.Context()))
	})
	return r
}
