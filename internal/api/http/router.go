package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter builds the API route tree.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware)

	r.Get("/", h.LandingPage)
	r.Get("/conformance", h.Conformance)

	r.Get("/collections", h.Collections)
	r.Get("/collections/{collectionId}", h.Collection)
	r.Get("/collections/{collectionId}/items", h.CollectionItems)
	r.Get("/collections/{collectionId}/items/{itemId}", h.CollectionItem)
	r.Get("/collections/{collectionId}/queryables", h.Queryables)
	r.Get("/collections/{collectionId}/sortables", h.Sortables)

	r.Get("/queryables", h.Queryables)
	r.Get("/sortables", h.Sortables)

	r.Get("/search", h.SearchGET)
	r.Post("/search", h.SearchPOST)

	r.Get("/status/errors", h.StatusErrors)
	r.Get("/_mgmt/ping", h.Ping)

	return r
}
