package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/query"
	"github.com/stacdex/stacdex/internal/search"
	"github.com/stacdex/stacdex/internal/stac"
)

// conformanceClasses are the conformance URIs this API implements.
var conformanceClasses = []string{
	"https://api.stacspec.org/v1.0.0/core",
	"https://api.stacspec.org/v1.0.0/collections",
	"https://api.stacspec.org/v1.0.0/ogcapi-features",
	"https://api.stacspec.org/v1.0.0/item-search",
	"https://api.stacspec.org/v1.0.0-rc.2/item-search#sort",
	"https://api.stacspec.org/v1.0.0-rc.2/item-search#filter",
	"http://www.opengis.net/spec/ogcapi-features-1/1.0/conf/core",
	"http://www.opengis.net/spec/ogcapi-features-1/1.0/conf/geojson",
	"http://www.opengis.net/spec/cql2/1.0/conf/basic-cql2",
	"http://www.opengis.net/spec/cql2/1.0/conf/cql2-text",
	"http://www.opengis.net/spec/cql2/1.0/conf/cql2-json",
}

// Handler serves the STAC API over a search runtime.
type Handler struct {
	runtime *search.Runtime

	// CatalogID and friends label the landing page.
	CatalogID          string
	CatalogTitle       string
	CatalogDescription string
}

// NewHandler creates a Handler with default landing page metadata.
func NewHandler(runtime *search.Runtime) *Handler {
	return &Handler{
		runtime:            runtime,
		CatalogID:          "stacdex",
		CatalogTitle:       "stacdex",
		CatalogDescription: "Searchable index over crawled STAC catalogs",
	}
}

// baseURL reconstructs the externally visible base URL of the service.
func baseURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host
}

// LandingPage handles GET /. The indexed collections appear as child links;
// an index that is not available yet just yields no children.
func (h *Handler) LandingPage(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	links := []stac.Link{
		{Rel: "self", Href: base + "/", Type: "application/json"},
		{Rel: "root", Href: base + "/", Type: "application/json"},
		{Rel: "conformance", Href: base + "/conformance", Type: "application/json"},
		{Rel: "data", Href: base + "/collections", Type: "application/json"},
		{Rel: "search", Href: base + "/search", Type: "application/geo+json"},
		{Rel: "http://www.opengis.net/def/rel/ogc/1.0/queryables", Href: base + "/queryables", Type: "application/schema+json"},
	}
	if ids, err := h.runtime.CollectionIDs(r.Context()); err == nil {
		for _, id := range ids {
			links = append(links, stac.Link{Rel: "child", Href: base + "/collections/" + id, Type: "application/json"})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"type":         "Catalog",
		"stac_version": stac.Version,
		"id":           h.CatalogID,
		"title":        h.CatalogTitle,
		"description":  h.CatalogDescription,
		"conformsTo":   conformanceClasses,
		"links":        links,
	})
}

// Conformance handles GET /conformance.
func (h *Handler) Conformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conformsTo": conformanceClasses,
	})
}

// Collections handles GET /collections.
func (h *Handler) Collections(w http.ResponseWriter, r *http.Request) {
	doc, err := h.runtime.Collections(r.Context(), baseURL(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Collection handles GET /collections/{collectionId}.
func (h *Handler) Collection(w http.ResponseWriter, r *http.Request) {
	doc, err := h.runtime.Collection(r.Context(), chi.URLParam(r, "collectionId"), baseURL(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// CollectionItems handles GET /collections/{collectionId}/items.
func (h *Handler) CollectionItems(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionId")
	if _, err := h.runtime.Collection(r.Context(), collectionID, baseURL(r)); err != nil {
		writeAppError(w, r, err)
		return
	}

	req, token, err := parseSearchQuery(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	req.Collections = []string{collectionID}

	result, err := h.runtime.Search(r.Context(), req, token, baseURL(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", geoJSONContentType)
	writeJSON(w, http.StatusOK, result)
}

// CollectionItem handles GET /collections/{collectionId}/items/{itemId}.
func (h *Handler) CollectionItem(w http.ResponseWriter, r *http.Request) {
	doc, err := h.runtime.Item(r.Context(),
		chi.URLParam(r, "collectionId"), chi.URLParam(r, "itemId"), baseURL(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", geoJSONContentType)
	writeJSON(w, http.StatusOK, doc)
}

const geoJSONContentType = "application/geo+json"

// SearchGET handles GET /search.
func (h *Handler) SearchGET(w http.ResponseWriter, r *http.Request) {
	req, token, err := parseSearchQuery(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	h.search(w, r, req, token)
}

// SearchPOST handles POST /search.
func (h *Handler) SearchPOST(w http.ResponseWriter, r *http.Request) {
	req, token, err := parseSearchBody(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	h.search(w, r, req, token)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, req query.SearchRequest, token string) {
	result, err := h.runtime.Search(r.Context(), req, token, baseURL(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", geoJSONContentType)
	writeJSON(w, http.StatusOK, result)
}

// Queryables handles GET /queryables and GET /collections/{collectionId}/queryables.
func (h *Handler) Queryables(w http.ResponseWriter, r *http.Request) {
	doc, err := h.runtime.Queryables(r.Context(), chi.URLParam(r, "collectionId"), baseURL(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	writeJSON(w, http.StatusOK, doc)
}

// Sortables handles GET /sortables and GET /collections/{collectionId}/sortables.
func (h *Handler) Sortables(w http.ResponseWriter, r *http.Request) {
	doc, err := h.runtime.Sortables(r.Context(), chi.URLParam(r, "collectionId"), baseURL(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	writeJSON(w, http.StatusOK, doc)
}

// StatusErrors handles GET /status/errors.
func (h *Handler) StatusErrors(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeAppError(w, r, apperrors.Newf(apperrors.KindInvalidQueryParameter, "invalid limit %q", v))
			return
		}
		limit = n
	}
	rows, err := h.runtime.Errors(r.Context(), r.URL.Query().Get("collection"), limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	loadID, _ := h.runtime.LoadID(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"load_id": loadID,
		"errors":  rows,
	})
}

// Ping handles GET /_mgmt/ping.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "PONG"})
}
