// Package search executes item searches end to end: compile or resume a
// query, run it against the engine, and hydrate the matching STAC documents.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/stacdex/stacdex/internal/engine"
	apperrors "github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/query"
	"github.com/stacdex/stacdex/internal/source"
	"github.com/stacdex/stacdex/internal/stac"
)

// ItemCollection is a GeoJSON FeatureCollection page of search results.
type ItemCollection struct {
	Type           string                   `json:"type"`
	Features       []map[string]interface{} `json:"features"`
	Links          []stac.Link              `json:"links"`
	NumberReturned int                      `json:"numberReturned"`
}

// Engine is the query-engine surface the runtime needs. *engine.Engine
// implements it.
type Engine interface {
	CurrentSnapshot(ctx context.Context) (*engine.Snapshot, error)
	Execute(ctx context.Context, snap *engine.Snapshot, qi query.QueryInfo) ([]engine.ItemRow, bool, error)
	Collections(ctx context.Context, snap *engine.Snapshot) ([]engine.CollectionRow, error)
	Collection(ctx context.Context, snap *engine.Snapshot, id string) (engine.CollectionRow, error)
	Errors(ctx context.Context, snap *engine.Snapshot, collection string, limit int) ([]engine.ErrorRow, error)
}

// Runtime wires the query engine, the item sources, and the token codec
// into the search operations the API exposes.
type Runtime struct {
	engine         Engine
	sources        *source.Registry
	tokens         *TokenCodec
	maxConcurrency int
}

// NewRuntime creates a search runtime. maxConcurrency bounds the parallel
// item document fetches per request.
func NewRuntime(eng Engine, sources *source.Registry, tokens *TokenCodec, maxConcurrency int) *Runtime {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Runtime{engine: eng, sources: sources, tokens: tokens, maxConcurrency: maxConcurrency}
}

// Search runs an item search. When token is set the request's other
// parameters are ignored and the signed query is resumed; a token minted
// against a replaced snapshot yields a conflict.
func (r *Runtime) Search(ctx context.Context, req query.SearchRequest, token, baseURL string) (*ItemCollection, error) {
	snap, err := r.engine.CurrentSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var qi query.QueryInfo
	if token != "" {
		qi, err = r.tokens.Decode(token)
	} else {
		qi, err = query.Compile(req, snap.Fields(req.Collections), snap.LoadID)
	}
	if err != nil {
		return nil, err
	}

	rows, hasMore, err := r.engine.Execute(ctx, snap, qi)
	if err != nil {
		return nil, err
	}

	features, err := r.hydrateItems(ctx, rows, normalizeBaseURL(baseURL))
	if err != nil {
		return nil, err
	}

	links, err := r.pageLinks(qi, hasMore, normalizeBaseURL(baseURL))
	if err != nil {
		return nil, err
	}

	return &ItemCollection{
		Type:           "FeatureCollection",
		Features:       features,
		Links:          links,
		NumberReturned: len(features),
	}, nil
}

// Item resolves a single item through the search path. An item that is
// indexed but whose source document is gone reads differently from one that
// was never indexed.
func (r *Runtime) Item(ctx context.Context, collectionID, itemID, baseURL string) (map[string]interface{}, error) {
	snap, err := r.engine.CurrentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	qi, err := query.Compile(query.SearchRequest{
		IDs:         []string{itemID},
		Collections: []string{collectionID},
		Limit:       1,
	}, snap.Fields([]string{collectionID}), snap.LoadID)
	if err != nil {
		return nil, err
	}
	rows, _, err := r.engine.Execute(ctx, snap, qi)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.Newf(apperrors.KindUriNotFound,
			"item %s/%s is not in the current index", collectionID, itemID)
	}

	doc, err := r.fetchItemDoc(ctx, rows[0])
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindUriNotFound) {
			return nil, apperrors.Newf(apperrors.KindUriNotFound,
				"item %s/%s document is gone from %s; the index may be stale",
				collectionID, itemID, rows[0].StacLocation)
		}
		return nil, err
	}
	rewriteLinks(doc, itemLinks(normalizeBaseURL(baseURL), rows[0].CollectionID, rows[0].ID))
	return doc, nil
}

// hydrateItems fetches and prepares the item documents for one result page,
// preserving the query order. Items whose source document disappeared since
// indexing are dropped; an unreachable source aborts the page.
func (r *Runtime) hydrateItems(ctx context.Context, rows []engine.ItemRow, baseURL string) ([]map[string]interface{}, error) {
	docs := make([]map[string]interface{}, len(rows))
	errs := make([]error, len(rows))
	sem := make(chan struct{}, r.maxConcurrency)
	var wg sync.WaitGroup

	for i, row := range rows {
		wg.Add(1)
		go func(i int, row engine.ItemRow) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			docs[i], errs[i] = r.fetchItemDoc(ctx, row)
		}(i, row)
	}
	wg.Wait()

	features := make([]map[string]interface{}, 0, len(rows))
	for i, row := range rows {
		if errs[i] != nil {
			if apperrors.IsKind(errs[i], apperrors.KindUriNotFound) {
				log.Printf("search: item %s/%s vanished from %s, dropping from page",
					row.CollectionID, row.ID, row.StacLocation)
				continue
			}
			return nil, errs[i]
		}
		rewriteLinks(docs[i], itemLinks(baseURL, row.CollectionID, row.ID))
		features = append(features, docs[i])
	}
	return features, nil
}

// fetchItemDoc loads one item document and re-applies the fixes recorded at
// indexing time, so the served document matches what was indexed.
func (r *Runtime) fetchItemDoc(ctx context.Context, row engine.ItemRow) (map[string]interface{}, error) {
	body, err := r.sources.GetAsString(ctx, row.StacLocation)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindItemParsing,
			fmt.Sprintf("item at %s does not parse", row.StacLocation), err)
	}
	if row.AppliedFixes != "" && row.AppliedFixes != stac.NoFixes {
		doc, _ = stac.ApplyFixes(doc, strings.Split(row.AppliedFixes, ","))
	}
	return doc, nil
}

func (r *Runtime) pageLinks(qi query.QueryInfo, hasMore bool, baseURL string) ([]stac.Link, error) {
	self, err := r.tokens.Encode(qi)
	if err != nil {
		return nil, err
	}
	links := []stac.Link{
		{Rel: "self", Href: baseURL + "/search?token=" + self, Type: geoJSONType},
		{Rel: "root", Href: baseURL + "/", Type: "application/json"},
	}
	if hasMore {
		token, err := r.tokens.Encode(qi.NextPage())
		if err != nil {
			return nil, err
		}
		links = append(links, stac.Link{Rel: "next", Href: baseURL + "/search?token=" + token, Type: geoJSONType})
	}
	if prev, ok := qi.PreviousPage(); ok {
		token, err := r.tokens.Encode(prev)
		if err != nil {
			return nil, err
		}
		links = append(links, stac.Link{Rel: "previous", Href: baseURL + "/search?token=" + token, Type: geoJSONType})
	}
	return links, nil
}

// Collections lists the indexed collections with their full documents.
func (r *Runtime) Collections(ctx context.Context, baseURL string) (map[string]interface{}, error) {
	snap, err := r.engine.CurrentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.engine.Collections(ctx, snap)
	if err != nil {
		return nil, err
	}

	baseURL = normalizeBaseURL(baseURL)
	collections := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		doc, err := r.fetchCollectionDoc(ctx, row)
		if err != nil {
			if apperrors.IsKind(err, apperrors.KindUriNotFound) {
				log.Printf("search: collection %s vanished from %s, index may be stale", row.ID, row.StacLocation)
				continue
			}
			return nil, err
		}
		rewriteLinks(doc, collectionLinks(baseURL, row.ID))
		collections = append(collections, doc)
	}

	return map[string]interface{}{
		"collections": collections,
		"links": []stac.Link{
			{Rel: "self", Href: baseURL + "/collections", Type: "application/json"},
			{Rel: "root", Href: baseURL + "/", Type: "application/json"},
		},
	}, nil
}

// CollectionIDs lists the indexed collection ids without fetching the
// collection documents.
func (r *Runtime) CollectionIDs(ctx context.Context) ([]string, error) {
	snap, err := r.engine.CurrentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.engine.Collections(ctx, snap)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// Collection resolves one collection document.
func (r *Runtime) Collection(ctx context.Context, collectionID, baseURL string) (map[string]interface{}, error) {
	snap, err := r.engine.CurrentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	row, err := r.engine.Collection(ctx, snap, collectionID)
	if err != nil {
		return nil, err
	}
	doc, err := r.fetchCollectionDoc(ctx, row)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindUriNotFound) {
			return nil, apperrors.Newf(apperrors.KindUriNotFound,
				"collection %q document is gone from %s; the index may be stale", collectionID, row.StacLocation)
		}
		return nil, err
	}
	rewriteLinks(doc, collectionLinks(normalizeBaseURL(baseURL), row.ID))
	return doc, nil
}

func (r *Runtime) fetchCollectionDoc(ctx context.Context, row engine.CollectionRow) (map[string]interface{}, error) {
	body, err := r.sources.GetAsString(ctx, row.StacLocation)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindCollectionParsing,
			fmt.Sprintf("collection at %s does not parse", row.StacLocation), err)
	}
	return doc, nil
}

// Queryables renders the queryables of a collection, or the wildcard
// queryables when collectionID is empty, as a JSON Schema document.
func (r *Runtime) Queryables(ctx context.Context, collectionID, baseURL string) (map[string]interface{}, error) {
	snap, err := r.engine.CurrentSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	id := normalizeBaseURL(baseURL) + "/queryables"
	if collectionID != "" {
		if _, err := r.engine.Collection(ctx, snap, collectionID); err != nil {
			return nil, err
		}
		id = normalizeBaseURL(baseURL) + "/collections/" + collectionID + "/queryables"
	}

	properties := map[string]interface{}{}
	for _, q := range snap.Queryables {
		if !fieldApplies(q.CollectionID, collectionID) {
			continue
		}
		schema := map[string]interface{}{}
		if q.JSONSchema != "" {
			if err := json.Unmarshal([]byte(q.JSONSchema), &schema); err != nil {
				schema = map[string]interface{}{}
			}
		}
		if q.Description != "" && schema["description"] == nil {
			schema["description"] = q.Description
		}
		properties[q.Name] = schema
	}

	return map[string]interface{}{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"$id":                  id,
		"type":                 "object",
		"title":                "Queryables",
		"properties":           properties,
		"additionalProperties": false,
	}, nil
}

// Sortables renders the sortables of a collection, or the wildcard
// sortables when collectionID is empty.
func (r *Runtime) Sortables(ctx context.Context, collectionID, baseURL string) (map[string]interface{}, error) {
	snap, err := r.engine.CurrentSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	id := normalizeBaseURL(baseURL) + "/sortables"
	if collectionID != "" {
		if _, err := r.engine.Collection(ctx, snap, collectionID); err != nil {
			return nil, err
		}
		id = normalizeBaseURL(baseURL) + "/collections/" + collectionID + "/sortables"
	}

	properties := map[string]interface{}{}
	for _, s := range snap.Sortables {
		if !fieldApplies(s.CollectionID, collectionID) {
			continue
		}
		entry := map[string]interface{}{}
		if s.Description != "" {
			entry["description"] = s.Description
		}
		properties[s.Name] = entry
	}

	return map[string]interface{}{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"$id":                  id,
		"type":                 "object",
		"title":                "Sortables",
		"properties":           properties,
		"additionalProperties": false,
	}, nil
}

// Errors lists the current snapshot's indexing errors, optionally restricted
// to one collection.
func (r *Runtime) Errors(ctx context.Context, collection string, limit int) ([]engine.ErrorRow, error) {
	snap, err := r.engine.CurrentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return r.engine.Errors(ctx, snap, collection, limit)
}

// LoadID reports the load id of the snapshot currently served.
func (r *Runtime) LoadID(ctx context.Context) (string, error) {
	snap, err := r.engine.CurrentSnapshot(ctx)
	if err != nil {
		return "", err
	}
	return snap.LoadID, nil
}

// fieldApplies reports whether a catalog row scoped to rowCollection is in
// scope for a request about requested (empty = the wildcard document).
func fieldApplies(rowCollection, requested string) bool {
	if requested == "" {
		return rowCollection == query.WildcardCollection
	}
	return rowCollection == query.WildcardCollection || rowCollection == requested
}
