package search

import (
	"strings"

	"github.com/stacdex/stacdex/internal/stac"
)

const geoJSONType = "application/geo+json"

// managedRels are the link relations the server owns. Source documents
// carry hrefs pointing into the crawled tree; those are replaced with
// server-absolute links so clients stay inside the API.
var managedRels = map[string]bool{
	"self":       true,
	"root":       true,
	"parent":     true,
	"collection": true,
	"items":      true,
	"item":       true,
	"child":      true,
	"next":       true,
	"prev":       true,
	"previous":   true,
}

// rewriteLinks replaces the managed links of a STAC document with
// server-absolute ones, keeping any foreign links (license, via, assets
// related) untouched.
func rewriteLinks(doc map[string]interface{}, serverLinks []stac.Link) {
	var kept []interface{}
	if raw, ok := doc["links"].([]interface{}); ok {
		for _, l := range raw {
			link, ok := l.(map[string]interface{})
			if !ok {
				continue
			}
			rel, _ := link["rel"].(string)
			if managedRels[rel] {
				continue
			}
			kept = append(kept, l)
		}
	}
	for _, l := range serverLinks {
		entry := map[string]interface{}{"rel": l.Rel, "href": l.Href}
		if l.Type != "" {
			entry["type"] = l.Type
		}
		kept = append(kept, entry)
	}
	doc["links"] = kept
}

// itemLinks builds the server-owned links of an item document.
func itemLinks(baseURL, collectionID, itemID string) []stac.Link {
	collection := baseURL + "/collections/" + collectionID
	return []stac.Link{
		{Rel: "self", Href: collection + "/items/" + itemID, Type: geoJSONType},
		{Rel: "parent", Href: collection, Type: "application/json"},
		{Rel: "collection", Href: collection, Type: "application/json"},
		{Rel: "root", Href: baseURL + "/", Type: "application/json"},
	}
}

// collectionLinks builds the server-owned links of a collection document.
func collectionLinks(baseURL, collectionID string) []stac.Link {
	collection := baseURL + "/collections/" + collectionID
	return []stac.Link{
		{Rel: "self", Href: collection, Type: "application/json"},
		{Rel: "items", Href: collection + "/items", Type: geoJSONType},
		{Rel: "parent", Href: baseURL + "/", Type: "application/json"},
		{Rel: "root", Href: baseURL + "/", Type: "application/json"},
	}
}

// normalizeBaseURL strips a trailing slash so link assembly is uniform.
func normalizeBaseURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/")
}
