package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacdex/stacdex/internal/errors"
)

func TestHTTPSGetAsString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/catalog.json":
			fmt.Fprint(w, `{"type":"Catalog"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	src := NewHTTPSSourceWithClient(server.Client())
	ctx := context.Background()

	body, err := src.GetAsString(ctx, server.URL+"/catalog.json")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Catalog"}`, body)

	_, err = src.GetAsString(ctx, server.URL+"/missing.json")
	assert.True(t, errors.IsKind(err, errors.KindUriNotFound))
}

func TestHTTPSListItemsPaging(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"features": [
				{"id": "a", "links": [{"rel": "self", "href": "%s/collections/c/items/a"}]},
				{"id": "b", "links": []}
			],
			"links": [{"rel": "next", "href": "%s/items2"}]
		}`, server.URL, server.URL)
	})
	mux.HandleFunc("/items2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"features": [
				{"id": "c", "links": [{"rel": "self", "href": "./collections/c/items/c"}]}
			],
			"links": []
		}`)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	src := NewHTTPSSourceWithClient(server.Client())
	uris, problems, err := src.ListItems(context.Background(), server.URL+"/items", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{
		server.URL + "/collections/c/items/a",
		server.URL + "/collections/c/items/c",
	}, uris)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], `feature "b"`)
}

func TestHTTPSListItemsLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"features": [
				{"id": "a", "links": [{"rel": "self", "href": "./a.json"}]},
				{"id": "b", "links": [{"rel": "self", "href": "./b.json"}]},
				{"id": "c", "links": [{"rel": "self", "href": "./c.json"}]}
			],
			"links": []
		}`)
	}))
	defer server.Close()

	src := NewHTTPSSourceWithClient(server.Client())
	uris, _, err := src.ListItems(context.Background(), server.URL+"/items", 2)
	require.NoError(t, err)
	assert.Len(t, uris, 2)
}

func TestHTTPSLastModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
	}))
	defer server.Close()

	src := NewHTTPSSourceWithClient(server.Client())
	modified, err := src.LastModified(context.Background(), server.URL+"/catalog.json")
	require.NoError(t, err)
	assert.Equal(t, 2015, modified.Year())
}
