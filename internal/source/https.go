package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/stacdex/stacdex/internal/errors"
)

// HTTPSSource reads STAC documents over HTTP(S).
// The shared http.Client pools connections and is safe for concurrent use.
type HTTPSSource struct {
	client *http.Client
}

// NewHTTPSSource creates an HTTPS source with a pooled client.
func NewHTTPSSource() *HTTPSSource {
	return &HTTPSSource{
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// NewHTTPSSourceWithClient creates an HTTPS source with a pre-configured client.
func NewHTTPSSourceWithClient(client *http.Client) *HTTPSSource {
	return &HTTPSSource{client: client}
}

// CanHandle reports whether uri is an http or https URI.
func (h *HTTPSSource) CanHandle(uri string) bool {
	s := Scheme(uri)
	return s == "http" || s == "https"
}

func (h *HTTPSSource) get(ctx context.Context, uri string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.NewSourceUnavailable(uri, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.NewSourceUnavailable(uri, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, errors.NewUriNotFound(uri)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.NewSourceUnavailable(uri, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return resp, nil
}

// GetAsString fetches the full body at uri.
func (h *HTTPSSource) GetAsString(ctx context.Context, uri string) (string, error) {
	resp, err := h.get(ctx, uri)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewSourceUnavailable(uri, err)
	}
	return string(data), nil
}

// GetToFile streams the body at uri into the local file at path.
func (h *HTTPSSource) GetToFile(ctx context.Context, uri, path string) error {
	resp, err := h.get(ctx, uri)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return errors.NewSourceUnavailable(uri, err)
	}
	return nil
}

// itemCollectionPage is the subset of a STAC ItemCollection response
// needed to page through an items endpoint.
type itemCollectionPage struct {
	Features []struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	} `json:"features"`
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// ListItems pages through a STAC ItemCollection endpoint following rel=next
// links and extracting each feature's rel=self href. Features without a
// self link are reported as problems, not failures.
func (h *HTTPSSource) ListItems(ctx context.Context, uri string, limit int) ([]string, []string, error) {
	var uris []string
	var problems []string

	pageURI := uri
	for pageURI != "" {
		body, err := h.GetAsString(ctx, pageURI)
		if err != nil {
			return nil, nil, err
		}

		var page itemCollectionPage
		if err := json.Unmarshal([]byte(body), &page); err != nil {
			return nil, nil, errors.Wrap(errors.KindSourceUnavailable,
				fmt.Sprintf("invalid ItemCollection response at %s", pageURI), err)
		}

		for _, feature := range page.Features {
			if limit > 0 && len(uris) >= limit {
				return uris, problems, nil
			}
			self := ""
			for _, link := range feature.Links {
				if link.Rel == "self" {
					self = ResolveHref(pageURI, link.Href)
					break
				}
			}
			if self == "" {
				problems = append(problems, fmt.Sprintf("feature %q at %s has no self link", feature.ID, pageURI))
				continue
			}
			uris = append(uris, self)
		}

		next := ""
		for _, link := range page.Links {
			if link.Rel == "next" {
				next = ResolveHref(pageURI, link.Href)
				break
			}
		}
		pageURI = next
	}

	return uris, problems, nil
}

// LastModified reports the server Last-Modified header when present.
// Servers that omit it get the current time, which forces a conservative
// refresh rather than risking staleness.
func (h *HTTPSSource) LastModified(ctx context.Context, uri string) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return time.Time{}, errors.NewSourceUnavailable(uri, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return time.Time{}, errors.NewSourceUnavailable(uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return time.Time{}, errors.NewUriNotFound(uri)
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			return t, nil
		}
	}
	return time.Now(), nil
}

// ListDirs is not supported over HTTPS.
func (h *HTTPSSource) ListDirs(ctx context.Context, uri string) ([]string, error) {
	return nil, errors.Newf(errors.KindSourceUnavailable, "listing directories is not supported over https: %s", uri)
}

// DeletePrefix is not supported over HTTPS.
func (h *HTTPSSource) DeletePrefix(ctx context.Context, uri string) error {
	return errors.Newf(errors.KindSourceUnavailable, "deleting is not supported over https: %s", uri)
}
