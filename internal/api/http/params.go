package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/stacdex/stacdex/internal/cql2"
	apperrors "github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/query"
)

// parseSearchQuery decodes the GET form of a search request. The token, when
// present, wins over everything else.
func parseSearchQuery(r *http.Request) (query.SearchRequest, string, error) {
	var req query.SearchRequest
	values := r.URL.Query()

	if v := values.Get("ids"); v != "" {
		req.IDs = splitList(v)
	}
	if v := values.Get("collections"); v != "" {
		req.Collections = splitList(v)
	}

	if v := values.Get("bbox"); v != "" {
		bbox, err := parseBBox(v)
		if err != nil {
			return req, "", err
		}
		req.BBox = bbox
	}

	if v := values.Get("intersects"); v != "" {
		geom, err := geojson.UnmarshalGeometry([]byte(v))
		if err != nil {
			return req, "", apperrors.Wrap(apperrors.KindInvalidQueryParameter, "invalid intersects geometry", err)
		}
		req.Intersects = geom.Geometry()
	}

	req.Datetime = values.Get("datetime")

	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return req, "", apperrors.Newf(apperrors.KindInvalidQueryParameter, "invalid limit %q", v)
		}
		req.Limit = limit
	}

	if v := values.Get("sortby"); v != "" {
		req.SortBy = parseSortBy(v)
	}

	if v := values.Get("filter"); v != "" {
		lang := values.Get("filter-lang")
		if lang == "" {
			lang = cql2.LangText
		}
		expr, err := cql2.ParseLang(lang, json.RawMessage(v))
		if err != nil {
			return req, "", err
		}
		req.Filter = expr
	}

	return req, values.Get("token"), nil
}

// searchBody is the POST form of a search request.
type searchBody struct {
	IDs         []string        `json:"ids"`
	Collections []string        `json:"collections"`
	BBox        []float64       `json:"bbox"`
	Intersects  json.RawMessage `json:"intersects"`
	Datetime    string          `json:"datetime"`
	Limit       int             `json:"limit"`
	SortBy      []sortSpec      `json:"sortby"`
	Filter      json.RawMessage `json:"filter"`
	FilterLang  string          `json:"filter-lang"`
	Token       string          `json:"token"`
}

type sortSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// parseSearchBody decodes the POST form of a search request.
func parseSearchBody(r *http.Request) (query.SearchRequest, string, error) {
	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return query.SearchRequest{}, "", apperrors.Wrap(apperrors.KindInvalidQueryParameter, "invalid search body", err)
	}

	req := query.SearchRequest{
		IDs:         body.IDs,
		Collections: body.Collections,
		BBox:        body.BBox,
		Datetime:    body.Datetime,
		Limit:       body.Limit,
	}
	if body.Limit < 0 {
		return req, "", apperrors.Newf(apperrors.KindInvalidQueryParameter, "invalid limit %d", body.Limit)
	}
	if len(body.BBox) > 0 {
		if _, err := parseBBoxValues(body.BBox); err != nil {
			return req, "", err
		}
	} else {
		req.BBox = nil
	}

	if len(body.Intersects) > 0 {
		geom, err := geojson.UnmarshalGeometry(body.Intersects)
		if err != nil {
			return req, "", apperrors.Wrap(apperrors.KindInvalidQueryParameter, "invalid intersects geometry", err)
		}
		req.Intersects = geom.Geometry()
	}

	for _, s := range body.SortBy {
		req.SortBy = append(req.SortBy, query.SortField{
			Field: s.Field,
			Desc:  strings.EqualFold(s.Direction, "desc"),
		})
	}

	if len(body.Filter) > 0 {
		lang := body.FilterLang
		if lang == "" {
			lang = cql2.LangJSON
		}
		expr, err := cql2.ParseLang(lang, body.Filter)
		if err != nil {
			return req, "", err
		}
		req.Filter = expr
	}

	return req, body.Token, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBBox(v string) ([]float64, error) {
	parts := strings.Split(v, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, apperrors.Newf(apperrors.KindInvalidQueryParameter, "invalid bbox value %q", p)
		}
		values = append(values, f)
	}
	return parseBBoxValues(values)
}

func parseBBoxValues(values []float64) ([]float64, error) {
	if len(values) != 4 && len(values) != 6 {
		return nil, apperrors.Newf(apperrors.KindInvalidQueryParameter,
			"bbox must have 4 or 6 values, got %d", len(values))
	}
	return values, nil
}

// parseSortBy decodes the "+field,-field" GET form. A bare field sorts
// ascending.
func parseSortBy(v string) []query.SortField {
	var out []query.SortField
	for _, part := range splitList(v) {
		switch {
		case strings.HasPrefix(part, "-"):
			out = append(out, query.SortField{Field: part[1:], Desc: true})
		case strings.HasPrefix(part, "+"):
			out = append(out, query.SortField{Field: part[1:]})
		default:
			out = append(out, query.SortField{Field: part})
		}
	}
	return out
}
