package stac

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/stacdex/stacdex/internal/errors"
	"github.com/stacdex/stacdex/internal/source"
)

// Validator subtypes reported on item violations.
const (
	SubtypeMissingField    = "missing-field"
	SubtypeInvalidType     = "invalid-type"
	SubtypeInvalidGeometry = "invalid-geometry"
	SubtypeInvalidDatetime = "invalid-datetime"
)

func (c *Catalog) hrefs(rel string) []string {
	var out []string
	for _, l := range c.Links {
		if l.Rel == rel {
			out = append(out, source.ResolveHref(c.SourceURI, l.Href))
		}
	}
	return out
}

// ParseCatalog parses a catalog or collection document.
func ParseCatalog(body, sourceURI string) (*Catalog, error) {
	var cat Catalog
	if err := json.Unmarshal([]byte(body), &cat); err != nil {
		return nil, errors.Wrap(errors.KindCollectionParsing,
			fmt.Sprintf("invalid catalog document at %s", sourceURI), err)
	}
	if cat.Type != "Catalog" && cat.Type != "Collection" {
		return nil, errors.Newf(errors.KindCollectionParsing,
			"document at %s has type %q, expected Catalog or Collection", sourceURI, cat.Type)
	}
	if cat.ID == "" {
		return nil, errors.Newf(errors.KindCollectionParsing, "document at %s has no id", sourceURI)
	}
	cat.SourceURI = sourceURI
	return &cat, nil
}

// ApplyFixes runs the named registered fixers over the dict in order and
// returns the transformed dict plus the names of fixers that mutated it.
func ApplyFixes(dict map[string]interface{}, fixNames []string) (map[string]interface{}, []string) {
	var applied []string
	for _, name := range fixNames {
		fixer, ok := LookupFixer(name)
		if !ok {
			continue
		}
		fixed := fixer.Fix(dict)
		if !reflect.DeepEqual(fixed, dict) {
			applied = append(applied, name)
			dict = fixed
		}
	}
	return dict, applied
}

// ParseItem validates an item dict against STAC core after applying the
// named fixers. On success the typed item is returned; on failure, one
// IndexingError per violation.
func ParseItem(dict map[string]interface{}, sourceURI, collectionID string, fixNames []string) (*Item, []IndexingError) {
	dict, applied := ApplyFixes(dict, fixNames)

	item := &Item{
		Collection:   collectionID,
		Raw:          dict,
		AppliedFixes: applied,
		SourceURI:    sourceURI,
	}
	var violations []*Violation

	if t, _ := dict["type"].(string); t != "Feature" {
		violations = append(violations, &Violation{
			Subtype:     SubtypeInvalidType,
			Location:    "type",
			Description: fmt.Sprintf("item type is %q, expected Feature", t),
		})
	}
	if v, _ := dict["stac_version"].(string); v == "" {
		violations = append(violations, &Violation{
			Subtype:     SubtypeMissingField,
			Location:    "stac_version",
			Description: "stac_version is missing",
		})
	}
	if id, _ := dict["id"].(string); id == "" {
		violations = append(violations, &Violation{
			Subtype:     SubtypeMissingField,
			Location:    "id",
			Description: "item id is missing or empty",
		})
	} else {
		item.ID = id
	}
	if c, ok := dict["collection"].(string); ok && c != "" {
		item.Collection = c
	}

	if raw, ok := dict["geometry"]; !ok || raw == nil {
		violations = append(violations, &Violation{
			Subtype:     SubtypeMissingField,
			Location:    "geometry",
			Description: "item has no geometry",
		})
	} else if geom, err := decodeGeometry(raw); err != nil {
		violations = append(violations, &Violation{
			Subtype:     SubtypeInvalidGeometry,
			Location:    "geometry",
			Description: fmt.Sprintf("geometry does not parse: %v", err),
		})
	} else {
		item.Geometry = geom
	}

	props, hasProps := dict["properties"].(map[string]interface{})
	if !hasProps {
		violations = append(violations, &Violation{
			Subtype:     SubtypeMissingField,
			Location:    "properties",
			Description: "item has no properties",
		})
	} else {
		violations = append(violations, parseTemporal(item, props)...)
	}

	if len(violations) == 0 {
		return item, nil
	}
	return nil, violationsToErrors(violations, item, sourceURI)
}

// parseTemporal extracts datetime or start_datetime/end_datetime, enforcing
// the STAC rule that exactly one of the two forms is present.
func parseTemporal(item *Item, props map[string]interface{}) []*Violation {
	var violations []*Violation

	dt, dtErr := parseTimeField(props, "datetime")
	start, startErr := parseTimeField(props, "start_datetime")
	end, endErr := parseTimeField(props, "end_datetime")

	for _, f := range []struct {
		field string
		err   error
	}{{"datetime", dtErr}, {"start_datetime", startErr}, {"end_datetime", endErr}} {
		field, err := f.field, f.err
		if err != nil {
			violations = append(violations, &Violation{
				Subtype:     SubtypeInvalidDatetime,
				Location:    "properties." + field,
				Description: fmt.Sprintf("%s does not parse: %v", field, err),
			})
		}
	}
	if len(violations) > 0 {
		return violations
	}

	hasRange := start != nil && end != nil
	if (dt != nil) == hasRange {
		violations = append(violations, &Violation{
			Subtype:     SubtypeInvalidDatetime,
			Location:    "properties.datetime",
			Description: "exactly one of datetime or start_datetime+end_datetime must be set",
		})
		return violations
	}

	item.Datetime = dt
	item.Start = start
	item.End = end
	return nil
}

// parseTimeField reads an RFC 3339 timestamp property. A missing key or
// JSON null both count as absent.
func parseTimeField(props map[string]interface{}, field string) (*time.Time, error) {
	raw, ok := props[field]
	if !ok || raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", raw)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// violationsToErrors renders violations as errors-table rows, annotating
// each with the registered fixers whose Check matched.
func violationsToErrors(violations []*Violation, item *Item, sourceURI string) []IndexingError {
	var possible []string
	for name, fixer := range fixerRegistry {
		for _, v := range violations {
			if fixer.Check(v) {
				possible = append(possible, name)
				break
			}
		}
	}
	sort.Strings(possible)
	possibleFixes := strings.Join(possible, ",")

	out := make([]IndexingError, 0, len(violations))
	now := time.Now().UTC()
	for _, v := range violations {
		out = append(out, IndexingError{
			Time:          now,
			ErrorType:     string(errors.KindItemParsing),
			Subtype:       v.Subtype,
			InputLocation: v.Location,
			Description:   v.Description,
			PossibleFixes: possibleFixes,
			Collection:    item.Collection,
			Item:          item.ID,
		})
	}
	return out
}
