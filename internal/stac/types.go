// Package stac provides typed STAC records, item validation, and the
// pre-validation fixer registry.
package stac

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Version is the STAC core version this parser validates against.
const Version = "1.0.0"

// NoFixes is the applied_fixes sentinel for items no fixer touched.
const NoFixes = "NONE"

// Link is a STAC link object.
type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// Catalog is a typed STAC catalog or collection document, reduced to the
// fields the crawler needs for traversal.
type Catalog struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	StacVersion string `json:"stac_version"`
	Links       []Link `json:"links"`

	// SourceURI is the URI the document was fetched from.
	SourceURI string `json:"-"`
}

// ChildHrefs returns rel=child hrefs resolved against the document URI.
func (c *Catalog) ChildHrefs() []string {
	return c.hrefs("child")
}

// ItemHrefs returns rel=item hrefs resolved against the document URI.
func (c *Catalog) ItemHrefs() []string {
	return c.hrefs("item")
}

// ItemsEndpoints returns rel=items hrefs resolved against the document URI.
func (c *Catalog) ItemsEndpoints() []string {
	return c.hrefs("items")
}

// SelfHref returns the rel=self href, or "" when absent.
func (c *Catalog) SelfHref() string {
	for _, l := range c.Links {
		if l.Rel == "self" {
			return l.Href
		}
	}
	return ""
}

// Collection is a typed STAC collection record as stored in the index.
type Collection struct {
	ID        string
	SourceURI string
}

// Item is a typed STAC item record as stored in the index.
type Item struct {
	ID         string
	Collection string
	Geometry   orb.Geometry
	Datetime   *time.Time
	Start      *time.Time
	End        *time.Time

	// Raw is the item dict after fixers were applied.
	Raw map[string]interface{}

	// AppliedFixes lists the fixers that mutated the dict, in order.
	AppliedFixes []string

	// SourceURI is the URI the item was fetched from.
	SourceURI string
}

// AppliedFixesColumn renders AppliedFixes for the items table.
func (i *Item) AppliedFixesColumn() string {
	if len(i.AppliedFixes) == 0 {
		return NoFixes
	}
	out := i.AppliedFixes[0]
	for _, f := range i.AppliedFixes[1:] {
		out += "," + f
	}
	return out
}

// GeometryWKB returns the item geometry as hex-encoded WKB for insertion
// through DuckDB's ST_GeomFromHEXWKB.
func (i *Item) GeometryWKB() (string, error) {
	return EncodeHexWKB(i.Geometry)
}

// Properties returns the item's properties dict, never nil.
func (i *Item) Properties() map[string]interface{} {
	if props, ok := i.Raw["properties"].(map[string]interface{}); ok {
		return props
	}
	return map[string]interface{}{}
}

// IndexingError is one recordable problem encountered during indexing.
// Rows of the errors table have exactly this shape.
type IndexingError struct {
	Time          time.Time `json:"time"`
	ErrorType     string    `json:"error_type"`
	Subtype       string    `json:"subtype"`
	InputLocation string    `json:"input_location"`
	Description   string    `json:"description"`
	PossibleFixes string    `json:"possible_fixes"`
	Collection    string    `json:"collection"`
	Item          string    `json:"item"`
}

// decodeGeometry decodes a GeoJSON geometry dict into an orb.Geometry.
func decodeGeometry(raw interface{}) (orb.Geometry, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	geom, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	return geom.Geometry(), nil
}
