package stac

import (
	"encoding/hex"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
)

// EncodeHexWKB encodes a geometry as hex WKB for DuckDB's ST_GeomFromHEXWKB.
func EncodeHexWKB(geom orb.Geometry) (string, error) {
	if geom == nil {
		return "", fmt.Errorf("nil geometry")
	}
	data, err := wkb.Marshal(geom)
	if err != nil {
		return "", fmt.Errorf("failed to encode geometry: %w", err)
	}
	return hex.EncodeToString(data), nil
}

// EncodeWKT encodes a geometry as WKT.
func EncodeWKT(geom orb.Geometry) string {
	if geom == nil {
		return ""
	}
	return wkt.MarshalString(geom)
}

// BBoxPolygon builds the 2D polygon footprint of a bbox. A 6-value bbox is
// flattened to its x/y envelope.
func BBoxPolygon(bbox []float64) (orb.Polygon, error) {
	var minX, minY, maxX, maxY float64
	switch len(bbox) {
	case 4:
		minX, minY, maxX, maxY = bbox[0], bbox[1], bbox[2], bbox[3]
	case 6:
		minX, minY, maxX, maxY = bbox[0], bbox[1], bbox[3], bbox[4]
	default:
		return nil, fmt.Errorf("bbox must have 4 or 6 values, got %d", len(bbox))
	}
	return orb.Polygon{orb.Ring{
		{minX, minY},
		{maxX, minY},
		{maxX, maxY},
		{minX, maxY},
		{minX, minY},
	}}, nil
}
