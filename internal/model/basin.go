package model

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// OutletID is the NextDown value of a terminal basin (no downstream basin).
const OutletID int64 = 0

// Hierarchy levels that have a basin dataset.
const (
	MinLevel = 5
	MaxLevel = 12
)

// SupportedLevels lists every valid hierarchy level in ascending order.
func SupportedLevels() []int {
	levels := make([]int, 0, MaxLevel-MinLevel+1)
	for l := MinLevel; l <= MaxLevel; l++ {
		levels = append(levels, l)
	}
	return levels
}

// ValidateLevel fails with ErrInvalidParameter for unsupported levels.
func ValidateLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return NewOpError(ErrInvalidParameter, "validate level",
			eris.Errorf("level must be between %d and %d", MinLevel, MaxLevel),
			"level", level)
	}
	return nil
}

// DatasetName returns the basin dataset identifier for a level.
func DatasetName(level int) string {
	return fmt.Sprintf("hybas_%d", level)
}

// Basin is one drainage basin polygon of a hierarchy level.
type Basin struct {
	ID       int64              `json:"hybas_id"`
	NextDown int64              `json:"next_down"`
	Level    int                `json:"level"`
	Geometry *geom.MultiPolygon `json:"-"`
}

// IsOutlet reports whether the basin drains to no other basin.
func (b Basin) IsOutlet() bool {
	return b.NextDown == OutletID
}

type basinJSON struct {
	ID       int64           `json:"hybas_id"`
	NextDown int64           `json:"next_down"`
	Level    int             `json:"level"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// MarshalJSON encodes the geometry as a GeoJSON object.
func (b Basin) MarshalJSON() ([]byte, error) {
	out := basinJSON{ID: b.ID, NextDown: b.NextDown, Level: b.Level}
	if b.Geometry != nil {
		data, err := geojson.Marshal(b.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "model: encode geometry of basin %d", b.ID)
		}
		out.Geometry = data
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts Polygon or MultiPolygon GeoJSON geometries.
func (b *Basin) UnmarshalJSON(data []byte) error {
	var in basinJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return eris.Wrap(err, "model: decode basin")
	}
	b.ID, b.NextDown, b.Level = in.ID, in.NextDown, in.Level
	b.Geometry = nil
	if len(in.Geometry) == 0 || string(in.Geometry) == "null" {
		return nil
	}
	var g geom.T
	if err := geojson.Unmarshal(in.Geometry, &g); err != nil {
		return eris.Wrapf(err, "model: decode geometry of basin %d", in.ID)
	}
	mp, err := AsMultiPolygon(g)
	if err != nil {
		return eris.Wrapf(err, "model: basin %d", in.ID)
	}
	b.Geometry = mp
	return nil
}

// AsMultiPolygon normalizes a Polygon or MultiPolygon to a MultiPolygon.
func AsMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(t.Layout())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "model: wrap polygon")
		}
		return mp, nil
	default:
		return nil, eris.Errorf("model: unsupported geometry type %T", g)
	}
}

// UpstreamSet is the resolved upstream catchment of a seed location.
// It is immutable once returned.
type UpstreamSet struct {
	Level      int     `json:"level" yaml:"level"`
	Seed       Point   `json:"seed" yaml:"seed"`
	SeedBasins []int64 `json:"seed_basins" yaml:"seed_basins"`
	Members    []int64 `json:"members" yaml:"members"`
	Iterations int     `json:"iterations" yaml:"iterations"`
	Truncated  bool    `json:"truncated" yaml:"truncated"`
}

// Empty reports whether the seed intersected no basin.
func (u *UpstreamSet) Empty() bool {
	return u == nil || len(u.Members) == 0
}

// Contains reports whether id is a member. Members are kept sorted.
func (u *UpstreamSet) Contains(id int64) bool {
	if u == nil {
		return false
	}
	_, ok := slices.BinarySearch(u.Members, id)
	return ok
}
