// Package rasterstore keeps forest change raster layers in object storage.
package rasterstore

import (
	"context"
	"encoding/json"
	"path"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catchment-cli/internal/forest"
	"github.com/sells-group/catchment-cli/internal/model"
)

// DefaultDataset is the object prefix used when none is configured.
const DefaultDataset = "hansen_gfc"

// Store reads and writes one dataset's layers, one JSON-encoded grid per
// object at "<dataset>/<layer>.json".
type Store struct {
	bucket  Bucket
	dataset string
}

// New creates a store over bucket.
func New(bucket Bucket, dataset string) *Store {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return &Store{bucket: bucket, dataset: dataset}
}

// ObjectKey returns the object key of a layer.
func ObjectKey(dataset, layer string) string {
	return path.Join(dataset, layer+".json")
}

// Layer reads a band and crops it to region.
func (s *Store) Layer(ctx context.Context, name string, region model.BBox) (*forest.Grid, error) {
	data, err := s.bucket.Get(ctx, ObjectKey(s.dataset, name))
	if err != nil {
		return nil, err
	}
	var g forest.Grid
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrapf(err, "rasterstore: decode layer %s", name)
	}
	if err := g.Validate(); err != nil {
		return nil, eris.Wrapf(err, "rasterstore: layer %s", name)
	}
	return g.Crop(region), nil
}

// Put writes a full band.
func (s *Store) Put(ctx context.Context, name string, g *forest.Grid) error {
	if err := g.Validate(); err != nil {
		return eris.Wrapf(err, "rasterstore: layer %s", name)
	}
	data, err := json.Marshal(g)
	if err != nil {
		return eris.Wrapf(err, "rasterstore: encode layer %s", name)
	}
	return s.bucket.Put(ctx, ObjectKey(s.dataset, name), data, "application/json")
}

// PutLayers writes every band of ls.
func (s *Store) PutLayers(ctx context.Context, ls *forest.LayerSet) error {
	for _, name := range forest.LayerNames() {
		g, ok := ls.Layer(name)
		if !ok {
			return eris.Errorf("rasterstore: missing layer %s", name)
		}
		if err := s.Put(ctx, name, g); err != nil {
			return err
		}
	}
	return nil
}
