// Package hydro resolves upstream catchments over the basin drainage graph
// and loads HydroBASINS-style datasets into PostGIS.
package hydro

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/model"
)

// DefaultMaxIterations bounds upstream expansion when the caller passes 0.
const DefaultMaxIterations = 100

// BasinSource returns the full basin dataset of a hierarchy level.
type BasinSource interface {
	Basins(ctx context.Context, level int) ([]model.Basin, error)
}

// IndexSource is implemented by sources that keep a prebuilt Index per
// level. ResolveUpstream prefers it over building an index per call.
type IndexSource interface {
	BasinSource
	Index(ctx context.Context, level int) (*Index, error)
}

// BasinSourceFunc adapts a function to BasinSource.
type BasinSourceFunc func(ctx context.Context, level int) ([]model.Basin, error)

func (f BasinSourceFunc) Basins(ctx context.Context, level int) ([]model.Basin, error) {
	return f(ctx, level)
}

// ResolveUpstream returns every basin that drains into the basin(s)
// containing seed. The level is validated before the source is consulted.
// A seed outside every basin yields an empty set, not an error.
func ResolveUpstream(ctx context.Context, seed model.Point, level int, source BasinSource, maxIterations int) (*model.UpstreamSet, error) {
	if err := model.ValidateLevel(level); err != nil {
		return nil, err
	}
	if !seed.Valid() {
		return nil, model.NewOpError(model.ErrInvalidParameter, "resolve upstream",
			eris.Errorf("seed %s outside geographic bounds", seed), "lon", seed.Lon, "lat", seed.Lat)
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	ix, err := LoadIndex(ctx, source, level)
	if err != nil {
		return nil, err
	}

	set, err := ix.Resolve(ctx, seed, maxIterations)
	if err != nil {
		return nil, err
	}
	set.Level = level

	if set.Truncated {
		zap.L().Warn("hydro: upstream expansion hit iteration cap",
			zap.Int("level", level),
			zap.Stringer("seed", seed),
			zap.Int("max_iterations", maxIterations),
			zap.Int("members", len(set.Members)),
		)
	}
	return set, nil
}

// LoadIndex returns the index of a level from source, building one when
// the source keeps none. Source failures are ErrUpstreamUnavailable.
func LoadIndex(ctx context.Context, source BasinSource, level int) (*Index, error) {
	if is, ok := source.(IndexSource); ok {
		ix, err := is.Index(ctx, level)
		if err != nil {
			return nil, asUpstreamUnavailable(err, level)
		}
		return ix, nil
	}
	basins, err := source.Basins(ctx, level)
	if err != nil {
		return nil, asUpstreamUnavailable(err, level)
	}
	return NewIndex(basins), nil
}

// asUpstreamUnavailable keeps already-classified errors and marks anything
// else as a basin source failure.
func asUpstreamUnavailable(err error, level int) error {
	if model.KindOf(err) != nil {
		return err
	}
	return model.NewOpError(model.ErrUpstreamUnavailable, "fetch basin dataset", err, "level", level)
}

// Closed reports whether members is closed under upstream-of within basins:
// no basin outside members drains into a member.
func Closed(members []int64, basins []model.Basin) bool {
	in := make(map[int64]struct{}, len(members))
	for _, id := range members {
		in[id] = struct{}{}
	}
	for _, b := range basins {
		if _, down := in[b.NextDown]; !down || b.IsOutlet() {
			continue
		}
		if _, ok := in[b.ID]; !ok {
			return false
		}
	}
	return true
}
