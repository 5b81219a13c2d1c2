package hydro

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catchment-cli/internal/model"
)

// Index is an immutable lookup structure over one level's basins: basins by
// id, direct upstream neighbours by downstream id, and per-basin bounds for
// seed lookup. Safe for concurrent use.
type Index struct {
	basins     []model.Basin
	bounds     []model.BBox
	byID       map[int64]int
	upstreamOf map[int64][]int64
}

// NewIndex builds an index. When ids repeat, the first record wins.
func NewIndex(basins []model.Basin) *Index {
	ix := &Index{
		basins:     basins,
		bounds:     make([]model.BBox, len(basins)),
		byID:       make(map[int64]int, len(basins)),
		upstreamOf: make(map[int64][]int64),
	}
	for i, b := range basins {
		if _, dup := ix.byID[b.ID]; dup {
			continue
		}
		ix.byID[b.ID] = i
		ix.bounds[i] = GeometryBounds(b.Geometry)
		if !b.IsOutlet() {
			ix.upstreamOf[b.NextDown] = append(ix.upstreamOf[b.NextDown], b.ID)
		}
	}
	for down := range ix.upstreamOf {
		slices.Sort(ix.upstreamOf[down])
	}
	return ix
}

// Len returns the number of basins in the index.
func (ix *Index) Len() int { return len(ix.byID) }

// Basins returns the indexed dataset.
func (ix *Index) Basins() []model.Basin { return ix.basins }

// Basin looks up one basin by id.
func (ix *Index) Basin(id int64) (model.Basin, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return model.Basin{}, false
	}
	return ix.basins[i], true
}

// UpstreamOf returns the ids whose NextDown is id, sorted.
func (ix *Index) UpstreamOf(id int64) []int64 {
	return ix.upstreamOf[id]
}

// SeedBasins returns the sorted ids of basins containing pt, boundary
// inclusive. A point on a shared edge yields every adjacent basin.
func (ix *Index) SeedBasins(pt model.Point) []int64 {
	var ids []int64
	for id, i := range ix.byID {
		if !ix.bounds[i].ContainsPoint(pt) {
			continue
		}
		if ContainsPoint(ix.basins[i].Geometry, pt) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Resolve expands upstream from the basins containing seed for at most
// maxIterations rounds. A basin is added to the frontier once, so cyclic
// data also terminates.
func (ix *Index) Resolve(ctx context.Context, seed model.Point, maxIterations int) (*model.UpstreamSet, error) {
	seeds := ix.SeedBasins(seed)
	set := &model.UpstreamSet{
		Seed:       seed,
		SeedBasins: seeds,
		Members:    []int64{},
	}
	if len(seeds) == 0 {
		set.SeedBasins = []int64{}
		return set, nil
	}

	visited := make(map[int64]struct{}, len(seeds))
	for _, id := range seeds {
		visited[id] = struct{}{}
	}

	frontier := seeds
	for set.Iterations < maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "hydro: resolve upstream")
		}
		next := ix.expand(frontier, visited)
		if len(next) == 0 {
			frontier = nil
			break
		}
		set.Iterations++
		frontier = next
	}
	set.Truncated = ix.hasUnvisitedUpstream(frontier, visited)

	set.Members = make([]int64, 0, len(visited))
	for id := range visited {
		set.Members = append(set.Members, id)
	}
	slices.Sort(set.Members)
	return set, nil
}

// expand returns the unvisited direct upstream neighbours of frontier and
// marks them visited.
func (ix *Index) expand(frontier []int64, visited map[int64]struct{}) []int64 {
	var next []int64
	for _, id := range frontier {
		for _, up := range ix.upstreamOf[id] {
			if _, seen := visited[up]; seen {
				continue
			}
			visited[up] = struct{}{}
			next = append(next, up)
		}
	}
	return next
}

func (ix *Index) hasUnvisitedUpstream(frontier []int64, visited map[int64]struct{}) bool {
	for _, id := range frontier {
		for _, up := range ix.upstreamOf[id] {
			if _, seen := visited[up]; !seen {
				return true
			}
		}
	}
	return false
}

// Select returns the basins for ids, all of which must be members. An empty
// ids slice selects every member. Results follow ascending id order.
func (ix *Index) Select(members, ids []int64) ([]model.Basin, error) {
	if len(ids) == 0 {
		ids = members
	} else {
		for _, id := range ids {
			if _, ok := slices.BinarySearch(members, id); !ok {
				return nil, model.NewOpError(model.ErrInvalidParameter, "select basins",
					eris.Errorf("basin %d is not part of the upstream catchment", id), "basin_id", id)
			}
		}
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	out := make([]model.Basin, 0, len(sorted))
	for _, id := range sorted {
		b, ok := ix.Basin(id)
		if !ok {
			return nil, model.NewOpError(model.ErrInvalidParameter, "select basins",
				eris.Errorf("basin %d not found in level dataset", id), "basin_id", id)
		}
		out = append(out, b)
	}
	return out, nil
}
