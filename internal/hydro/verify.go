package hydro

import (
	"slices"

	"github.com/sells-group/catchment-cli/internal/model"
)

// Report summarizes structural checks over one level's dataset.
type Report struct {
	Level        int     `json:"level" yaml:"level"`
	Basins       int     `json:"basins" yaml:"basins"`
	Outlets      int     `json:"outlets" yaml:"outlets"`
	DuplicateIDs []int64 `json:"duplicate_ids,omitempty" yaml:"duplicate_ids,omitempty"`
	Dangling     []int64 `json:"dangling,omitempty" yaml:"dangling,omitempty"` // basins whose next_down is missing
	InCycles     []int64 `json:"in_cycles,omitempty" yaml:"in_cycles,omitempty"`
	NoGeometry   []int64 `json:"no_geometry,omitempty" yaml:"no_geometry,omitempty"`
}

// OK reports whether the dataset forms a well-formed drainage forest.
func (r Report) OK() bool {
	return len(r.DuplicateIDs) == 0 && len(r.Dangling) == 0 &&
		len(r.InCycles) == 0 && len(r.NoGeometry) == 0
}

// Verify checks that ids are unique, next_down references resolve, and the
// next_down relation has no cycles.
func Verify(level int, basins []model.Basin) Report {
	r := Report{Level: level, Basins: len(basins)}

	next := make(map[int64]int64, len(basins))
	for _, b := range basins {
		if _, dup := next[b.ID]; dup {
			r.DuplicateIDs = append(r.DuplicateIDs, b.ID)
			continue
		}
		next[b.ID] = b.NextDown
		if b.IsOutlet() {
			r.Outlets++
		}
		if b.Geometry == nil || b.Geometry.Empty() {
			r.NoGeometry = append(r.NoGeometry, b.ID)
		}
	}

	for id, down := range next {
		if down == model.OutletID {
			continue
		}
		if _, ok := next[down]; !ok {
			r.Dangling = append(r.Dangling, id)
		}
	}

	// Walk each downstream chain once. state: 1 = on current path, 2 = done.
	state := make(map[int64]uint8, len(next))
	for start := range next {
		if state[start] != 0 {
			continue
		}
		var path []int64
		id := start
		for {
			if st := state[id]; st == 2 {
				break
			} else if st == 1 {
				i := slices.Index(path, id)
				r.InCycles = append(r.InCycles, path[i:]...)
				break
			}
			down, ok := next[id]
			if !ok {
				break
			}
			state[id] = 1
			path = append(path, id)
			if down == model.OutletID {
				break
			}
			id = down
		}
		for _, p := range path {
			state[p] = 2
		}
	}

	slices.Sort(r.DuplicateIDs)
	slices.Sort(r.Dangling)
	slices.Sort(r.InCycles)
	slices.Sort(r.NoGeometry)
	return r
}
