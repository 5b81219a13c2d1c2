package hydro

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catchment-cli/internal/model"
)

// LevelWriter replaces the stored dataset of one level.
type LevelWriter interface {
	ReplaceLevel(ctx context.Context, level int, basins []model.Basin) (int64, error)
}

// LoadOptions configures a basin dataset load.
type LoadOptions struct {
	Levels      []int    // hierarchy levels; empty = all supported
	Regions     []string // region codes substituted into SourceURL
	SourceURL   string   // URL template with {region} and {level}
	TempDir     string   // download directory (default os temp + "/hydrobasins")
	Concurrency int      // parallel region downloads (default 3)
	DryRun      bool     // download and parse without writing

	// OnLoaded is called after a level has been replaced, so dependent
	// caches can be invalidated.
	OnLoaded func(level int)
}

// LevelResult summarizes one loaded level.
type LevelResult struct {
	Level    int
	Regions  int
	Basins   int
	Written  int64
	Duration time.Duration
}

// SourceURLFor expands the {region} and {level} placeholders.
func SourceURLFor(tmpl, region string, level int) string {
	r := strings.NewReplacer("{region}", region, "{level}", fmt.Sprintf("%02d", level))
	return r.Replace(tmpl)
}

// Load downloads every region of each level, parses the shapefiles and
// replaces the stored level in one transaction. Levels are loaded one at a
// time; the regions of a level are fetched in parallel.
func Load(ctx context.Context, w LevelWriter, opts LoadOptions) ([]LevelResult, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "hydrobasins")
	}
	if opts.SourceURL == "" {
		return nil, eris.New("hydro: source url is required")
	}
	if len(opts.Regions) == 0 {
		return nil, eris.New("hydro: at least one region is required")
	}

	levels := opts.Levels
	if len(levels) == 0 {
		levels = model.SupportedLevels()
	}
	for _, level := range levels {
		if err := model.ValidateLevel(level); err != nil {
			return nil, err
		}
	}

	results := make([]LevelResult, 0, len(levels))
	for _, level := range levels {
		res, err := loadLevel(ctx, w, level, opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func loadLevel(ctx context.Context, w LevelWriter, level int, opts LoadOptions) (LevelResult, error) {
	log := zap.L().With(
		zap.String("component", "hydro.loader"),
		zap.Int("level", level),
	)
	start := time.Now()

	var mu sync.Mutex
	var basins []model.Basin

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, region := range opts.Regions {
		g.Go(func() error {
			url := SourceURLFor(opts.SourceURL, region, level)
			dest := filepath.Join(opts.TempDir, region, "lev"+strconv.Itoa(level))
			shpPath, err := Download(gCtx, url, dest)
			if err != nil {
				return eris.Wrapf(err, "hydro: download region %s level %d", region, level)
			}
			parsed, err := ParseShapefile(shpPath, level)
			if err != nil {
				return eris.Wrapf(err, "hydro: parse region %s level %d", region, level)
			}
			log.Info("region parsed", zap.String("region", region), zap.Int("basins", len(parsed)))

			mu.Lock()
			basins = append(basins, parsed...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return LevelResult{}, err
	}

	res := LevelResult{Level: level, Regions: len(opts.Regions), Basins: len(basins)}
	if opts.DryRun {
		log.Info("dry run, skipping load", zap.Int("basins", len(basins)))
		res.Duration = time.Since(start)
		return res, nil
	}

	written, err := w.ReplaceLevel(ctx, level, basins)
	if err != nil {
		return res, eris.Wrapf(err, "hydro: replace level %d", level)
	}
	res.Written = written
	res.Duration = time.Since(start)

	if opts.OnLoaded != nil {
		opts.OnLoaded(level)
	}

	log.Info("level loaded",
		zap.Int64("rows", written),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}
