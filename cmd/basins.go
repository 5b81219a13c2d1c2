package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/cache"
	"github.com/sells-group/catchment-cli/internal/catchment"
	"github.com/sells-group/catchment-cli/internal/hydro"
	"github.com/sells-group/catchment-cli/internal/model"
)

var basinsCmd = &cobra.Command{
	Use:   "basins",
	Short: "Manage basin datasets",
	Long:  "Download, load, inspect and verify the hierarchical basin datasets stored in PostGIS.",
}

// -- basins migrate --

var basinsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the basin schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, closeFn, err := openBasinStore(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "basins migrate")
		}
		zap.L().Info("basin migrations applied")
		return nil
	},
}

// -- basins load --

var (
	loadLevels  []int
	loadRegions []string
	loadDryRun  bool
)

var basinsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Download basin shapefiles and replace the stored levels",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, closeFn, err := openBasinStore(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "basins load: migrate")
		}

		regions := loadRegions
		if len(regions) == 0 {
			regions = cfg.Basins.Regions
		}

		invalidate, closeCache, err := upstreamInvalidator(ctx)
		if err != nil {
			return err
		}
		defer closeCache()

		results, err := hydro.Load(ctx, st, hydro.LoadOptions{
			Levels:      loadLevels,
			Regions:     regions,
			SourceURL:   cfg.Basins.SourceURL,
			TempDir:     cfg.Basins.TempDir,
			Concurrency: cfg.Basins.Concurrency,
			DryRun:      loadDryRun,
			OnLoaded:    invalidate,
		})
		formatLoadResults(os.Stdout, results)
		if err != nil {
			return eris.Wrap(err, "basins load")
		}
		return nil
	},
}

// upstreamInvalidator drops cached upstream sets of a reloaded level from
// the shared Redis cache. In-process caches belong to running servers and
// expire on their own TTL.
func upstreamInvalidator(ctx context.Context) (func(level int), func(), error) {
	if cfg.Cache.RedisURL == "" {
		return nil, func() {}, nil
	}
	r, err := cache.OpenRedis(ctx, cfg.Cache.RedisURL, "catchment")
	if err != nil {
		return nil, nil, err
	}
	return func(level int) {
		n, err := r.DeletePrefix(ctx, catchment.UpstreamPrefix(level))
		if err != nil {
			zap.L().Warn("invalidate upstream cache", zap.Int("level", level), zap.Error(err))
			return
		}
		zap.L().Info("invalidated upstream cache", zap.Int("level", level), zap.Int("entries", n))
	}, func() { _ = r.Close() }, nil
}

func formatLoadResults(out io.Writer, results []hydro.LevelResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LEVEL\tREGIONS\tBASINS\tWRITTEN\tDURATION")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n", r.Level, r.Regions, r.Basins, r.Written, r.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()
}

// -- basins status --

var basinsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored basin counts per level",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, closeFn, err := openBasinStore(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		levels, err := st.Levels(ctx)
		if err != nil {
			return eris.Wrap(err, "basins status")
		}
		formatLevelStatus(os.Stdout, levels)
		return nil
	},
}

func formatLevelStatus(out io.Writer, levels []hydro.LevelStatus) {
	loaded := make(map[int]hydro.LevelStatus, len(levels))
	for _, ls := range levels {
		loaded[ls.Level] = ls
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LEVEL\tBASINS\tLOADED")
	for _, level := range model.SupportedLevels() {
		ls, ok := loaded[level]
		switch {
		case !ok:
			_, _ = fmt.Fprintf(w, "%d\t0\tnever\n", level)
		case ls.LoadedAt == nil:
			_, _ = fmt.Fprintf(w, "%d\t%d\tunknown\n", level, ls.Basins)
		default:
			_, _ = fmt.Fprintf(w, "%d\t%d\t%s\n", level, ls.Basins, ls.LoadedAt.Format("2006-01-02 15:04"))
		}
	}
	_ = w.Flush()
}

// -- basins verify --

var verifyLevels []int

var basinsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check stored levels for duplicate ids, dangling links and cycles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, closeFn, err := openBasinStore(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		levels := verifyLevels
		if len(levels) == 0 {
			levels = model.SupportedLevels()
		}

		var reports []hydro.Report
		for _, level := range levels {
			if err := model.ValidateLevel(level); err != nil {
				return err
			}
			basins, err := st.Basins(ctx, level)
			if err != nil {
				return eris.Wrapf(err, "basins verify: level %d", level)
			}
			reports = append(reports, hydro.Verify(level, basins))
		}

		if !formatVerifyReports(os.Stdout, reports) {
			return eris.New("basins verify: problems found")
		}
		return nil
	},
}

// formatVerifyReports prints one line per level and reports whether every
// level passed.
func formatVerifyReports(out io.Writer, reports []hydro.Report) bool {
	ok := true
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LEVEL\tBASINS\tOUTLETS\tDUPLICATES\tDANGLING\tCYCLIC\tNO_GEOM\tSTATUS")
	for _, r := range reports {
		status := "ok"
		if !r.OK() {
			status = "FAIL"
			ok = false
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Level, r.Basins, r.Outlets, len(r.DuplicateIDs), len(r.Dangling), len(r.InCycles), len(r.NoGeometry), status)
	}
	_ = w.Flush()
	return ok
}

func openBasinStore(ctx context.Context) (*hydro.PostgresStore, func(), error) {
	if err := cfg.Validate("basins"); err != nil {
		return nil, nil, err
	}
	pool, err := initPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	return hydro.NewPostgresStore(pool), pool.Close, nil
}

func init() {
	basinsLoadCmd.Flags().IntSliceVar(&loadLevels, "level", nil, "levels to load (default all supported levels)")
	basinsLoadCmd.Flags().StringSliceVar(&loadRegions, "region", nil, "region codes to download (default from config)")
	basinsLoadCmd.Flags().BoolVar(&loadDryRun, "dry-run", false, "download and parse without writing")

	basinsVerifyCmd.Flags().IntSliceVar(&verifyLevels, "level", nil, "levels to verify (default all supported levels)")

	basinsCmd.AddCommand(basinsMigrateCmd)
	basinsCmd.AddCommand(basinsLoadCmd)
	basinsCmd.AddCommand(basinsStatusCmd)
	basinsCmd.AddCommand(basinsVerifyCmd)
	rootCmd.AddCommand(basinsCmd)
}
