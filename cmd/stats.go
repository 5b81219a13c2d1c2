package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catchment-cli/internal/catchment"
	"github.com/sells-group/catchment-cli/internal/model"
	"github.com/sells-group/catchment-cli/internal/report"
)

var (
	statsFlags     seedFlags
	statsBasins    []int64
	statsStart     int
	statsEnd       int
	statsThreshold int
	statsXLSX      string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Compute forest-change statistics for an upstream catchment",
	Long: "Resolves the upstream catchment of --lon/--lat and reports the area of each " +
		"forest-change category per basin. Years are offsets from 2000 (0-20).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := checkFormat(statsFlags.format); err != nil {
			return err
		}
		if err := cfg.Validate("stats"); err != nil {
			return err
		}

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		seed := model.Point{Lon: statsFlags.lon, Lat: statsFlags.lat}
		set, err := env.Service.ResolveUpstream(ctx, seed, statsFlags.resolvedLevel())
		if err != nil {
			return eris.Wrap(err, "stats: resolve upstream")
		}
		if set.Truncated {
			zap.L().Warn("upstream expansion hit the iteration limit; catchment may be incomplete",
				zap.Int("iterations", set.Iterations))
		}

		req := catchment.StatisticsRequest{
			Upstream:  set,
			BasinIDs:  statsBasins,
			StartYear: flagOr(cmd, "start-year", statsStart, cfg.Analysis.DefaultStartYear),
			EndYear:   flagOr(cmd, "end-year", statsEnd, cfg.Analysis.DefaultEndYear),
			Threshold: flagOr(cmd, "threshold", statsThreshold, cfg.Analysis.DefaultThreshold),
		}
		res, err := env.Service.ComputeStatistics(ctx, req)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		rep := report.New(res.Rows)
		if statsXLSX != "" {
			if err := rep.WriteXLSX(statsXLSX); err != nil {
				return err
			}
			zap.L().Info("wrote workbook", zap.String("path", statsXLSX))
		}
		return writeStats(os.Stdout, res, rep, statsFlags.format)
	},
}

// flagOr returns the flag value when the user set it, else def.
func flagOr(cmd *cobra.Command, name string, v, def int) int {
	if cmd.Flags().Changed(name) {
		return v
	}
	return def
}

type statsOutput struct {
	catchment.StatisticsResult `yaml:",inline"`
	Summary                    report.Summary `json:"summary" yaml:"summary"`
}

func writeStats(w io.Writer, res *catchment.StatisticsResult, rep *report.Report, format string) error {
	switch format {
	case "json":
		return report.WriteJSON(w, statsOutput{StatisticsResult: *res, Summary: rep.Summary()})
	case "yaml":
		return report.WriteYAML(w, statsOutput{StatisticsResult: *res, Summary: rep.Summary()})
	}
	if res.RunID != "" {
		fmt.Fprintf(w, "Run:     %s\n", res.RunID)
	}
	fmt.Fprintf(w, "Level:   %d\n", res.Level)
	fmt.Fprintf(w, "Basins:  %d\n", len(res.BasinIDs))
	fmt.Fprintf(w, "Years:   %d-%d\n", model.BaseYear+res.Params.StartYear, model.BaseYear+res.Params.EndYear)
	fmt.Fprintf(w, "Cover:   > %d%%\n", res.Params.Threshold)
	fmt.Fprintf(w, "Elapsed: %s\n\n", res.Duration.Round(time.Millisecond))
	return rep.WriteTable(w)
}

func init() {
	statsFlags.register(statsCmd)
	statsCmd.Flags().Int64SliceVar(&statsBasins, "basin", nil, "restrict to these basin ids (default all upstream basins)")
	statsCmd.Flags().IntVar(&statsStart, "start-year", 0, "first loss year offset (default from config)")
	statsCmd.Flags().IntVar(&statsEnd, "end-year", 0, "last loss year offset (default from config)")
	statsCmd.Flags().IntVar(&statsThreshold, "threshold", 0, "tree cover threshold in percent (default from config)")
	statsCmd.Flags().StringVar(&statsXLSX, "xlsx", "", "also write the report to this .xlsx path")
	rootCmd.AddCommand(statsCmd)
}
