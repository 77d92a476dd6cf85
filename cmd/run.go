package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/model"
)

var (
	runPropertyID string
	runSurface    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Audit one property against one model surface",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("audit"); err != nil {
			return err
		}

		surface := model.Surface(runSurface)
		if surface != model.SurfaceOpenAI && surface != model.SurfaceClaude {
			return eris.Errorf("surface must be openai or claude, got %q", runSurface)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.CreateRun(ctx, runPropertyID, surface, "")
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		orch := initOrchestrator(st)
		if err := orch.ExecuteRun(ctx, run.ID); err != nil {
			return eris.Wrap(err, "execute run")
		}

		final, err := st.GetRun(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "load run")
		}
		agg, err := st.GetRunScore(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "load run score")
		}

		zap.L().Info("audit run complete",
			zap.String("run_id", final.ID),
			zap.String("surface", string(final.Surface)),
			zap.Float64("overall_score", agg.OverallScore),
			zap.Float64("visibility_pct", agg.VisibilityPct),
		)

		out := struct {
			Run   *model.Run          `json:"run"`
			Score *model.RunAggregate `json:"score"`
		}{final, agg}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	runCmd.Flags().StringVar(&runPropertyID, "property", "", "property ID (required)")
	runCmd.Flags().StringVar(&runSurface, "surface", "openai", "model surface to audit (openai or claude)")
	_ = runCmd.MarkFlagRequired("property")
	rootCmd.AddCommand(runCmd)
}
