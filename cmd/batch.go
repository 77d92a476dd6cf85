package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/analyzer"
	"github.com/propsignal/geo-audit/internal/audit"
)

var (
	batchPropertyID string
	batchAnalyze    bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Audit one property against both model surfaces",
	Long:  "Creates one openai run and one claude run under a shared batch ID and executes them concurrently. With --analyze the cross-model analysis follows immediately.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("audit"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		orch := initOrchestrator(st)
		runner := audit.NewBatchRunner(st, orch)

		result, err := runner.Execute(ctx, batchPropertyID)
		if err != nil {
			// The batch result still names the runs that did complete.
			zap.L().Warn("batch finished with failures", zap.Error(err))
		}
		if result == nil {
			return eris.Wrap(err, "execute batch")
		}

		zap.L().Info("batch complete",
			zap.String("batch_id", result.BatchID),
			zap.Int("runs", len(result.RunIDs)),
		)

		out := struct {
			Batch    *audit.BatchResult `json:"batch"`
			Analysis *analyzer.Result   `json:"analysis,omitempty"`
		}{Batch: result}

		if batchAnalyze {
			res := initAnalyzer(st).AnalyzeBatch(ctx, result.BatchID)
			out.Analysis = &res
			if !res.Success {
				zap.L().Warn("cross-model analysis skipped", zap.String("reason", res.Error))
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchPropertyID, "property", "", "property ID (required)")
	batchCmd.Flags().BoolVar(&batchAnalyze, "analyze", false, "run cross-model analysis after the batch")
	_ = batchCmd.MarkFlagRequired("property")
	rootCmd.AddCommand(batchCmd)
}
