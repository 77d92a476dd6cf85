package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var analyzeBatchID string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Reconcile the openai and claude runs of a batch",
	Long:  "Compares the two finished runs of a batch query by query, measures agreement, and synthesizes recommendations. Never fails the command; missing preconditions surface in the result payload.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		res := initAnalyzer(st).AnalyzeBatch(ctx, analyzeBatchID)
		if res.Success {
			zap.L().Info("cross-model analysis complete",
				zap.String("batch_id", analyzeBatchID),
				zap.Float64("agreement_rate", res.Analysis.AgreementRate),
				zap.String("recommendation_source", res.Analysis.RecommendationSource),
			)
		} else {
			zap.L().Warn("cross-model analysis not produced",
				zap.String("batch_id", analyzeBatchID),
				zap.String("reason", res.Error),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeBatchID, "batch", "", "batch ID (required)")
	_ = analyzeCmd.MarkFlagRequired("batch")
	rootCmd.AddCommand(analyzeCmd)
}
