package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geo-audit",
	Short: "Generative engine visibility audits for apartment properties",
	Long:  "Runs the same audit queries against OpenAI and Claude, scores how prominently a property appears in each answer, and reconciles where the two models disagree.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
