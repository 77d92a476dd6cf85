package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/model"
)

var (
	exportBatchID string
	exportOutPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a batch's cross-model analysis to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		analysis, err := st.GetBatchAnalysis(ctx, exportBatchID)
		if err != nil {
			return eris.Wrap(err, "load batch analysis")
		}

		file, err := buildAnalysisWorkbook(analysis)
		if err != nil {
			return err
		}
		if err := file.Save(exportOutPath); err != nil {
			return eris.Wrap(err, "write workbook")
		}

		zap.L().Info("analysis exported",
			zap.String("batch_id", exportBatchID),
			zap.String("file", exportOutPath),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportBatchID, "batch", "", "batch ID (required)")
	exportCmd.Flags().StringVar(&exportOutPath, "out", "geo-audit.xlsx", "output xlsx path")
	_ = exportCmd.MarkFlagRequired("batch")
	rootCmd.AddCommand(exportCmd)
}

// buildAnalysisWorkbook lays a CrossModelAnalysis out as a four-sheet
// workbook: summary, per-query comparison, entities, and action items.
func buildAnalysisWorkbook(a *model.CrossModelAnalysis) (*xlsx.File, error) {
	file := xlsx.NewFile()

	if err := addSummarySheet(file, a); err != nil {
		return nil, err
	}
	if err := addQuerySheet(file, a); err != nil {
		return nil, err
	}
	if err := addEntitySheet(file, a); err != nil {
		return nil, err
	}
	if err := addActionSheet(file, a); err != nil {
		return nil, err
	}
	return file, nil
}

func addSummarySheet(file *xlsx.File, a *model.CrossModelAnalysis) error {
	sheet, err := file.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "add summary sheet")
	}

	kv := func(key, value string) {
		row := sheet.AddRow()
		row.AddCell().Value = key
		row.AddCell().Value = value
	}

	kv("Batch", a.BatchID)
	kv("Property", a.PropertyName)
	kv("Analyzed at", a.AnalyzedAt.Format("2006-01-02 15:04 MST"))
	kv("Agreement rate", fmt.Sprintf("%.1f%%", a.AgreementRate))
	kv("Recommendation source", a.RecommendationSource)
	sheet.AddRow()

	header := sheet.AddRow()
	for _, h := range []string{"Metric", "OpenAI", "Claude", "Difference", "Higher"} {
		header.AddCell().Value = h
	}
	metric := func(name string, m model.MetricComparison) {
		row := sheet.AddRow()
		row.AddCell().Value = name
		row.AddCell().SetFloat(m.OpenAI)
		row.AddCell().SetFloat(m.Claude)
		row.AddCell().SetFloat(m.Difference)
		row.AddCell().Value = string(m.Higher)
	}
	metric("Overall score", a.ScoreComparison)
	metric("Visibility %", a.VisibilityComparison)
	sheet.AddRow()

	kv("Summary", a.Recommendations.Summary)
	kv("Model reliability", a.Recommendations.ModelReliability.Assessment)
	for _, insight := range a.Recommendations.KeyInsights {
		kv("Key insight", insight)
	}
	return nil
}

func addQuerySheet(file *xlsx.File, a *model.CrossModelAnalysis) error {
	sheet, err := file.AddSheet("Query Comparison")
	if err != nil {
		return eris.Wrap(err, "add query sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Query", "OpenAI present", "Claude present", "OpenAI rank", "Claude rank", "Presence agrees", "Rank agrees"} {
		header.AddCell().Value = h
	}

	rank := func(r *int) string {
		if r == nil {
			return ""
		}
		return fmt.Sprintf("%d", *r)
	}
	for _, qc := range a.QueryComparisons {
		row := sheet.AddRow()
		row.AddCell().Value = qc.QueryID
		row.AddCell().SetBool(qc.OpenAIPresence)
		row.AddCell().SetBool(qc.ClaudePresence)
		row.AddCell().Value = rank(qc.OpenAIRank)
		row.AddCell().Value = rank(qc.ClaudeRank)
		row.AddCell().SetBool(qc.PresenceAgreement)
		row.AddCell().SetBool(qc.RankAgreement)
	}
	return nil
}

func addEntitySheet(file *xlsx.File, a *model.CrossModelAnalysis) error {
	sheet, err := file.AddSheet("Entities")
	if err != nil {
		return eris.Wrap(err, "add entity sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Entity", "Seen by", "Query"} {
		header.AddCell().Value = h
	}
	for _, name := range a.ConsensusEntities {
		row := sheet.AddRow()
		row.AddCell().Value = name
		row.AddCell().Value = "both"
	}
	for _, e := range a.DivergentEntities.OpenAIOnly {
		row := sheet.AddRow()
		row.AddCell().Value = e.Name
		row.AddCell().Value = "openai"
		row.AddCell().Value = e.QueryID
	}
	for _, e := range a.DivergentEntities.ClaudeOnly {
		row := sheet.AddRow()
		row.AddCell().Value = e.Name
		row.AddCell().Value = "claude"
		row.AddCell().Value = e.QueryID
	}
	return nil
}

func addActionSheet(file *xlsx.File, a *model.CrossModelAnalysis) error {
	sheet, err := file.AddSheet("Action Items")
	if err != nil {
		return eris.Wrap(err, "add action sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Action", "Priority", "Effort", "Impact"} {
		header.AddCell().Value = h
	}
	for _, item := range a.Recommendations.ActionItems {
		row := sheet.AddRow()
		row.AddCell().Value = item.Action
		row.AddCell().Value = item.Priority
		row.AddCell().Value = item.Effort
		row.AddCell().Value = item.Impact
	}

	if len(a.Recommendations.DivergenceAnalysis.SignificantDifferences) > 0 {
		sheet.AddRow()
		row := sheet.AddRow()
		row.AddCell().Value = "Divergence"
		row.AddCell().Value = strings.Join(a.Recommendations.DivergenceAnalysis.SignificantDifferences, "; ")
	}
	return nil
}
