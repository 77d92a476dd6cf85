package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/propsignal/geo-audit/internal/model"
)

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Manage the audit questions of a property",
}

// queryFile is the YAML shape accepted by `queries import`.
type queryFile struct {
	Queries []queryEntry `yaml:"queries"`
}

type queryEntry struct {
	ID     string `yaml:"id"`
	Text   string `yaml:"text"`
	Active *bool  `yaml:"active"`
}

// parseQueryFile decodes the YAML and normalizes entries: missing IDs get
// fresh UUIDs, missing active flags default to true, empty text is an error.
func parseQueryFile(data []byte, propertyID string) ([]model.Query, error) {
	var qf queryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, eris.Wrap(err, "parse query file")
	}
	if len(qf.Queries) == 0 {
		return nil, eris.New("query file has no queries")
	}

	out := make([]model.Query, 0, len(qf.Queries))
	for i, e := range qf.Queries {
		if e.Text == "" {
			return nil, eris.Errorf("query %d has no text", i+1)
		}
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		out = append(out, model.Query{
			ID:         id,
			PropertyID: propertyID,
			Text:       e.Text,
			IsActive:   active,
		})
	}
	return out, nil
}

var (
	queriesPropertyID string
	queriesYAMLPath   string
)

var queriesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import audit queries from a YAML file",
	Long:  "Upserts queries by ID, so re-importing an edited file updates text and active flags in place.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(queriesYAMLPath)
		if err != nil {
			return eris.Wrap(err, "read query file")
		}
		queries, err := parseQueryFile(data, queriesPropertyID)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ImportQueries(ctx, queries)
		if err != nil {
			return eris.Wrap(err, "import queries")
		}

		zap.L().Info("queries imported",
			zap.String("property_id", queriesPropertyID),
			zap.Int64("imported", n),
			zap.String("file", queriesYAMLPath),
		)
		return nil
	},
}

var queriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active queries of a property",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		queries, err := st.ListActiveQueries(ctx, queriesPropertyID)
		if err != nil {
			return eris.Wrap(err, "list queries")
		}
		if len(queries) == 0 {
			fmt.Fprintln(os.Stderr, "No active queries.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tTEXT")
		for _, q := range queries {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", truncateID(q.ID), q.Text)
		}
		return w.Flush()
	},
}

func init() {
	queriesImportCmd.Flags().StringVar(&queriesPropertyID, "property", "", "property ID (required)")
	queriesImportCmd.Flags().StringVar(&queriesYAMLPath, "file", "", "path to YAML query file (required)")
	_ = queriesImportCmd.MarkFlagRequired("property")
	_ = queriesImportCmd.MarkFlagRequired("file")

	queriesListCmd.Flags().StringVar(&queriesPropertyID, "property", "", "property ID (required)")
	_ = queriesListCmd.MarkFlagRequired("property")

	queriesCmd.AddCommand(queriesImportCmd)
	queriesCmd.AddCommand(queriesListCmd)
	rootCmd.AddCommand(queriesCmd)
}
