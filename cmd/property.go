package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/propsignal/geo-audit/internal/model"
)

var propertyCmd = &cobra.Command{
	Use:   "property",
	Short: "Manage audited properties",
}

var (
	propName        string
	propCity        string
	propState       string
	propAddress     string
	propWebsite     string
	propDomains     []string
	propCompetitors []string
)

var propertyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a property and its brand domains",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		p := &model.Property{
			Name:       propName,
			City:       propCity,
			State:      propState,
			Address:    propAddress,
			WebsiteURL: propWebsite,
		}
		if err := st.CreateProperty(ctx, p); err != nil {
			return eris.Wrap(err, "create property")
		}

		if len(propDomains) > 0 || len(propCompetitors) > 0 {
			err := st.SavePropertyConfig(ctx, &model.PropertyConfig{
				PropertyID:        p.ID,
				Domains:           propDomains,
				CompetitorDomains: propCompetitors,
			})
			if err != nil {
				return eris.Wrap(err, "save property config")
			}
		}

		zap.L().Info("property created",
			zap.String("property_id", p.ID),
			zap.String("name", p.Name),
			zap.Int("domains", len(propDomains)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

func init() {
	propertyCreateCmd.Flags().StringVar(&propName, "name", "", "property name (required)")
	propertyCreateCmd.Flags().StringVar(&propCity, "city", "", "city")
	propertyCreateCmd.Flags().StringVar(&propState, "state", "", "state")
	propertyCreateCmd.Flags().StringVar(&propAddress, "address", "", "street address")
	propertyCreateCmd.Flags().StringVar(&propWebsite, "website", "", "property website URL")
	propertyCreateCmd.Flags().StringSliceVar(&propDomains, "domains", nil, "brand domains (comma separated)")
	propertyCreateCmd.Flags().StringSliceVar(&propCompetitors, "competitors", nil, "competitor domains (comma separated)")
	_ = propertyCreateCmd.MarkFlagRequired("name")

	propertyCmd.AddCommand(propertyCreateCmd)
	rootCmd.AddCommand(propertyCmd)
}
