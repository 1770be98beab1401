package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rushteam/pricekit/feature"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [feature...]",
		Short: "List the input features in model column order",
		Long: `List the input features the models expect, in column order, with their
display label, kind and accepted values. Pass feature names to show only those.

Examples:
  pricekit schema
  pricekit schema crew company_rating`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			schema := rt.Service.Schema()
			fields := schema.Fields()
			if len(args) > 0 {
				fields = make([]feature.Field, 0, len(args))
				for _, name := range args {
					f, ok := schema.Field(name)
					if !ok {
						return fmt.Errorf("unknown feature %q (features: %v)", name, schema.Names())
					}
					fields = append(fields, f)
				}
			}
			for _, f := range fields {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
					f.Name, f.Label(), f.Kind, acceptedValues(f.Kind)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func acceptedValues(kind feature.Kind) string {
	switch kind {
	case feature.KindBoolean:
		return "true/false"
	case feature.KindBoundedNumeric:
		return fmt.Sprintf("%g..%g", float64(feature.BoundedMin), float64(feature.BoundedMax))
	case feature.KindNonNegativeNumeric:
		return ">= 0"
	}
	return ""
}
