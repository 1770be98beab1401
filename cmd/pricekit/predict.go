package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rushteam/pricekit/inference"
)

func newPredictCmd(a *app) *cobra.Command {
	var (
		family   string
		features []string
		input    string
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict a price with the latest model of a family",
		Long: `Predict a price with the latest run of the chosen model family.

Features come from a JSON object file (--input) and/or repeated --feature name=value
flags; flags override the file.

Examples:
  pricekit predict --family OLS \
    --feature company_rating=90 --feature crew=10 --feature d_check_complete=true \
    --feature engines=2 --feature iata_approved=false --feature moon_clearance_complete=true \
    --feature passenger_capacity=100 --feature review_scores_rating=80

  pricekit predict -f rf --input listing.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readFeatures(input, features)
			if err != nil {
				return err
			}

			rt, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			outcome := rt.Service.PredictByName(cmd.Context(), family, raw)
			if err := inference.Render(cmd.OutOrStdout(), outcome); err != nil {
				return err
			}
			if !outcome.Succeeded() {
				return errPredictionFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&family, "family", "f", "", "model family (OLS, Ridge, Lasso, RandomForest)")
	cmd.Flags().StringArrayVar(&features, "feature", nil, "feature value as name=value (repeatable)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON file with a feature object")
	_ = cmd.MarkFlagRequired("family")
	return cmd
}

// readFeatures 合并 JSON 文件与 name=value 参数，参数中的值覆盖文件
func readFeatures(path string, pairs []string) (map[string]any, error) {
	raw := make(map[string]any)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse input %s: %w", path, err)
		}
	}
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --feature %q, expected name=value", p)
		}
		raw[name] = strings.TrimSpace(value)
	}
	return raw, nil
}
