package cmd

import (
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/nutrimind/mealrag/internal/corpus"
	"github.com/nutrimind/mealrag/internal/output"
	"github.com/nutrimind/mealrag/internal/search"
)

type mealsOptions struct {
	maxCalories float64
	minProtein  float64
	count       int
	seed        int64
	jsonOutput  bool
}

func newMealsCmd() *cobra.Command {
	var opts mealsOptions

	cmd := &cobra.Command{
		Use:   "meals",
		Short: "Suggest random meals within nutrition limits",
		Long: `Pick meals at random from those meeting the nutrition limits.

A meal without the constrained value never matches that limit.

Examples:
  mealrag meals --max-calories 500
  mealrag meals --min-protein 30 -n 5
  mealrag meals --max-calories 600 --min-protein 25 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			c, err := corpus.Load(cmd.Context(), resolvePath(cfg.Corpus.Path))
			if err != nil {
				return err
			}

			matches := corpus.FilterByNutrition(c.Records(), corpus.Constraints{
				MaxCalories: opts.maxCalories,
				MinProtein:  opts.minProtein,
			})

			seed := opts.seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			picked := corpus.SampleMeals(matches, opts.count, rand.New(rand.NewSource(seed)))

			out := output.New(cmd.OutOrStdout())
			results := search.FormatRecords(picked)
			if opts.jsonOutput {
				if results == nil {
					results = []string{}
				}
				return out.JSON(results)
			}
			out.Results(results)
			return nil
		},
	}

	cmd.Flags().Float64Var(&opts.maxCalories, "max-calories", 0, "Maximum calories (0 = no limit)")
	cmd.Flags().Float64Var(&opts.minProtein, "min-protein", 0, "Minimum protein (0 = no limit)")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 3, "Number of meals to suggest")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed for repeatable picks (0 = random)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}
