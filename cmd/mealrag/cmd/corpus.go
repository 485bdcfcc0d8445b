package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nutrimind/mealrag/internal/corpus"
	merrors "github.com/nutrimind/mealrag/internal/errors"
	"github.com/nutrimind/mealrag/internal/output"
)

func newCorpusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Inspect or import the meal corpus",
	}

	cmd.AddCommand(newCorpusInfoCmd())
	cmd.AddCommand(newCorpusImportCmd())
	return cmd
}

// CorpusInfoOutput is the JSON output of `mealrag corpus info`.
type CorpusInfoOutput struct {
	Path     string         `json:"path"`
	Records  int            `json:"records"`
	Checksum string         `json:"checksum"`
	Coverage map[string]int `json:"coverage"`
}

func newCorpusInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show record count, checksum and nutrition coverage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			path := resolvePath(cfg.Corpus.Path)
			c, err := corpus.Load(cmd.Context(), path)
			if err != nil {
				return err
			}

			info := corpusInfo(path, c)
			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(info)
			}

			out.Statusf("📦", "Corpus: %s", info.Path)
			out.Statusf("", "Meals:    %d", info.Records)
			out.Statusf("", "Checksum: %s", info.Checksum)
			out.Newline()
			out.Status("", "Nutrition coverage:")
			for _, f := range corpus.Fields {
				out.Statusf("", "  %-14s %d/%d", f.Name, info.Coverage[f.Name], info.Records)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// corpusInfo counts how many records carry each nutrition field.
func corpusInfo(path string, c *corpus.Corpus) CorpusInfoOutput {
	info := CorpusInfoOutput{
		Path:     path,
		Records:  c.Len(),
		Checksum: c.Checksum(),
		Coverage: make(map[string]int, len(corpus.Fields)),
	}
	for _, r := range c.Records() {
		for _, f := range corpus.Fields {
			if _, ok := r.Nutrition.Value(f); ok {
				info.Coverage[f.Name]++
			}
		}
	}
	return info
}

func newCorpusImportCmd() *cobra.Command {
	var dest string
	var force bool

	cmd := &cobra.Command{
		Use:   "import <recipes.json>",
		Short: "Convert a recipes document into the corpus format",
		Long: `Convert a recipes.json document into a meal corpus.

Each recipe's name and description become the meal text and its
nutrition object becomes the metadata. The destination format follows
its extension: .json, .jsonl or .db.

Examples:
  mealrag corpus import recipes.json
  mealrag corpus import recipes.json --out local_db/meals.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpusImport(cmd.Context(), cmd, args[0], dest, force)
		},
	}

	cmd.Flags().StringVarP(&dest, "out", "o", "", "Destination corpus (default: corpus.path from config)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing corpus")
	return cmd
}

func runCorpusImport(ctx context.Context, cmd *cobra.Command, src, dest string, force bool) error {
	if dest == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dest = cfg.Corpus.Path
	}
	dest = resolvePath(dest)

	if fileExists(dest) && !force {
		return merrors.ValidationError(fmt.Sprintf("%s already exists", dest), nil).
			WithSuggestion("Pass --force to overwrite it")
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return merrors.CorpusLoadError("failed to read recipes", err)
	}
	records, err := corpus.ImportRecipes(data)
	if err != nil {
		return merrors.CorpusLoadError("failed to import recipes", err)
	}

	c := corpus.New(records)
	if err := corpus.Save(ctx, dest, c); err != nil {
		return fmt.Errorf("failed to write corpus: %w", err)
	}

	output.New(cmd.OutOrStdout()).Successf("Imported %d meals into %s", c.Len(), dest)
	return nil
}
