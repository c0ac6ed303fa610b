package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lukavetter/vatlens/internal/cli"
	"github.com/lukavetter/vatlens/internal/model"
)

func batchCmd() *cobra.Command {
	var hintFlag string

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Process every supported document in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hint, err := parseHint(hintFlag)
			if err != nil {
				return err
			}

			files, err := collectDocuments(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No supported documents found."))
				return nil
			}

			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng, err := buildEngine(store)
			if err != nil {
				return err
			}

			bar := progressbar.NewOptions(len(files),
				progressbar.OptionSetDescription("Processing documents"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)

			summary := batchSummary{}
			for _, path := range files {
				if err := ctx.Err(); err != nil {
					return err
				}
				result, err := runOne(ctx, eng, path, hint)
				summary.record(path, result, err)
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			fmt.Println(summary.render())
			if summary.failed > 0 {
				return fmt.Errorf("%d of %d documents failed", summary.failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hintFlag, "hint", "", "category hint applied to every document")

	return cmd
}

// collectDocuments lists supported files directly under dir, sorted by name.
func collectDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := mediaTypes[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func runOne(ctx context.Context, eng processor, path string, hint model.CategoryHint) (*model.CategorizedResult, error) {
	mediaType, err := detectMediaType(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return eng.Process(ctx, model.ExtractionRequest{
		Document:  data,
		MediaType: mediaType,
		Filename:  path,
		Hint:      hint,
	})
}

type processor interface {
	Process(ctx context.Context, req model.ExtractionRequest) (*model.CategorizedResult, error)
}

type batchSummary struct {
	sales     float64
	purchases float64
	processed int
	flagged   int
	failed    int
	failures  []string
}

func (s *batchSummary) record(path string, result *model.CategorizedResult, err error) {
	if err != nil {
		s.failed++
		reason := err.Error()
		var failure *model.TerminalFailure
		if errors.As(err, &failure) {
			reason = failure.Reason
		}
		s.failures = append(s.failures, fmt.Sprintf("%s: %s", path, reason))
		return
	}

	s.processed++
	if len(result.Flags) > 0 {
		s.flagged++
	}
	s.sales += sum(result.SalesAmounts)
	s.purchases += sum(result.PurchaseAmounts)
}

func sum(amounts []float64) float64 {
	total := 0.0
	for _, amount := range amounts {
		total += amount
	}
	return total
}

func (s *batchSummary) render() string {
	var b strings.Builder

	b.WriteString(cli.TitleStyle.Render("Batch summary") + "\n")
	b.WriteString(cli.Field("Processed", s.processed) + "\n")
	b.WriteString(cli.Field("Flagged", s.flagged) + "\n")
	b.WriteString(cli.Field("Failed", s.failed) + "\n")
	b.WriteString(cli.Field("Sales VAT", fmt.Sprintf("%.2f", s.sales)) + "\n")
	b.WriteString(cli.Field("Purchase VAT", fmt.Sprintf("%.2f", s.purchases)))

	for _, failure := range s.failures {
		b.WriteString("\n" + cli.ErrorStyle.Render("  "+failure))
	}

	return cli.BoxStyle.Render(b.String())
}
