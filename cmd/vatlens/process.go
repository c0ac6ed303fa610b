package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lukavetter/vatlens/internal/cli"
	"github.com/lukavetter/vatlens/internal/model"
)

func processCmd() *cobra.Command {
	var (
		hintFlag  string
		mediaFlag string
	)

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Extract and categorize a single document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hint, err := parseHint(hintFlag)
			if err != nil {
				return err
			}

			path := args[0]
			mediaType := mediaFlag
			if mediaType == "" {
				if mediaType, err = detectMediaType(path); err != nil {
					return err
				}
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
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

			result, err := eng.Process(ctx, model.ExtractionRequest{
				Document:  data,
				MediaType: mediaType,
				Filename:  path,
				Hint:      hint,
			})
			if err != nil {
				var failure *model.TerminalFailure
				if errors.As(err, &failure) {
					fmt.Println(renderFailure(failure))
					return fmt.Errorf("extraction failed: %s", failure.Reason)
				}
				return err
			}

			fmt.Println(renderResult(path, result))
			return nil
		},
	}

	cmd.Flags().StringVar(&hintFlag, "hint", "", "category hint (sales, purchases)")
	cmd.Flags().StringVar(&mediaFlag, "media-type", "", "override media type detection")

	return cmd
}

// renderResult formats one categorized result as a bordered summary box.
func renderResult(path string, result *model.CategorizedResult) string {
	var b strings.Builder

	b.WriteString(cli.TitleStyle.Render(path) + "\n")
	b.WriteString(cli.Field("Type", string(result.Extraction.DocType)) + "\n")
	if result.Extraction.BusinessName != "" {
		b.WriteString(cli.Field("Business", result.Extraction.BusinessName) + "\n")
	}
	if result.Extraction.Date != "" {
		b.WriteString(cli.Field("Date", result.Extraction.Date) + "\n")
	}
	b.WriteString(cli.Field("Class", string(result.Classification)) + "\n")
	b.WriteString(cli.Field("Sales", renderAmounts(result.SalesAmounts, result.Extraction.Currency)) + "\n")
	b.WriteString(cli.Field("Purchases", renderAmounts(result.PurchaseAmounts, result.Extraction.Currency)) + "\n")
	b.WriteString(cli.Field("Method", string(result.Method)) + "\n")
	if result.TemplateID != "" {
		b.WriteString(cli.Field("Template", result.TemplateID) + "\n")
	}

	confidence := fmt.Sprintf("%.0f%%", result.Confidence*100)
	b.WriteString(cli.Field("Confidence", cli.ConfidenceStyle(result.Confidence).Render(confidence)))

	if len(result.Flags) > 0 {
		flags := make([]string, len(result.Flags))
		for i, flag := range result.Flags {
			flags[i] = string(flag)
		}
		b.WriteString("\n" + cli.Field("Flags", cli.WarningStyle.Render(strings.Join(flags, ", "))))
	}
	if result.Reasoning != "" {
		b.WriteString("\n" + cli.SubtleStyle.Render(result.Reasoning))
	}

	return cli.BoxStyle.Render(b.String())
}

// renderFailure formats a terminal failure with its attempt history.
func renderFailure(failure *model.TerminalFailure) string {
	var b strings.Builder

	b.WriteString(cli.ErrorStyle.Render("Extraction failed: "+failure.Reason) + "\n")
	for i, attempt := range failure.Attempts {
		line := fmt.Sprintf("  %d. %s/%s → %s", i+1, attempt.Model, attempt.Method, attempt.Outcome)
		if attempt.Error != "" {
			line += ": " + attempt.Error
		}
		b.WriteString(cli.SubtleStyle.Render(line) + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderAmounts(amounts []float64, currency string) string {
	if len(amounts) == 0 {
		return "-"
	}
	parts := make([]string, len(amounts))
	for i, amount := range amounts {
		parts[i] = fmt.Sprintf("%.2f", amount)
	}
	joined := strings.Join(parts, ", ")
	if currency != "" {
		return joined + " " + currency
	}
	return joined
}
