package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lukavetter/vatlens/internal/cli"
	"github.com/lukavetter/vatlens/internal/model"
)

func correctCmd() *cobra.Command {
	var (
		outcomeFlag    string
		docTypeFlag    string
		methodFlag     string
		templateFlag   string
		reasonFlag     string
		originalFlag   float64
		correctedFlag  float64
		confidenceFlag float64
	)

	cmd := &cobra.Command{
		Use:   "correct <request-id>",
		Short: "Submit a correction for a processed document",
		Long: `Submit feedback about an extraction so the learner can adjust its
calibration. An outcome of "correct" confirms the result; "incorrect"
rejects it; "partial" means the amounts were close but not exact, in which
case --original-total and --corrected-total quantify the miss.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := parseOutcome(outcomeFlag)
			if err != nil {
				return err
			}

			correction := model.Correction{
				RequestID:          args[0],
				DocType:            model.DocumentType(strings.ToUpper(docTypeFlag)),
				Method:             model.ExtractionMethod(strings.ToLower(methodFlag)),
				TemplateID:         templateFlag,
				Outcome:            outcome,
				Reason:             reasonFlag,
				OriginalConfidence: confidenceFlag,
			}
			if cmd.Flags().Changed("original-total") {
				correction.OriginalTotal = &originalFlag
			}
			if cmd.Flags().Changed("corrected-total") {
				correction.CorrectedTotal = &correctedFlag
			}

			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := buildLearner(store).SubmitCorrection(ctx, &correction); err != nil {
				return fmt.Errorf("failed to submit correction: %w", err)
			}

			fmt.Println(cli.SuccessStyle.Render("Correction recorded: " + correction.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&outcomeFlag, "outcome", "", "verdict: correct, incorrect or partial (required)")
	cmd.Flags().StringVar(&docTypeFlag, "doc-type", string(model.DocTypeUnknown), "document type of the result")
	cmd.Flags().StringVar(&methodFlag, "method", string(model.MethodText), "extraction method of the result")
	cmd.Flags().StringVar(&templateFlag, "template", "", "template ID used by the result, if any")
	cmd.Flags().StringVar(&reasonFlag, "reason", "", "free-form note about what was wrong")
	cmd.Flags().Float64Var(&originalFlag, "original-total", 0, "tax total the pipeline reported")
	cmd.Flags().Float64Var(&correctedFlag, "corrected-total", 0, "tax total it should have been")
	cmd.Flags().Float64Var(&confidenceFlag, "confidence", 0.5, "confidence the pipeline reported")
	_ = cmd.MarkFlagRequired("outcome")

	return cmd
}

func parseOutcome(raw string) (model.CorrectionOutcome, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(model.OutcomeCorrect):
		return model.OutcomeCorrect, nil
	case string(model.OutcomeIncorrect):
		return model.OutcomeIncorrect, nil
	case string(model.OutcomePartial):
		return model.OutcomePartial, nil
	default:
		return "", fmt.Errorf("invalid outcome %q (want correct, incorrect or partial)", raw)
	}
}
