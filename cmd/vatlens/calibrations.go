package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lukavetter/vatlens/internal/cli"
)

func calibrationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrations",
		Short: "Show learned confidence calibration factors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.GetAllCalibrations(ctx)
			if err != nil {
				return fmt.Errorf("failed to list calibrations: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No calibrations learned yet."))
				return nil
			}

			var b strings.Builder
			b.WriteString(cli.TitleStyle.Render("Calibrations") + "\n")
			for _, entry := range entries {
				factor := fmt.Sprintf("%.3f", entry.Factor)
				style := cli.SuccessStyle
				if entry.Factor < 0.9 {
					style = cli.WarningStyle
				}
				b.WriteString(fmt.Sprintf("%s  %s/%s\n", style.Render(factor), entry.DocType, entry.Method))
				b.WriteString(cli.SubtleStyle.Render(fmt.Sprintf("       corrections=%d updated=%s",
					entry.CorrectionCount, entry.UpdatedAt.Format("2006-01-02"))) + "\n")
			}
			fmt.Print(b.String())
			return nil
		},
	}
}
