package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lukavetter/vatlens/internal/cli"
)

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and manage extraction templates",
	}
	cmd.AddCommand(templatesListCmd())
	cmd.AddCommand(templatesDeactivateCmd())
	return cmd
}

func templatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active extraction templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			templates, err := store.GetActiveTemplates(ctx)
			if err != nil {
				return fmt.Errorf("failed to list templates: %w", err)
			}
			if len(templates) == 0 {
				fmt.Println(cli.SubtleStyle.Render("No active templates."))
				return nil
			}

			var b strings.Builder
			b.WriteString(cli.TitleStyle.Render("Active templates") + "\n")
			for _, tmpl := range templates {
				rate := fmt.Sprintf("%.0f%%", tmpl.SuccessRate*100)
				b.WriteString(fmt.Sprintf("%s  %s\n", cli.ConfidenceStyle(tmpl.SuccessRate).Render(rate), tmpl.Name))
				b.WriteString(cli.SubtleStyle.Render(fmt.Sprintf("      id=%s uses=%d rules=%d avg_confidence=%.2f",
					tmpl.ID, tmpl.UseCount, len(tmpl.Rules), tmpl.AvgConfidence)) + "\n")
			}
			fmt.Print(b.String())
			return nil
		},
	}
}

func templatesDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <template-id>",
		Short: "Deactivate a template without deleting its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DeactivateTemplate(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to deactivate template: %w", err)
			}

			fmt.Println(cli.SuccessStyle.Render("Template deactivated: " + args[0]))
			return nil
		},
	}
}
