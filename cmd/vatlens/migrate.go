package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lukavetter/vatlens/internal/cli"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// openStorage migrates as part of opening.
			store, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			fmt.Println(cli.SuccessStyle.Render("Database schema is up to date."))
			return nil
		},
	}
}
