package commands

import (
	"context"
	"fmt"

	"ernie-graphs/internal/session"

	"github.com/spf13/cobra"
)

var yearsCmd = &cobra.Command{
	Use:   "years",
	Short: "List the years that have network size data",
	Args:  cobra.NoArgs,
	RunE:  runYears,
}

func runYears(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := session.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	years, err := store.Years(ctx)
	if err != nil {
		return err
	}
	for _, y := range years {
		fmt.Fprintln(cmd.OutOrStdout(), y)
	}
	return nil
}
