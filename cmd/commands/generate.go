package commands

// Command for the periodic run
// Renders every configured chart over every lookback window, then exits
// Ctrl+C stops after the render in flight; the session is always closed

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ernie-graphs/internal/infra/log"
	"ernie-graphs/internal/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var generateDryRun bool

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render all charts for today",
	Long: `Connect to the plotting engine and render every configured chart over each
lookback window (30, 90 and 180 days by default). Stops at the first failed render.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&generateDryRun, "dry-run", false, "Print the R calls instead of running them")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runID := log.NewRunID()
	log.SetRun(runID)
	log.LogInfo("Generate started",
		zap.String("base_dir", cfg.Output.BaseDir),
		zap.Strings("charts", cfg.Charts.Names),
		zap.Ints("windows", cfg.Charts.Windows),
		zap.String("engine", cfg.Engine.Backend),
		zap.Bool("dry_run", generateDryRun))

	var opts []session.Option
	if generateDryRun {
		opts = append(opts, session.WithDryRun(cmd.OutOrStdout()))
	}

	rep, err := session.Generate(ctx, cfg, opts)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if !generateDryRun {
		for _, spec := range rep.Issued {
			fmt.Fprintln(cmd.OutOrStdout(), spec.Path)
		}
	}
	return nil
}
