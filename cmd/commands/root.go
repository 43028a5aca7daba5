package commands

// Root command for the Cobra CLI
// Loads the layered configuration and starts logging before any subcommand runs
// Registers all subcommands (generate, years, render, path)

import (
	"ernie-graphs/internal/infra/config"
	"ernie-graphs/internal/infra/log"

	"github.com/spf13/cobra"
)

// cfg is loaded once per process in PersistentPreRunE
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ernie-graphs",
	Short: "ernie-graphs - renders the periodic Tor network graphs through R",
	Long: `ernie-graphs asks an R plotting engine (Rserve or Rscript) to render the
network graphs for a set of lookback windows into a hashed PNG cache directory.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() error {
	defer log.Sync()
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := log.Init(log.Options{Dir: loaded.Log.Dir, Level: loaded.Log.Level, Console: true}); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(yearsCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(pathCmd)
}
