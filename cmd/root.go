package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pgmetrics/config"
	"pgmetrics/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pgmetrics",
	Short: "Gathers PostgreSQL cluster metrics and emits them as Metrics 2.0 JSON",
	Long: `pgmetrics fetches operational health metrics from a PostgreSQL
cluster and emits them in Metrics 2.0 compatible JSON format.

Run 'long-running-ffwd' as a background process to keep pushing the
gathered metrics into an FFWD agent over UDP, or call 'all' directly
to print every metric once.

Run 'prepare-db' with superuser credentials to create the role, views
and functions the statistics gathering needs.`,
	SilenceUsage: true,
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c",
		"/etc/pgmetrics/pgmetrics.yml", "configuration file path")
}

// loadConfigAndLogger is shared setup for every subcommand.
func loadConfigAndLogger() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewFromSettings(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, log, nil
}
