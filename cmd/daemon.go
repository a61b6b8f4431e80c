package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pgmetrics/sink"
)

var echoRecords bool

var daemonCmd = &cobra.Command{
	Use:   "long-running-ffwd",
	Short: "Run in an infinite loop, pushing metrics to FFWD over UDP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		defer log.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched, cleanup, err := buildScheduler(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		ffwd, err := sink.NewFfwd(log, cfg.Ffwd.Host, cfg.Ffwd.Port)
		if err != nil {
			return err
		}
		defer ffwd.Close()

		sinks := sink.Multi{ffwd}
		if echoRecords {
			sinks = append(sinks, sink.NewConsole(cmd.OutOrStdout()))
		}

		return sched.RunForever(ctx, sinks)
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&echoRecords, "echo", false,
		"also print every pushed record to stdout")
	rootCmd.AddCommand(daemonCmd)
}
