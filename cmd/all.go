package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pgmetrics/sink"
)

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every task once and print all metrics to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		defer log.Close()

		ctx := cmd.Context()
		sched, cleanup, err := buildScheduler(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		// The first pass primes the previous samples of the rate
		// metrics; only the second pass is printed.
		if _, failed := sched.RunOnce(ctx); failed > 0 {
			log.Warn(ctx, "some tasks failed on the priming pass", "failed", failed)
		}
		fmt.Fprintln(os.Stderr, "# sleep 5 s to get diffs on derivative metrics")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
		}

		records, failed := sched.RunOnce(ctx)
		console := sink.NewConsole(cmd.OutOrStdout())
		if err := console.Deliver(ctx, records); err != nil {
			return err
		}
		if failed > 0 {
			log.Warn(ctx, "some tasks failed, output is incomplete", "failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(allCmd)
}
