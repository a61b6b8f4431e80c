package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"pgmetrics/preparedb"
)

var adminUser string

var prepareDbCmd = &cobra.Command{
	Use:   "prepare-db",
	Short: "Create the role, views and functions required for metrics gathering",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfigAndLogger()
		if err != nil {
			return err
		}
		defer log.Close()

		admin := preparedb.AdminCredentials{
			User:     adminUser,
			Password: os.Getenv("METRICS_ADMIN_PASSWORD"),
		}
		return preparedb.Prepare(cmd.Context(), log, cfg, admin)
	},
}

func init() {
	prepareDbCmd.Flags().StringVar(&adminUser, "admin-user", "",
		"superuser role for setup (password via METRICS_ADMIN_PASSWORD)")
	rootCmd.AddCommand(prepareDbCmd)
}
