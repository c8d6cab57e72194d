package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tgdrive/geonotify/internal/version"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "geonotify [command]",
		Short:             "Notification fan-out service",
		Example:           "geonotify run",
		Version:           version.Version,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	cmd.AddCommand(NewRun(), NewMigrate(), NewRemind(), NewVersion())
	return cmd
}
