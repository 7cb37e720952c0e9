package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kubev2v/vdc-migrator/internal/cli"
)

func main() {
	command := NewMigratorCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewMigratorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vdc-migrator [flags] [options]",
		Short: "vdc-migrator moves vSphere VMs into tenant OrgVDCs in bulk.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdMigrate())
	cmd.AddCommand(cli.NewCmdCheck())
	cmd.AddCommand(cli.NewCmdHistory())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
