// Package main is the entry point for virtweb.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	listen     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "virtweb [uri]",
		Short: "REST and MCP façade over libvirt",
		Long: `virtweb serves a small REST API, an MCP endpoint and a static web UI
for listing and controlling the virtual machines, storage volumes, networks
and host interfaces of a libvirt host.

The optional uri argument selects the libvirt connection, e.g.
qemu:///system or qemu+tcp://hv1/system.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd.Flags(), flags, args)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default $VIRTWEB_CONFIG_PATH or /etc/virtweb/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	root.Flags().StringVarP(&flags.listen, "listen", "l", "", "listen address, e.g. 0.0.0.0:3000")

	root.AddCommand(
		newCheckCmd(flags),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "virtweb %s (commit: %s)\n", version, commit)
		},
	}
}
