package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesprial/virtweb/internal/config"
)

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [uri]",
		Short: "Test the libvirt connection",
		Long:  `Connect to libvirt with the configured settings and print host information.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd.Flags(), flags, args)
			if err != nil {
				return err
			}

			logger := cfg.Log.NewLogger("virtweb", cmd.ErrOrStderr())
			client := newClient(cfg.Backend, logger.Named("hypervisor"), nil, nil)

			info, err := client.Info(cmd.Context())
			if err != nil {
				return fmt.Errorf("libvirt at %s: %w", client.Endpoint(), err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connected to %s\n", client.Endpoint())
			fmt.Fprintf(out, "  driver:    %s %s\n", info.Type, info.Version)
			fmt.Fprintf(out, "  libvirt:   %s\n", info.LibVersion)
			fmt.Fprintf(out, "  hostname:  %s\n", info.Hostname)
			fmt.Fprintf(out, "  uri:       %s\n", info.URI)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a random bearer token for server.auth_token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := config.GenerateRandomToken()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
