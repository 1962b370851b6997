package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/panelgate/panelgate/pkg/auth"
)

func fingerprintCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of the configured credentials",
		Long: `Print a digest of the shared token and password. Two deployments with the
same fingerprint accept the same credentials. The secrets are not printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, password := credentials()
			cfg, err := loadConfig(configPath, token, password)
			if err != nil {
				return err
			}

			gate := auth.NewSharedTokenOrPassword(cfg.Auth.Token, cfg.Auth.Password)
			fmt.Fprintln(cmd.OutOrStdout(), gate.Fingerprint())
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")

	return cmd
}
