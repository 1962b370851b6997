package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	authToken    string
	authPassword string
	outputFormat string
	attempts     int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "panelgate",
		Short:         "Panelgate control surface",
		Long:          `Panelgate serves a control surface protected by a shared token or password.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Get default server address from env var if set
	defaultURL := "http://localhost:25000"
	if envURL := os.Getenv("PANELGATE_URL"); envURL != "" {
		defaultURL = envURL
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultURL, "Control surface URL (env: PANELGATE_URL)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Shared token (env: PANELGATE_AUTH_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&authPassword, "password", "", "Shared password (env: PANELGATE_AUTH_PASSWORD)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().IntVar(&attempts, "attempts", 1, "Connection attempts before giving up, with exponential backoff")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(giftCmd())
	rootCmd.AddCommand(fingerprintCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}
