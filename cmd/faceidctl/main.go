// Command faceidctl is the operator CLI for the face identity service. It
// talks to the identity store directly, using the same config as the API.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "faceidctl",
	Short: "Manage enrolled face identities",
	Long: `faceidctl enrolls, matches, replaces and deletes face identities against
the configured identity store without going through the HTTP API.

It reads the same YAML config and FACEID_* environment variables as the API
server. A .env file in the working directory is loaded first if present.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file (empty for env and defaults only)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
