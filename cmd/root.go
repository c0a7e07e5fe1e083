/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"strings"

	"metricbridge/pkg/config"

	"github.com/spf13/cobra"
)

const (
	defaultGatewayURL = "http://127.0.0.1:18791"
	envGatewayURL     = "METRICBRIDGE_URL"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "metricbridge",
	Short: "Bridge OS metric and diagnostic reports to a host application",
	Long: `metricbridge exposes the OS metrics subsystem to a host application.

It answers subscription and history actions over HTTP or stdio and pushes
each delivered report batch to the attached listener as a JSON envelope.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (default: $METRICBRIDGE_CONFIG, ./config.json, ./config/config.json)")
}

func loadConfig() (*config.Config, error) {
	if path := strings.TrimSpace(configPath); path != "" {
		return config.LoadConfigFrom(path)
	}
	return config.LoadConfig()
}

// resolveGatewayURL picks the --url flag, then METRICBRIDGE_URL, then the
// default local HTTP channel address.
func resolveGatewayURL(flagValue string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	if value := strings.TrimSpace(os.Getenv(envGatewayURL)); value != "" {
		return value
	}
	return defaultGatewayURL
}
