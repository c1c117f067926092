/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"squadbot/pkg/config"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "squadbot",
	Short: "Request admission and routing core for team chat",
	Long: `Squadbot admits messages from team chat transports, works out who sent
them, routes them to a specialist handler and always replies with a
uniform envelope.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $SQUADBOT_CONFIG, ./config.json or ./config/config.json)")
}

// loadConfig reads the config named by --config, falling back to the usual
// lookup. It returns the resolved path for hot reload.
func loadConfig() (*config.Config, string, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		resolved, err := config.ResolvePath()
		if err != nil {
			return nil, "", err
		}
		path = resolved
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", path, err)
	}

	return cfg, path, nil
}
