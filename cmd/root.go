// cmd/root.go
/*
Copyright © 2025 AceTeam <dev@aceteam.ai>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/aceteam-ai/nosana-monitor/internal/config"
)

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var cfgFile string
var debugMode bool
var noColor bool
var nodeFlags []string
var ledgerDirFlag string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nosana-monitor",
	Short: "Nosana node monitor: status, earnings and queue position for your GPU nodes",
	Long: `A self-contained monitor for Nosana GPU nodes. It polls each node and the
Nosana dashboard, keeps a durable per-node job ledger for earnings, and publishes
one consistent snapshot per node over HTTP, WebSocket, Redis and webhooks.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
		if debugMode {
			// Log the full command that was run
			fullCmd := "nosana-monitor"
			if cmd.Name() != "nosana-monitor" {
				fullCmd += " " + cmd.Name()
			}
			cmd.Flags().Visit(func(f *pflag.Flag) {
				if f.Name == "debug" {
					return
				}
				if f.Value.Type() == "bool" {
					fullCmd += " --" + f.Name
				} else {
					fullCmd += " --" + f.Name + "=" + f.Value.String()
				}
			})
			if len(args) > 0 {
				fullCmd += " " + strings.Join(args, " ")
			}
			newLogger().Debug("command", zap.String("cmd", fullCmd))
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag and environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	cfg.AddNodes(nodeFlags)
	if ledgerDirFlag != "" {
		cfg.LedgerDir = ledgerDirFlag
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = getEnvOrDefault("NOSANA_MONITOR_REDIS_URL", "")
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = getEnvOrDefault("NOSANA_MONITOR_REDIS_PASSWORD", "")
	}
	if cfg.Webhook.URL == "" {
		cfg.Webhook.URL = getEnvOrDefault("NOSANA_MONITOR_WEBHOOK_URL", "")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigFile reads the config file for commands that do not poll nodes,
// so no node needs to be configured.
func loadConfigFile() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if ledgerDirFlag != "" {
		cfg.LedgerDir = ledgerDirFlag
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nosana-monitor/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
	rootCmd.PersistentFlags().StringArrayVar(&nodeFlags, "node", nil, "Node address to monitor (repeatable, added to the config file's nodes)")
	rootCmd.PersistentFlags().StringVar(&ledgerDirFlag, "ledger-dir", getEnvOrDefault("NOSANA_MONITOR_LEDGER_DIR", ""), "Directory for per-node ledger files (default is $HOME/.nosana-monitor/ledger)")
}
