package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/zhikook/chililog-server/config"
)

// app carries state shared by every command
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	config *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   appName,
		Short: "chililog - log repository server",
		Long: `chililog accepts log entries over HTTP and WebSocket, queues them per
repository on NATS JetStream, parses them into structured entries and stores
them. Subscribers receive new entries as they are published.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: json, text (overrides config)")

	root.AddCommand(
		newServeCmd(a),
		newRepoCmd(a),
		newUserCmd(a),
		newVersionCmd(),
	)
	return root
}

// init loads configuration and builds the process logger
func (a *app) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	a.config = cfg

	a.logger = setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(a.logger)
	return nil
}
