package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	for _, envFile := range []string{".env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "dentalenv",
		Short:         "Dental scanner grid-world environment: server, rollouts and layout inspection",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(out)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); empty uses config")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (console, json); empty uses config")

	rootCmd.AddCommand(
		newServeCmd(),
		newRolloutCmd(out),
		newLayoutCmd(out),
	)
	return rootCmd
}

// load reads configuration and sets up the global logger; flags win over config
func (o *rootOptions) load(out io.Writer) error {
	if err := config.Init(o.configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	if err := config.LoadEnvironmentConfig(os.Getenv("APP_ENV")); err != nil {
		return fmt.Errorf("failed to load environment config: %w", err)
	}

	if o.logLevel != "" {
		if err := config.Set("server.log_level", o.logLevel); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}
	if o.logFormat != "" {
		if err := config.Set("server.log_format", o.logFormat); err != nil {
			return fmt.Errorf("--log-format: %w", err)
		}
	}

	cfg := config.Get()

	setupLogging(cfg.Server.LogLevel, cfg.Server.LogFormat, logOutput(out))
	log.Debug().Str("config_file", config.ConfigFilePath()).Msg("Configuration loaded")
	return nil
}
