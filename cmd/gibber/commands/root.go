package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sserrano44/GibberWallet/internal/config"
	"github.com/sserrano44/GibberWallet/internal/message"
)

const (
	serviceName    = "gibber"
	serviceVersion = "1.0.0"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

// Execute runs the gibber command line
func Execute() error {
	root := &cobra.Command{
		Use:          "gibber",
		Short:        "Acoustic transport between a wallet and an air-gapped Ethereum signer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configPath == "" {
				cfg = config.Default()
			} else if cfg, err = config.Load(configPath); err != nil {
				return err
			}

			if logLevel != "" {
				cfg.Logging.Level = logLevel
				if err := cfg.Logging.Validate(); err != nil {
					return fmt.Errorf("--log-level: %w", err)
				}
			}

			logger = initLogger(cfg.Logging)
			logger.Debug("Configuration loaded",
				slog.String("config_path", configPath),
				slog.String("device", cfg.Device.Kind),
				slog.Int("sample_rate", cfg.Audio.SampleRate),
				slog.Int("protocol_id", cfg.Audio.ProtocolID),
			)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (defaults when empty)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(signerCmd(), sendCmd(), demoCmd(), decodeCmd(), versionCmd())
	return root.Execute()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (protocol %s)\n", serviceName, serviceVersion, message.ProtocolVersion)
			return nil
		},
	}
}
