package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sserrano44/GibberWallet/internal/ethereum"
	"github.com/sserrano44/GibberWallet/internal/metrics"
	"github.com/sserrano44/GibberWallet/internal/orchestrator"
	"github.com/sserrano44/GibberWallet/internal/server"
	"github.com/sserrano44/GibberWallet/internal/session"
)

// signer: run the air-gapped side until interrupted
func signerCmd() *cobra.Command {
	var (
		keyFile     string
		autoApprove bool
		chainID     uint64
	)

	cmd := &cobra.Command{
		Use:   "signer",
		Short: "Listen for signing requests and sign the approved ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyFile == "" {
				keyFile = cfg.Signer.KeyFile
			}
			if keyFile == "" {
				return fmt.Errorf("a key file is required (--key or signer.key_file)")
			}

			key, err := ethereum.LoadKey(keyFile)
			if err != nil {
				return err
			}

			m := metrics.NewMetrics(nil)
			st, err := openStation("signer", m)
			if err != nil {
				return err
			}
			defer st.Close()

			settings := cfg.SignerSettings()
			if cmd.Flags().Changed("chain-id") {
				settings.ChainID = chainID
			}

			responder := session.NewResponder(st.adapter, logger, m)
			svc := orchestrator.NewSigner(responder, key, settings, logger)

			approve := orchestrator.ApprovalFunc(ethereum.NewPromptApprover(os.Stdin, cmd.OutOrStdout()).Approve)
			if autoApprove {
				logger.Warn("Every request will be signed without confirmation")
				approve = ethereum.AutoApprover{}.Approve
			}

			httpServer := startMonitoring(server.Sources{
				Channel: st.adapter,
				Signer:  responder,
				Link:    st.linkSource(),
			}, m)
			defer stopMonitoring(httpServer)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("Signer ready",
				slog.String("address", key.Address()),
				slog.Uint64("chain_id", settings.ChainID),
			)

			err = svc.Serve(ctx, approve)

			stats := svc.Stats()
			logger.Info("Signer stopped",
				slog.Uint64("requests", stats.Requests),
				slog.Uint64("signed", stats.Signed),
				slog.Uint64("rejected", stats.Rejected),
				slog.Uint64("busy_rejections", stats.BusyRejections),
			)
			return err
		},
	}

	cmd.Flags().StringVar(&keyFile, "key", "", "hex private key file (overrides signer.key_file)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "sign every request without asking")
	cmd.Flags().Uint64Var(&chainID, "chain-id", 0, "only sign for this chain, 0 for any (overrides signer.chain_id)")
	return cmd
}
