package commands

import (
	"fmt"
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

// send: ask the signer for a signature over the air, optionally broadcasting it
func sendCmd() *cobra.Command {
	var (
		tx        txFlags
		broadcast bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a transaction to the signer and print the signed result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := tx.descriptor()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var broadcaster orchestrator.Broadcaster
			if broadcast {
				if cfg.Broadcaster.RPCURL == "" {
					return fmt.Errorf("--broadcast needs broadcaster.rpc_url")
				}
				rpc, err := ethereum.DialBroadcaster(ctx, cfg.Broadcaster.RPCURL, logger)
				if err != nil {
					return err
				}
				defer rpc.Close()
				broadcaster = rpc
			}

			m := metrics.NewMetrics(nil)
			st, err := openStation("client", m)
			if err != nil {
				return err
			}
			defer st.Close()

			sess := session.NewClient(st.adapter, cfg.SessionSettings(), logger, m)
			client := orchestrator.NewClient(sess, broadcaster, cfg.ClientSettings(), logger)

			httpServer := startMonitoring(server.Sources{
				Channel: st.adapter,
				Client:  sess,
				Link:    st.linkSource(),
			}, m)
			defer stopMonitoring(httpServer)

			fmt.Fprintf(cmd.ErrOrStderr(), "Sending %s to %s, approve it on the signer\n",
				ethereum.FormatEther(desc.Value), desc.To)

			if broadcast {
				receipt, err := client.Transfer(ctx, desc)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), receipt)
			}

			signed, err := client.SendSignRequest(ctx, desc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), signed)
		},
	}

	tx.register(cmd)
	cmd.Flags().BoolVar(&broadcast, "broadcast", false, "broadcast the signed transaction and wait for its receipt")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
