package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sserrano44/GibberWallet/internal/device"
	"github.com/sserrano44/GibberWallet/internal/ethereum"
	"github.com/sserrano44/GibberWallet/internal/metrics"
	"github.com/sserrano44/GibberWallet/internal/orchestrator"
	"github.com/sserrano44/GibberWallet/internal/session"
)

// demo: both devices in one process over the in-memory medium
func demoCmd() *cobra.Command {
	var (
		tx      txFlags
		keyFile string
		prompt  bool
		record  string
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a client and a signer in one process and sign one transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tx.to == "" {
				tx.to = "0xabc0000000000000000000000000000000000001"
			}
			desc, err := tx.descriptor()
			if err != nil {
				return err
			}
			if record != "" {
				cfg.Device.WAVDir = record
			}

			key, err := demoKey(keyFile)
			if err != nil {
				return err
			}

			air, err := device.NewAir(device.AirConfig{
				SampleRate: cfg.Audio.SampleRate,
				FrameSize:  cfg.Audio.FrameSize,
				Realtime:   cfg.Device.Realtime,
			})
			if err != nil {
				return err
			}

			m := metrics.NewMetrics(nil)
			signerSt, err := newStation("signer", air.Endpoint("signer"), air.Endpoint("signer"), m)
			if err != nil {
				return err
			}
			defer signerSt.Close()

			clientSt, err := newStation("client", air.Endpoint("client"), air.Endpoint("client"), m)
			if err != nil {
				return err
			}
			defer clientSt.Close()

			responder := session.NewResponder(signerSt.adapter, logger.With(slog.String("role", "signer")), m)
			svc := orchestrator.NewSigner(responder, key, cfg.SignerSettings(), logger)

			approve := orchestrator.ApprovalFunc(ethereum.AutoApprover{}.Approve)
			if prompt {
				approve = ethereum.NewPromptApprover(os.Stdin, cmd.ErrOrStderr()).Approve
			}

			sess := session.NewClient(clientSt.adapter, cfg.SessionSettings(), logger.With(slog.String("role", "client")), m)
			client := orchestrator.NewClient(sess, nil, cfg.ClientSettings(), logger)

			serveCtx, stopServing := context.WithCancel(cmd.Context())
			defer stopServing()
			g, ctx := errgroup.WithContext(serveCtx)

			g.Go(func() error {
				return svc.Serve(serveCtx, approve)
			})

			var signed *orchestrator.SignedTx
			g.Go(func() error {
				defer stopServing()
				var err error
				signed, err = client.SendSignRequest(ctx, desc)
				return err
			})

			if err := g.Wait(); err != nil {
				return err
			}

			from, err := sender(signed.Raw)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"signer":     key.Address(),
				"recovered":  from,
				"hash":       signed.Hash,
				"raw":        signed.Raw,
				"recordings": append(clientSt.recordings(), signerSt.recordings()...),
			})
		},
	}

	tx.register(cmd)
	cmd.Flags().StringVar(&keyFile, "key", "", "hex private key file, a throwaway key when empty")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "ask for approval on the terminal")
	cmd.Flags().StringVar(&record, "record", "", "record every transmission as WAV files in this directory")
	return cmd
}

func demoKey(path string) (*ethereum.KeySigner, error) {
	if path != "" {
		return ethereum.LoadKey(path)
	}
	if cfg.Signer.KeyFile != "" {
		return ethereum.LoadKey(cfg.Signer.KeyFile)
	}
	return ethereum.GenerateKey()
}

// sender recovers the address that signed raw
func sender(raw string) (string, error) {
	tx, err := ethereum.DecodeSigned(raw)
	if err != nil {
		return "", err
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "", fmt.Errorf("failed to recover sender: %w", err)
	}
	return strings.ToLower(from.Hex()), nil
}
