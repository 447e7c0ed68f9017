package commands

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/sserrano44/GibberWallet/internal/channel"
	"github.com/sserrano44/GibberWallet/internal/codec"
	"github.com/sserrano44/GibberWallet/internal/device"
	"github.com/sserrano44/GibberWallet/internal/message"
)

// decode <file.wav>: print every envelope found in a recording
func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file.wav>",
		Short: "Decode the envelopes in a WAV recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mic, err := device.NewWAVMicrophone(args[0], cfg.Audio.FrameSize, false)
			if err != nil {
				return err
			}

			settings := cfg.ChannelSettings()
			settings.SampleRate = mic.SampleRate()
			settings.RejectInvalid = false

			// replies are never played, the sink only satisfies the adapter
			air, err := device.NewAir(device.AirConfig{SampleRate: mic.SampleRate(), FrameSize: cfg.Audio.FrameSize})
			if err != nil {
				return err
			}

			adapter, err := channel.New(settings, codec.NewBaseband(), air.Endpoint("sink"), mic, logger, nil)
			if err != nil {
				return err
			}
			defer adapter.Close()

			var (
				mu    sync.Mutex
				found []*message.Envelope
			)
			err = adapter.StartListening(func(env *message.Envelope) {
				mu.Lock()
				defer mu.Unlock()
				found = append(found, env)
			})
			if err != nil {
				return err
			}

			<-mic.Done()
			// let the dispatcher drain what the last frames produced
			time.Sleep(100 * time.Millisecond)
			adapter.StopListening()

			stats := adapter.Stats()
			logger.Info("Recording decoded",
				slog.String("file", args[0]),
				slog.Uint64("decode_successes", stats.DecodeSuccesses),
				slog.Uint64("parse_errors", stats.ParseErrors),
			)

			mu.Lock()
			defer mu.Unlock()
			if len(found) == 0 {
				return fmt.Errorf("no envelope found in %s", args[0])
			}
			for _, env := range found {
				if err := printJSON(cmd.OutOrStdout(), env); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
