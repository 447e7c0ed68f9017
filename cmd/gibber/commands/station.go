package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/sserrano44/GibberWallet/internal/airlink"
	"github.com/sserrano44/GibberWallet/internal/channel"
	"github.com/sserrano44/GibberWallet/internal/codec"
	"github.com/sserrano44/GibberWallet/internal/config"
	"github.com/sserrano44/GibberWallet/internal/device"
	"github.com/sserrano44/GibberWallet/internal/message"
	"github.com/sserrano44/GibberWallet/internal/metrics"
	"github.com/sserrano44/GibberWallet/internal/server"
)

// station is the audio stack of one side: a channel adapter over a speaker and
// microphone, optionally recording what it plays
type station struct {
	name     string
	adapter  *channel.Adapter
	link     *airlink.Link
	recorder *device.WAVSpeaker
}

// openStation opens the configured device for a standalone process
func openStation(name string, m *metrics.Metrics) (*station, error) {
	if cfg.Device.Kind != config.DeviceUDP {
		return nil, fmt.Errorf("device kind %q only works inside the demo, use udp", cfg.Device.Kind)
	}

	link, err := airlink.Open(airlink.Config{
		ListenAddress: cfg.Device.ListenAddress,
		PeerAddress:   cfg.Device.PeerAddress,
		Name:          name,
		SampleRate:    cfg.Audio.SampleRate,
		FrameSize:     cfg.Audio.FrameSize,
		Realtime:      cfg.Device.Realtime,
	}, logger)
	if err != nil {
		return nil, err
	}

	st, err := newStation(name, link, link, m)
	if err != nil {
		link.Close()
		return nil, err
	}
	st.link = link

	logger.Info("Air link open",
		slog.String("listen", link.LocalAddr().String()),
		slog.String("peer", cfg.Device.PeerAddress),
	)
	return st, nil
}

func newStation(name string, spk device.Speaker, mic device.Microphone, m *metrics.Metrics) (*station, error) {
	st := &station{name: name}

	if cfg.Device.WAVDir != "" {
		recorder, err := device.NewWAVSpeaker(cfg.Device.WAVDir, name, cfg.Audio.SampleRate, spk)
		if err != nil {
			return nil, err
		}
		st.recorder = recorder
		spk = recorder
	}

	adapter, err := channel.New(cfg.ChannelSettings(), codec.NewBaseband(), spk, mic,
		logger.With(slog.String("station", name)), m)
	if err != nil {
		return nil, err
	}
	st.adapter = adapter

	return st, nil
}

func (s *station) linkSource() server.LinkSource {
	if s.link == nil {
		return nil
	}
	return s.link
}

func (s *station) recordings() []string {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.Files()
}

func (s *station) Close() {
	if err := s.adapter.Close(); err != nil {
		logger.Warn("Failed to close channel", slog.String("station", s.name), slog.String("error", err.Error()))
	}
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			logger.Warn("Failed to close air link", slog.String("error", err.Error()))
		}
	}
}

// startMonitoring starts the HTTP server when enabled
func startMonitoring(sources server.Sources, m *metrics.Metrics) *server.HTTPServer {
	if !cfg.HTTP.Enabled {
		return nil
	}

	httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, sources, m, nil)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		return nil
	}
	return httpServer
}

func stopMonitoring(httpServer *server.HTTPServer) {
	if httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}
}

// txFlags collects a transaction descriptor from the command line
type txFlags struct {
	chainID  string
	nonce    string
	gasPrice string
	gasLimit string
	to       string
	value    string
	data     string
}

func (f *txFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.to, "to", "", "recipient address")
	cmd.Flags().StringVar(&f.value, "value", "0", "value in wei, decimal or 0x hex")
	cmd.Flags().StringVar(&f.chainID, "chain-id", "1", "chain id")
	cmd.Flags().StringVar(&f.nonce, "nonce", "0", "account nonce")
	cmd.Flags().StringVar(&f.gasPrice, "gas-price", "1000000000", "gas price in wei")
	cmd.Flags().StringVar(&f.gasLimit, "gas-limit", "21000", "gas limit")
	cmd.Flags().StringVar(&f.data, "data", "0x", "call data as 0x hex")
}

func (f *txFlags) descriptor() (message.TxDescriptor, error) {
	desc := message.TxDescriptor{To: f.to, Data: f.data}

	fields := []struct {
		name string
		in   string
		out  *string
	}{
		{"chain-id", f.chainID, &desc.ChainID},
		{"nonce", f.nonce, &desc.Nonce},
		{"gas-price", f.gasPrice, &desc.GasPrice},
		{"gas-limit", f.gasLimit, &desc.GasLimit},
		{"value", f.value, &desc.Value},
	}
	for _, field := range fields {
		v, err := quantity(field.in)
		if err != nil {
			return message.TxDescriptor{}, fmt.Errorf("--%s: %w", field.name, err)
		}
		*field.out = v
	}

	desc = desc.Normalize()
	if err := desc.Validate(); err != nil {
		return message.TxDescriptor{}, err
	}
	return desc, nil
}

// quantity converts a decimal or hex number to a canonical hex quantity
func quantity(s string) (string, error) {
	s = strings.TrimSpace(s)
	base, digits := 10, s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, digits = 16, s[2:]
	}

	n, ok := new(big.Int).SetString(digits, base)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("invalid number %q", s)
	}
	return hexutil.EncodeBig(n), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
