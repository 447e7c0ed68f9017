package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sserrano44/GibberWallet/internal/channel"
	"github.com/sserrano44/GibberWallet/internal/codec"
	"github.com/sserrano44/GibberWallet/internal/orchestrator"
	"github.com/sserrano44/GibberWallet/internal/session"
)

// Config represents the complete wallet configuration
type Config struct {
	Audio       AudioConfig       `yaml:"audio" json:"audio"`
	Session     SessionConfig     `yaml:"session" json:"session"`
	Channel     ChannelConfig     `yaml:"channel" json:"channel"`
	Device      DeviceConfig      `yaml:"device" json:"device"`
	Signer      SignerConfig      `yaml:"signer" json:"signer"`
	Broadcaster BroadcasterConfig `yaml:"broadcaster" json:"broadcaster"`
	HTTP        HTTPConfig        `yaml:"http" json:"http"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// AudioConfig contains audio and codec parameters
type AudioConfig struct {
	SampleRate        int     `yaml:"sample_rate" json:"sample_rate"`
	FrameSize         int     `yaml:"frame_size" json:"frame_size"`         // samples per capture callback
	BufferSeconds     float64 `yaml:"buffer_seconds" json:"buffer_seconds"` // accumulation capacity
	KeepSeconds       float64 `yaml:"keep_seconds" json:"keep_seconds"`     // window kept after a trim
	DecodeThreshold   float64 `yaml:"decode_threshold_seconds" json:"decode_threshold_seconds"`
	Volume            int     `yaml:"volume" json:"volume"`
	ProtocolID        int     `yaml:"protocol_id" json:"protocol_id"`
	ActivityThreshold float32 `yaml:"activity_threshold" json:"activity_threshold"`
}

// SessionConfig contains handshake and response timing
type SessionConfig struct {
	HandshakeTimeout float64 `yaml:"handshake_timeout" json:"handshake_timeout"` // seconds
	ResponseTimeout  float64 `yaml:"response_timeout" json:"response_timeout"`   // seconds
	MaxRetries       int     `yaml:"max_retries" json:"max_retries"`
	SendAck          bool    `yaml:"send_ack" json:"send_ack"`
}

// ChannelConfig contains receive path parameters
type ChannelConfig struct {
	InboxSize     int  `yaml:"inbox_size" json:"inbox_size"`
	RejectInvalid bool `yaml:"reject_invalid" json:"reject_invalid"`
	EchoMemory    int  `yaml:"echo_memory" json:"echo_memory"`
}

// Device kinds
const (
	DeviceAir = "air" // in-process medium, demo only
	DeviceUDP = "udp" // UDP air link between two processes
)

// DeviceConfig selects the speaker and microphone implementation
type DeviceConfig struct {
	Kind          string `yaml:"kind" json:"kind"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
	PeerAddress   string `yaml:"peer_address" json:"peer_address"`
	WAVDir        string `yaml:"wav_dir" json:"wav_dir"` // when set, every transmission is also recorded here
	Realtime      bool   `yaml:"realtime" json:"realtime"`
}

// SignerConfig contains signer side settings
type SignerConfig struct {
	KeyFile string `yaml:"key_file" json:"-"`
	ChainID uint64 `yaml:"chain_id" json:"chain_id"` // 0 accepts any chain
}

// BroadcasterConfig contains the Ethereum node settings of the client side
type BroadcasterConfig struct {
	RPCURL              string  `yaml:"rpc_url" json:"rpc_url"`
	ReceiptPollInterval float64 `yaml:"receipt_poll_interval" json:"receipt_poll_interval"` // seconds
	ReceiptTimeout      int     `yaml:"receipt_timeout" json:"receipt_timeout"`             // seconds
}

// HTTPConfig contains monitoring server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns a valid configuration for an in-process demo
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:        48000,
			FrameSize:         1024,
			BufferSeconds:     2.0,
			KeepSeconds:       1.0,
			DecodeThreshold:   0.25,
			Volume:            50,
			ProtocolID:        1,
			ActivityThreshold: 0.02,
		},
		Session: SessionConfig{
			HandshakeTimeout: 10,
			ResponseTimeout:  30,
			MaxRetries:       3,
			SendAck:          true,
		},
		Channel: ChannelConfig{
			InboxSize:     64,
			RejectInvalid: true,
			EchoMemory:    32,
		},
		Device: DeviceConfig{
			Kind:          DeviceAir,
			ListenAddress: "127.0.0.1:7400",
			PeerAddress:   "127.0.0.1:7401",
		},
		Broadcaster: BroadcasterConfig{
			ReceiptPollInterval: 2,
			ReceiptTimeout:      120,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads a configuration file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Channel.Validate(); err != nil {
		return fmt.Errorf("channel config: %w", err)
	}

	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.Broadcaster.Validate(); err != nil {
		return fmt.Errorf("broadcaster config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", a.SampleRate)
	}

	if a.FrameSize < 64 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 64 and 16384 samples, got %d", a.FrameSize)
	}

	if a.BufferSeconds <= 0 {
		return fmt.Errorf("buffer_seconds must be positive, got %f", a.BufferSeconds)
	}

	if a.KeepSeconds <= 0 || a.KeepSeconds > a.BufferSeconds {
		return fmt.Errorf("keep_seconds (%f) must be positive and not exceed buffer_seconds (%f)",
			a.KeepSeconds, a.BufferSeconds)
	}

	if a.DecodeThreshold <= 0 || a.DecodeThreshold > a.BufferSeconds {
		return fmt.Errorf("decode_threshold_seconds (%f) must be positive and not exceed buffer_seconds (%f)",
			a.DecodeThreshold, a.BufferSeconds)
	}

	if a.Volume < 1 || a.Volume > 100 {
		return fmt.Errorf("volume must be between 1 and 100, got %d", a.Volume)
	}

	if _, err := codec.SamplesPerBit(a.ProtocolID); err != nil {
		return fmt.Errorf("protocol_id: %w", err)
	}

	if a.ActivityThreshold < 0 || a.ActivityThreshold > 1 {
		return fmt.Errorf("activity_threshold must be between 0 and 1, got %f", a.ActivityThreshold)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %f", s.HandshakeTimeout)
	}

	if s.ResponseTimeout <= 0 {
		return fmt.Errorf("response_timeout must be positive, got %f", s.ResponseTimeout)
	}

	if s.MaxRetries < 0 || s.MaxRetries > 20 {
		return fmt.Errorf("max_retries must be between 0 and 20, got %d", s.MaxRetries)
	}

	return nil
}

// Validate validates channel configuration
func (c *ChannelConfig) Validate() error {
	if c.InboxSize < 1 {
		return fmt.Errorf("inbox_size must be at least 1, got %d", c.InboxSize)
	}

	if c.EchoMemory < 1 {
		return fmt.Errorf("echo_memory must be at least 1, got %d", c.EchoMemory)
	}

	return nil
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	switch d.Kind {
	case DeviceAir:
	case DeviceUDP:
		if d.ListenAddress == "" {
			return fmt.Errorf("listen_address cannot be empty for udp devices")
		}
	default:
		return fmt.Errorf("kind must be one of [air, udp], got '%s'", d.Kind)
	}

	return nil
}

// Validate validates broadcaster configuration
func (b *BroadcasterConfig) Validate() error {
	if b.RPCURL != "" && !strings.HasPrefix(b.RPCURL, "http://") && !strings.HasPrefix(b.RPCURL, "https://") &&
		!strings.HasPrefix(b.RPCURL, "ws://") && !strings.HasPrefix(b.RPCURL, "wss://") {
		return fmt.Errorf("rpc_url must be an http(s) or ws(s) url, got '%s'", b.RPCURL)
	}

	if b.ReceiptPollInterval <= 0 {
		return fmt.Errorf("receipt_poll_interval must be positive, got %f", b.ReceiptPollInterval)
	}

	if b.ReceiptTimeout < 1 {
		return fmt.Errorf("receipt_timeout must be at least 1 second, got %d", b.ReceiptTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// any other output is a file path
	return nil
}

// GetDecodeThreshold returns the decode threshold as a time.Duration
func (a *AudioConfig) GetDecodeThreshold() time.Duration {
	return time.Duration(a.DecodeThreshold * float64(time.Second))
}

// GetHandshakeTimeout returns the handshake timeout as a time.Duration
func (s *SessionConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeout * float64(time.Second))
}

// GetResponseTimeout returns the response timeout as a time.Duration
func (s *SessionConfig) GetResponseTimeout() time.Duration {
	return time.Duration(s.ResponseTimeout * float64(time.Second))
}

// GetReceiptPollInterval returns the receipt poll interval as a time.Duration
func (b *BroadcasterConfig) GetReceiptPollInterval() time.Duration {
	return time.Duration(b.ReceiptPollInterval * float64(time.Second))
}

// GetReceiptTimeout returns the receipt timeout as a time.Duration
func (b *BroadcasterConfig) GetReceiptTimeout() time.Duration {
	return time.Duration(b.ReceiptTimeout) * time.Second
}

// ChannelSettings returns the channel adapter configuration
func (c *Config) ChannelSettings() channel.Config {
	return channel.Config{
		SampleRate:        c.Audio.SampleRate,
		BufferSeconds:     c.Audio.BufferSeconds,
		KeepSeconds:       c.Audio.KeepSeconds,
		DecodeThreshold:   c.Audio.GetDecodeThreshold(),
		ProtocolID:        c.Audio.ProtocolID,
		Volume:            c.Audio.Volume,
		ActivityThreshold: c.Audio.ActivityThreshold,
		InboxSize:         c.Channel.InboxSize,
		RejectInvalid:     c.Channel.RejectInvalid,
		EchoMemory:        c.Channel.EchoMemory,
	}
}

// SessionSettings returns the client session configuration
func (c *Config) SessionSettings() session.Config {
	return session.Config{
		HandshakeTimeout: c.Session.GetHandshakeTimeout(),
		ResponseTimeout:  c.Session.GetResponseTimeout(),
		MaxRetries:       c.Session.MaxRetries,
		SendAck:          c.Session.SendAck,
	}
}

// ClientSettings returns the receipt polling configuration
func (c *Config) ClientSettings() orchestrator.ClientConfig {
	return orchestrator.ClientConfig{
		PollInterval:   c.Broadcaster.GetReceiptPollInterval(),
		ReceiptTimeout: c.Broadcaster.GetReceiptTimeout(),
	}
}

// SignerSettings returns the signer service configuration
func (c *Config) SignerSettings() orchestrator.SignerConfig {
	return orchestrator.SignerConfig{ChainID: c.Signer.ChainID}
}
