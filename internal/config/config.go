// ABOUTME: Command-line, environment and file configuration
// ABOUTME: Produces a validated config that is either listening or streaming
package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/pcmlink/internal/logging"
	"github.com/Resonate-Protocol/pcmlink/internal/transport"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/device"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. PCMLINK_PORT
const EnvPrefix = "PCMLINK"

// AutoPeer as the peer address selects the first listener found over mDNS
const AutoPeer = "auto"

var (
	ErrModeRequired  = errors.New("either --listen or --stream is required")
	ErrModeConflict  = errors.New("--listen and --stream are mutually exclusive")
	ErrChunkTooLarge = errors.New("chunk does not fit in a UDP datagram")
	ErrInvalid       = errors.New("invalid configuration")
)

// Common holds settings shared by both modes
type Common struct {
	BitDepth    int
	SampleRate  int
	Port        int
	Backend     string
	LogLevel    string
	LogFile     string
	MetricsAddr string
	MDNS        bool
	TUI         bool
}

// Listening configures the receive-and-play direction
type Listening struct {
	Timeout time.Duration
}

// Streaming configures the capture-and-send direction
type Streaming struct {
	Peer        string
	LocalPort   int
	ChunkFrames int
	Loopback    bool
	Source      string
	Timeout     time.Duration
}

// Config is the validated configuration. Exactly one of Listening and
// Streaming is set.
type Config struct {
	Common
	Listening *Listening
	Streaming *Streaming
}

// Format returns the audio format both ends must agree on
func (c *Config) Format() audio.Format {
	f, _ := audio.NewFormat(c.BitDepth, c.SampleRate)
	return f
}

// ListenAddr returns the wildcard address the listener binds
func (c *Config) ListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

// PeerAddr returns the listener address the streamer sends to
func (c *Config) PeerAddr() string {
	return net.JoinHostPort(c.Streaming.Peer, strconv.Itoa(c.Port))
}

// LocalAddr returns the fixed address the streamer binds
func (c *Config) LocalAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Streaming.LocalPort))
}

// ChunkBytes returns the datagram payload size produced by the streamer
func (c *Config) ChunkBytes() int {
	return c.Format().FrameBytes(c.Streaming.ChunkFrames)
}

// DiscoverPeer reports whether the peer must be found over mDNS
func (c *Config) DiscoverPeer() bool {
	return c.Streaming != nil && strings.EqualFold(c.Streaming.Peer, AutoPeer)
}

// NewFlagSet defines every flag on a new flag set
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.BoolP("listen", "l", false, "Receive datagrams and play them")
	fs.BoolP("stream", "s", false, "Capture audio and send it")
	fs.StringP("ip", "i", "127.0.0.1", "Peer address to stream to (auto = mDNS browse)")
	fs.IntP("port", "p", 6969, "UDP port to listen on or stream to")
	fs.Int("local-port", 3400, "Local UDP port the streamer binds")
	fs.IntP("bits", "b", 16, "Bit depth (8, 16, 24, 32)")
	fs.IntP("rate", "r", 44100, "Sample rate in Hz")
	fs.IntP("chunksize", "c", 4096, "Frames per datagram when streaming")
	fs.String("backend", "malgo", fmt.Sprintf("Audio backend %v", device.Names()))
	fs.Bool("loopback", false, "Capture what the default output device plays (malgo)")
	fs.String("source", "", "Audio file captured by the virtual backend (empty = test tone)")
	fs.Duration("capture-timeout", time.Second, "Capture device readiness timeout")
	fs.Duration("playback-timeout", 100*time.Millisecond, "Playback device readiness timeout")
	fs.String("log-level", "info", fmt.Sprintf("Log level %v", logging.Levels))
	fs.String("log-file", "", "Write JSON logs to this file instead of stdout")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Bool("mdns", false, "Advertise the listener over mDNS")
	fs.Bool("tui", false, "Show the status screen")
	fs.String("config", "", "Configuration file (yaml, toml or json)")
	return fs
}

// Load parses args into fs, layers the config file and PCMLINK_* variables
// underneath and validates the result
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"file":     v.ConfigFileUsed(),
		}).Debug("Loaded config file")
	}

	return FromViper(v)
}

// FromViper builds and validates a Config from resolved settings
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Common: Common{
			BitDepth:    v.GetInt("bits"),
			SampleRate:  v.GetInt("rate"),
			Port:        v.GetInt("port"),
			Backend:     v.GetString("backend"),
			LogLevel:    v.GetString("log-level"),
			LogFile:     v.GetString("log-file"),
			MetricsAddr: v.GetString("metrics-addr"),
			MDNS:        v.GetBool("mdns"),
			TUI:         v.GetBool("tui"),
		},
	}

	listen, stream := v.GetBool("listen"), v.GetBool("stream")
	switch {
	case listen && stream:
		return nil, ErrModeConflict
	case listen:
		cfg.Listening = &Listening{
			Timeout: v.GetDuration("playback-timeout"),
		}
	case stream:
		cfg.Streaming = &Streaming{
			Peer:        v.GetString("ip"),
			LocalPort:   v.GetInt("local-port"),
			ChunkFrames: v.GetInt("chunksize"),
			Loopback:    v.GetBool("loopback"),
			Source:      v.GetString("source"),
			Timeout:     v.GetDuration("capture-timeout"),
		}
	default:
		return nil, ErrModeRequired
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings of the selected mode
func (c *Config) Validate() error {
	if (c.Listening == nil) == (c.Streaming == nil) {
		if c.Listening == nil {
			return ErrModeRequired
		}
		return ErrModeConflict
	}
	if _, err := audio.NewFormat(c.BitDepth, c.SampleRate); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	}
	if !slices.Contains(device.Names(), c.Backend) {
		return fmt.Errorf("%w: unknown backend %q (available: %v)", ErrInvalid, c.Backend, device.Names())
	}
	if !slices.Contains(logging.Levels, c.LogLevel) {
		return fmt.Errorf("%w: log level %q (valid: %v)", ErrInvalid, c.LogLevel, logging.Levels)
	}

	if l := c.Listening; l != nil {
		if l.Timeout <= 0 {
			return fmt.Errorf("%w: playback timeout %s", ErrInvalid, l.Timeout)
		}
		return nil
	}

	s := c.Streaming
	if s.Peer == "" {
		return fmt.Errorf("%w: empty peer address", ErrInvalid)
	}
	if s.LocalPort < 0 || s.LocalPort > 65535 {
		return fmt.Errorf("%w: local port %d", ErrInvalid, s.LocalPort)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%w: capture timeout %s", ErrInvalid, s.Timeout)
	}
	if s.ChunkFrames <= 0 {
		return fmt.Errorf("%w: chunk size %d frames", ErrInvalid, s.ChunkFrames)
	}
	if s.Loopback && c.Backend != "malgo" {
		return fmt.Errorf("%w: --loopback needs the malgo backend", ErrInvalid)
	}

	chunkBytes := c.ChunkBytes()
	if chunkBytes > transport.MaxPayload {
		return fmt.Errorf("%w: %d frames is %d bytes, limit %d", ErrChunkTooLarge, s.ChunkFrames, chunkBytes, transport.MaxPayload)
	}
	if chunkBytes > transport.MaxDatagram {
		logrus.WithFields(logrus.Fields{
			"function":    "Config.Validate",
			"chunk_bytes": chunkBytes,
			"limit":       transport.MaxDatagram,
		}).Warn("Chunk exceeds the listener receive buffer and will be truncated")
	}
	return nil
}
