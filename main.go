// ABOUTME: Entry point for pcmlink
// ABOUTME: Parses configuration and runs the listening or streaming pipeline
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/pcmlink/internal/config"
	"github.com/Resonate-Protocol/pcmlink/internal/discovery"
	"github.com/Resonate-Protocol/pcmlink/internal/logging"
	"github.com/Resonate-Protocol/pcmlink/internal/metrics"
	"github.com/Resonate-Protocol/pcmlink/internal/pipeline"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	"github.com/Resonate-Protocol/pcmlink/internal/ui"
	"github.com/Resonate-Protocol/pcmlink/internal/version"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/device"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// tuiLogFile receives logs while the status screen owns the terminal
const tuiLogFile = "pcmlink.log"

func main() {
	fs := config.NewFlagSet(version.Product)
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n\n", version.Product, err)
		fmt.Fprintf(os.Stderr, "Usage of %s:\n%s", version.Product, fs.FlagUsages())
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err,
		}).Error("pcmlink stopped")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logFile := cfg.LogFile
	if cfg.TUI && logFile == "" {
		logFile = tuiLogFile
	}
	f, err := logging.Configure(logrus.StandardLogger(), cfg.LogLevel, logFile)
	if err != nil {
		return err
	}
	if f != nil {
		defer f.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := device.Options{}
	if s := cfg.Streaming; s != nil {
		opts.Loopback = s.Loopback
		opts.SourcePath = s.Source
	}
	backend, err := device.NewBackend(cfg.Backend, opts)
	if err != nil {
		return fmt.Errorf("audio backend: %w", err)
	}
	defer backend.Close()

	st := stats.New()
	runner := pipeline.New(backend, st)
	log := logrus.WithFields(logrus.Fields{
		"session": runner.Session(),
		"version": version.Version,
	})

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg, st); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil {
				log.WithFields(logrus.Fields{
					"function": "run",
					"error":    err,
				}).Error("Metrics server failed")
			}
		}()
	}

	send := func(ui.StatusMsg) {}
	if cfg.TUI {
		tui := ui.NewControl()
		prog := ui.Run(tui)
		go func() {
			if _, err := prog.Run(); err != nil {
				log.WithField("error", err).Error("Status screen failed")
			}
		}()
		defer func() {
			// restore the terminal before main can exit
			prog.Quit()
			prog.Wait()
		}()
		go ui.Feed(ctx, prog.Send, st, 500*time.Millisecond)
		go func() {
			select {
			case <-tui.Quit:
				cancel()
			case <-ctx.Done():
			}
		}()
		send = func(msg ui.StatusMsg) { prog.Send(msg) }
	}

	format := cfg.Format()
	status := ui.StatusMsg{
		Format:  format.String(),
		Backend: backend.Name(),
		Session: runner.Session(),
	}

	if l := cfg.Listening; l != nil {
		if cfg.MDNS {
			mgr := discovery.NewManager(discovery.Config{
				Instance: hostname(),
				Port:     cfg.Port,
				Format:   format,
				Session:  runner.Session(),
			})
			if err := mgr.Advertise(); err != nil {
				log.WithField("error", err).Warn("mDNS advertisement failed")
			}
			defer mgr.Stop()
		}

		status.Mode = "listening"
		status.Addr = cfg.ListenAddr()
		send(status)

		return runner.Listen(ctx, pipeline.ListenConfig{
			Addr:       cfg.ListenAddr(),
			BitDepth:   cfg.BitDepth,
			SampleRate: cfg.SampleRate,
			Timeout:    l.Timeout,
		})
	}

	s := cfg.Streaming
	var peer string
	if cfg.DiscoverPeer() {
		found, err := findListener(ctx, cfg)
		if err != nil {
			return err
		}
		peer = found
	} else {
		peer = cfg.PeerAddr()
	}

	status.Mode = "streaming"
	status.Addr = peer
	send(status)

	return runner.Stream(ctx, pipeline.StreamConfig{
		LocalAddr:   cfg.LocalAddr(),
		PeerAddr:    peer,
		BitDepth:    cfg.BitDepth,
		SampleRate:  cfg.SampleRate,
		ChunkFrames: s.ChunkFrames,
		Timeout:     s.Timeout,
	})
}

// findListener browses mDNS for a listener expecting our format
func findListener(ctx context.Context, cfg *config.Config) (string, error) {
	mgr := discovery.NewManager(discovery.Config{})
	defer mgr.Stop()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	logrus.WithFields(logrus.Fields{
		"function": "findListener",
		"service":  discovery.ServiceType,
	}).Info("Browsing for listeners")

	l, err := mgr.Find(ctx, cfg.Format())
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function": "findListener",
		"name":     l.Name,
		"addr":     l.Addr(),
	}).Info("Found listener")
	return l.Addr(), nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return version.Product
	}
	return fmt.Sprintf("%s-%s", name, version.Product)
}
