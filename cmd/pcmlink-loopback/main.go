// ABOUTME: Streams the virtual backend to itself over loopback UDP
// ABOUTME: Smoke test for the whole pipeline without audio hardware
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/pcmlink/internal/logging"
	"github.com/Resonate-Protocol/pcmlink/internal/pipeline"
	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/device"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	port     = pflag.IntP("port", "p", 6969, "Loopback UDP port")
	bits     = pflag.IntP("bits", "b", 16, "Bit depth")
	rate     = pflag.IntP("rate", "r", 44100, "Sample rate")
	chunk    = pflag.IntP("chunksize", "c", 4096, "Frames per datagram")
	source   = pflag.String("source", "", "MP3 or FLAC file to stream (empty = test tone)")
	duration = pflag.DurationP("duration", "d", 5*time.Second, "How long to run")
	logLevel = pflag.String("log-level", "info", "Log level")
)

// countingSink discards rendered audio and counts it
type countingSink struct {
	bytes atomic.Uint64
}

func (s *countingSink) Write(p []byte) (int, error) {
	s.bytes.Add(uint64(len(p)))
	return len(p), nil
}

func main() {
	pflag.Parse()

	if _, err := logging.Configure(logrus.StandardLogger(), *logLevel, ""); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	timer := time.AfterFunc(*duration, cancel)
	defer timer.Stop()

	sink := &countingSink{}
	listenStats, streamStats := stats.New(), stats.New()
	listener := pipeline.New(device.NewVirtual(device.Options{Sink: sink}), listenStats)
	streamer := pipeline.New(device.NewVirtual(device.Options{SourcePath: *source}), streamStats)

	addr := fmt.Sprintf("127.0.0.1:%d", *port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Listen(gctx, pipeline.ListenConfig{
			Addr:       addr,
			BitDepth:   *bits,
			SampleRate: *rate,
			Timeout:    100 * time.Millisecond,
		})
	})
	g.Go(func() error {
		// Give the listener a moment to bind before the first datagram
		select {
		case <-time.After(50 * time.Millisecond):
		case <-gctx.Done():
			return nil
		}
		return streamer.Stream(gctx, pipeline.StreamConfig{
			PeerAddr:    addr,
			BitDepth:    *bits,
			SampleRate:  *rate,
			ChunkFrames: *chunk,
			Timeout:     time.Second,
		})
	})

	err := g.Wait()
	report(streamStats.Snapshot(), listenStats.Snapshot(), sink.bytes.Load())
	if err != nil {
		logrus.WithField("error", err).Error("Loopback failed")
		os.Exit(1)
	}
}

func report(sent, recv stats.Snapshot, rendered uint64) {
	fmt.Printf("captured  %d chunks (%d frames)\n", sent.ChunksCaptured, sent.FramesCaptured)
	fmt.Printf("sent      %d datagrams (%d bytes)\n", sent.DatagramsSent, sent.BytesSent)
	fmt.Printf("received  %d datagrams (%d bytes, %d truncated, %d runts)\n",
		recv.DatagramsRecv, recv.BytesRecv, recv.Truncated, recv.DroppedRunts)
	fmt.Printf("played    %d chunks (%d frames, %d bytes rendered)\n", recv.ChunksPlayed, recv.FramesPlayed, rendered)
	fmt.Printf("underruns %d (%d bytes of silence)\n", recv.Underruns, recv.SilenceBytes)
}
