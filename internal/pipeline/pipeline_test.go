// ABOUTME: End-to-end tests for the listening and streaming runners
// ABOUTME: Drives the virtual backend over loopback UDP sockets
package pipeline

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/pcmlink/internal/stage"
	"github.com/Resonate-Protocol/pcmlink/internal/transport"
	"github.com/Resonate-Protocol/pcmlink/pkg/audio/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend hands out prepared sessions
type fakeBackend struct {
	capture device.Capture
	render  device.Render
}

func (b *fakeBackend) Name() string { return "fake" }
func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) OpenCapture() (device.Capture, error) {
	if b.capture == nil {
		return nil, device.ErrDeviceUnavailable
	}
	return b.capture, nil
}

func (b *fakeBackend) OpenRender() (device.Render, error) {
	if b.render == nil {
		return nil, device.ErrDeviceUnavailable
	}
	return b.render, nil
}

// sinkBuffer collects virtual render output across goroutines
type sinkBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *sinkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *sinkBuffer) Contains(p []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Contains(b.buf.Bytes(), p)
}

func (b *sinkBuffer) HasSignal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range b.buf.Bytes() {
		if v != 0 {
			return true
		}
	}
	return false
}

// freeUDPAddr returns a loopback address that was free a moment ago
func freeUDPAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())
	return addr
}

func TestStreamSendsChunkSizedDatagrams(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	runner := New(device.NewVirtual(device.Options{}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Stream(ctx, StreamConfig{
			LocalAddr:   "127.0.0.1:0",
			PeerAddr:    peer.LocalAddr().String(),
			BitDepth:    16,
			SampleRate:  48000,
			ChunkFrames: 480,
			Timeout:     time.Second,
		})
	}()

	buf := make([]byte, transport.MaxDatagram)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	for range 3 {
		n, _, err := peer.ReadFromUDP(buf)
		require.NoError(t, err)
		assert.Equal(t, 480*4, n)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}

	snap := runner.Stats().Snapshot()
	assert.GreaterOrEqual(t, snap.DatagramsSent, uint64(3))
	assert.True(t, snap.Stages["capture"].Terminal())
}

func TestListenPlaysReceivedAudio(t *testing.T) {
	sink := &sinkBuffer{}
	runner := New(device.NewVirtual(device.Options{Sink: sink}), nil)
	addr := freeUDPAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Listen(ctx, ListenConfig{
			Addr:       addr,
			BitDepth:   16,
			SampleRate: 48000,
			Timeout:    time.Second,
		})
	}()

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	payload := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, 64)
	require.Eventually(t, func() bool {
		conn.Write(payload)
		return sink.Contains(payload)
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not stop on cancel")
	}

	snap := runner.Stats().Snapshot()
	assert.NotZero(t, snap.DatagramsRecv)
	assert.NotZero(t, snap.ChunksPlayed)
}

func TestStreamToListenLoopback(t *testing.T) {
	sink := &sinkBuffer{}
	listener := New(device.NewVirtual(device.Options{Sink: sink}), nil)
	streamer := New(device.NewVirtual(device.Options{}), nil)
	addr := freeUDPAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	listenDone := make(chan error, 1)
	go func() {
		listenDone <- listener.Listen(ctx, ListenConfig{Addr: addr, BitDepth: 24, SampleRate: 44100, Timeout: time.Second})
	}()
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- streamer.Stream(ctx, StreamConfig{
			PeerAddr:    addr,
			BitDepth:    24,
			SampleRate:  44100,
			ChunkFrames: 441,
			Timeout:     time.Second,
		})
	}()

	require.Eventually(t, sink.HasSignal, 3*time.Second, 20*time.Millisecond)
	cancel()

	for _, done := range []chan error{listenDone, streamDone} {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("runner did not stop on cancel")
		}
	}
	assert.NotEqual(t, listener.Session(), streamer.Session())
}

func TestListenReturnsFirstStageError(t *testing.T) {
	render := &fakeRender{fakeSession: fakeSession{negotiateErr: device.ErrUnsupportedFormat}}
	runner := New(&fakeBackend{render: render}, nil)

	err := runner.Listen(context.Background(), ListenConfig{
		Addr:       "127.0.0.1:0",
		BitDepth:   16,
		SampleRate: 48000,
		Timeout:    time.Second,
	})
	assert.ErrorIs(t, err, device.ErrUnsupportedFormat)

	stages := runner.Stats().Snapshot().Stages
	assert.Equal(t, stage.Stopped, stages["playback"])
	assert.Equal(t, stage.Stopped, stages["receiver"])
	assert.Equal(t, stage.Stopped, stages["bridge-listen"])
}

func TestStreamReturnsDeviceError(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	capture := &fakeCapture{reads: []int{10, 10}}
	runner := New(&fakeBackend{capture: capture}, nil)

	err = runner.Stream(context.Background(), StreamConfig{
		PeerAddr:    peer.LocalAddr().String(),
		BitDepth:    16,
		SampleRate:  8000,
		ChunkFrames: 10,
		Timeout:     time.Second,
	})
	assert.ErrorIs(t, err, device.ErrDeviceLost)
	assert.Equal(t, stage.Stopped, runner.Stats().Snapshot().Stages["capture"])
}

func TestRunnerConfigErrors(t *testing.T) {
	runner := New(&fakeBackend{}, nil)

	err := runner.Listen(context.Background(), ListenConfig{Addr: "127.0.0.1:0", BitDepth: 12, SampleRate: 48000})
	assert.ErrorIs(t, err, device.ErrUnsupportedFormat)

	err = runner.Listen(context.Background(), ListenConfig{Addr: "127.0.0.1:0", BitDepth: 16, SampleRate: 48000})
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)

	err = runner.Stream(context.Background(), StreamConfig{PeerAddr: "127.0.0.1:9", BitDepth: 16, SampleRate: 48000, ChunkFrames: 480})
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)

	withCapture := New(&fakeBackend{capture: &fakeCapture{}}, nil)
	err = withCapture.Stream(context.Background(), StreamConfig{PeerAddr: "no-port", BitDepth: 16, SampleRate: 48000, ChunkFrames: 480})
	assert.ErrorIs(t, err, transport.ErrSend)
}
