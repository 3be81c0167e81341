// ABOUTME: Prometheus collectors reading the pipeline counters
// ABOUTME: Serves them on /metrics alongside a /health probe
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Resonate-Protocol/pcmlink/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Namespace prefixes every metric name
const Namespace = "pcmlink"

// Register adds collectors for st to reg. Counters are read at scrape time,
// so the pipeline never touches prometheus types on its hot path.
func Register(reg prometheus.Registerer, st *stats.Stats) error {
	counters := []struct {
		name  string
		help  string
		value func() uint64
	}{
		{"chunks_captured_total", "Chunks emitted by the capture stage", st.ChunksCaptured.Load},
		{"frames_captured_total", "Frames read from the capture device", st.FramesCaptured.Load},
		{"chunks_played_total", "Chunks taken from the queue by the playback stage", st.ChunksPlayed.Load},
		{"frames_played_total", "Frames written to the render device", st.FramesPlayed.Load},
		{"underruns_total", "Playback periods padded with silence", st.Underruns.Load},
		{"silence_bytes_total", "Bytes of silence written on underrun", st.SilenceBytes.Load},
		{"datagrams_sent_total", "Datagrams sent", st.DatagramsSent.Load},
		{"bytes_sent_total", "Payload bytes sent", st.BytesSent.Load},
		{"datagrams_received_total", "Datagrams received", st.DatagramsRecv.Load},
		{"bytes_received_total", "Payload bytes received", st.BytesRecv.Load},
		{"datagrams_truncated_total", "Datagrams longer than the receive buffer", st.Truncated.Load},
		{"residue_bytes_total", "Trailing partial-frame bytes trimmed from datagrams", st.ResidueBytes.Load},
		{"runts_dropped_total", "Datagrams dropped for being shorter than one frame", st.DroppedRunts.Load},
		{"chunks_relayed_total", "Chunks moved by bridges", st.ChunksRelayed.Load},
		{"stage_transitions_total", "Stage lifecycle transitions", st.Transitions.Load},
	}

	for _, c := range counters {
		value := c.value
		err := reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(value()) }))
		if err != nil {
			return err
		}
	}

	err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "device_xruns",
		Help:      "Overruns or underruns reported by the audio device",
	}, func() float64 { return float64(st.DeviceXruns.Load()) }))
	if err != nil {
		return err
	}

	return reg.Register(newStageCollector(st))
}

// stageCollector exports the lifecycle state of every stage seen so far
type stageCollector struct {
	stats *stats.Stats
	desc  *prometheus.Desc
}

func newStageCollector(st *stats.Stats) *stageCollector {
	return &stageCollector{
		stats: st,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", "stage_state"),
			"Stage lifecycle state (0 idle, 1 opened, 2 started, 3 running, 4 stopped, 5 terminated)",
			[]string{"stage"}, nil,
		),
	}
}

func (c *stageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *stageCollector) Collect(ch chan<- prometheus.Metric) {
	for name, state := range c.stats.Snapshot().Stages {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(state), name)
	}
}

// Handler returns the HTTP handler serving /metrics and /health for reg
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve listens on addr and serves Handler(reg) until ctx ends
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, reg)
}

func serve(ctx context.Context, ln net.Listener, reg *prometheus.Registry) error {
	server := &http.Server{
		Handler:      Handler(reg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"addr":     ln.Addr().String(),
	}).Info("Serving metrics")

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
