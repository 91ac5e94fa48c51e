// Package metrics publishes the pipeline's Prometheus gauges and
// serves them over HTTP, the Go-native equivalent of the original's
// actix-web + prometheus-crate monitoring task.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GReX-Telescope/GReX-T0/internal/payload"
)

// Registry holds every gauge the pipeline publishes.
type Registry struct {
	ProcessedPackets prometheus.Gauge
	DroppedPackets   prometheus.Gauge
	ShuffledPackets  prometheus.Gauge
	Spectrum         *prometheus.GaugeVec
	RingBufferFill   prometheus.Gauge
	FPGATemp         prometheus.Gauge

	handles *payload.Handles
}

// New registers every gauge against the default Prometheus registerer.
func New(handles *payload.Handles) *Registry {
	return &Registry{
		ProcessedPackets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "processed_packets",
			Help: "Number of packets processed",
		}),
		DroppedPackets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dropped_packets",
			Help: "Number of packets dropped",
		}),
		ShuffledPackets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shuffled_packets",
			Help: "Number of packets that arrived out of order",
		}),
		Spectrum: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spectrum",
			Help: "Average downsampled Stokes-I spectrum",
		}, []string{"channel"}),
		RingBufferFill: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ring_buffer_fill",
			Help: "Fraction of the voltage ring buffer currently holding data",
		}),
		FPGATemp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fpga_temp",
			Help: "Internal FPGA temperature, degrees Celsius",
		}),
		handles: handles,
	}
}

// SetSpectrum publishes one downsampled Stokes-I frame, one gauge
// value per channel.
func (r *Registry) SetSpectrum(frame [payload.Channels]float32) {
	for c, v := range frame {
		r.Spectrum.WithLabelValues(strconv.Itoa(c)).Set(float64(v))
	}
}

// Serve runs the metrics HTTP server described in spec.md §6: GET
// /metrics (Prometheus text exposition) and GET /start_time (the
// processed-start MJD as a decimal string). It exits cleanly when ctx
// is cancelled, the same cooperative-shutdown contract every other
// stage honors.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/start_time", func(w http.ResponseWriter, req *http.Request) {
		t0, ok := r.handles.Epoch()
		if !ok {
			http.Error(w, "epoch not yet set", http.StatusServiceUnavailable)
			return
		}
		const unixToMJD = 40587.0
		mjd := unixToMJD + float64(t0.UnixNano())/(86400.0*1e9)
		fmt.Fprintf(w, "%f", mjd)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
