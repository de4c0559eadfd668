// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics provides Prometheus instrumentation for flipbook
// playback and its command server.
package metrics

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kortschak/flipbook/internal/animation"
)

// Metrics holds the flipbook collectors.
type Metrics struct {
	FramesRendered prometheus.Counter
	RenderErrors   prometheus.Counter
	Clears         prometheus.Counter
	Requests       *prometheus.CounterVec
}

// New returns a new Metrics with its collectors registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesRendered: f.NewCounter(prometheus.CounterOpts{
			Name: "flipbook_frames_rendered_total",
			Help: "Total number of frames rendered to the display surface",
		}),
		RenderErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "flipbook_render_errors_total",
			Help: "Total number of failed frame renders",
		}),
		Clears: f.NewCounter(prometheus.CounterOpts{
			Name: "flipbook_surface_clears_total",
			Help: "Total number of display surface clears",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flipbook_rpc_requests_total",
			Help: "Total number of RPC calls, by method and error code",
		}, []string{"method", "code"}),
	}
}

// Playing registers a gauge reporting whether playback is running.
func Playing(reg prometheus.Registerer, running func() bool) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "flipbook_playback_running",
		Help: "Whether an animation is currently playing",
	}, func() float64 {
		if running() {
			return 1
		}
		return 0
	})
}

// ObserveRequest records an RPC call. A zero code indicates success.
func (m *Metrics) ObserveRequest(method string, code int64) {
	m.Requests.WithLabelValues(method, strconv.FormatInt(code, 10)).Inc()
}

// Surface returns an animation.Surface that counts renders and clears
// made to s.
func (m *Metrics) Surface(s animation.Surface) animation.Surface {
	return surface{Surface: s, m: m}
}

type surface struct {
	animation.Surface
	m *Metrics
}

func (s surface) Render(img image.Image) error {
	err := s.Surface.Render(img)
	if err != nil {
		s.m.RenderErrors.Inc()
		return err
	}
	s.m.FramesRendered.Inc()
	return nil
}

func (s surface) Clear() error {
	s.m.Clears.Inc()
	return s.Surface.Clear()
}

// Handler returns an http.Handler serving the metrics gathered by g at
// /metrics and a liveness check at /healthz.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Serve starts an HTTP server for Handler(g) listening on addr. The server
// is shut down when ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *slog.Logger) (net.Addr, error) {
	log = log.With(slog.String("component", "metrics.server"))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: Handler(g)}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		log.LogAttrs(ctx, slog.LevelInfo, "metrics server starting", slog.String("addr", ln.Addr().String()))
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogAttrs(ctx, slog.LevelError, "metrics server error", slog.Any("error", err))
		}
	}()
	return ln.Addr(), nil
}
