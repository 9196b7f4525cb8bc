// Package metrics exposes dispatcher health as Prometheus series. It is a
// pure observer: it subscribes to the event bus and never touches the send
// path.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"opsdispatch/internal/bulk"
	"opsdispatch/internal/eventbus"
	logx "opsdispatch/pkg/logx"
)

type Service struct {
	bus eventbus.Bus
	log logx.Logger
	reg *prometheus.Registry

	sends      *prometheus.CounterVec
	gateWait   prometheus.Histogram
	sessions   *prometheus.CounterVec
	queueDepth prometheus.Gauge

	mu       sync.Mutex
	stop     func()
	stopDone chan struct{}
	srv      *http.Server
}

func New(bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		bus: bus,
		log: log,
		reg: prometheus.NewRegistry(),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsdispatch_sends_total",
			Help: "Dispatch outcomes by flow kind and result.",
		}, []string{"kind", "result"}),
		gateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opsdispatch_gate_wait_seconds",
			Help:    "Time spent waiting on the shared pacing gate.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsdispatch_sessions_total",
			Help: "Completed broadcast session passes by template.",
		}, []string{"template"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opsdispatch_queue_depth",
			Help: "Mention alerts currently queued or in flight.",
		}),
	}
	s.reg.MustRegister(s.sends, s.gateWait, s.sessions, s.queueDepth)
	return s
}

// Handler serves the registry; mount it on the daemon's metrics listener.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
}

// Start subscribes to the bus. When addr is non-empty a /metrics listener is
// started as well.
func (s *Service) Start(ctx context.Context, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	events, unsub := s.bus.Subscribe(256)
	done := make(chan struct{})
	s.stop = unsub
	s.stopDone = done
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.observe(ev)
			}
		}
	}()

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.Handler())
		s.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		srv := s.srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Warn("metrics listener failed", logx.Err(err))
			}
		}()
		s.log.Info("metrics listening", logx.String("addr", addr))
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stop, done, srv := s.stop, s.stopDone, s.srv
	s.stop, s.stopDone, s.srv = nil, nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
}

func (s *Service) observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.MentionQueued:
		s.queueDepth.Inc()
	case eventbus.MentionSent:
		s.queueDepth.Dec()
		s.sends.WithLabelValues("mention", "sent").Inc()
	case eventbus.MentionSkipped:
		s.queueDepth.Dec()
		s.sends.WithLabelValues("mention", "skipped").Inc()
	case eventbus.MentionFailed:
		s.queueDepth.Dec()
		s.sends.WithLabelValues("mention", "failed").Inc()
	case eventbus.BroadcastSent:
		s.sends.WithLabelValues("bulk", "sent").Inc()
	case eventbus.BroadcastSkipped:
		s.sends.WithLabelValues("bulk", "skipped").Inc()
	case eventbus.BroadcastFailed:
		s.sends.WithLabelValues("bulk", "failed").Inc()
	case eventbus.GroupSent:
		s.sends.WithLabelValues("group", "sent").Inc()
	case eventbus.GroupFailed:
		s.sends.WithLabelValues("group", "failed").Inc()
	case eventbus.SessionDone:
		if report, ok := ev.Data.(bulk.Report); ok {
			s.sessions.WithLabelValues(string(report.Template)).Inc()
		}
	case eventbus.GateWait:
		if de, ok := ev.Data.(eventbus.DispatchEvent); ok {
			s.gateWait.Observe(de.Wait.Seconds())
		}
	}
}
