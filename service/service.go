package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-coverage/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = 8080

	MetricsHost = "0.0.0.0"
	MetricsPort = 7300

	shutdownTimeout = 5 * time.Second
)

type Config struct {
	HealthzEnabled bool
	HealthzHost    string
	HealthzPort    int

	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int
}

// Service runs the optional healthz and metrics HTTP servers next to the orchestrator.
type Service struct {
	log     log.Logger
	cfg     Config
	Healthz *HealthzServer
	Metrics *MetricsServer
}

func New(logger log.Logger, cfg Config) *Service {
	return &Service{
		log:     logger,
		cfg:     cfg,
		Healthz: NewHealthzServer(logger),
		Metrics: NewMetricsServer(),
	}
}

func (s *Service) Start() {
	if !s.cfg.HealthzEnabled && !s.cfg.MetricsEnabled {
		return
	}
	s.log.Info("service starting")

	if s.cfg.HealthzEnabled {
		addr := net.JoinHostPort(s.cfg.HealthzHost, strconv.Itoa(s.cfg.HealthzPort))
		go s.serve("healthz", addr, s.Healthz.Start)
	}
	if s.cfg.MetricsEnabled {
		addr := net.JoinHostPort(s.cfg.MetricsHost, strconv.Itoa(s.cfg.MetricsPort))
		go s.serve("metrics", addr, s.Metrics.Start)
	}

	s.log.Info("service started")
}

func (s *Service) serve(name, addr string, start func(string) error) {
	s.log.Info("starting server", "server", name, "addr", addr)
	if err := start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("error starting server", "server", name, "err", err)
		metrics.RecordErrorDetails("error starting "+name+" server", err)
	}
}

func (s *Service) Shutdown(ctx context.Context) {
	if !s.cfg.HealthzEnabled && !s.cfg.MetricsEnabled {
		return
	}
	s.log.Info("service shutting down")
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.Healthz.Shutdown(ctx); err != nil {
		s.log.Warn("healthz shutdown failed", "err", err)
	}
	s.log.Info("healthz stopped")

	if err := s.Metrics.Shutdown(ctx); err != nil {
		s.log.Warn("metrics shutdown failed", "err", err)
	}
	s.log.Info("metrics stopped")

	s.log.Info("service stopped")
}
