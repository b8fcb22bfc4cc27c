package service

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default prometheus registry, where the metrics
// package registers its collectors.
type MetricsServer struct {
	server *http.Server
}

func NewMetricsServer() *MetricsServer {
	return &MetricsServer{}
}

func (m *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	return mux
}

func (m *MetricsServer) Start(addr string) error {
	m.server = &http.Server{
		Handler: m.Handler(),
		Addr:    addr,
	}
	return m.server.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
