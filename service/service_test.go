package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-coverage/metrics"
)

func TestHealthzServer(t *testing.T) {
	srv := httptest.NewServer(NewHealthzServer(log.NewLogger(log.DiscardHandler())).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsServer(t *testing.T) {
	metrics.RecordError("service_test")

	rec := httptest.NewRecorder()
	NewMetricsServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `opcov_errors_total{error="service_test"}`), body)
}

func TestServiceDisabled(t *testing.T) {
	s := New(log.NewLogger(log.DiscardHandler()), Config{})
	s.Start()
	s.Shutdown(t.Context())
	assert.Nil(t, s.Healthz.server)
	assert.Nil(t, s.Metrics.server)
}
