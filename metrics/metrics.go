// Package metrics exposes prometheus counters for the custody server and serves them on a dedicated address.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/identity-custody-backend/common"
)

var (
	KeyPoolSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "key_pool_selections_total",
		Help:      "Root key selections by root key id.",
	}, []string{"root_key_id"})

	KeyPoolProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "key_pool_probes_total",
		Help:      "Root key alias probes by result (active, disabled, unreachable).",
	}, []string{"result"})

	ProvisioningSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "provisioning_steps_total",
		Help:      "Provisioning saga steps by step and result.",
	}, []string{"step", "result"})

	TokenOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "token_operations_total",
		Help:      "Session token operations by operation and result.",
	}, []string{"op", "result"})

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "downstream_dispatches_total",
		Help:      "Fire-and-forget downstream notifications by kind and result.",
	}, []string{"kind", "result"})
)

// Result labels shared by the counters.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultDropped = "dropped"
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// MetricsServer serves /metrics from the default prometheus registry.
type MetricsServer struct {
	srv *http.Server
}

// New creates the metrics server. Counters are registered at package init.
func New(listenAddr string) (*MetricsServer, error) {
	if listenAddr == "" {
		return nil, errors.New("metrics listen address is empty")
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks until the server is shut down.
func (m *MetricsServer) ListenAndServe() error {
	if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
