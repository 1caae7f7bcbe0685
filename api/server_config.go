package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures one HTTP listener of the custody server.
// The public and the internal API run as two servers with separate configs.
type HTTPServerConfig struct {
	// Name tags the server's log lines, e.g. "public" or "internal".
	Name string

	ListenAddr string

	// MetricsAddr is the address of the Prometheus metrics server.
	// If empty, this server does not start one.
	MetricsAddr string

	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /drain keeps the server marked not ready
	// before load balancers are expected to have noticed.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds the wait for in-flight requests on shutdown.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}
