package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lechuhuuha/memcload/internal/metrics"
	loggerpkg "github.com/lechuhuuha/memcload/logger"
	"github.com/lechuhuuha/memcload/util"
)

// InitObservability registers the runtime collectors.
func InitObservability() {
	metrics.Init()
}

// StartMetricsServer serves /metrics, /health and pprof on addr until the
// returned shutdown func is called.
func StartMetricsServer(addr string, logger loggerpkg.Logger) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	util.RegisterPprof(mux)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server listening", loggerpkg.F("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", loggerpkg.Err(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown failed", loggerpkg.Err(err))
		}
	}, nil
}
