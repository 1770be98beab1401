package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/pricekit/config"
	"github.com/rushteam/pricekit/core"
	"github.com/rushteam/pricekit/inference"
)

const (
	maxRequestBytes = 1 << 20
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions over HTTP",
		Long: `Serve predictions over HTTP.

Endpoints:
  POST /predict   {"family": "OLS", "features": {...}}
  GET  /families
  GET  /metrics   Prometheus metrics
  GET  /healthz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			rt, err := a.build(cmd.Context(), config.WithRegisterer(reg))
			if err != nil {
				return err
			}
			defer rt.Close()
			a.logger.Info("tracking configured",
				zap.String("experiment", rt.Registry.Experiment()),
				zap.String("backend", rt.Registry.Backend().Name()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, newHandler(rt.Service, reg, a.logger), a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type predictRequest struct {
	Family   string         `json:"family"`
	Features map[string]any `json:"features"`
}

type familyInfo struct {
	Name     core.ModelFamily `json:"name"`
	Artifact string           `json:"artifact"`
}

func newHandler(svc *inference.Service, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /predict", func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, core.Fail(core.FailureInvalidInput, "Invalid request body: "+err.Error(), err), logger)
			return
		}
		outcome := svc.PredictByName(r.Context(), req.Family, req.Features)
		writeJSON(w, statusFor(outcome), outcome, logger)
	})
	mux.HandleFunc("GET /families", func(w http.ResponseWriter, r *http.Request) {
		families := core.Families()
		out := make([]familyInfo, len(families))
		for i, f := range families {
			out[i] = familyInfo{Name: f, Artifact: f.ArtifactName()}
		}
		writeJSON(w, http.StatusOK, out, logger)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})
	return mux
}

func statusFor(outcome *core.Outcome) int {
	switch outcome.Kind() {
	case "":
		return http.StatusOK
	case core.FailureInvalidInput, core.FailureNoRunsFound:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response", zap.Error(err))
	}
}
