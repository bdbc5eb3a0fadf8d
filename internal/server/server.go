// Package server wires the long-running tessera process: the compute
// engine, the prometheus metrics endpoint and the JSON inspection API,
// composed as an fx module so construction order and shutdown are managed
// by the fx lifecycle.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tessellate-ml/tessera/internal/config"
	"github.com/tessellate-ml/tessera/pkg/compute"
)

// Module provides the engine and HTTP server and starts them. The enclosing
// fx app must supply *config.Config and *zap.Logger.
var Module = fx.Options(
	fx.Provide(NewEngine, NewServer),
	fx.Invoke(func(*http.Server) {}),
)

// NewEngine constructs the compute engine and ties its native resources to
// the fx lifecycle.
func NewEngine(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*compute.Engine, error) {
	engine, err := compute.New(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return engine.Close()
		},
	})
	return engine, nil
}

// NewServer builds the HTTP server on the configured metrics listen
// address. The listener is bound during OnStart so a bad address fails app
// startup instead of surfacing later.
func NewServer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, engine *compute.Engine) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           NewMux(engine, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("serving", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}

// NewMux routes the inspection API: prometheus metrics plus read-only JSON
// views of device, backend and activation state.
func NewMux(engine *compute.Engine, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, map[string]any{
			"gpus":   engine.DetectGPUs(),
			"device": engine.CurrentDevice().String(),
		})
	})
	mux.HandleFunc("/v1/backends", func(w http.ResponseWriter, r *http.Request) {
		available := engine.AvailableGPUBackends()
		names := make([]string, len(available))
		for i, b := range available {
			names[i] = b.String()
		}
		writeJSON(w, log, map[string]any{
			"available": names,
			"active":    engine.CurrentGPUBackend().String(),
		})
	})
	mux.HandleFunc("/v1/activations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, map[string]any{"activations": engine.Activations()})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("encode response", zap.Error(err))
	}
}
