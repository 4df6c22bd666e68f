package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/helix-container/common"
	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/metrics"
	"github.com/ruteri/helix-container/process"
	"go.uber.org/atomic"
)

type HTTPServerConfig struct {
	// ListenAddr is the status API address. Empty disables it.
	ListenAddr string
	// MetricsAddr is the Prometheus address. Empty disables it.
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	// ProbeTimeout bounds the process status check behind /readyz and /api/status.
	ProbeTimeout time.Duration
}

// StatusSource reports the state of the managed server.
type StatusSource interface {
	Status(ctx context.Context) (process.State, error)
}

// Status is the body of GET /api/status.
type Status struct {
	Instance    string `json:"instance"`
	Port        string `json:"port"`
	SSL         bool   `json:"ssl"`
	Fingerprint string `json:"fingerprint,omitempty"`
	State       string `json:"state"`
	Ready       bool   `json:"ready"`
	Provisioned bool   `json:"provisioned"`
	Version     string `json:"version"`
}

type Server struct {
	cfg         *HTTPServerConfig
	inst        interfaces.Instance
	status      StatusSource
	isReady     atomic.Bool
	fingerprint atomic.String
	log         *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
}

// New creates the server in the not-ready state; call MarkReady once the managed server answers.
func New(cfg *HTTPServerConfig, inst interfaces.Instance, status StatusSource) (*Server, error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}

	srv := &Server{
		cfg:        cfg,
		inst:       inst,
		status:     status,
		log:        cfg.Log,
		metricsSrv: metricsSrv,
	}

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

// Metrics returns the metrics recorder shared with the other components.
func (srv *Server) Metrics() *metrics.MetricsServer {
	return srv.metricsSrv
}

// MarkReady flips the readiness flag.
func (srv *Server) MarkReady(ready bool) {
	srv.isReady.Store(ready)
}

// SetFingerprint publishes the TLS certificate fingerprint.
func (srv *Server) SetFingerprint(fp string) {
	srv.fingerprint.Store(fp)
}

func (srv *Server) Handler() http.Handler {
	mux := chi.NewRouter()

	mux.With(srv.httpLogger).Get("/api/status", srv.handleStatus)

	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) probe(ctx context.Context) process.State {
	ctx, cancel := context.WithTimeout(ctx, srv.cfg.ProbeTimeout)
	defer cancel()

	state, err := srv.status.Status(ctx)
	if err != nil {
		srv.log.Warn("status probe failed", "err", err)
	}
	return state
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := srv.probe(r.Context())
	writeJSON(w, http.StatusOK, Status{
		Instance:    srv.inst.ID,
		Port:        srv.inst.P4Port(),
		SSL:         srv.inst.SSL,
		Fingerprint: srv.fingerprint.Load(),
		State:       state.String(),
		Ready:       srv.isReady.Load(),
		Provisioned: instanceutils.Exists(srv.inst.SetupMarker()),
		Version:     common.Version,
	})
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}

	state := srv.probe(r.Context())
	up := state == process.StateRunning
	srv.metricsSrv.SetServerUp(up)
	if !up {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "server " + state.String()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already draining"})
		return
	}

	srv.log.Info("Server marked as not ready")
	writeJSON(w, http.StatusOK, map[string]string{"status": "draining"})
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already ready"})
		return
	}

	srv.log.Info("Server marked as ready")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (srv *Server) RunInBackground() {
	// metrics
	if srv.cfg.MetricsAddr != "" {
		go func() {
			srv.log.With("metricsAddress", srv.cfg.MetricsAddr).Info("Starting metrics server")
			err := srv.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	// api
	if srv.cfg.ListenAddr != "" {
		go func() {
			srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
			if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("HTTP server failed", "err", err)
			}
		}()
	}
}

func (srv *Server) Shutdown() {
	srv.isReady.Store(false)

	// api
	if srv.cfg.ListenAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()
		if err := srv.srv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
		} else {
			srv.log.Info("HTTP server gracefully stopped")
		}
	}

	// metrics
	if srv.cfg.MetricsAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()

		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}
