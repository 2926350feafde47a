// Package api serves the hibernation HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/migalsp/kubex-hibernate/internal/cluster"
	"github.com/migalsp/kubex-hibernate/internal/scaling"
)

// Version is set at build time via ldflags
var Version = "dev"

type Server struct {
	Engine  *scaling.Engine
	Cluster *cluster.Scaler
	// K8sClient is optional and only used for cluster-info.
	K8sClient kubernetes.Interface
	Auth      *Auth
	Port      string
	// Log receives one line per request at V(1). Start defaults it to its
	// context logger.
	Log logr.Logger
}

// NeedLeaderElection lets every replica serve the API.
func (s *Server) NeedLeaderElection() bool {
	return false
}

// Handler returns the routed and authenticated API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("PATCH /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)
	mux.HandleFunc("GET /api/namespaces", s.handleNamespaces)
	mux.HandleFunc("GET /api/namespaces/{namespace}/deployments", s.handleDeployments)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.HandleFunc("GET /api/live", s.handleLive)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/cluster-info", s.handleClusterInfo)
	mux.HandleFunc("POST /api/login", s.Auth.HandleLogin)
	mux.HandleFunc("POST /api/logout", s.Auth.HandleLogout)

	return s.logRequests(s.Auth.Middleware(mux))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests puts a request scoped logger in the context and logs the outcome.
func (s *Server) logRequests(next http.Handler) http.Handler {
	base := s.Log
	if base.GetSink() == nil {
		base = logr.Discard()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := base.WithValues("method", r.Method, "path", r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(logr.NewContext(r.Context(), l)))

		l.V(1).Info("Handled request", "status", rec.status, "duration", time.Since(start).String())
	})
}

func (s *Server) Start(ctx context.Context) error {
	log := logf.FromContext(ctx).WithName("api-server")
	if s.Log.GetSink() == nil {
		s.Log = log
	}

	addr := ":" + s.Port
	if s.Port == "" {
		addr = ":8082"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	log.Info("Starting API server", "addr", addr, "auth", s.Auth.enabled())

	go func() {
		<-ctx.Done()
		log.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"version":    Version,
		"timezone":   s.Engine.Now().Location().String(),
		"time":       s.Engine.Now(),
		"goroutines": runtime.NumGoroutine(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Store.Ping(r.Context()); err != nil {
		logf.FromContext(r.Context()).Error(err, "Readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (s *Server) handleClusterInfo(w http.ResponseWriter, r *http.Request) {
	if s.K8sClient == nil {
		http.Error(w, "cluster info unavailable", http.StatusServiceUnavailable)
		return
	}
	version, err := s.K8sClient.Discovery().ServerVersion()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"version":  version.GitVersion,
		"platform": version.Platform,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
