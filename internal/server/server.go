// Package server exposes the query and command surface over HTTP: per
// application state, the root aggregate, manual sync, pause/resume and
// full root reevaluation. It has no state of its own; everything delegates
// to the coordinator.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/flotilla-gitops/flotilla/internal/errdefs"
	"github.com/flotilla-gitops/flotilla/pkg/apis/flotilla/v1alpha1"
	"github.com/flotilla-gitops/flotilla/pkg/durations"
	"github.com/flotilla-gitops/flotilla/pkg/summary"
)

// Coordinator is the rollout surface the server needs.
type Coordinator interface {
	Applications() []summary.Child
	Application(name string) (summary.Child, error)
	RootStatus() v1alpha1.RootStatus
	TriggerSync(ctx context.Context, name string) error
	Pause(name string) error
	Resume(name string) error
	Reevaluate(ctx context.Context) error
}

type Server struct {
	coord Coordinator
	log   *logrus.Entry
}

func New(coord Coordinator) *Server {
	return &Server{coord: coord, log: logrus.WithField("component", "server")}
}

func (s *Server) Routes() http.Handler {
	root := mux.NewRouter()
	root.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	root.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	root.HandleFunc("/status", s.status).Methods(http.MethodGet)
	root.HandleFunc("/applications", s.listApplications).Methods(http.MethodGet)
	root.HandleFunc("/applications/{name}", s.getApplication).Methods(http.MethodGet)
	root.HandleFunc("/applications/{name}/sync", s.syncApplication).Methods(http.MethodPost)
	root.HandleFunc("/applications/{name}/pause", s.pauseApplication).Methods(http.MethodPost)
	root.HandleFunc("/applications/{name}/resume", s.resumeApplication).Methods(http.MethodPost)
	root.HandleFunc("/reevaluate", s.reevaluate).Methods(http.MethodPost)
	return root
}

// ListenAndServe blocks until ctx is cancelled, then drains with a bounded
// shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.Routes()}

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), durations.ServerShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// applicationView is the wire shape of the per-application query surface.
type applicationView struct {
	Name           string                    `json:"name"`
	Wave           int                       `json:"syncWave"`
	Source         v1alpha1.Source           `json:"source"`
	Destination    v1alpha1.Destination      `json:"destination"`
	SyncStatus     v1alpha1.SyncStatus       `json:"syncStatus"`
	HealthStatus   v1alpha1.HealthStatus     `json:"healthStatus"`
	LastSyncResult *v1alpha1.LastSyncResult  `json:"lastSyncResult,omitempty"`
	Modified       []v1alpha1.ModifiedStatus `json:"modifiedResources,omitempty"`
}

func view(child summary.Child) applicationView {
	return applicationView{
		Name:           child.App.Name,
		Wave:           child.App.Wave,
		Source:         child.App.Source,
		Destination:    child.App.Destination,
		SyncStatus:     child.Status.Sync,
		HealthStatus:   child.Status.Health,
		LastSyncResult: child.Status.LastSyncResult,
		Modified:       child.Status.ModifiedResources,
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.RootStatus())
}

func (s *Server) listApplications(w http.ResponseWriter, _ *http.Request) {
	children := s.coord.Applications()
	views := make([]applicationView, 0, len(children))
	for _, child := range children {
		views = append(views, view(child))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	child, err := s.coord.Application(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view(child))
}

func (s *Server) syncApplication(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.coord.TriggerSync(r.Context(), name); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	child, err := s.coord.Application(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view(child))
}

func (s *Server) pauseApplication(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Pause(mux.Vars(r)["name"]); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) resumeApplication(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Resume(mux.Vars(r)["name"]); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) reevaluate(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Reevaluate(r.Context()); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.coord.RootStatus())
}

func statusFor(err error) int {
	switch {
	case errdefs.IsConfig(err), errdefs.IsConflict(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.WithError(err).Warn("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	if errors.Is(err, context.Canceled) {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
