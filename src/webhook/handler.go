// Package webhook receives build phase notifications from Jenkins servers
// and feeds them into the build registry.
package webhook

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"capomastro/src/jenkins"
	"capomastro/src/logger"
	"capomastro/src/model"
	"capomastro/src/registry"
	"capomastro/src/store"
)

// notification is the payload posted by the Jenkins notification plugin.
type notification struct {
	Name  string `json:"name"`
	Build struct {
		Number     int               `json:"number"`
		Phase      string            `json:"phase"`
		Status     string            `json:"status"`
		URL        string            `json:"full_url"`
		Parameters map[string]string `json:"parameters"`
	} `json:"build"`
}

func (n *notification) correlationID() string {
	return n.Build.Parameters["BUILD_ID"]
}

// Handler accepts build notifications over HTTP. The sender is identified
// by its remote address, not by anything in the payload: a notification
// from an address no configured server claims is rejected.
type Handler struct {
	store    store.Store
	registry *registry.Registry
	log      logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(st store.Store, reg *registry.Registry, log logger.Logger) *Handler {
	return &Handler{store: st, registry: reg, log: log}
}

// Router returns the HTTP routes for the notification endpoint.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(jenkins.NotificationsPath, h.handleNotification).Methods(http.MethodPost)
	return r
}

// resolveServer maps the request's remote address to a configured server.
func (h *Handler) resolveServer(ctx context.Context, r *http.Request) (*model.Server, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return h.store.ServerByRemoteAddr(ctx, host)
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	server, err := h.resolveServer(ctx, r)
	if store.IsNotFound(err) {
		h.log.Error("notification from unknown server %s", r.RemoteAddr)
		http.Error(w, "unknown server", http.StatusPreconditionFailed)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var payload notification
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed notification", http.StatusBadRequest)
		return
	}
	if payload.Name == "" {
		http.Error(w, "malformed notification", http.StatusBadRequest)
		return
	}

	job, err := h.store.JobByName(ctx, server.ID, payload.Name)
	if store.IsNotFound(err) {
		h.log.Error("notification for unknown job %s on %s", payload.Name, server.Name)
		http.Error(w, "unknown job", http.StatusPreconditionFailed)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch payload.Build.Phase {
	case model.PhaseStarted:
		_, err = h.registry.UpsertBuildOnStart(ctx, job, payload.Build.Number, payload.correlationID())
	case model.PhaseFinished:
		var build *model.Build
		build, err = h.registry.UpsertBuildOnFinish(ctx, job, payload.Build.Number,
			payload.correlationID(), payload.Build.Status, payload.Build.URL)
		if err == nil {
			// Enrichment calls back into the Jenkins API; keep it off the
			// notification request path.
			go func() {
				if err := h.registry.ImportBuild(context.Background(), build); err != nil {
					h.log.Error("failed to import build %s #%d: %v", job.Name, build.Number, err)
				}
			}()
		}
	case model.PhaseCompleted:
		// COMPLETED precedes FINISHED and carries no extra information.
	default:
		h.log.Debug("ignoring notification phase %q for %s", payload.Build.Phase, payload.Name)
	}

	if err != nil {
		h.log.Error("failed to record notification for %s #%d: %v", payload.Name, payload.Build.Number, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
