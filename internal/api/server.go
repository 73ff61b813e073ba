package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"TunnelSpectra/internal/model"
)

// Engine is the administrative surface the API exposes. The lifecycle
// manager satisfies it; tests use a stub.
type Engine interface {
	WorkerStats() model.WorkerStats
	TaskStats() []model.TaskStats
	ForceRunTask(name string) error
	StateName() string
}

// Handler holds the dependencies for the admin API handlers.
type Handler struct {
	engine Engine
}

// NewRouter builds the admin API router.
func NewRouter(engine Engine) *mux.Router {
	h := &Handler{engine: engine}
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/healthz", h.healthzHandler).Methods("GET")
	r.HandleFunc("/api/v1/stats/workers", h.workerStatsHandler).Methods("GET")
	r.HandleFunc("/api/v1/tasks", h.taskStatsHandler).Methods("GET")
	r.HandleFunc("/api/v1/tasks/{name}/run", h.forceRunHandler).Methods("POST")
	return r
}

func (h *Handler) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": h.engine.StateName()})
}

func (h *Handler) workerStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.WorkerStats())
}

func (h *Handler) taskStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.TaskStats())
}

func (h *Handler) forceRunHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.engine.ForceRunTask(name); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "unknown task") {
			status = http.StatusNotFound
		} else if strings.Contains(err.Error(), "already running") {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "task": name})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding API response: %v", err)
	}
}
