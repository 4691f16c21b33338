package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codecast/server/internal/exec"
	"github.com/codecast/server/internal/history"
	"github.com/codecast/server/internal/ws"
)

type API struct {
	hub        *ws.Hub
	dispatcher *exec.Dispatcher
	store      *history.Store
}

func New(hub *ws.Hub, dispatcher *exec.Dispatcher, store *history.Store) *API {
	return &API{
		hub:        hub,
		dispatcher: dispatcher,
		store:      store,
	}
}

// Routes mounts the HTTP surface. The websocket endpoint is mounted
// here too so the whole server hangs off one router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", a.HealthHandler)
	r.Get("/api/stats", a.StatsHandler)
	r.Post("/api/rooms", a.CreateRoomHandler)
	r.Post("/execute", a.ExecuteHandler)
	r.Get("/api/history", a.HistoryHandler)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(a.hub, w, r)
	})

	return r
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		runStats, err := a.store.Stats()
		if err == nil {
			stats["total_runs"] = runStats["total_runs"]
			stats["failed_runs"] = runStats["failed_runs"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// CreateRoomHandler mints an opaque room id. Rooms have no server-side
// representation beyond live membership, so nothing is stored; the id
// only needs to be unique enough that sessions do not collide.
func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusCreated, map[string]string{
		"roomId": uuid.NewString(),
	})
}

type ExecuteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (a *API) ExecuteHandler(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	start := time.Now()
	result, err := a.dispatcher.Execute(r.Context(), req.Code, req.Language)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, exec.ErrEmptyCode), errors.Is(err, exec.ErrUnsupportedLanguage):
		a.record(req.Language, history.StatusRejected, elapsed, err.Error())
		errorResponse(w, http.StatusBadRequest, err.Error())

	case err != nil:
		a.record(req.Language, history.StatusError, elapsed, err.Error())
		errorResponse(w, http.StatusBadGateway, err.Error())

	case result.Error != "":
		// The program failed, not the transport; delivered as a
		// normal reply carrying the error text.
		a.record(req.Language, history.StatusError, elapsed, result.Error)
		jsonResponse(w, http.StatusOK, map[string]string{"error": result.Error})

	default:
		a.record(req.Language, history.StatusOK, elapsed, "")
		jsonResponse(w, http.StatusOK, map[string]string{"output": result.Output})
	}
}

func (a *API) record(language, status string, elapsed time.Duration, detail string) {
	if a.store == nil {
		return
	}
	if err := a.store.Record(language, status, elapsed, detail); err != nil {
		log.Printf("Failed to record run: %v", err)
	}
}

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Run log disabled")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	records, err := a.store.Recent(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"runs":   records,
		"limit":  limit,
		"offset": offset,
	})
}
