// Package api provides the HTTP API for watching and steering the
// pantheon. GET endpoints are public; POST endpoints require a bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/talgya/pantheon/internal/colony"
	"github.com/talgya/pantheon/internal/engine"
	"github.com/talgya/pantheon/internal/gods"
	"github.com/talgya/pantheon/internal/pantheon"
	"github.com/talgya/pantheon/internal/scheduler"
)

// DispatchLog is the read side of the dispatch journal.
type DispatchLog interface {
	RecentDispatches(ctx context.Context, limit int) ([]pantheon.Dispatch, error)
	EntryHistory(ctx context.Context, entryID string) ([]pantheon.Dispatch, error)
}

// Server serves the scheduler state over HTTP.
type Server struct {
	Driver   *pantheon.Driver
	Gods     *gods.Registry
	Eng      *engine.Engine // optional
	Colony   *colony.Colony // optional
	Journal  DispatchLog    // optional
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	srv *http.Server
}

const (
	defaultDispatchLimit = 50
	maxDispatchLimit     = 500
)

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	adminLimiter := NewRateLimiter(60, time.Minute)
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return RateLimitMiddleware(adminLimiter, s.adminOnly(h))
	}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/schedule", s.handleSchedule).Methods(http.MethodGet)
	v1.HandleFunc("/gods", s.handleGods).Methods(http.MethodGet)
	v1.HandleFunc("/dispatches", s.handleDispatches).Methods(http.MethodGet)
	v1.HandleFunc("/dispatches/{id}", s.handleEntryHistory).Methods(http.MethodGet)
	v1.HandleFunc("/letters", s.handleLetters).Methods(http.MethodGet)

	v1.HandleFunc("/gods/{name}/{action:enable|disable}", admin(s.handleToggleGod)).Methods(http.MethodPost)
	v1.HandleFunc("/gods/{name}/spend", admin(s.handleSpendFavor)).Methods(http.MethodPost)
	v1.HandleFunc("/offerings", admin(s.handleOffering)).Methods(http.MethodPost)
	v1.HandleFunc("/altar", admin(s.handleAltar)).Methods(http.MethodPost)
	v1.HandleFunc("/speed", admin(s.handleSpeed)).Methods(http.MethodPost)

	return corsMiddleware(r)
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware allows the origins listed in PANTHEON_CORS_ORIGINS
// (comma-separated) plus localhost dev servers.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("PANTHEON_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no admin key set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Driver.Status()
	status := map[string]any{
		"name":      "pantheon",
		"active":    st.Active,
		"tick":      st.Tick,
		"seed":      st.Seed,
		"altar":     st.AltarState,
		"pending":   st.Pending,
		"counters":  st.Counters,
		"mood":      st.Mood,
		"dead":      st.Dead,
		"gods":      len(s.Gods.Names()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.Eng != nil {
		status["sim_time"] = engine.SimTime(st.Tick, s.Eng.Calendar)
		status["speed"] = s.Eng.Speed()
	}
	writeJSON(w, status)
}

type entryView struct {
	ID       string `json:"id"`
	Due      int64  `json:"due"`
	Attempts int    `json:"attempts"`
	Kind     string `json:"kind"`
	Subject  string `json:"subject"`
	SimTime  string `json:"sim_time,omitempty"`
}

func (s *Server) viewEntry(e scheduler.Entry) entryView {
	v := entryView{
		ID:       e.ID.String(),
		Due:      e.Due,
		Attempts: e.Attempts,
		Kind:     e.Action.Kind().String(),
		Subject:  e.Subject(),
	}
	if s.Eng != nil {
		v.SimTime = engine.SimTime(e.Due, s.Eng.Calendar)
	}
	return v
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	pending := s.Driver.Pending()
	out := make([]entryView, 0, len(pending))
	for _, e := range pending {
		out = append(out, s.viewEntry(e))
	}
	writeJSON(w, out)
}

func (s *Server) handleGods(w http.ResponseWriter, r *http.Request) {
	type godView struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	names := s.Gods.Names()
	out := make([]godView, 0, len(names))
	for _, n := range names {
		out = append(out, godView{Name: n, Enabled: s.Gods.Enabled(n)})
	}
	writeJSON(w, out)
}

func (s *Server) handleDispatches(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "dispatch journal disabled", http.StatusServiceUnavailable)
		return
	}
	limit := defaultDispatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxDispatchLimit)
	}
	rows, err := s.Journal.RecentDispatches(r.Context(), limit)
	if err != nil {
		slog.Error("read dispatches", "error", err)
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []pantheon.Dispatch{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleEntryHistory(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "dispatch journal disabled", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]
	rows, err := s.Journal.EntryHistory(r.Context(), id)
	if err != nil {
		slog.Error("read entry history", "id", id, "error", err)
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		http.Error(w, "no dispatches for entry", http.StatusNotFound)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleLetters(w http.ResponseWriter, r *http.Request) {
	if s.Colony == nil {
		writeJSON(w, []colony.Letter{})
		return
	}
	letters := s.Colony.Letters()
	if letters == nil {
		letters = []colony.Letter{}
	}
	writeJSON(w, letters)
}

func (s *Server) handleToggleGod(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, enable := vars["name"], vars["action"] == "enable"
	if err := s.Gods.SetEnabled(name, enable); err != nil {
		s.writeError(w, err, name)
		return
	}
	slog.Info("god toggled", "god", name, "enabled", enable)
	writeJSON(w, map[string]any{"name": name, "enabled": enable})
}

func (s *Server) handleSpendFavor(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.Driver.SpendFavor(r.Context(), name); err != nil {
		s.writeError(w, err, name)
		return
	}
	writeJSON(w, map[string]any{"spent": name, "remaining": s.Driver.Status().Counters[name]})
}

func (s *Server) handleOffering(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Line string `json:"line"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	e, ok, err := s.Driver.Submit(req.Line)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	if !ok {
		http.Error(w, "not an accepted offering", http.StatusUnprocessableEntity)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, s.viewEntry(e))
}

func (s *Server) handleAltar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level int `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.Driver.SetAltarState(req.Level); err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, map[string]int{"altar": req.Level})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "no engine", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Speed < 0 || req.Speed > 1000 {
		http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
		return
	}
	s.Eng.SetSpeed(req.Speed)
	slog.Info("speed changed", "speed", req.Speed)
	writeJSON(w, map[string]float64{"speed": req.Speed})
}

// writeError maps domain errors to status codes. god names the god the
// request was about, for a spelling hint.
func (s *Server) writeError(w http.ResponseWriter, err error, god string) {
	switch {
	case errors.Is(err, gods.ErrNotRegistered):
		msg := err.Error()
		if hint, ok := s.Gods.Suggest(god); ok {
			msg += fmt.Sprintf(" (did you mean %q?)", hint)
		}
		http.Error(w, msg, http.StatusNotFound)
	case errors.Is(err, gods.ErrDisabled):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pantheon.ErrInactive):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
