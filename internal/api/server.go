// Package api provides the HTTP API for observing and steering the world.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
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
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/talgya/chronicle/internal/economy"
	"github.com/talgya/chronicle/internal/engine"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/persistence"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

const (
	maxStreamConns = 4
	maxStepTicks   = 1000
	catchUpEvents  = 50
	pingInterval   = 15 * time.Second
	writeWait      = 10 * time.Second
)

// Server serves the world state over HTTP.
type Server struct {
	Sim         *engine.Simulation
	Eng         *engine.Engine
	DB          *persistence.DB // optional
	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	RelayKey    string // Bearer token for the event stream. Empty = streaming disabled.
	SnapshotDir string // Where POST /snapshot writes files. Empty = database only.

	streamConns atomic.Int32
	upgrader    websocket.Upgrader
	tracer      trace.Tracer
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	s.tracer = otel.Tracer("github.com/talgya/chronicle/internal/api")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // authenticated by relay key
	}
	archiveLimiter := NewRateLimiter(60, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/wars", s.handleWars)
	mux.HandleFunc("GET /api/v1/markets", s.handleMarkets)
	mux.HandleFunc("GET /api/v1/market/{id}", s.handleMarket)
	mux.HandleFunc("GET /api/v1/factions", s.handleFactions)
	mux.HandleFunc("GET /api/v1/faction/{id}", s.handleFactionDetail)
	mux.HandleFunc("GET /api/v1/politics", s.handlePolitics)
	mux.HandleFunc("GET /api/v1/diplomacy", s.handleDiplomacy)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/events/archive", RateLimitMiddleware(archiveLimiter, s.handleArchive))
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)

	// Event stream (websocket, requires relay key).
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/step", s.adminOnly(s.handleStep))
	mux.HandleFunc("POST /api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("POST /api/v1/intervention", s.adminOnly(s.handleIntervention))

	return corsMiddleware(s.traced(mux))
}

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "")

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// traced wraps every request in a span.
func (s *Server) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", r.Method)),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
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

func bearer(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// adminOnly wraps a handler to require the admin bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no WORLDSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if token, ok := bearer(r); !ok || token != s.AdminKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tick := s.Sim.Tick()
	status := map[string]any{
		"name":      "Chronicle",
		"tick":      tick,
		"sim_time":  engine.SimTime(tick),
		"season":    economy.SeasonOf(tick).String(),
		"generated": s.Sim.Generated(),
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
	}
	if stats := s.Sim.StatsHistory(); len(stats) > 0 {
		status["stats"] = stats[len(stats)-1]
	}
	writeJSON(w, status)
}

func (s *Server) handleWars(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(s.Sim.ActiveWars()))
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.MarketStatus())
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid settlement id", http.StatusBadRequest)
		return
	}
	m, err := s.Sim.Market(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, m)
}

func (s *Server) handleFactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(s.Sim.Factions()))
}

func (s *Server) handleFactionDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid faction id", http.StatusBadRequest)
		return
	}
	d, err := s.Sim.Faction(social.FactionID(id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, d)
}

func (s *Server) handlePolitics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, nonNil(s.Sim.PoliticalStatus()))
}

func (s *Server) handleDiplomacy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.DiplomaticStatus())
}

// parseCriteria reads from, to, entity, type (repeatable or comma
// separated), min_significance and limit.
func parseCriteria(r *http.Request) (engine.Criteria, error) {
	q := r.URL.Query()
	c := engine.Criteria{Limit: 50, EntityID: q.Get("entity")}
	var err error
	if v := q.Get("from"); v != "" {
		if c.FromTick, err = strconv.ParseUint(v, 10, 64); err != nil {
			return c, fmt.Errorf("invalid from: %w", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if c.ToTick, err = strconv.ParseUint(v, 10, 64); err != nil {
			return c, fmt.Errorf("invalid to: %w", err)
		}
	}
	if v := q.Get("min_significance"); v != "" {
		if c.MinSignificance, err = strconv.ParseFloat(v, 64); err != nil {
			return c, fmt.Errorf("invalid min_significance: %w", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return c, fmt.Errorf("limit must be 1-1000")
		}
		c.Limit = n
	}
	for _, v := range q["type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.Types = append(c.Types, event.Type(t))
			}
		}
	}
	return c, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := parseCriteria(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, nonNil(s.Sim.QueryHistory(c)))
}

// handleArchive queries the database, which keeps events the in-memory
// history has already evicted.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	c, err := parseCriteria(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := s.DB.QueryEvents(r.Context(), persistence.EventQuery{
		FromTick:        c.FromTick,
		ToTick:          c.ToTick,
		Types:           c.Types,
		MinSignificance: c.MinSignificance,
		Limit:           c.Limit,
	})
	if err != nil {
		slog.Error("event archive query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if c.EntityID != "" {
		n := 0
		for _, ev := range events {
			if ev.Involves(c.EntityID) {
				events[n] = ev
				n++
			}
		}
		events = events[:n]
	}
	writeJSON(w, nonNil(events))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.Sim.StatsHistory()
	if len(stats) == 0 {
		http.Error(w, "world not generated", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, stats[len(stats)-1])
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	stats := s.Sim.StatsHistory()
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n < len(stats) {
			stats = stats[len(stats)-n:]
		}
	}
	writeJSON(w, nonNil(stats))
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not running", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
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
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticks int `json:"ticks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Ticks > maxStepTicks {
		http.Error(w, fmt.Sprintf("ticks must be at most %d", maxStepTicks), http.StatusBadRequest)
		return
	}
	from := s.Sim.Tick()
	if err := s.Sim.ProcessTimeStep(r.Context(), req.Ticks); err != nil {
		writeError(w, err)
		return
	}
	tick := s.Sim.Tick()
	writeJSON(w, map[string]any{
		"tick":   tick,
		"events": nonNil(s.Sim.QueryHistory(engine.Criteria{FromTick: from + 1, ToTick: tick})),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil && s.SnapshotDir == "" {
		http.Error(w, "no snapshot store configured", http.StatusServiceUnavailable)
		return
	}

	resp := map[string]any{"tick": s.Sim.Tick()}
	if s.DB != nil {
		if err := s.DB.SaveWorldState(r.Context(), s.Sim); err != nil {
			slog.Error("snapshot save failed", "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
	}
	if s.SnapshotDir != "" {
		snap := s.Sim.Export()
		path := persistence.SnapshotPath(s.SnapshotDir, snap.World.Tick)
		if err := persistence.WriteSnapshot(path, snap); err != nil {
			slog.Error("snapshot file write failed", "path", path, "error", err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
		resp["file"] = path
	}
	resp["message"] = "snapshot saved"
	writeJSON(w, resp)
}

func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type       string  `json:"type"`
		Settlement string  `json:"settlement,omitempty"`
		Commodity  string  `json:"commodity,omitempty"`
		Quantity   float64 `json:"quantity,omitempty"`
		Faction    string  `json:"faction,omitempty"`
		Gold       float64 `json:"gold,omitempty"`
		Military   float64 `json:"military,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var (
		desc string
		err  error
	)
	switch req.Type {
	case "provision":
		desc, err = s.Sim.ProvisionSettlement(req.Settlement, req.Commodity, req.Quantity)
	case "fund":
		desc, err = s.Sim.FundFaction(req.Faction, req.Gold, req.Military)
	default:
		http.Error(w, "unknown intervention type (use: provision, fund)", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "details": desc})
}

// handleStream upgrades to a websocket and pushes every dispatched event as
// a JSON text message, after a catch-up of recent history.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.RelayKey == "" {
		http.Error(w, "streaming disabled (no relay key)", http.StatusForbidden)
		return
	}
	token, ok := bearer(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token != s.RelayKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if current := s.streamConns.Add(1); current > maxStreamConns {
		s.streamConns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streamConns.Add(-1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := s.Sim.Subscribe(256)
	defer cancel()

	// The reader notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range s.Sim.QueryHistory(engine.Criteria{Limit: catchUpEvents}) {
		if err := writeEvent(conn, ev); err != nil {
			slog.Debug("stream catch-up failed", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
	slog.Info("stream client connected", "remote", r.RemoteAddr)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				slog.Info("stream client dropped", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		case <-gone:
			slog.Info("stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent sends one event, giving a slow client writeWait to take it.
func writeEvent(conn *websocket.Conn, ev event.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteJSON(ev)
}

// writeError maps lookup failures to 404 and everything else to 400.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrNotGenerated):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("write response", "error", err)
	}
}
