// Package api is the minimal HTTP/WS surface named in spec.md §6:
// /healthz, /summary, a /ws feed of state-transition events, a /metrics
// scrape endpoint, and the one write path (POST /trade-events) the
// external execution collaborator uses to report a closed trade into the
// learning loop. This is mechanical transport, not a dashboard — no
// HTML/template rendering anywhere, per spec.md's explicit "no UI" stance.
//
// Grounded in the teacher's internal/api/server.go (gorilla/mux routing,
// rs/cors middleware, *zap.Logger-injected server, graceful Shutdown) and
// internal/api/websocket.go (gorilla/websocket upgrade + fan-out loop),
// reduced to the endpoints this spec names; /metrics is grounded in
// ducminhle1904-crypto-dca-bot's promauto collectors via promhttp.Handler.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lowcap-labs/regime-engine/internal/events"
	"github.com/lowcap-labs/regime-engine/internal/storage"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// TradeEventRecorder is the narrow slice of learning.EventLogger the
// trade-events handler needs, declared locally per this package's
// no-internal-package-beyond-what-it-uses rule.
type TradeEventRecorder interface {
	Record(ctx context.Context, ev types.TradeEvent) (bool, error)
}

// Server is the HTTP/WS surface, backed by the Storage Gateway for reads,
// the event bus for the live feed, and a TradeEventRecorder for the one
// write path.
type Server struct {
	logger  *zap.Logger
	gateway storage.Gateway
	bus     *events.Bus
	events  TradeEventRecorder
	http    *http.Server
}

// Config configures the listen address.
type Config struct {
	ListenAddr string
}

// New constructs a Server; call Start to begin listening. recorder may be
// nil in tests that don't exercise POST /trade-events.
func New(logger *zap.Logger, gateway storage.Gateway, bus *events.Bus, recorder TradeEventRecorder, cfg Config) *Server {
	s := &Server{logger: logger.Named("api"), gateway: gateway, bus: bus, events: recorder}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	router.HandleFunc("/trade-events", s.handleTradeEvents).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handler := cors.New(cors.Options{AllowedMethods: []string{http.MethodGet, http.MethodPost}}).Handler(router)

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in a goroutine; returns immediately.
func (s *Server) Start() {
	go func() {
		s.logger.Info("api listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server stopped", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.gateway.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// summaryResponse is the /summary payload: each open position's id and
// current engine state, plus current lesson/override counts, enough for the CLI's --summary flag to
// print a one-shot status line without a dashboard.
type summaryResponse struct {
	Positions []positionSummary `json:"positions"`
	Lessons   int               `json:"active_lessons"`
	Overrides int               `json:"active_overrides"`
}

type positionSummary struct {
	PositionID string `json:"position_id"`
	State      string `json:"state"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")

	positions, err := s.gateway.OpenPositions(ctx)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	resp := summaryResponse{}
	for _, p := range positions {
		meta, err := s.gateway.GetEngineMeta(ctx, p.ID)
		state := ""
		if err == nil {
			state = string(meta.State)
		}
		resp.Positions = append(resp.Positions, positionSummary{PositionID: p.ID, State: state})
	}

	if lessons, err := s.gateway.Lessons(ctx); err == nil {
		for _, l := range lessons {
			if l.Status == "active" {
				resp.Lessons++
			}
		}
	}
	if overrides, err := s.gateway.Overrides(ctx); err == nil {
		resp.Overrides = len(overrides)
	}

	json.NewEncoder(w).Encode(resp)
}

// handleTradeEvents ingests one closed-trade report from the external
// execution collaborator and records it via the learning loop's event
// logger, the production counterpart to PaperCollaborator's dry-run path.
func (s *Server) handleTradeEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.events == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "trade-event ingestion not configured"})
		return
	}

	var ev types.TradeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if ev.TradeID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "trade_id is required"})
		return
	}

	inserted, err := s.events.Record(r.Context(), ev)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"inserted": inserted})
}
