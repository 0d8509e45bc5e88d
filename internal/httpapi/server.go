package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/veritas-labs/trustgate/internal/fanout"
	"github.com/veritas-labs/trustgate/internal/trustgate/service"
	"github.com/veritas-labs/trustgate/internal/trustgate/store"
	"github.com/veritas-labs/trustgate/internal/trustgate/types"
)

// historyLimit caps the history query endpoints.
const historyLimit = 200

// maxRequestBody caps the submission body size.  A full submission with every
// optional field encodes to ~300 bytes of JSON, so 4 KiB is generous.
const maxRequestBody = 4096

type Dependencies struct {
	Logger           *log.Logger
	Addr             string
	APISecret        string
	Gateway          *service.Gateway
	Events           store.EventStore
	Thresholds       store.ThresholdStore
	Hub              *fanout.Hub
	DefaultThreshold int
}

type Server struct {
	httpServer       *http.Server
	logger           *log.Logger
	mux              *http.ServeMux
	gateway          *service.Gateway
	events           store.EventStore
	thresholds       store.ThresholdStore
	hub              *fanout.Hub
	defaultThreshold int
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:           d.Logger,
		mux:              mux,
		gateway:          d.Gateway,
		events:           d.Events,
		thresholds:       d.Thresholds,
		hub:              d.Hub,
		defaultThreshold: d.DefaultThreshold,
	}

	mux.Handle("POST /v1/events", requireAPIKey(d.APISecret, http.HandlerFunc(s.handleSubmit)))
	mux.HandleFunc("GET /v1/events", s.handleHistory)
	mux.HandleFunc("GET /v1/events/flagged", s.handleFlagged)
	mux.HandleFunc("GET /v1/thresholds", s.handleThresholds)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	resp, err := s.gateway.Ingest(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidDeviceID) {
			writeError(w, http.StatusBadRequest, "invalid_device_id", err.Error())
			return
		}
		s.logger.Printf("submit error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.events.ReadRecent(r.Context(), historyLimit)
	if err != nil {
		// Degrade to an empty history rather than a request failure.
		s.logger.Printf("history read error: %v", err)
		recs = nil
	}
	writeJSON(w, http.StatusOK, summaries(recs))
}

func (s *Server) handleFlagged(w http.ResponseWriter, r *http.Request) {
	recs, err := s.events.ReadFlagged(r.Context(), historyLimit)
	if err != nil {
		s.logger.Printf("flagged read error: %v", err)
		recs = nil
	}
	writeJSON(w, http.StatusOK, summaries(recs))
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	groups, err := s.thresholds.All(r.Context())
	if err != nil {
		s.logger.Printf("thresholds read error: %v", err)
		groups = map[string]int{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default": s.defaultThreshold,
		"groups":  groups,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func summaries(recs []store.EventRecord) []types.EventSummary {
	out := make([]types.EventSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Summary())
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"error":  code,
		"detail": detail,
	})
}
