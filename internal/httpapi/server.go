package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/hardware"
	"github.com/wal-rus/lovepotion/internal/lovepotion/service"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Controller is the part of the access controller exposed over HTTP.
type Controller interface {
	RemoteOpen(ctx context.Context, actor string) error
	LastUnauthorized() (string, bool)
	ClearLastUnauthorized()
	Unlocked() bool
}

type Dependencies struct {
	Logger     *slog.Logger
	Addr       string
	Controller Controller
	Hardware   hardware.Hardware
	Audit      store.AuditReader // optional
	// OpenToken guards POST /v1/open. Empty disables the endpoint.
	OpenToken string
	Clock     clock.Clock
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux
	controller Controller
	hardware   hardware.Hardware
	audit      store.AuditReader
	openToken  string
	clock      clock.Clock
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}

	s := &Server{
		logger:     d.Logger.With("component", "http"),
		mux:        mux,
		controller: d.Controller,
		hardware:   d.Hardware,
		audit:      d.Audit,
		openToken:  d.OpenToken,
		clock:      d.Clock,
	}

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("DELETE /v1/last_unauthorized", s.handleClearLastUnauthorized)
	mux.HandleFunc("POST /v1/open", s.handleOpen)

	handler := loggingMiddleware(s.logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]any{"ok": true})
}

type decoderStats interface {
	DecoderStats() wiegand.Stats
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := types.Status{
		Unlocked:   s.controller.Unlocked(),
		ServerTime: s.clock.Now().UTC().Format(time.RFC3339Nano),
	}
	if id, ok := s.controller.LastUnauthorized(); ok {
		st.LastUnauthorized = id
	}
	if s.hardware != nil {
		st.Hardware = string(s.hardware.Kind())
		if ds, ok := s.hardware.(decoderStats); ok {
			stats := ds.DecoderStats()
			st.FramesDecoded = stats.Frames
			st.FramesDropped = stats.Dropped
		}
	}
	respond(w, r, http.StatusOK, st)
}

type eventsResponse struct {
	Events []types.AuditRecord `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit_unavailable", "no readable audit log configured")
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("events query", "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if events == nil {
		events = []types.AuditRecord{}
	}
	respond(w, r, http.StatusOK, eventsResponse{Events: events})
}

func (s *Server) handleClearLastUnauthorized(w http.ResponseWriter, r *http.Request) {
	id, _ := s.controller.LastUnauthorized()
	s.controller.ClearLastUnauthorized()
	respond(w, r, http.StatusOK, map[string]any{"ok": true, "cleared": id})
}

type openRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if s.openToken == "" {
		writeError(w, r, http.StatusNotFound, "disabled", "remote open is disabled")
		return
	}
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="lovepotion"`)
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	var req openRequest
	if isProtobuf(r) {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
		req.Actor = msg.GetFields()["actor"].GetStringValue()
	} else {
		dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	err := s.controller.RemoteOpen(r.Context(), req.Actor)
	switch {
	case err == nil:
		respond(w, r, http.StatusOK, map[string]any{"ok": true})
	case errors.Is(err, service.ErrInvalidActor):
		writeError(w, r, http.StatusBadRequest, "invalid_actor", err.Error())
	case errors.Is(err, service.ErrActuatorQueueFull), errors.Is(err, service.ErrActuatorClosed):
		writeError(w, r, http.StatusServiceUnavailable, "door_unavailable", err.Error())
	default:
		s.logger.Error("remote open", "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func (s *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.openToken)) == 1
}
