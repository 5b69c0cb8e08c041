// Package adminapi is the HTTP surface for the Attach core: read-only
// context introspection plus, since real NAS transport decode is out of
// scope for this daemon, a minimal JSON-over-HTTP shim onto the Attach
// Machine's Go entry points (OnAttachRequest/OnAttachComplete) so a
// simulator or integration harness can drive the state machine without
// linking against it directly. Built on a chi router and middleware stack.
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/mme-emmd/internal/config"
	"github.com/your-org/mme-emmd/internal/emmtypes"
	"github.com/your-org/mme-emmd/internal/fsm"
	"github.com/your-org/mme-emmd/internal/store"
)

// Server exposes /health, /ready, read-only EMM context inspection, and
// (when machine is non-nil) the Attach entry-point shim under /nas.
type Server struct {
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	logger  *zap.Logger
	store   *store.ContextStore
	machine *fsm.Machine
}

func NewServer(cfg *config.Config, s *store.ContextStore, m *fsm.Machine, logger *zap.Logger) *Server {
	srv := &Server{
		cfg:     cfg,
		router:  chi.NewRouter(),
		logger:  logger,
		store:   s,
		machine: m,
	}
	srv.setupMiddleware()
	srv.setupRoutes()
	return srv
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)

	s.router.Route("/admin", func(r chi.Router) {
		r.Get("/contexts", s.handleListContexts)
		r.Get("/contexts/{ueId}", s.handleGetContext)
	})

	if s.machine != nil {
		s.router.Route("/nas", func(r chi.Router) {
			r.Post("/attach-request", s.handleAttachRequest)
			r.Post("/attach-complete/{ueId}", s.handleAttachComplete)
		})
	}
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.AdminAddr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("starting admin HTTP server", zap.String("address", s.cfg.AdminAddr()))
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping admin HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("admin http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode json response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ready",
		"context_count": s.store.Len(),
	})
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	all := s.store.All()
	views := make([]contextView, 0, len(all))
	for _, ctx := range all {
		views = append(views, summarize(ctx))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"contexts": views})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "ueId")
	ueID64, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid ue_id %q", raw))
		return
	}

	ctx, found := s.store.GetByUEID(uint32(ueID64))
	if !found {
		s.respondError(w, http.StatusNotFound, "no context for that ue_id")
		return
	}
	s.respondJSON(w, http.StatusOK, summarize(ctx))
}

// handleAttachRequest decodes an emmtypes.AttachRequest and hands it to
// the Attach Machine's single entry point (TS 24.301 §4.4). Standing in
// for real NAS transport decode, which is out of scope here.
func (s *Server) handleAttachRequest(w http.ResponseWriter, r *http.Request) {
	var req emmtypes.AttachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("decode attach request: %v", err))
		return
	}
	if err := s.machine.OnAttachRequest(r.Context(), &req); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]uint32{"ue_id": req.UEID})
}

// handleAttachComplete decodes the ATTACH COMPLETE ESM container from the
// request body and hands it to OnAttachComplete (TS 24.301 §4.4
// on_attach_complete).
func (s *Server) handleAttachComplete(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "ueId")
	ueID64, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid ue_id %q", raw))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}

	if err := s.machine.OnAttachComplete(r.Context(), uint32(ueID64), emmtypes.NewOctetString(body)); err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]uint32{"ue_id": uint32(ueID64)})
}

// contextView is the admin-facing projection of store.EMMContext:
// IMSI/security material are deliberately omitted from this surface.
type contextView struct {
	UEID        uint32 `json:"ue_id"`
	FSMStatus   string `json:"fsm_status"`
	IsAttached  bool   `json:"is_attached"`
	IsEmergency bool   `json:"is_emergency"`
	HasGUTI     bool   `json:"has_guti"`
	EMMCause    string `json:"emm_cause"`
}

func summarize(ctx *store.EMMContext) contextView {
	ctx.Lock()
	defer ctx.Unlock()
	return contextView{
		UEID:        ctx.UEID,
		FSMStatus:   string(ctx.FSMStatus),
		IsAttached:  ctx.IsAttached,
		IsEmergency: ctx.IsEmergency,
		HasGUTI:     ctx.GUTI != nil,
		EMMCause:    ctx.EMMCause.String(),
	}
}
