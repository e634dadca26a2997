package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/stepflow/internal/logging"
	"github.com/aretw0/stepflow/internal/presentation/graph"
	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/ports"
	"github.com/aretw0/stepflow/pkg/session"
	"github.com/go-chi/chi/v5"
)

// Server exposes flow instances hosted by a session.Manager over JSON/HTTP.
type Server struct {
	Manager *session.Manager
	Streams *StreamManager

	logger  *slog.Logger
	version string
	metrics http.Handler
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by GET /info.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithMetrics mounts a metrics handler on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates a Server for the given manager.
func NewServer(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		Manager: mgr,
		logger:  logging.NewNop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(s.logger)
	return s
}

// NewHandler creates the HTTP handler of a new Server.
func NewHandler(mgr *session.Manager, opts ...Option) http.Handler {
	return NewServer(mgr, opts...).Handler()
}

// Handler returns the router with CORS enabled.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/flows", func(r chi.Router) {
		r.Get("/", s.ListFlows)
		r.Get("/{flow}", s.GetFlow)
		r.Get("/{flow}/graph", s.GetFlowGraph)
		r.Post("/{flow}/instances", s.StartInstance)
	})

	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.ListInstances)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetInstance)
			r.Delete("/", s.DeleteInstance)
			r.Get("/events", s.SubscribeEvents)
			r.Get("/graph", s.GetInstanceGraph)

			r.Put("/answers/{step}", s.RecordAnswer)
			r.Post("/choose/{step}", s.Choose)
			r.Post("/jump/{step}", s.JumpTo)
			r.Post("/advance", s.navigate((*runtime.Controller).Advance))
			r.Post("/retreat", s.navigate((*runtime.Controller).Retreat))
			r.Post("/forward", s.navigate((*runtime.Controller).Forward))
			r.Post("/done", s.navigate((*runtime.Controller).MarkDone))

			r.Post("/complete", s.Complete)
			r.Post("/actions/{action}", s.RunAction)
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InstanceView is the representation of an instance returned by every instance route.
type InstanceView struct {
	State    *domain.State     `json:"state"`
	Step     *domain.Step      `json:"step,omitempty"`
	Path     []string          `json:"path"`
	Complete bool              `json:"complete"`
	Diff     *domain.StateDiff `json:"diff,omitempty"`
	Result   json.RawMessage   `json:"result,omitempty"`
}

// ErrorBody is the JSON error payload.
type ErrorBody struct {
	Error     string   `json:"error"`
	Kind      string   `json:"kind"`
	Step      string   `json:"step,omitempty"`
	Fields    []string `json:"fields,omitempty"`
	Steps     []string `json:"steps,omitempty"`
	Operation string   `json:"operation,omitempty"`
	Code      string   `json:"code,omitempty"`
}

type startRequest struct {
	Context map[string]any `json:"context"`
}

type answerRequest struct {
	Value any `json:"value"`
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "stepflow-http",
		"version": strings.TrimSpace(s.version),
	})
}

// ListFlows handles GET /flows.
func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"flows": s.Manager.Flows().Names()})
}

// GetFlow handles GET /flows/{flow}.
func (s *Server) GetFlow(w http.ResponseWriter, r *http.Request) {
	def, err := s.Manager.Flows().Get(chi.URLParam(r, "flow"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// GetFlowGraph handles GET /flows/{flow}/graph.
func (s *Server) GetFlowGraph(w http.ResponseWriter, r *http.Request) {
	def, err := s.Manager.Flows().Get(chi.URLParam(r, "flow"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, graph.GenerateMermaid(def, nil))
}

// StartInstance handles POST /flows/{flow}/instances.
func (s *Server) StartInstance(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}

	state, err := s.Manager.Start(r.Context(), chi.URLParam(r, "flow"), body.Context)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.view(state)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view.Diff = domain.Diff(nil, state)
	writeJSON(w, http.StatusCreated, view)
}

// ListInstances handles GET /instances.
func (s *Server) ListInstances(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Manager.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"instances": ids})
}

// GetInstance handles GET /instances/{id}.
func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	state, err := s.Manager.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.view(state)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetInstanceGraph handles GET /instances/{id}/graph, overlaying the traversal.
func (s *Server) GetInstanceGraph(w http.ResponseWriter, r *http.Request) {
	state, err := s.Manager.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.restore(state)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, graph.GenerateMermaid(c.Definition(), graph.NewOverlay(state, c.Path())))
}

// DeleteInstance handles DELETE /instances/{id}.
func (s *Server) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.Manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeEvents handles GET /instances/{id}/events (SSE of state diffs).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	s.Streams.serve(w, r, chi.URLParam(r, "id"))
}

// RecordAnswer handles PUT /instances/{id}/answers/{step}.
func (s *Server) RecordAnswer(w http.ResponseWriter, r *http.Request) {
	var body answerRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	step := chi.URLParam(r, "step")
	s.apply(w, r, func(_ context.Context, c *runtime.Controller) error {
		return c.RecordAnswer(step, body.Value)
	})
}

// Choose handles POST /instances/{id}/choose/{step}.
func (s *Server) Choose(w http.ResponseWriter, r *http.Request) {
	var body answerRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	step := chi.URLParam(r, "step")
	s.apply(w, r, func(ctx context.Context, c *runtime.Controller) error {
		return c.Choose(ctx, step, body.Value)
	})
}

// JumpTo handles POST /instances/{id}/jump/{step}.
func (s *Server) JumpTo(w http.ResponseWriter, r *http.Request) {
	step := chi.URLParam(r, "step")
	s.apply(w, r, func(ctx context.Context, c *runtime.Controller) error {
		return c.JumpTo(ctx, step)
	})
}

func (s *Server) navigate(op func(*runtime.Controller, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.apply(w, r, func(ctx context.Context, c *runtime.Controller) error {
			return op(c, ctx)
		})
	}
}

// Complete handles POST /instances/{id}/complete.
func (s *Server) Complete(w http.ResponseWriter, r *http.Request) {
	s.call(w, r, func(ctx context.Context, id string) (json.RawMessage, *domain.State, error) {
		return s.Manager.Submit(ctx, id)
	})
}

// RunAction handles POST /instances/{id}/actions/{action}.
func (s *Server) RunAction(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	s.call(w, r, func(ctx context.Context, id string) (json.RawMessage, *domain.State, error) {
		return s.Manager.RunAction(ctx, id, action)
	})
}

// apply runs op on the instance and answers with its new view and diff.
func (s *Server) apply(w http.ResponseWriter, r *http.Request, op func(context.Context, *runtime.Controller) error) {
	id := chi.URLParam(r, "id")
	var before *domain.State
	state, err := s.Manager.Do(r.Context(), id, func(ctx context.Context, c *runtime.Controller) error {
		before = c.Snapshot()
		return op(ctx, c)
	})
	s.respond(w, id, before, state, nil, err)
}

func (s *Server) call(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (json.RawMessage, *domain.State, error)) {
	id := chi.URLParam(r, "id")
	before, err := s.Manager.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, state, err := fn(r.Context(), id)
	s.respond(w, id, before, state, result, err)
}

func (s *Server) respond(w http.ResponseWriter, id string, before, after *domain.State, result json.RawMessage, opErr error) {
	var diff *domain.StateDiff
	if before != nil && after != nil {
		diff = domain.Diff(before, after)
	}
	if diff != nil {
		if msg, err := json.Marshal(diff); err == nil {
			s.Streams.Broadcast(id, string(msg))
		}
	}

	if opErr != nil {
		s.writeError(w, opErr)
		return
	}

	view, err := s.view(after)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view.Diff = diff
	view.Result = result
	writeJSON(w, http.StatusOK, view)
}

// viewCaller backs the read-only controllers built to render views.
var viewCaller = ports.CallerFunc(func(context.Context, string, map[string]any) (json.RawMessage, error) {
	return nil, errors.New("calls are not available on a view")
})

func (s *Server) restore(state *domain.State) (*runtime.Controller, error) {
	def, err := s.Manager.Flows().Get(state.FlowID)
	if err != nil {
		return nil, err
	}
	return runtime.Restore(def, state, viewCaller)
}

func (s *Server) view(state *domain.State) (*InstanceView, error) {
	c, err := s.restore(state)
	if err != nil {
		return nil, err
	}
	view := &InstanceView{
		State:    state,
		Path:     c.Path(),
		Complete: c.IsComplete(),
	}
	if state.Status != domain.StatusNotStarted {
		step := c.CurrentStep()
		view.Step = &step
	}
	return view, nil
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.logger.Warn("invalid request body", "error", err)
	writeJSON(w, http.StatusBadRequest, ErrorBody{Error: fmt.Sprintf("invalid request body: %v", err), Kind: "bad_request"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger.Error("request failed", "error", err)
	} else {
		s.logger.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// errorResponse maps controller and manager failures onto HTTP statuses.
func errorResponse(err error) (int, ErrorBody) {
	body := ErrorBody{Error: err.Error()}

	var vErr *domain.ValidationError
	var rErr *domain.RemoteError
	var tErr *domain.TransitionError
	switch {
	case session.IsNotFound(err):
		body.Kind = "not_found"
		return http.StatusNotFound, body
	case errors.As(err, &vErr):
		body.Kind = "validation"
		body.Step = vErr.StepID
		body.Fields = vErr.Fields
		body.Steps = vErr.Steps
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &rErr):
		body.Kind = "remote"
		body.Operation = rErr.Operation
		body.Code = rErr.Code
		return http.StatusBadGateway, body
	case errors.As(err, &tErr):
		body.Step = tErr.StepID
		switch {
		case errors.Is(err, domain.ErrUnknownStep):
			body.Kind = "not_found"
			return http.StatusNotFound, body
		case errors.Is(err, domain.ErrBusy):
			body.Kind = "busy"
		case errors.Is(err, domain.ErrSubmitted):
			body.Kind = "invalid_state"
		default:
			body.Kind = "transition"
		}
		return http.StatusConflict, body
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		body.Kind = "timeout"
		return http.StatusServiceUnavailable, body
	}
	body.Kind = "internal"
	return http.StatusInternalServerError, body
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
