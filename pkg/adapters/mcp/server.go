package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/stepflow/internal/logging"
	"github.com/aretw0/stepflow/internal/presentation/graph"
	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/ports"
	"github.com/aretw0/stepflow/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

// StateResponse is the result of every instance tool.
type StateResponse struct {
	State    *domain.State   `json:"state" jsonschema_description:"Snapshot of the flow instance"`
	Step     *domain.Step    `json:"step,omitempty" jsonschema_description:"Definition of the current step"`
	Path     []string        `json:"path" jsonschema_description:"Steps not skipped under the current answers"`
	Complete bool            `json:"complete" jsonschema_description:"True once the last eligible step is done"`
	Result   json.RawMessage `json:"result,omitempty" jsonschema_description:"Backend payload of a completion or action call"`
}

// FlowsResponse lists the registered flows.
type FlowsResponse struct {
	Flows []string `json:"flows" jsonschema_description:"Names of the flows that can be started"`
}

// Server exposes a session.Manager as an MCP server.
type Server struct {
	manager   *session.Manager
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(mgr *session.Manager, version string, opts ...Option) *Server {
	s := &Server{
		manager:   mgr,
		mcpServer: server.NewMCPServer("stepflow-mcp", strings.TrimSpace(version)),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the MCP SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func instanceTool(name, description string, extra ...mcp.ToolOption) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(description),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Flow instance ID returned by start_flow")),
	}
	opts = append(opts, extra...)
	opts = append(opts, mcp.WithOutputSchema[StateResponse]())
	return mcp.NewTool(name, opts...)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_flows",
		mcp.WithDescription("List the flows that can be started."),
		mcp.WithOutputSchema[FlowsResponse](),
	), mcp.NewStructuredToolHandler(s.handleListFlows))

	s.mcpServer.AddTool(mcp.NewTool("start_flow",
		mcp.WithDescription("Start a new instance of a flow at its first eligible step."),
		mcp.WithString("flow", mcp.Required(), mcp.Description("Flow name")),
		mcp.WithString("context", mcp.Description("JSON object of host parameters (e.g. session_id)")),
		mcp.WithOutputSchema[StateResponse](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(instanceTool("get_state", "Get the current state of a flow instance."),
		mcp.NewStructuredToolHandler(s.handleGetState))

	s.mcpServer.AddTool(instanceTool("record_answer", "Record (replace) the answer of a step without moving.",
		mcp.WithString("step", mcp.Required(), mcp.Description("Step ID")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Answer; parsed as JSON when valid, otherwise kept as text")),
	), mcp.NewStructuredToolHandler(s.handleRecordAnswer))

	s.mcpServer.AddTool(instanceTool("choose", "Record an answer and follow the step's shortcut or auto-advance rule.",
		mcp.WithString("step", mcp.Required(), mcp.Description("Step ID")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Answer; parsed as JSON when valid, otherwise kept as text")),
	), mcp.NewStructuredToolHandler(s.handleChoose))

	s.mcpServer.AddTool(instanceTool("advance", "Move to the next eligible step after validating the current one."),
		mcp.NewStructuredToolHandler(s.navigate((*runtime.Controller).Advance)))
	s.mcpServer.AddTool(instanceTool("retreat", "Move back to the step the current one was reached from."),
		mcp.NewStructuredToolHandler(s.navigate((*runtime.Controller).Retreat)))
	s.mcpServer.AddTool(instanceTool("forward", "Re-enter the step most recently left by retreat."),
		mcp.NewStructuredToolHandler(s.navigate((*runtime.Controller).Forward)))
	s.mcpServer.AddTool(instanceTool("mark_done", "Mark the last eligible step as done."),
		mcp.NewStructuredToolHandler(s.navigate((*runtime.Controller).MarkDone)))

	s.mcpServer.AddTool(instanceTool("jump_to", "Jump directly to a step. The current step is not validated.",
		mcp.WithString("step", mcp.Required(), mcp.Description("Target step ID")),
	), mcp.NewStructuredToolHandler(s.handleJumpTo))

	s.mcpServer.AddTool(instanceTool("complete_flow", "Submit the flow: validates every required step, then sends the completion call."),
		mcp.NewStructuredToolHandler(s.handleComplete))

	s.mcpServer.AddTool(instanceTool("run_action", "Send a side call bound to the current step.",
		mcp.WithString("action", mcp.Required(), mcp.Description("Action name")),
	), mcp.NewStructuredToolHandler(s.handleRunAction))
}

func (s *Server) registerResources() {
	for _, name := range s.manager.Flows().Names() {
		uri := "stepflow://flows/" + name
		s.mcpServer.AddResource(mcp.NewResource(uri, fmt.Sprintf("Flow %s (Mermaid)", name),
			mcp.WithMIMEType("text/plain"),
		), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			def, err := s.manager.Flows().Get(name)
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      uri,
					MIMEType: "text/plain",
					Text:     graph.GenerateMermaid(def, nil),
				},
			}, nil
		})
	}
}

func (s *Server) handleListFlows(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (FlowsResponse, error) {
	return FlowsResponse{Flows: s.manager.Flows().Names()}, nil
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	name, _ := args["flow"].(string)
	params := map[string]any{}
	if ctxStr, ok := args["context"].(string); ok && ctxStr != "" {
		if err := json.Unmarshal([]byte(ctxStr), &params); err != nil {
			return StateResponse{}, fmt.Errorf("context must be a JSON object: %w", err)
		}
	}

	state, err := s.manager.Start(ctx, name, params)
	if err != nil {
		return StateResponse{}, err
	}
	return s.response(state, nil)
}

func (s *Server) handleGetState(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	id, _ := args["instance_id"].(string)
	state, err := s.manager.Load(ctx, id)
	if err != nil {
		return StateResponse{}, err
	}
	return s.response(state, nil)
}

func (s *Server) handleRecordAnswer(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	step, _ := args["step"].(string)
	value := parseValue(args["value"])
	return s.apply(ctx, args, func(_ context.Context, c *runtime.Controller) error {
		return c.RecordAnswer(step, value)
	})
}

func (s *Server) handleChoose(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	step, _ := args["step"].(string)
	value := parseValue(args["value"])
	return s.apply(ctx, args, func(ctx context.Context, c *runtime.Controller) error {
		return c.Choose(ctx, step, value)
	})
}

func (s *Server) handleJumpTo(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	step, _ := args["step"].(string)
	return s.apply(ctx, args, func(ctx context.Context, c *runtime.Controller) error {
		return c.JumpTo(ctx, step)
	})
}

func (s *Server) navigate(op func(*runtime.Controller, context.Context) error) func(context.Context, mcp.CallToolRequest, map[string]interface{}) (StateResponse, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
		return s.apply(ctx, args, func(ctx context.Context, c *runtime.Controller) error {
			return op(c, ctx)
		})
	}
}

func (s *Server) handleComplete(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	id, _ := args["instance_id"].(string)
	result, state, err := s.manager.Submit(ctx, id)
	if err != nil {
		s.logger.Warn("MCP complete_flow failed", "instance", id, "error", err)
		return StateResponse{}, err
	}
	return s.response(state, result)
}

func (s *Server) handleRunAction(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	id, _ := args["instance_id"].(string)
	action, _ := args["action"].(string)
	result, state, err := s.manager.RunAction(ctx, id, action)
	if err != nil {
		s.logger.Warn("MCP run_action failed", "instance", id, "action", action, "error", err)
		return StateResponse{}, err
	}
	return s.response(state, result)
}

func (s *Server) apply(ctx context.Context, args map[string]interface{}, op func(context.Context, *runtime.Controller) error) (StateResponse, error) {
	id, _ := args["instance_id"].(string)
	state, err := s.manager.Do(ctx, id, op)
	if err != nil {
		return StateResponse{}, err
	}
	return s.response(state, nil)
}

var viewCaller = ports.CallerFunc(func(context.Context, string, map[string]any) (json.RawMessage, error) {
	return nil, errors.New("calls are not available on a view")
})

func (s *Server) response(state *domain.State, result json.RawMessage) (StateResponse, error) {
	def, err := s.manager.Flows().Get(state.FlowID)
	if err != nil {
		return StateResponse{}, err
	}
	c, err := runtime.Restore(def, state, viewCaller)
	if err != nil {
		return StateResponse{}, err
	}
	resp := StateResponse{
		State:    state,
		Path:     c.Path(),
		Complete: c.IsComplete(),
		Result:   result,
	}
	if state.Status != domain.StatusNotStarted {
		step := c.CurrentStep()
		resp.Step = &step
	}
	return resp, nil
}

// parseValue decodes JSON answers (objects, numbers, booleans) and keeps anything else as text.
func parseValue(raw any) any {
	str, ok := raw.(string)
	if !ok {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(str), &v); err == nil {
		return v
	}
	return str
}
