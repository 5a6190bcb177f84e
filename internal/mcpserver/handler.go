// Package mcpserver implements the streamable HTTP transport and the JSON-RPC
// dispatcher in front of the campus tool registry.
package mcpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/sjtools/jaccount-mcp-go/internal/jaccount"
	"github.com/sjtools/jaccount-mcp-go/internal/jsonrpc"
	"github.com/sjtools/jaccount-mcp-go/internal/logctx"
	"github.com/sjtools/jaccount-mcp-go/internal/sessions"
	"github.com/sjtools/jaccount-mcp-go/internal/tools"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

	jsonMediaTypes        = []contenttype.MediaType{jsonMediaType}
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader = "Mcp-Session-Id"

	// serverErrorID marks transport-level error envelopes produced before a
	// request id is known.
	serverErrorID = "server-error"

	defaultPingInterval = 30 * time.Second
)

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger        *slog.Logger
	serverName    string
	serverVersion string
	pingInterval  time.Duration
}

// WithLogger sets the slog logger used by the server. If not provided, logs
// are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithServerInfo sets the name and version advertised in initialize results.
func WithServerInfo(name, version string) Option {
	return func(c *newConfig) { c.serverName = name; c.serverVersion = version }
}

// WithPingInterval overrides the keep-alive stream's ping interval. Used by
// tests.
func WithPingInterval(d time.Duration) Option {
	return func(c *newConfig) { c.pingInterval = d }
}

// Handler serves the /mcp endpoint: plain JSON or single-shot event-stream
// responses on POST, and a long-lived keep-alive stream on GET.
type Handler struct {
	mux          *http.ServeMux
	log          *slog.Logger
	manager      *jaccount.Manager
	registry     *tools.Registry
	sessions     *sessions.Registry
	serverName   string
	serverVer    string
	pingInterval time.Duration
}

var _ http.Handler = (*Handler)(nil)

// New constructs a Handler over the shared jAccount manager and the frozen
// tool registry.
func New(manager *jaccount.Manager, registry *tools.Registry, opts ...Option) *Handler {
	cfg := &newConfig{
		serverName:    "jAccount MCP Server",
		serverVersion: "1.0.0",
		pingInterval:  defaultPingInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &Handler{
		log:          slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		manager:      manager,
		registry:     registry,
		sessions:     sessions.NewRegistry(),
		serverName:   cfg.serverName,
		serverVer:    cfg.serverVersion,
		pingInterval: cfg.pingInterval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", h.handlePostMCP)
	mux.HandleFunc("POST /mcp/{$}", h.handlePostMCP)
	mux.HandleFunc("GET /mcp", h.handleGetMCP)
	mux.HandleFunc("GET /mcp/{$}", h.handleGetMCP)
	h.mux = mux
	return h
}

// Sessions exposes the protocol session registry.
func (h *Handler) Sessions() *sessions.Registry {
	return h.sessions
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// writeRPCError emits a JSON-RPC error envelope at the transport layer,
// before (or instead of) normal dispatch.
func writeRPCError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, message string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	resp := jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(serverErrorID), code, message)
	_ = json.NewEncoder(w).Encode(resp)
}

// responseMode is the negotiated delivery format for a POST response.
type responseMode int

const (
	modeJSON responseMode = iota
	modeEventStream
)

// negotiate picks the response delivery format. JSON is preferred whenever
// the client accepts it; the single-shot event stream is used only when the
// client accepts event streams and not JSON.
func negotiate(r *http.Request) (responseMode, bool) {
	if r.Header.Get("Accept") == "" {
		return 0, false
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err == nil {
		return modeJSON, true
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err == nil {
		return modeEventStream, true
	}
	return 0, false
}

// handlePostMCP handles POST /mcp: one JSON-RPC envelope in, at most one
// response out.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	defer func() {
		if rec := recover(); rec != nil {
			h.log.ErrorContext(ctx, "http.post.panic", slog.Any("panic", rec))
			writeRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, fmt.Sprintf("Internal error: %v", rec))
		}
	}()

	mode, ok := negotiate(r)
	if !ok {
		h.log.WarnContext(ctx, "accept.unacceptable", slog.String("accept", r.Header.Get("Accept")))
		writeRPCError(w, http.StatusNotAcceptable, jsonrpc.ErrorCodeInvalidRequest,
			"Not Acceptable: client must accept application/json or text/event-stream")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil || len(body) == 0 {
		h.log.WarnContext(ctx, "http.body.read.fail")
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "Parse error: empty or unreadable body")
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.log.WarnContext(ctx, "jsonrpc.parse.fail", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "Parse error: "+err.Error())
		return
	}

	msgType := "request"
	if req.IsNotification() {
		msgType = "notification"
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   msgType,
	})

	resp, newSessionID := h.dispatch(ctx, &req, r.Header.Get(mcpSessionIDHeader))

	// Notifications (and notification-class methods) produce no body.
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "rpc.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	if newSessionID != "" {
		w.Header().Set(mcpSessionIDHeader, newSessionID)
	}

	switch mode {
	case modeJSON:
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
			return
		}
	case modeEventStream:
		if err := h.writeEventStreamResponse(w, resp); err != nil {
			h.log.ErrorContext(ctx, "sse.response.write.fail", slog.String("err", err.Error()))
			return
		}
	}

	h.log.InfoContext(ctx, "rpc.ok", slog.Duration("dur", time.Since(start)))
}

// writeEventStreamResponse delivers one response as a short event stream: a
// message event carrying the response JSON, then a done event.
func (h *Handler) writeEventStreamResponse(w http.ResponseWriter, resp *jsonrpc.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "event: done\ndata: {}\n\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// handleGetMCP handles GET /mcp: an unbounded keep-alive event stream. The
// stream ends when the client disconnects, observed as a failed write.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); r.Header.Get("Accept") == "" || err != nil {
		h.log.WarnContext(ctx, "http.get.unacceptable", slog.String("accept", r.Header.Get("Accept")))
		writeRPCError(w, http.StatusMethodNotAllowed, jsonrpc.ErrorCodeMethodNotFound,
			"Method Not Allowed: GET requires Accept: text/event-stream")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.log.InfoContext(ctx, "sse.keepalive.start")

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		if _, err := io.WriteString(w, "event: ping\ndata: {}\n\n"); err != nil {
			h.log.InfoContext(ctx, "sse.keepalive.end", slog.String("reason", "write failed"))
			return
		}
		f.Flush()

		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.keepalive.end", slog.String("reason", "client disconnected"))
			return
		case <-ticker.C:
		}
	}
}
