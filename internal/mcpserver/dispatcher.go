package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sjtools/jaccount-mcp-go/internal/jsonrpc"
	"github.com/sjtools/jaccount-mcp-go/internal/logctx"
	"github.com/sjtools/jaccount-mcp-go/internal/mcp"
	"github.com/sjtools/jaccount-mcp-go/internal/sessions"
	"github.com/sjtools/jaccount-mcp-go/internal/tools"
)

// dispatch routes one parsed envelope. It returns a nil response for every
// notification-class outcome; the transport maps that to 202. The second
// return value carries a freshly allocated protocol session id for the
// transport to surface in the Mcp-Session-Id response header.
func (h *Handler) dispatch(ctx context.Context, req *jsonrpc.Request, sessionHeader string) (*jsonrpc.Response, string) {
	// Notification-class methods never get a response, regardless of framing.
	if strings.HasPrefix(req.Method, mcp.NotificationPrefix) {
		if req.Method == mcp.InitializedNotification {
			h.log.InfoContext(ctx, "rpc.client.initialized")
		} else {
			h.log.InfoContext(ctx, "rpc.notification.recv")
		}
		return nil, ""
	}

	if req.IsNotification() {
		switch req.Method {
		case mcp.InitializeMethod, mcp.ToolsListMethod, mcp.ToolsCallMethod:
			// Protocol misuse: these are request-only methods. Notifications
			// never get a response, not even an error.
			h.log.WarnContext(ctx, "rpc.request_method.as_notification")
		default:
			h.log.WarnContext(ctx, "rpc.notification.unknown")
		}
		return nil, ""
	}

	switch req.Method {
	case mcp.InitializeMethod:
		return h.handleInitialize(ctx, req)
	case mcp.ToolsListMethod:
		return h.handleToolsList(ctx, req, sessionHeader), ""
	case mcp.ToolsCallMethod:
		return h.handleToolsCall(ctx, req, sessionHeader), ""
	default:
		h.log.WarnContext(ctx, "rpc.method.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method)), ""
	}
}

func (h *Handler) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, string) {
	var params mcp.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
				"Invalid initialize params: "+err.Error()), ""
		}
	}
	if params.ProtocolVersion == "" {
		params.ProtocolVersion = mcp.ProtocolVersion
	}

	sess := h.sessions.Create(&params)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID,
		ProtocolVersion: sess.ProtocolVersion,
	})

	result := mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Experimental: map[string]any{},
			Prompts: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
			Resources: &struct {
				Subscribe   bool `json:"subscribe"`
				ListChanged bool `json:"listChanged"`
			}{},
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo: mcp.ImplementationInfo{Name: h.serverName, Version: h.serverVer},
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error"), ""
	}

	h.log.InfoContext(ctx, "session.initialize.ok")
	return resp, sess.ID
}

func (h *Handler) handleToolsList(ctx context.Context, req *jsonrpc.Request, sessionHeader string) *jsonrpc.Response {
	if resp := h.checkSession(ctx, req, sessionHeader); resp != nil {
		return resp
	}

	result := mcp.ListToolsResult{Tools: h.registry.List()}
	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		h.log.ErrorContext(ctx, "tools.list.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error")
	}

	h.log.InfoContext(ctx, "tools.list.ok", slog.Int("count", len(result.Tools)))
	return resp
}

func (h *Handler) handleToolsCall(ctx context.Context, req *jsonrpc.Request, sessionHeader string) *jsonrpc.Response {
	if resp := h.checkSession(ctx, req, sessionHeader); resp != nil {
		return resp
	}

	var params mcp.CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
				"Invalid tools/call params: "+err.Error())
		}
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	tool, ok := h.registry.Get(params.Name)
	if !ok {
		h.log.WarnContext(ctx, "tools.call.miss")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			fmt.Sprintf("Tool not found: %s", params.Name))
	}

	tc := tools.NewContext(sessionHeader, h.manager)

	// The auth requirement is enforced here, before the tool body runs or
	// issues any network call of its own.
	if tool.RequiresAuth && !h.manager.IsLoggedIn(ctx) {
		h.log.WarnContext(ctx, "tools.call.unauthenticated")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError,
			fmt.Sprintf("Tool execution failed: tool %s requires a jAccount login", params.Name))
	}

	value, err := h.invokeTool(ctx, tool, tc, params.Arguments)
	if err != nil {
		h.log.WarnContext(ctx, "tools.call.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError,
			"Tool execution failed: "+err.Error())
	}

	text, err := renderToolValue(value)
	if err != nil {
		h.log.ErrorContext(ctx, "tools.call.render.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError,
			"Tool execution failed: "+err.Error())
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.NewTextContent(text)},
	})
	if err != nil {
		h.log.ErrorContext(ctx, "tools.call.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error")
	}

	h.log.InfoContext(ctx, "tools.call.ok")
	return resp
}

// invokeTool runs the tool handler, converting a panic into an error so a
// misbehaving tool can never take down the dispatcher.
func (h *Handler) invokeTool(ctx context.Context, tool tools.Tool, tc *tools.Context, args json.RawMessage) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return tool.Handler(ctx, tc, args)
}

// renderToolValue reduces a tool's return value to text: strings pass
// through, everything else is canonicalized to indented JSON.
func renderToolValue(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize tool result: %w", err)
	}
	return string(data), nil
}

// checkSession validates an optionally supplied protocol session id. A
// missing header is fine; an unknown one is a protocol error.
func (h *Handler) checkSession(ctx context.Context, req *jsonrpc.Request, sessionHeader string) *jsonrpc.Response {
	if sessionHeader == "" {
		return nil
	}
	if _, err := h.sessions.Get(sessionHeader); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			h.log.WarnContext(ctx, "session.unknown", slog.String("session_id", sessionHeader))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest,
				"Bad Request: invalid session ID")
		}
		h.log.ErrorContext(ctx, "session.lookup.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "Internal error")
	}
	return nil
}
