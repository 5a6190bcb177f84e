package mcp

import "encoding/json"

// ProtocolVersion is the protocol revision this server speaks.
const ProtocolVersion = "2024-11-05"

// Method names handled by the dispatcher.
const (
	InitializeMethod = "initialize"
	ToolsListMethod  = "tools/list"
	ToolsCallMethod  = "tools/call"

	// InitializedNotification is sent by clients once initialization settles.
	InitializedNotification = "notifications/initialized"
	// NotificationPrefix marks the notification-class method namespace.
	NotificationPrefix = "notifications/"
)

// ImplementationInfo describes an implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities advertises client features. The server records them on
// the protocol session but does not act on them.
type ClientCapabilities map[string]json.RawMessage

// ServerCapabilities advertises server features.
type ServerCapabilities struct {
	Experimental map[string]any `json:"experimental"`
	Prompts      *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"prompts,omitempty"`
	Resources *struct {
		Subscribe   bool `json:"subscribe"`
		ListChanged bool `json:"listChanged"`
	} `json:"resources,omitempty"`
	Tools *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
}

// InitializeParams is the params payload of an initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities,omitempty"`
	ClientInfo      ImplementationInfo `json:"clientInfo,omitempty"`
}

// InitializeResult is the result payload of a successful initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
}

// Tool describes a callable tool and its input schema as surfaced by
// tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a JSON-schema-like description of tool input. An empty
// object schema is acceptable for tools that take no arguments.
type ToolInputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

// SchemaProperty is a simplified schema node used in tool input schemas.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitempty"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
}

// ListToolsResult is the result payload of tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams is the params payload of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ContentBlock is a typed content part of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewTextContent builds a text content block.
func NewTextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// CallToolResult is the result payload of tools/call. Tool return values are
// always reduced to text content blocks.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
}
