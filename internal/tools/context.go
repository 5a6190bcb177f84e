package tools

import (
	"context"
	"net/http"

	"github.com/sjtools/jaccount-mcp-go/internal/jaccount"
)

// Context is the per-invocation collaborator surface handed to every tool
// handler: the protocol session that issued the call (if any) and the shared
// authenticated jAccount session.
type Context struct {
	sessionID string
	manager   *jaccount.Manager
}

func NewContext(sessionID string, manager *jaccount.Manager) *Context {
	return &Context{sessionID: sessionID, manager: manager}
}

// SessionID returns the protocol session identifier the caller supplied, or
// "" when the call arrived without one.
func (c *Context) SessionID() string {
	return c.sessionID
}

// IsLoggedIn reports whether the shared jAccount session is live.
func (c *Context) IsLoggedIn(ctx context.Context) bool {
	return c.manager.IsLoggedIn(ctx)
}

// HTTPClient returns the HTTP client bound to the authenticated cookie jar.
func (c *Context) HTTPClient() *http.Client {
	return c.manager.Client()
}
