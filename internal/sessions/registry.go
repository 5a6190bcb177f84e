// Package sessions tracks protocol sessions created by initialize requests.
//
// A protocol session is distinct from the authenticated jAccount session: it
// is a server-side record of a single client's negotiated protocol state,
// keyed by an opaque identifier the client echoes back in the mcp-session-id
// header.
package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjtools/jaccount-mcp-go/internal/mcp"
)

var ErrSessionNotFound = errors.New("protocol session not found")

// Session is an immutable record of a negotiated protocol session.
type Session struct {
	ID              string
	ProtocolVersion string
	ClientInfo      mcp.ImplementationInfo
	Capabilities    mcp.ClientCapabilities
	CreatedAt       time.Time
}

// Registry is an in-memory protocol session store. Sessions are created by
// initialize and retained for the lifetime of the process; there is no
// eviction sweep.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create allocates a new session with a freshly generated identifier and
// records the client's requested protocol version and capabilities.
func (r *Registry) Create(params *mcp.InitializeParams) *Session {
	sess := &Session{
		ID:              uuid.NewString(),
		ProtocolVersion: params.ProtocolVersion,
		ClientInfo:      params.ClientInfo,
		Capabilities:    params.Capabilities,
		CreatedAt:       time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
	return sess
}

// Get returns the session for the given identifier.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Len reports the number of sessions created so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
