// Package relaystore implements the Relay's session lifecycle: creation,
// lookup, expiry, viewer admission counters, and per-request pending state.
package relaystore

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// MaxViewers is the constant per-session viewer cap (spec §3).
const MaxViewers = 3

// Channel is the duplex transport to an Origin. Session.WriteFrame
// serializes WriteJSON calls made through it under the session's write mutex.
type Channel interface {
	WriteJSON(ctx context.Context, v any) error
	Close() error
}

// PendingRequest is a viewer HTTP request awaiting a response from Origin.
type PendingRequest struct {
	ID     string
	Writer ResponseWriter
	done   chan struct{}
	once   sync.Once
}

// ResponseWriter is the minimal viewer-side response sink the duplex loop
// writes into. http.ResponseWriter satisfies it directly.
type ResponseWriter interface {
	Header() http.Header
	WriteHeader(status int)
	Write([]byte) (int, error)
}

// NewPendingRequest creates a PendingRequest with an unfired done signal.
func NewPendingRequest(id string, w ResponseWriter) *PendingRequest {
	return &PendingRequest{ID: id, Writer: w, done: make(chan struct{})}
}

// Done returns a channel that is closed when the request completes
// (END received, session removed, or caller times out).
func (p *PendingRequest) Done() <-chan struct{} { return p.done }

// Fire signals completion. Safe to call multiple times or concurrently.
func (p *PendingRequest) Fire() {
	p.once.Do(func() { close(p.done) })
}

// ResponseState is transient per-request streaming state, alive between the
// first RESPONSE frame and the END frame for a given request ID.
type ResponseState struct {
	HeadersWritten bool
	Flusher        Flusher
}

// Flusher is satisfied by http.Flusher.
type Flusher interface {
	Flush()
}

// Session is one active Origin↔Relay binding.
type Session struct {
	ID           string
	Channel      Channel
	ExpiresAt    time.Time
	PasswordHash string // empty ⇒ unauthenticated share

	mu          sync.Mutex
	viewerCount int
	pending     map[string]*PendingRequest
	responses   map[string]*ResponseState
	failedAuth  int
	lastFailure time.Time
	authToken   string

	writeMu sync.Mutex // serializes Channel.WriteJSON across callers
}

func newSession(id string, ch Channel, expiresAt time.Time, passwordHash string) *Session {
	return &Session{
		ID:           id,
		Channel:      ch,
		ExpiresAt:    expiresAt,
		PasswordHash: passwordHash,
		pending:      make(map[string]*PendingRequest),
		responses:    make(map[string]*ResponseState),
	}
}

// WriteFrame serializes access to the underlying channel.
func (s *Session) WriteFrame(ctx context.Context, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.Channel.WriteJSON(ctx, v)
}

// ViewerCount returns the current admitted viewer count.
func (s *Session) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewerCount
}

// IncrementViewers admits one more viewer if under the cap. Returns false if
// the session is already at MaxViewers.
func (s *Session) IncrementViewers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewerCount >= MaxViewers {
		return false
	}
	s.viewerCount++
	return true
}

// DecrementViewers clamps at zero; a no-op when already zero.
func (s *Session) DecrementViewers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewerCount > 0 {
		s.viewerCount--
	}
}

// AddPending registers a PendingRequest keyed by its ID.
func (s *Session) AddPending(p *PendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.ID] = p
}

// GetPending looks up a PendingRequest by ID.
func (s *Session) GetPending(id string) (*PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	return p, ok
}

// RemovePending deletes a PendingRequest entry. Idempotent.
func (s *Session) RemovePending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// SetResponseState records (or clears, if state is nil) response streaming
// state for a request ID.
func (s *Session) SetResponseState(id string, state *ResponseState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == nil {
		delete(s.responses, id)
		return
	}
	s.responses[id] = state
}

// GetResponseState returns the response state for a request ID, if any.
func (s *Session) GetResponseState(id string) (*ResponseState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.responses[id]
	return st, ok
}

// drainPending fires Done() on every pending request and clears the map.
// Called by the store during remove/expire.
func (s *Session) drainPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*PendingRequest)
	s.responses = make(map[string]*ResponseState)
	s.mu.Unlock()

	for _, p := range pending {
		p.Fire()
	}
}

// RecordAuthFailure increments the failed-auth counter and timestamps it.
// Returns the new count and the failure time.
func (s *Session) RecordAuthFailure() (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedAuth++
	s.lastFailure = time.Now()
	return s.failedAuth, s.lastFailure
}

// AuthFailures returns the current failure count and the time of the most
// recent failure.
func (s *Session) AuthFailures() (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedAuth, s.lastFailure
}

// ResetAuthFailures clears the failure counter after a successful auth.
func (s *Session) ResetAuthFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedAuth = 0
}

// SetAuthToken records the opaque token issued to a viewer after a
// successful password check, so later requests can be recognized via the
// fwdcast_auth_{sid} cookie without re-submitting the password.
func (s *Session) SetAuthToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authToken = token
}

// AuthToken returns the currently valid auth token, if one has been issued.
func (s *Session) AuthToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authToken
}
