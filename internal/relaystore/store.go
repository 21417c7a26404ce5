package relaystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fwdcast/fwdcast/internal/wire"
)

// ErrNotFound is returned when a session ID names no live session.
var ErrNotFound = errors.New("session not found")

// ErrMaxViewers is returned by IncrementViewers when the session is already
// at MaxViewers.
var ErrMaxViewers = errors.New("viewer cap reached")

const sweepInterval = 10 * time.Second

// Store holds all live sessions. The map-level lock is distinct from each
// Session's own lock; callers must acquire the store's lock first, never the
// reverse, to avoid lock-order inversion.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	publicBase string
	log        *slog.Logger
}

// New creates an empty Store. publicBase is used to build share URLs; pass
// "" to default to "http://{host}" per request.
func New(publicBase string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		sessions:   make(map[string]*Session),
		publicBase: publicBase,
		log:        log,
	}
}

// Create allocates a fresh session ID (retrying on collision), constructs a
// Session bound to ch, and stores it. Never blocks on I/O.
func (st *Store) Create(ch Channel, expiresAt time.Time, passwordHash string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for attempt := 0; attempt < 10; attempt++ {
		id, err := generateID()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}
		if _, exists := st.sessions[id]; exists {
			continue // collision, vanishingly rare with 48 bits of entropy
		}
		s := newSession(id, ch, expiresAt, passwordHash)
		st.sessions[id] = s
		return s, nil
	}
	return nil, fmt.Errorf("generate session id: exhausted retries")
}

func generateID() (string, error) {
	b := make([]byte, 6) // 48 bits of entropy
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Get returns the live session for id. If the session exists but has
// expired, it is removed (firing Done on its pending requests) and ErrNotFound
// is returned.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(s.ExpiresAt) || time.Now().Equal(s.ExpiresAt) {
		st.Remove(id)
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove fires Done on every pending request for id, then deletes it.
// Idempotent: removing a nonexistent or already-removed ID is a no-op.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if !ok {
		return
	}
	s.drainPending()
}

// Expire best-effort notifies Origin, closes the channel, then removes the
// session. Never blocks other sessions — the channel write has its own
// short timeout.
func (st *Store) Expire(id string) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WriteFrame(ctx, wire.NewExpired()); err != nil {
		st.log.Warn("expire: failed to notify origin", "session", id, "err", err)
	}
	if err := s.Channel.Close(); err != nil {
		st.log.Debug("expire: channel close error", "session", id, "err", err)
	}

	st.Remove(id)
}

// IncrementViewers admits a viewer to session id.
func (st *Store) IncrementViewers(id string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	if !s.IncrementViewers() {
		return ErrMaxViewers
	}
	return nil
}

// DecrementViewers releases one viewer slot on session id. A no-op if the
// session is gone or already at zero.
func (st *Store) DecrementViewers(id string) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return
	}
	s.DecrementViewers()
}

// AddPending registers a pending request on session sid.
func (st *Store) AddPending(sid string, p *PendingRequest) error {
	s, err := st.Get(sid)
	if err != nil {
		return err
	}
	s.AddPending(p)
	return nil
}

// GetPending looks up a pending request by session and request ID.
func (st *Store) GetPending(sid, rid string) (*PendingRequest, bool) {
	st.mu.RLock()
	s, ok := st.sessions[sid]
	st.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.GetPending(rid)
}

// RemovePending deletes a pending request entry. Idempotent.
func (st *Store) RemovePending(sid, rid string) {
	st.mu.RLock()
	s, ok := st.sessions[sid]
	st.mu.RUnlock()
	if !ok {
		return
	}
	s.RemovePending(rid)
}

// PublicURL builds the share URL for a session, using the configured
// publicBase or falling back to http://{host}/.
func (st *Store) PublicURL(sessionID, host string) string {
	base := st.publicBase
	if base == "" {
		base = "http://" + host
	}
	return base + "/" + sessionID + "/"
}

// Count returns the number of live sessions (including any that have expired
// but not yet been swept — callers wanting only live sessions should use Get).
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// StartSweeper runs the expiry sweeper until ctx is cancelled. Each tick
// snapshots expired session IDs under a read lock, then expires each outside
// the lock so a slow Expire call never blocks other sessions.
func (st *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.sweepOnce()
			}
		}
	}()
}

func (st *Store) sweepOnce() {
	now := time.Now()
	st.mu.RLock()
	var expired []string
	for id, s := range st.sessions {
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	st.mu.RUnlock()

	for _, id := range expired {
		st.Expire(id)
	}
}
