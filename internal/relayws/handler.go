// Package relayws implements the Relay-side half of the Origin↔Relay duplex
// WebSocket loop: accepting the Origin connection, registering a session, and
// dispatching inbound RESPONSE/DATA/END frames to the viewer requests that
// are waiting on them.
package relayws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/fwdcast/fwdcast/internal/passwd"
	"github.com/fwdcast/fwdcast/internal/relaystore"
	"github.com/fwdcast/fwdcast/internal/wire"
)

const (
	readLimitBytes = 1 << 20 // 1MiB: comfortably above MaxChunkBytes plus base64 + JSON overhead
	writeTimeout   = 10 * time.Second
	registerWindow = 5 * time.Second
)

// conn adapts *websocket.Conn to relaystore.Channel.
type conn struct {
	ws *websocket.Conn
}

func (c conn) WriteJSON(ctx context.Context, v any) error {
	data, err := wire.Encode(v.(wire.Frame))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}

func (c conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// Handler owns the session store and exposes the Origin-facing upgrade
// endpoint.
type Handler struct {
	Store *relaystore.Store
	Log   *slog.Logger

	// MaxDuration bounds how far in the future ExpiresAt may be set by a
	// Register frame. Zero disables the cap.
	MaxDuration time.Duration
}

// New builds a Handler bound to store.
func New(store *relaystore.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Store: store, Log: log}
}

// ServeOriginWS upgrades the request to a WebSocket, waits for a single
// REGISTER frame, creates the session, replies with REGISTERED, then runs the
// read loop until the Origin disconnects.
func (h *Handler) ServeOriginWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		h.Log.Warn("origin ws accept failed", "err", err)
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(readLimitBytes)

	ctx := r.Context()

	regCtx, cancel := context.WithTimeout(ctx, registerWindow)
	reg, err := h.readRegister(regCtx, ws)
	cancel()
	if err != nil {
		h.Log.Warn("origin register failed", "err", err)
		h.writeError(ctx, ws, "registration timed out or malformed")
		return
	}

	expiresAt := time.Unix(reg.ExpiresAt, 0)
	if h.MaxDuration > 0 {
		if cap := time.Now().Add(h.MaxDuration); expiresAt.After(cap) {
			expiresAt = cap
		}
	}

	var passwordHash string
	if reg.Password != "" {
		passwordHash, err = passwd.Hash(reg.Password)
		if err != nil {
			h.Log.Error("password hash failed", "err", err)
			h.writeError(ctx, ws, "internal error")
			return
		}
	}

	sess, err := h.Store.Create(conn{ws: ws}, expiresAt, passwordHash)
	if err != nil {
		h.Log.Error("session create failed", "err", err)
		h.writeError(ctx, ws, "internal error")
		return
	}
	h.Log.Info("session registered", "session", sess.ID, "expires_at", expiresAt)

	publicURL := h.Store.PublicURL(sess.ID, r.Host)
	if err := sess.WriteFrame(ctx, wire.NewRegistered(sess.ID, publicURL)); err != nil {
		h.Log.Warn("failed to write registered frame", "session", sess.ID, "err", err)
		h.Store.Remove(sess.ID)
		return
	}

	h.readLoop(ctx, sess, ws)
	h.Store.Remove(sess.ID)
}

func (h *Handler) readRegister(ctx context.Context, ws *websocket.Conn) (wire.Register, error) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return wire.Register{}, err
	}
	f, err := wire.Decode(data)
	if err != nil {
		return wire.Register{}, err
	}
	reg, ok := f.(wire.Register)
	if !ok {
		return wire.Register{}, errors.New("first frame was not register")
	}
	return reg, nil
}

func (h *Handler) writeError(ctx context.Context, ws *websocket.Conn, msg string) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = ws.Write(writeCtx, websocket.MessageText, []byte(`{"type":"error","message":"`+msg+`"}`))
}

// readLoop dispatches inbound RESPONSE/DATA/END frames from Origin to the
// pending viewer request they answer, until the connection errors out.
func (h *Handler) readLoop(ctx context.Context, sess *relaystore.Session, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			h.Log.Debug("origin read loop ended", "session", sess.ID, "err", err)
			return
		}

		f, err := wire.Decode(data)
		if err != nil {
			h.Log.Warn("malformed frame from origin", "session", sess.ID, "err", err)
			continue
		}

		switch frame := f.(type) {
		case wire.Response:
			h.handleResponse(sess, frame)
		case wire.Data:
			h.handleData(sess, frame)
		case wire.End:
			h.handleEnd(sess, frame)
		default:
			h.Log.Warn("unexpected frame type from origin", "session", sess.ID, "type", frame.FrameType())
		}
	}
}

func (h *Handler) handleResponse(sess *relaystore.Session, f wire.Response) {
	p, ok := sess.GetPending(f.ID)
	if !ok {
		return
	}
	if p.Writer == nil {
		return
	}
	hdr := p.Writer.Header()
	for k, v := range f.Headers {
		hdr.Set(k, v)
	}
	p.Writer.WriteHeader(f.Status)
	sess.SetResponseState(f.ID, &relaystore.ResponseState{HeadersWritten: true})
}

func (h *Handler) handleData(sess *relaystore.Session, f wire.Data) {
	p, ok := sess.GetPending(f.ID)
	if !ok || p.Writer == nil {
		return
	}
	raw, err := wire.DecodeChunk(f.Chunk)
	if err != nil {
		h.Log.Warn("bad data chunk", "session", sess.ID, "request", f.ID, "err", err)
		return
	}
	if _, err := p.Writer.Write(raw); err != nil {
		h.Log.Debug("viewer write failed, dropping request", "session", sess.ID, "request", f.ID, "err", err)
		return
	}
	if st, ok := sess.GetResponseState(f.ID); ok && st.Flusher != nil {
		st.Flusher.Flush()
	}
}

func (h *Handler) handleEnd(sess *relaystore.Session, f wire.End) {
	p, ok := sess.GetPending(f.ID)
	if ok {
		p.Fire()
	}
	sess.RemovePending(f.ID)
	sess.SetResponseState(f.ID, nil)
}
