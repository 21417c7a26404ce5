package relayws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/fwdcast/fwdcast/internal/relaystore"
	"github.com/fwdcast/fwdcast/internal/wire"
)

func newTestServer(t *testing.T, store *relaystore.Store) *httptest.Server {
	t.Helper()
	h := New(store, nil)
	return httptest.NewServer(http.HandlerFunc(h.ServeOriginWS))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func writeFrame(t *testing.T, c *websocket.Conn, f wire.Frame) {
	t.Helper()
	data, err := wire.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, c *websocket.Conn) wire.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func TestRegisterHandshake(t *testing.T) {
	store := relaystore.New("", nil)
	srv := newTestServer(t, store)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")

	writeFrame(t, c, wire.NewRegister("shared", time.Now().Add(time.Hour).Unix(), ""))

	f := readFrame(t, c)
	reg, ok := f.(wire.Registered)
	if !ok {
		t.Fatalf("expected Registered frame, got %T", f)
	}
	if reg.SessionID == "" || reg.URL == "" {
		t.Errorf("registered frame incomplete: %+v", reg)
	}
	if store.Count() != 1 {
		t.Errorf("store count = %d, want 1", store.Count())
	}
}

func TestRegisterHashesPassword(t *testing.T) {
	store := relaystore.New("", nil)
	srv := newTestServer(t, store)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")

	writeFrame(t, c, wire.NewRegister("shared", time.Now().Add(time.Hour).Unix(), "hunter2"))
	f := readFrame(t, c).(wire.Registered)

	sess, err := store.Get(f.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.PasswordHash == "" || sess.PasswordHash == "hunter2" {
		t.Errorf("expected password to be hashed, got %q", sess.PasswordHash)
	}
}

func TestResponseDataEndDeliveredToPending(t *testing.T) {
	store := relaystore.New("", nil)
	srv := newTestServer(t, store)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")

	writeFrame(t, c, wire.NewRegister("shared", time.Now().Add(time.Hour).Unix(), ""))
	reg := readFrame(t, c).(wire.Registered)

	w := httptest.NewRecorder()
	p := relaystore.NewPendingRequest("req-1", w)
	if err := store.AddPending(reg.SessionID, p); err != nil {
		t.Fatalf("add pending: %v", err)
	}

	writeFrame(t, c, wire.NewResponse("req-1", 200, map[string]string{"Content-Type": "text/plain"}))
	writeFrame(t, c, wire.NewData("req-1", []byte("hello ")))
	writeFrame(t, c, wire.NewData("req-1", []byte("world")))
	writeFrame(t, c, wire.NewEnd("req-1"))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pending request never completed")
	}

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "hello world" {
		t.Errorf("body = %q, want %q", got, "hello world")
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("content-type = %q, want text/plain", ct)
	}
}

func TestMalformedFrameIsSkippedNotFatal(t *testing.T) {
	store := relaystore.New("", nil)
	srv := newTestServer(t, store)
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close(websocket.StatusNormalClosure, "")

	writeFrame(t, c, wire.NewRegister("shared", time.Now().Add(time.Hour).Unix(), ""))
	reg := readFrame(t, c).(wire.Registered)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"bogus"}`))

	w := httptest.NewRecorder()
	p := relaystore.NewPendingRequest("req-2", w)
	_ = store.AddPending(reg.SessionID, p)
	writeFrame(t, c, wire.NewEnd("req-2"))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection appears to have died on malformed frame")
	}
}
