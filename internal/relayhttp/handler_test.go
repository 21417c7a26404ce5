package relayhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fwdcast/fwdcast/internal/passwd"
	"github.com/fwdcast/fwdcast/internal/relaystore"
	"github.com/fwdcast/fwdcast/internal/wire"
)

type fakeChannel struct {
	mu     sync.Mutex
	writes []any
}

func (f *fakeChannel) WriteJSON(ctx context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) lastRequest() (wire.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.writes) - 1; i >= 0; i-- {
		if req, ok := f.writes[i].(wire.Request); ok {
			return req, true
		}
	}
	return wire.Request{}, false
}

func newTestStore(t *testing.T) *relaystore.Store {
	t.Helper()
	return relaystore.New("", nil)
}

func noRedirect(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}

func TestHealthz(t *testing.T) {
	store := newTestStore(t)
	h := New(context.Background(), store, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleViewerUnknownSessionReturns404(t *testing.T) {
	store := newTestStore(t)
	h := New(context.Background(), store, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nosuchsession/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUnauthenticatedShareRedirectsToLogin(t *testing.T) {
	store := newTestStore(t)
	hash, err := passwd.Hash("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sess, err := store.Create(&fakeChannel{}, time.Now().Add(time.Hour), hash)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h := New(context.Background(), store, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := &http.Client{CheckRedirect: noRedirect}
	resp, err := client.Get(srv.URL + "/" + sess.ID + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.Contains(loc, "__auth__") {
		t.Errorf("redirect location = %q, want __auth__ subpath", loc)
	}
}

func TestAuthSubflowWrongPasswordRerendersLogin(t *testing.T) {
	store := newTestStore(t)
	hash, _ := passwd.Hash("secret")
	sess, err := store.Create(&fakeChannel{}, time.Now().Add(time.Hour), hash)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h := New(context.Background(), store, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	form := url.Values{"password": {"wrong"}}
	resp, err := http.PostForm(srv.URL+"/"+sess.ID+"/__auth__", form)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (re-rendered login)", resp.StatusCode)
	}
	if n, _ := sess.AuthFailures(); n != 1 {
		t.Errorf("auth failures = %d, want 1", n)
	}
}

func TestAuthSubflowCorrectPasswordSetsCookieAndRedirects(t *testing.T) {
	store := newTestStore(t)
	hash, _ := passwd.Hash("secret")
	sess, err := store.Create(&fakeChannel{}, time.Now().Add(time.Hour), hash)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h := New(context.Background(), store, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := &http.Client{CheckRedirect: noRedirect}
	form := url.Values{"password": {"secret"}}
	resp, err := client.PostForm(srv.URL+"/"+sess.ID+"/__auth__", form)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}

	var authCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == authCookiePrefix+sess.ID {
			authCookie = c
		}
	}
	if authCookie == nil {
		t.Fatal("expected auth cookie to be set")
	}
	if authCookie.Value == "secret" {
		t.Error("auth cookie value must not be the plaintext password")
	}
	if authCookie.Value != sess.AuthToken() {
		t.Error("auth cookie value must match the session's opaque auth token")
	}
}

func TestAuthSubflowRateLimitsAfterRepeatedFailures(t *testing.T) {
	store := newTestStore(t)
	hash, _ := passwd.Hash("secret")
	sess, err := store.Create(&fakeChannel{}, time.Now().Add(time.Hour), hash)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < authFailureBudget; i++ {
		sess.RecordAuthFailure()
	}

	h := New(context.Background(), store, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	form := url.Values{"password": {"wrong"}}
	resp, err := http.PostForm(srv.URL+"/"+sess.ID+"/__auth__", form)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestDispatchTimesOutWhenOriginNeverResponds(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create(&fakeChannel{}, time.Now().Add(time.Hour), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h := New(context.Background(), store, nil)
	h.Store = store

	// Exercise dispatch directly with a short timeout so the test stays fast.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+sess.ID+"/file.txt", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 20*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	h.dispatch(rec, req, sess, "file.txt")
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}

func TestDispatchSendsRequestFrameToOrigin(t *testing.T) {
	store := newTestStore(t)
	ch := &fakeChannel{}
	sess, err := store.Create(ch, time.Now().Add(time.Hour), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h := New(context.Background(), store, nil)

	done := make(chan struct{})
	go func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/"+sess.ID+"/file.txt", nil)
		h.dispatch(rec, req, sess, "file.txt")
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if req, ok := ch.lastRequest(); ok {
			if req.Path != "file.txt" || req.Method != http.MethodGet {
				t.Errorf("request frame = %+v, want path=file.txt method=GET", req)
			}
			pending, ok := store.GetPending(sess.ID, req.ID)
			if !ok {
				t.Fatal("expected pending request to be registered")
			}
			pending.Writer.WriteHeader(http.StatusOK)
			pending.Writer.Write([]byte("hello"))
			pending.Fire()
			store.RemovePending(sess.ID, req.ID)
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for request frame")
		case <-time.After(time.Millisecond):
		}
	}
	<-done
}

func TestAtCapacityReturns503(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Create(&fakeChannel{}, time.Now().Add(time.Hour), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < relaystore.MaxViewers; i++ {
		if err := store.IncrementViewers(sess.ID); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	h := New(context.Background(), store, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+sess.ID+"/file.txt", nil)
	h.dispatch(rec, req, sess, "file.txt")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}
