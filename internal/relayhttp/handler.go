// Package relayhttp bridges viewer HTTP requests to the Origin tunnel over
// a Relay session: URL parsing, password auth, admission control, and
// request/response multiplexing via relaystore.
package relayhttp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fwdcast/fwdcast/internal/passwd"
	"github.com/fwdcast/fwdcast/internal/relaystore"
	"github.com/fwdcast/fwdcast/internal/wire"
)

const (
	authCookiePrefix = "fwdcast_auth_"
	authCookieMaxAge = 3600
	requestTimeout   = 30 * time.Second
	authPath         = "__auth__"

	ipRateLimit = 10.0 // sustained requests/sec per client IP
	ipRateBurst = 30
)

// Handler serves the viewer-facing HTTP surface described in spec.md §4.4.
type Handler struct {
	Store *relaystore.Store
	Log   *slog.Logger

	ipLimiter *IPRateLimiter
	mux       *http.ServeMux
}

// New builds a Handler bound to store. ctx bounds the lifetime of the
// per-IP rate limiter's background eviction loop.
func New(ctx context.Context, store *relaystore.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		Store:     store,
		Log:       log,
		ipLimiter: NewIPRateLimiter(ctx, ipRateLimit, ipRateBurst),
	}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	h.mux.HandleFunc("/{sid}/", h.handleViewer)
	h.mux.HandleFunc("/{sid}", h.redirectToRoot)
	h.mux.HandleFunc("/", h.handleNotFound)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.ipLimiter.Allow(clientIP(r)) {
		renderRateLimited(w, 1)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	renderError(w, http.StatusNotFound, "No such share.")
}

func (h *Handler) redirectToRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
}

// handleViewer implements spec.md §4.4's algorithm: lookup, auth gate,
// admission, dispatch, wait.
func (h *Handler) handleViewer(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	resourcePath := strings.TrimPrefix(r.URL.Path, "/"+sid+"/")

	sess, err := h.Store.Get(sid)
	if err != nil {
		renderError(w, http.StatusNotFound, "This share has expired or does not exist.")
		return
	}

	if strings.HasPrefix(resourcePath, authPath) {
		h.handleAuthSubflow(w, r, sess, resourcePath)
		return
	}

	if sess.PasswordHash != "" && !h.hasValidAuthCookie(r, sess) {
		redirect := "/" + sid + "/" + resourcePath
		target := "/" + sid + "/" + authPath + "?redirect=" + url.QueryEscape(redirect)
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	h.dispatch(w, r, sess, resourcePath)
}

func (h *Handler) hasValidAuthCookie(r *http.Request, sess *relaystore.Session) bool {
	c, err := r.Cookie(authCookiePrefix + sess.ID)
	if err != nil || c.Value == "" {
		return false
	}
	want := sess.AuthToken()
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(want)) == 1
}

func newAuthToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (h *Handler) handleAuthSubflow(w http.ResponseWriter, r *http.Request, sess *relaystore.Session, resourcePath string) {
	redirect := r.URL.Query().Get("redirect")
	if redirect == "" {
		redirect = "/" + sess.ID + "/"
	}

	switch r.Method {
	case http.MethodGet:
		renderLogin(w, loginPageData{SessionID: sess.ID, Redirect: redirect})

	case http.MethodPost:
		if n, last := sess.AuthFailures(); n >= authFailureBudget && time.Since(last) < authFailureWindow {
			renderRateLimited(w, int(authFailureWindow.Seconds()-time.Since(last).Seconds()))
			return
		}

		if err := r.ParseForm(); err != nil {
			renderLogin(w, loginPageData{SessionID: sess.ID, Redirect: redirect, Error: "malformed form"})
			return
		}
		attempt := r.FormValue("password")

		if passwd.Verify(attempt, sess.PasswordHash) != nil {
			sess.RecordAuthFailure()
			renderLogin(w, loginPageData{SessionID: sess.ID, Redirect: redirect, Error: "incorrect password"})
			return
		}

		sess.ResetAuthFailures()
		token := sess.AuthToken()
		if token == "" {
			var err error
			token, err = newAuthToken()
			if err != nil {
				renderError(w, http.StatusInternalServerError, "Could not complete login.")
				return
			}
			sess.SetAuthToken(token)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     authCookiePrefix + sess.ID,
			Value:    token,
			Path:     "/" + sess.ID,
			MaxAge:   authCookieMaxAge,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, redirect, http.StatusFound)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, sess *relaystore.Session, resourcePath string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := h.Store.IncrementViewers(sess.ID); err != nil {
		if errors.Is(err, relaystore.ErrMaxViewers) {
			w.Header().Set("Retry-After", "30")
			renderError(w, http.StatusServiceUnavailable, "This share is at capacity. Try again shortly.")
			return
		}
		renderError(w, http.StatusNotFound, "This share has expired or does not exist.")
		return
	}
	defer h.Store.DecrementViewers(sess.ID)

	reqID := uuid.New().String()
	pending := relaystore.NewPendingRequest(reqID, w)
	if err := h.Store.AddPending(sess.ID, pending); err != nil {
		renderError(w, http.StatusNotFound, "This share has expired or does not exist.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	frame := wire.NewRequest(reqID, r.Method, resourcePath)
	if err := sess.WriteFrame(ctx, frame); err != nil {
		h.Store.RemovePending(sess.ID, reqID)
		renderError(w, http.StatusGatewayTimeout, "Origin is unreachable.")
		return
	}

	select {
	case <-pending.Done():
	case <-ctx.Done():
		h.Store.RemovePending(sess.ID, reqID)
		renderError(w, http.StatusGatewayTimeout, "Timed out waiting for Origin.")
	}
}
