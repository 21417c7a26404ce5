package originfs

import (
	"errors"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/fwdcast/fwdcast/internal/wire"
)

// Emit sends one wire frame for the request currently being serviced.
type Emit func(wire.Frame) error

// Servicer turns a viewer-bound REQUEST into RESPONSE/DATA*/END frames
// against a single shared directory, per spec.md §4.5 steps 1-6.
type Servicer struct {
	Base     string
	Renderer Renderer
	Zipper   Zipper
	Scanner  Scanner
}

// NewServicer builds a Servicer with the default renderer/zipper/scanner.
func NewServicer(base string) *Servicer {
	return &Servicer{
		Base:     base,
		Renderer: DefaultRenderer{},
		Zipper:   DefaultZipper{},
		Scanner:  DefaultScanner{},
	}
}

// Service normalizes and resolves reqPath, then streams the appropriate
// response through emit. It returns an error only when emit itself fails
// (the underlying channel is gone); all other failures are translated into
// an HTTP-shaped RESPONSE+END pair and reported via a nil error.
func (s *Servicer) Service(id, method, reqPath, sessionID string, emit Emit) error {
	decoded, err := url.PathUnescape(reqPath)
	if err != nil {
		decoded = reqPath
	}
	norm := NormalizePath(decoded)

	if subdir, ok := IsZipRequest(norm); ok {
		return s.serveZip(id, method, subdir, emit)
	}

	resolved, err := ResolvePath(s.Base, norm)
	if errors.Is(err, ErrForbiddenPath) {
		return respondEmpty(id, 403, emit)
	}
	if err != nil {
		return respondEmpty(id, 500, emit)
	}

	info, err := os.Stat(resolved)
	switch {
	case os.IsNotExist(err):
		return respondEmpty(id, 404, emit)
	case err != nil:
		return respondEmpty(id, 500, emit)
	case info.IsDir():
		return s.serveDirectory(id, method, resolved, norm, sessionID, emit)
	default:
		return s.serveFile(id, method, resolved, info.Size(), emit)
	}
}

func (s *Servicer) serveDirectory(id, method, resolved, dirPath, sessionID string, emit Emit) error {
	entries, err := s.Scanner.Scan(resolved)
	if err != nil {
		return respondEmpty(id, 500, emit)
	}
	body, err := s.Renderer.RenderDirectory(entries, dirPath, sessionID)
	if err != nil {
		return respondEmpty(id, 500, emit)
	}
	return respondBody(id, method, 200, "text/html; charset=utf-8", body, emit)
}

func (s *Servicer) serveFile(id, method, resolved string, size int64, emit Emit) error {
	if err := emit(wire.NewResponse(id, 200, map[string]string{
		"Content-Type":   ContentType(resolved),
		"Content-Length": strconv.FormatInt(size, 10),
	})); err != nil {
		return err
	}
	if method == "HEAD" {
		return emit(wire.NewEnd(id))
	}

	f, err := os.Open(resolved)
	if err != nil {
		// RESPONSE already sent; surface failure by ending the stream short.
		// The viewer sees a truncated body, consistent with "never kill the
		// session" for Origin-side I/O errors.
		return emit(wire.NewEnd(id))
	}
	defer f.Close()

	buf := make([]byte, wire.MaxChunkBytes)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := emit(wire.NewData(id, buf[:n])); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			break
		}
	}
	return emit(wire.NewEnd(id))
}

func (s *Servicer) serveZip(id, method, subdir string, emit Emit) error {
	resolved, err := ResolvePath(s.Base, subdir)
	if errors.Is(err, ErrForbiddenPath) {
		return respondEmpty(id, 403, emit)
	}
	if err != nil {
		return respondEmpty(id, 500, emit)
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return respondEmpty(id, 404, emit)
	}

	if err := emit(wire.NewResponse(id, 200, map[string]string{
		"Content-Type": "application/zip",
	})); err != nil {
		return err
	}
	if method == "HEAD" {
		return emit(wire.NewEnd(id))
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.Zipper.BuildZip(pw, resolved))
	}()

	buf := make([]byte, wire.MaxChunkBytes)
	for {
		n, readErr := pr.Read(buf)
		if n > 0 {
			if err := emit(wire.NewData(id, buf[:n])); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			break
		}
	}
	return emit(wire.NewEnd(id))
}

func respondEmpty(id string, status int, emit Emit) error {
	if err := emit(wire.NewResponse(id, status, map[string]string{})); err != nil {
		return err
	}
	return emit(wire.NewEnd(id))
}

func respondBody(id, method string, status int, contentType string, body []byte, emit Emit) error {
	if err := emit(wire.NewResponse(id, status, map[string]string{
		"Content-Type":   contentType,
		"Content-Length": strconv.Itoa(len(body)),
	})); err != nil {
		return err
	}
	if method == "HEAD" {
		return emit(wire.NewEnd(id))
	}
	for off := 0; off < len(body); off += wire.MaxChunkBytes {
		end := off + wire.MaxChunkBytes
		if end > len(body) {
			end = len(body)
		}
		if err := emit(wire.NewData(id, body[off:end])); err != nil {
			return err
		}
	}
	return emit(wire.NewEnd(id))
}
