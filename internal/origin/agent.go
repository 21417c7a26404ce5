// Package origin implements the tunnel agent: the local process that holds
// a shared directory, dials the Relay, registers a session, and services
// incoming viewer requests until the session ends.
package origin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/fwdcast/fwdcast/internal/originfs"
	"github.com/fwdcast/fwdcast/internal/wire"
)

// State is a connection-state-machine value: Disconnected → Connecting →
// Registering → Active → Closing → Closed.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistering
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	preActiveRetries = 10
	preActiveDelay   = 500 * time.Millisecond
	writeTimeout     = 10 * time.Second
	registerTimeout  = 10 * time.Second
)

// Agent is the Origin tunnel agent for one shared directory.
type Agent struct {
	RelayURL string
	Dir      string
	Duration time.Duration
	Password string
	Exclude  []string
	Observer Observer

	svc *originfs.Servicer

	mu        sync.Mutex
	state     State
	sessionID string

	bytesSent      atomic.Int64
	activeRequests atomic.Int32

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New builds an Agent ready to Run.
func New(relayURL, dir string, duration time.Duration, password string, exclude []string, obs Observer) *Agent {
	scanner := originfs.Scanner(originfs.DefaultScanner{})
	if len(exclude) > 0 {
		scanner = originfs.ExcludingScanner{Inner: originfs.DefaultScanner{}, Patterns: exclude}
	}
	svc := &originfs.Servicer{
		Base:     dir,
		Renderer: originfs.DefaultRenderer{},
		Zipper:   originfs.DefaultZipper{},
		Scanner:  scanner,
	}
	return &Agent{
		RelayURL: relayURL,
		Dir:      dir,
		Duration: duration,
		Password: password,
		Exclude:  exclude,
		Observer: obs,
		svc:      svc,
	}
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// State returns the agent's current connection state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Run connects to the Relay and services requests until ctx is cancelled,
// the session expires, or the connection is lost after becoming Active.
// Before Active, transient failures are retried with a fixed backoff
// (preActiveRetries attempts, preActiveDelay apart); once Active,
// disconnection is terminal.
func (a *Agent) Run(ctx context.Context) error {
	bo := newBackoff(preActiveDelay, preActiveRetries-1)

	for {
		a.setState(StateConnecting)
		reachedActive, err := a.connectAndServe(ctx)
		if ctx.Err() != nil {
			a.setState(StateClosed)
			return ctx.Err()
		}

		a.setState(StateClosing)
		a.Observer.notifyDisconnect(err)

		if reachedActive {
			// Disconnection after Active is terminal per spec.md §4.5.
			a.setState(StateClosed)
			return err
		}

		delay, ok := bo.next()
		if !ok {
			a.setState(StateClosed)
			return fmt.Errorf("origin: exhausted %d connection attempts: %w", preActiveRetries, err)
		}
		a.Observer.notifyError(err)

		select {
		case <-ctx.Done():
			a.setState(StateClosed)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// connectAndServe performs one connection attempt: dial, register, and run
// the read loop. reachedActive reports whether registration succeeded, which
// determines whether the caller should retry or terminate.
func (a *Agent) connectAndServe(ctx context.Context) (reachedActive bool, err error) {
	conn, _, err := websocket.Dial(ctx, a.RelayURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	a.setState(StateRegistering)
	expiresAt := time.Now().Add(a.Duration).Unix()
	if err := a.writeFrame(ctx, wire.NewRegister(a.Dir, expiresAt, a.Password)); err != nil {
		return false, fmt.Errorf("register: %w", err)
	}

	regCtx, cancel := context.WithTimeout(ctx, registerTimeout)
	_, data, err := conn.Read(regCtx)
	cancel()
	if err != nil {
		return false, fmt.Errorf("await registered: %w", err)
	}
	f, err := wire.Decode(data)
	if err != nil {
		return false, fmt.Errorf("await registered: %w", err)
	}
	reg, ok := f.(wire.Registered)
	if !ok {
		return false, fmt.Errorf("await registered: unexpected frame %T", f)
	}

	a.mu.Lock()
	a.sessionID = reg.SessionID
	a.mu.Unlock()

	a.setState(StateActive)
	a.Observer.notifyURL(reg.URL)

	return true, a.readLoop(ctx, conn)
}

func (a *Agent) readLoop(ctx context.Context, conn *websocket.Conn) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f, err := wire.Decode(data)
		if err != nil {
			continue // protocol-invalid frame from a misbehaving relay; drop and keep serving
		}

		switch frame := f.(type) {
		case wire.Request:
			a.activeRequests.Add(1)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer a.activeRequests.Add(-1)
				a.serviceRequest(ctx, frame)
			}()
		case wire.Expired:
			a.Observer.notifyExpired()
			return nil
		}
	}
}

func (a *Agent) serviceRequest(ctx context.Context, req wire.Request) {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	err := a.svc.Service(req.ID, req.Method, req.Path, sessionID, func(f wire.Frame) error {
		if d, ok := f.(wire.Data); ok {
			raw, _ := wire.DecodeChunk(d.Chunk)
			a.bytesSent.Add(int64(len(raw)))
		}
		return a.writeFrame(ctx, f)
	})
	if err != nil {
		a.Observer.notifyError(fmt.Errorf("service request %s: %w", req.ID, err))
		return
	}
	a.Observer.notifyStats(TransferStats{
		BytesSent:      a.bytesSent.Load(),
		ActiveRequests: int(a.activeRequests.Load()),
	})
}

func (a *Agent) writeFrame(ctx context.Context, f wire.Frame) error {
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
