package rcon

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	gorcon "github.com/gorcon/rcon"

	"macagent/internal/eventloop"
	"macagent/internal/logging"
)

const connectTimeout = 2500 * time.Millisecond

// connState is the manager's two-step error-state machine (§4.E).
type connState int

const (
	stateNever connState = iota
	stateOkay
	stateErr
	stateAuthErr
)

// RawConsoleOutputMsg wraps one command's raw textual response. Err is set
// when the command could not be executed; Output is only meaningful when
// Err is nil.
type RawConsoleOutputMsg struct {
	Command Command
	Output  string
	Err     error
}

// Kind implements eventloop.Message.
func (RawConsoleOutputMsg) Kind() string { return "rcon.raw_output" }

// Manager owns at most one live RCON connection and the reconnect state
// machine described in §4.E.
type Manager struct {
	mu       sync.Mutex
	port     int
	password string
	conn     *gorcon.Conn
	state    connState
	log      *logging.Logger
}

// NewManager constructs a manager for 127.0.0.1:port.
func NewManager(port int, password string, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.L()
	}
	return &Manager{port: port, password: password, state: stateNever, log: log}
}

// SetPort updates the target port, forcing a reconnect on the next Run.
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if port == m.port {
		return
	}
	m.port = port
	m.resetLocked()
}

// SetPassword updates the RCON password, forcing a reconnect on the next
// Run and clearing any sticky auth failure.
func (m *Manager) SetPassword(password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if password == m.password {
		return
	}
	m.password = password
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = stateNever
}

// Run executes cmd, reconnecting first if the state machine calls for it.
// It is meant to be invoked from a handler-spawned Future (§5): it never
// mutates match state itself, only returns the raw response as a message.
func (m *Manager) Run(ctx context.Context, cmd Command) RawConsoleOutputMsg {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldReconnectLocked() {
		m.reconnectLocked()
	}
	if m.conn == nil {
		return RawConsoleOutputMsg{Command: cmd, Err: fmt.Errorf("rcon: not connected")}
	}

	out, err := m.conn.Execute(cmd.Serialize())
	if err != nil {
		m.conn.Close()
		m.conn = nil
		m.enterErrLocked(err)
		return RawConsoleOutputMsg{Command: cmd, Err: err}
	}
	return RawConsoleOutputMsg{Command: cmd, Output: out}
}

func (m *Manager) shouldReconnectLocked() bool {
	return m.conn == nil && m.state != stateAuthErr
}

func (m *Manager) reconnectLocked() {
	wasNever := m.state == stateNever
	address := fmt.Sprintf("127.0.0.1:%d", m.port)

	conn, err := dialWithTimeout(address, m.password, connectTimeout)
	if err != nil {
		if isAuthFailure(err) {
			m.log.Error("rcon authentication failed, will not auto-retry", logging.Error(err))
			m.state = stateAuthErr
			return
		}
		if wasNever && isConnRefused(err) {
			m.log.Warn("rcon connect refused (expected if game not open)", logging.Error(err))
		} else if m.state != stateErr {
			m.log.Error("rcon connect failed", logging.Error(err))
		}
		m.state = stateErr
		return
	}

	m.conn = conn
	if wasNever {
		m.log.Info("rcon connection established")
	} else {
		m.log.Info("rcon connection reestablished")
	}
	m.state = stateOkay
}

func (m *Manager) enterErrLocked(err error) {
	if m.state != stateErr {
		m.log.Error("rcon command failed, connection dropped", logging.Error(err))
	}
	m.state = stateErr
}

func dialWithTimeout(address, password string, timeout time.Duration) (*gorcon.Conn, error) {
	type result struct {
		conn *gorcon.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := gorcon.Dial(address, password)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("rcon: connect to %s timed out after %s", address, timeout)
	}
}

func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "auth")
}

func isConnRefused(err error) bool {
	var netErr *net.OpError
	if ok := asOpError(err, &netErr); ok {
		return strings.Contains(netErr.Error(), "refused")
	}
	return strings.Contains(strings.ToLower(err.Error()), "refused")
}

func asOpError(err error, target **net.OpError) bool {
	op, ok := err.(*net.OpError)
	if !ok {
		return false
	}
	*target = op
	return true
}

// RefreshTickMsg is produced every 3s by RefreshSource, alternating
// between Status and G15 to keep §4.I's player model fresh.
type RefreshTickMsg struct {
	Command Command
}

// Kind implements eventloop.Message.
func (RefreshTickMsg) Kind() string { return "rcon.refresh_tick" }

// RefreshSource toggles between Status and G15 every interval (3s per
// §4.E).
type RefreshSource struct {
	interval time.Duration
	last     time.Time
	primed   bool
	toggle   bool
}

// NewRefreshSource constructs the default 3-second toggle source.
func NewRefreshSource() *RefreshSource {
	return &RefreshSource{interval: 3 * time.Second}
}

// Name implements eventloop.Source.
func (s *RefreshSource) Name() string { return "rcon-refresh-tick" }

// Poll implements eventloop.Source.
func (s *RefreshSource) Poll() []eventloop.Message {
	now := time.Now()
	if s.primed && now.Sub(s.last) < s.interval {
		return nil
	}
	s.primed = true
	s.last = now
	s.toggle = !s.toggle

	if s.toggle {
		return []eventloop.Message{RefreshTickMsg{Command: StatusCmd{}}}
	}
	return []eventloop.Message{RefreshTickMsg{Command: G15Cmd{}}}
}

// IssueMsg carries a single command from some other component (the
// auto-kick policy, the web API's command endpoint) that should be sent
// over RCON. It is the generic entry point any handler uses instead of
// reaching into Manager directly, keeping RCON issuance single-writer-safe
// (the command only runs as a spawned Future, never inline in a handler).
type IssueMsg struct {
	Command Command
}

// Kind implements eventloop.Message.
func (IssueMsg) Kind() string { return "rcon.issue" }

// Handler spawns a Run future for every RefreshTickMsg and every IssueMsg.
// Generic over the owning state type so it can register with any
// eventloop.Loop[S] without this package needing to import the domain
// state it runs alongside.
type Handler[S any] struct {
	Manager *Manager
}

// Handle implements eventloop.Handler[S].
func (h *Handler[S]) Handle(_ *S, msg eventloop.Message) []eventloop.Action {
	var cmd Command
	switch m := msg.(type) {
	case RefreshTickMsg:
		cmd = m.Command
	case IssueMsg:
		cmd = m.Command
	default:
		return nil
	}
	return []eventloop.Action{{
		Future: func(ctx context.Context) eventloop.Message {
			return h.Manager.Run(ctx, cmd)
		},
	}}
}
