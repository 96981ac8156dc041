// Package session implements C3, the per-connection command interpreter:
// the three-phase state machine, the Commands dispatch table, and numeric
// reply generation. It is grounded on the teacher's
// internal/ircserver.IRCServer: the same Commands-map-of-ircCommand
// dispatch idiom, the same Session data model, the same sendUser/
// sendChannel fan-out helpers — generalized so that "send to services" in
// the teacher becomes "send to the federation" here, via the FederationHub
// interface this package declares and the federation package satisfies.
package session

import (
	"strings"
	"sync"
	"time"

	irc "gopkg.in/sorcix/irc.v2"
)

// Phase is a connection's position in the state machine described in
// spec §4.3.
type Phase int

const (
	// Unregistered is the initial phase for a client connection, and also
	// covers spec §3's "Awaiting-Nick" (a PASS with no NICK yet): nothing
	// about the state machine's externally visible behavior distinguishes
	// "no NICK yet" from "no NICK and no PASS yet", so this package folds
	// them into one phase.
	Unregistered Phase = iota
	// AwaitingUser is reached once NICK has been accepted (checked against
	// the registry, not reserved in it) but USER has not yet completed
	// registration.
	AwaitingUser
	// Registered is reached once both NICK and USER have succeeded.
	Registered
	// ServerUnregistered is the initial phase for a server-to-server
	// connection, before the PASS+SERVER handshake completes.
	ServerUnregistered
	// ServerRegistered is reached once a peer server has authenticated.
	ServerRegistered
)

func (p Phase) String() string {
	switch p {
	case Unregistered:
		return "Unregistered"
	case AwaitingUser:
		return "Awaiting-User"
	case Registered:
		return "Registered"
	case ServerUnregistered:
		return "Server-Unregistered"
	case ServerRegistered:
		return "Server-Registered"
	default:
		return "Unknown"
	}
}

// Kind distinguishes a client connection from a server-to-server link
// (spec §3 "peer kind").
type Kind int

const (
	KindClient Kind = iota
	KindServer
)

// Transport is the line-oriented message transport the core consumes,
// deliberately out of scope per spec §1 ("TCP socket plumbing... the core
// consumes a line-oriented message transport"). Any implementation that
// can read and write CRLF-terminated lines satisfies it; cmd/ircd wraps a
// net.Conn in a bufio.Reader.
type Transport interface {
	// ReadLine blocks until a line is available, or returns an error
	// (including io.EOF) when the transport is closed. The line may still
	// carry its CR LF terminator; callers pass it through NormalizeLine.
	ReadLine() (string, error)
	// WriteLine writes one line, appending the CRLF terminator itself.
	WriteLine(line string) error
	// RemoteAddr is a human-readable description of the peer, used for
	// the "host/address observed on connect" attribute in spec §3.
	RemoteAddr() string
	Close() error
}

// outboxCap bounds the per-session outbound queue (spec §9: "no unbounded
// queues anywhere"). A session whose peer can't keep up blocks the sender
// once this fills, exactly as spec §5 describes for transport writes.
const outboxCap = 256

// Session is the per-connection state described in spec §3. One Session
// exists for the lifetime of one Transport; it is owned by either
// session.Engine (client connections) or federation.Hub (server links),
// both of which call NewSession and run its output pump.
type Session struct {
	ID   uint64
	Kind Kind

	mu    sync.Mutex
	phase Phase

	Nick     string
	Username string
	Realname string
	Host     string
	RemoteAddr string

	PassParam string
	Operator  bool
	AwayMsg   string

	// PeerServerName is set once a server-kind session completes the
	// SERVER handshake (spec §3 "Server link").
	PeerServerName string

	LastActivity time.Time
	pingSent     bool

	transport Transport
	out       chan string
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession wraps transport in a Session with the given id and kind. The
// caller must call Run in its own goroutine to start the output pump, and
// must call Close exactly once when the connection ends.
func NewSession(id uint64, kind Kind, transport Transport) *Session {
	phase := Unregistered
	if kind == KindServer {
		phase = ServerUnregistered
	}
	return &Session{
		ID:           id,
		Kind:         kind,
		phase:        phase,
		RemoteAddr:   transport.RemoteAddr(),
		LastActivity: time.Now(),
		transport:    transport,
		out:          make(chan string, outboxCap),
		done:         make(chan struct{}),
	}
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPhase transitions the session to phase.
func (s *Session) SetPhase(phase Phase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

// Prefix builds this session's current IRC prefix (nick!user@host).
func (s *Session) Prefix() *irc.Prefix {
	return &irc.Prefix{Name: s.Nick, User: s.Username, Host: s.Host}
}

// Send enqueues line for delivery, blocking if the outbox is full (spec §5
// "transport write... may block on peer backpressure", §9 "backpressure is
// propagated by blocking sends"). Send is safe to call from any goroutine;
// outbound order is preserved since it is a single channel.
func (s *Session) Send(line string) {
	select {
	case s.out <- line:
	case <-s.done:
	}
}

// Run pumps queued lines to the transport until the session is closed or a
// write fails. It is meant to run in its own goroutine for the lifetime of
// the connection.
func (s *Session) Run() {
	for {
		select {
		case line := <-s.out:
			if err := s.transport.WriteLine(line); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			// Drain anything already queued before a graceful QUIT closes
			// the transport (spec §5: "QUIT... flushes the session's
			// outbound queue before close").
			for {
				select {
				case line := <-s.out:
					s.transport.WriteLine(line)
				default:
					s.transport.Close()
					return
				}
			}
		}
	}
}

// Close ends the session: Run writes the lines already queued and then
// closes the transport. Safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ReadLineBlocking reads the next line directly off the underlying
// transport. It is exposed for callers (federation's link read loop) that
// run their own read/dispatch cycle instead of delegating to an Engine.
func (s *Session) ReadLineBlocking() (string, error) {
	return s.transport.ReadLine()
}

// Touch records inbound activity, used for idle-timeout accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.pingSent = false
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActivity)
}

func (s *Session) markPingSent() (already bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	already = s.pingSent
	s.pingSent = true
	return already
}

// NormalizeLine strips the trailing CR (and LF, if present) a Transport may
// hand back verbatim.
func NormalizeLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}
