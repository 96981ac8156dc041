package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robustirc/ircfed/internal/config"
	"github.com/robustirc/ircfed/internal/registry"
)

// fakeTransport is an in-memory session.Transport for tests: WriteLine
// appends to a slice instead of touching the network, grounded on the
// stretchr/testify-based fixture style the presbrey-pkg and goph-keeper
// examples use for their own socket-free unit tests.
type fakeTransport struct {
	written []string
	closed  bool
}

func (f *fakeTransport) ReadLine() (string, error)  { return "", nil }
func (f *fakeTransport) WriteLine(line string) error { f.written = append(f.written, line); return nil }
func (f *fakeTransport) RemoteAddr() string          { return "127.0.0.1:12345" }
func (f *fakeTransport) Close() error                { f.closed = true; return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg := registry.New(10)
	cfg := config.Default
	cfg.ServerName = "test.example"
	return NewEngine(reg, cfg, nil)
}

// connect creates a session wired to a fake transport and starts its
// output pump, returning both so the test can inspect written lines.
func connect(t *testing.T, e *Engine) (*Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	sess := e.CreateSession(ft)
	go sess.Run()
	return sess, ft
}

func drain(t *testing.T, ft *fakeTransport) []string {
	t.Helper()
	// Session.Run() consumes the channel asynchronously; give it a moment.
	// The result is every line written so far, not only the new ones.
	time.Sleep(10 * time.Millisecond)
	return ft.written
}

func register(t *testing.T, e *Engine, nick string) (*Session, *fakeTransport) {
	t.Helper()
	sess, ft := connect(t, e)
	e.HandleLine(sess, "NICK "+nick)
	e.HandleLine(sess, "USER u 0 * :Real Name")
	drain(t, ft)
	return sess, ft
}

func TestRegistrationSendsWelcomeBurst(t *testing.T) {
	e := newTestEngine(t)
	sess, ft := register(t, e, "secure")

	lines := drain(t, ft)
	require.NotEmpty(t, lines)
	require.Contains(t, lines[0], " 001 secure ")
	require.Equal(t, Registered, sess.Phase())
}

func TestNickInUseDuringRegistration(t *testing.T) {
	e := newTestEngine(t)
	register(t, e, "taken")

	sess2, ft2 := connect(t, e)
	e.HandleLine(sess2, "NICK taken")
	lines := drain(t, ft2)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], ERR_NICKNAMEINUSE)
}

func TestJoinCreatesChannelAndGrantsOp(t *testing.T) {
	e := newTestEngine(t)
	sess, ft := register(t, e, "alice")

	e.HandleLine(sess, "JOIN #test")
	lines := drain(t, ft)

	var sawJoin, sawOp bool
	for _, l := range lines {
		if strings.Contains(l, "JOIN :#test") {
			sawJoin = true
		}
		if strings.Contains(l, "MODE #test +o alice") {
			sawOp = true
		}
	}
	require.True(t, sawJoin, "expected a JOIN echo, got %v", lines)
	require.True(t, sawOp, "expected the creator to receive +o, got %v", lines)
}

func TestPrivmsgToChannelReachesOtherMember(t *testing.T) {
	e := newTestEngine(t)
	alice, aliceT := register(t, e, "alice")
	bob, bobT := register(t, e, "bob")

	e.HandleLine(alice, "JOIN #test")
	drain(t, aliceT)
	e.HandleLine(bob, "JOIN #test")
	drain(t, bobT)
	drain(t, aliceT) // alice sees bob's JOIN

	e.HandleLine(alice, "PRIVMSG #test :hello there")
	lines := drain(t, bobT)

	var sawMsg bool
	for _, l := range lines {
		if strings.Contains(l, "PRIVMSG #test :hello there") {
			sawMsg = true
		}
	}
	require.True(t, sawMsg, "expected bob to receive alice's PRIVMSG, got %v", lines)
}

func TestPrivmsgToUnknownNickReturnsNoSuchNick(t *testing.T) {
	e := newTestEngine(t)
	sess, ft := register(t, e, "alice")
	before := len(drain(t, ft))

	e.HandleLine(sess, "PRIVMSG ghost :hello?")
	lines := drain(t, ft)[before:]
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], ERR_NOSUCHNICK)
}

func TestQuitBroadcastsToCommonChannelsOnce(t *testing.T) {
	e := newTestEngine(t)
	alice, aliceT := register(t, e, "alice")
	bob, bobT := register(t, e, "bob")

	e.HandleLine(alice, "JOIN #a")
	e.HandleLine(alice, "JOIN #b")
	drain(t, aliceT)
	e.HandleLine(bob, "JOIN #a")
	e.HandleLine(bob, "JOIN #b")
	drain(t, aliceT)
	drain(t, bobT)

	e.HandleLine(alice, "QUIT :goodbye")
	lines := drain(t, bobT)

	count := 0
	for _, l := range lines {
		if strings.Contains(l, "QUIT :goodbye") {
			count++
		}
	}
	require.Equal(t, 1, count, "bob should see exactly one QUIT despite sharing two channels, got %v", lines)
}
