package federation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robustirc/ircfed/internal/config"
	"github.com/robustirc/ircfed/internal/registry"
	"github.com/robustirc/ircfed/internal/session"
)

type fakeTransport struct{ written []string }

func (f *fakeTransport) ReadLine() (string, error)   { return "", nil }
func (f *fakeTransport) WriteLine(line string) error { f.written = append(f.written, line); return nil }
func (f *fakeTransport) RemoteAddr() string          { return "peer:7000" }
func (f *fakeTransport) Close() error                { return nil }

type fakeDeliverer struct {
	local map[string][]string
}

func newFakeDeliverer() *fakeDeliverer { return &fakeDeliverer{local: make(map[string][]string)} }

func (d *fakeDeliverer) DeliverLocal(nick, line string) bool {
	if _, ok := d.local[nick]; !ok {
		return false
	}
	d.local[nick] = append(d.local[nick], line)
	return true
}
func (d *fakeDeliverer) BroadcastLocalChannel(chanName, line, exceptNick string) {}
func (d *fakeDeliverer) LocalNicknames() []string                               { return nil }

func testHub(t *testing.T) (*Hub, *fakeDeliverer, *registry.Registry) {
	t.Helper()
	reg := registry.New(10)
	d := newFakeDeliverer()
	cfg := config.Default
	cfg.ServerName = "main.example"
	h := NewHub(d, reg, cfg)
	return h, d, reg
}

func newServerSession(t *testing.T) *session.Session {
	t.Helper()
	return session.NewSession(1, session.KindServer, &fakeTransport{})
}

func TestRouteToUserDeliversLocally(t *testing.T) {
	h, d, reg := testHub(t)
	d.local["alice"] = nil
	reg.RegisterUser("alice", "u", "Alice", "host", "main.example", "", nil)

	ok := h.RouteToUser("alice", ":bob PRIVMSG alice :hi")
	require.True(t, ok)
	require.Len(t, d.local["alice"], 1)
}

func TestRouteToUserForwardsToOwningLink(t *testing.T) {
	h, _, reg := testHub(t)
	reg.RegisterUser("remote", "u", "Remote", "host", "secondary.example", "", nil)

	sess := newServerSession(t)
	h.links["secondary.example"] = &Link{Name: "secondary.example", Sess: sess}

	ok := h.RouteToUser("remote", ":bob PRIVMSG remote :hi")
	require.True(t, ok)
}

func TestRouteToUserUnknownNickFails(t *testing.T) {
	h, _, _ := testHub(t)
	require.False(t, h.RouteToUser("ghost", "line"))
}

func TestReplicateChannelEventForwardsToAllLinks(t *testing.T) {
	h, _, _ := testHub(t)
	s1, s2 := newServerSession(t), newServerSession(t)
	h.links["a"] = &Link{Name: "a", Sess: s1}
	h.links["b"] = &Link{Name: "b", Sess: s2}

	// Both links should accept the enqueue without blocking; Send() only
	// blocks once the bounded outbox fills up.
	h.ReplicateChannelEvent(":x JOIN :#chan")
}

func TestKillUserPropagatesAndDropsLocalUser(t *testing.T) {
	h, d, reg := testHub(t)
	d.local["victim"] = nil
	reg.RegisterUser("victim", "u", "V", "host", "main.example", "", nil)
	s1 := newServerSession(t)
	h.links["peer"] = &Link{Name: "peer", Sess: s1}

	err := h.KillUser("victim", "spamming")
	require.NoError(t, err)
	require.Len(t, d.local["victim"], 1)
	_, ok := reg.GetUser("victim")
	require.False(t, ok)
}

func TestIsLocalUser(t *testing.T) {
	h, _, reg := testHub(t)
	reg.RegisterUser("here", "u", "H", "host", "main.example", "", nil)
	reg.RegisterUser("there", "u", "T", "host", "secondary.example", "", nil)

	require.True(t, h.IsLocalUser("here"))
	require.False(t, h.IsLocalUser("there"))
}
