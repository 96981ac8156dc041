package federation

import (
	"sync/atomic"
	"time"

	"github.com/stapelberg/glog"

	"github.com/robustirc/ircfed/internal/session"
)

// Dialer is the minimal capability handshake.go needs to establish an
// outbound link, kept as an interface so cmd/ircd can supply a plain TCP
// dialer without this package importing net directly (it only needs
// something that hands back a session.Transport).
type Dialer interface {
	Dial(address string) (session.Transport, error)
}

// backoff schedule for parent reconnects, per SPEC_FULL.md's resolution of
// spec §9 Open Question 1: base 1s, factor 2, cap 60s, give up after 8
// attempts.
const (
	backoffBase   = 1 * time.Second
	backoffFactor = 2
	backoffCap    = 60 * time.Second
	backoffMaxTry = 8
)

// ConnectToParent dials the configured main server and runs the PASS+
// SERVER handshake, grounded on the teacher's httpclient.go connection-
// retry idiom (dial, on failure back off and retry) generalized from HTTP
// polling to a persistent TCP link. On success it starts the link's read
// loop in a new goroutine and returns.
func (h *Hub) ConnectToParent(dialer Dialer) error {
	transport, err := dialer.Dial(h.cfg.MainServerAddress)
	if err != nil {
		return err
	}
	sess := h.newLinkSession(transport)
	go sess.Run()

	sess.Send("PASS :" + h.cfg.LinkPassword)
	sess.Send("SERVER " + h.selfName + " :federated ircd")

	go h.runLinkLoop(sess, h.cfg.MainServerName, DirectionOutbound, nil)
	return nil
}

// reconnectWithBackoff retries ConnectToParent with exponential backoff
// after a parent link is lost; it gives up (and logs fatally, per the
// supplemented feature's "then fatal exit") after backoffMaxTry attempts.
func (h *Hub) reconnectWithBackoff() {
	delay := backoffBase
	for attempt := 1; attempt <= backoffMaxTry; attempt++ {
		time.Sleep(delay)
		if h.dialer == nil {
			return
		}
		if err := h.ConnectToParent(h.dialer); err == nil {
			glog.Infof("federation: reconnected to parent %s after %d attempt(s)", h.cfg.MainServerName, attempt)
			return
		}
		glog.Warningf("federation: reconnect attempt %d/%d to %s failed", attempt, backoffMaxTry, h.cfg.MainServerName)
		delay *= backoffFactor
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	glog.Fatalf("federation: exhausted %d reconnect attempts to parent %s, giving up", backoffMaxTry, h.cfg.MainServerName)
}

// SetDialer records the Dialer to use for automatic reconnects; cmd/ircd
// calls this once at startup right after the first ConnectToParent.
func (h *Hub) SetDialer(d Dialer) { h.dialer = d }

// AcceptLink handles an inbound server connection whose listener already
// consumed one or two lines while sniffing PASS/SERVER vs NICK/USER
// (cmd/ircd accepts clients and peers on the same port, exactly like the
// classic ircd convention; a lone leading PASS line doesn't disambiguate
// the two, since a client may also send PASS before NICK/USER per spec
// §4.3, so the listener peeks a second line and passes both here once a
// SERVER line confirms this is a link). primedLines are replayed into the
// handshake, in order, before the loop starts reading more from the
// transport.
func (h *Hub) AcceptLink(transport session.Transport, primedLines ...string) {
	sess := h.newLinkSession(transport)
	go sess.Run()
	go h.runLinkLoop(sess, "", DirectionInbound, primedLines)
}

func (h *Hub) newLinkSession(transport session.Transport) *session.Session {
	id := atomic.AddUint64(&h.nextSessID, 1)
	return session.NewSession(id, session.KindServer, transport)
}

// runLinkLoop is the per-link read loop: until the PASS+SERVER handshake
// completes it only recognizes PASS/SERVER/ERROR, then it hands every line
// to the server_<CMD> dispatch table. expectName is the peer name we
// dialed out to (empty for inbound links, whose name we learn from SERVER).
// primedLines, if non-empty, are processed in order before anything
// further is read from the transport.
func (h *Hub) runLinkLoop(sess *session.Session, expectName string, dir Direction, primedLines []string) {
	var link *Link
	next := func() (string, error) {
		if len(primedLines) > 0 {
			line := primedLines[0]
			primedLines = primedLines[1:]
			return line, nil
		}
		return sess.ReadLineBlocking()
	}
	for {
		raw, err := next()
		if err != nil {
			if link != nil {
				h.dropLink(link, "connection lost")
			} else {
				sess.Close()
			}
			return
		}
		line := session.NormalizeLine(raw)
		if line == "" {
			continue
		}

		if sess.Phase() != session.ServerRegistered {
			name, ok := h.handleHandshakeLine(sess, line, expectName)
			if !ok {
				continue
			}
			link = h.addLink(name, sess, dir)
			h.sendBurst(link)
			continue
		}

		h.handleServerLine(link, line)
	}
}
