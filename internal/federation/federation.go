// Package federation implements C4: the tree-shaped server-to-server
// link table, burst exchange, and message routing between this server
// and the rest of the network. It is grounded on the teacher's
// robusthttp/raft-replication layer in spirit — "every write is
// propagated to every other node" — but the propagation mechanism itself
// is rewritten from raft-over-HTTP to the star/tree fan-out spec §4.4
// describes, since the teacher's consensus model (leader election,
// quorum commit) has no analogue in a disconnection-tolerant IRC tree
// where a link partition is a normal, frequent event (see DESIGN.md).
package federation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stapelberg/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/robustirc/ircfed/internal/config"
	"github.com/robustirc/ircfed/internal/ircerr"
	"github.com/robustirc/ircfed/internal/registry"
	"github.com/robustirc/ircfed/internal/session"
)

// LocalDeliverer is everything Hub needs from the local client-session
// layer. session.Engine implements it structurally; this package never
// imports session.Engine's concrete type, only session.Session (a plain
// data type, not an interface), which keeps the two packages from forming
// an import cycle.
type LocalDeliverer interface {
	DeliverLocal(nick, line string) bool
	BroadcastLocalChannel(chanName, line, exceptNick string)
	LocalNicknames() []string
}

// Direction records which side of a link initiated the TCP connection,
// used only for status reporting.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// Link is one established server-to-server connection.
type Link struct {
	Name      string
	Direction Direction
	Sess      *session.Session
	Connected time.Time
}

// Hub is the C4 component.
type Hub struct {
	deliverer  LocalDeliverer
	reg        *registry.Registry
	cfg        config.Server
	selfName   string

	mu     sync.RWMutex
	links  map[string]*Link // peer server name -> link
	parent *Link            // nil if this server is the main/root

	nextSessID uint64
	dialer     Dialer
}

var linksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Subsystem: "federation",
	Name:      "links",
	Help:      "Number of currently established server links.",
})

func init() {
	prometheus.MustRegister(linksGauge)
}

// NewHub constructs a Hub. deliverer is typically a *session.Engine.
func NewHub(deliverer LocalDeliverer, reg *registry.Registry, cfg config.Server) *Hub {
	return &Hub{
		deliverer: deliverer,
		reg:       reg,
		cfg:       cfg,
		selfName:  cfg.ServerName,
		links:     make(map[string]*Link),
	}
}

// ReplicateChannelEvent satisfies session.FederationHub: a line that
// originated on this server is forwarded to every neighbor (there is no
// "arrival link" to exclude for a local origin).
func (h *Hub) ReplicateChannelEvent(line string) {
	h.forwardToAllExcept(line, nil)
}

// ReplicateUserEvent satisfies session.FederationHub.
func (h *Hub) ReplicateUserEvent(line string) {
	h.forwardToAllExcept(line, nil)
}

func (h *Hub) forwardToAllExcept(line string, except *Link) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, l := range h.links {
		if l == except {
			continue
		}
		l.Sess.Send(line)
	}
}

// RouteToUser satisfies session.FederationHub: find the unique tree edge
// toward nick's owning server and send line down it. Spec §4.4 rule 1.
func (h *Hub) RouteToUser(nick, line string) bool {
	u, ok := h.reg.GetUser(nick)
	if !ok {
		return false
	}
	if u.Server == h.selfName {
		return h.deliverer.DeliverLocal(nick, line)
	}
	h.mu.RLock()
	l, ok := h.links[u.Server]
	if !ok {
		l = h.parent
	}
	h.mu.RUnlock()
	if l == nil {
		return false
	}
	l.Sess.Send(line)
	return true
}

// IsLocalUser satisfies session.FederationHub.
func (h *Hub) IsLocalUser(nick string) bool {
	u, ok := h.reg.GetUser(nick)
	return ok && u.Server == h.selfName
}

// KillUser satisfies session.FederationHub: propagate an operator KILL to
// wherever the target actually is, immediately (spec §5).
func (h *Hub) KillUser(nick, reason string) error {
	u, ok := h.reg.GetUser(nick)
	if !ok {
		return ircerr.NoSuchNick
	}
	line := fmt.Sprintf(":%s KILL %s :%s", h.selfName, nick, reason)
	if u.Server == h.selfName {
		h.deliverer.DeliverLocal(nick, line)
		h.reg.DropUser(nick)
		h.forwardToAllExcept(line, nil)
		return nil
	}
	h.forwardToAllExcept(line, nil)
	return nil
}

// Squit satisfies session.FederationHub: tear down a named link. Only
// direct neighbors can be named; any other serverName returns
// ircerr.NoSuchNick and nothing is forwarded.
func (h *Hub) Squit(serverName, reason string) error {
	h.mu.Lock()
	l, ok := h.links[serverName]
	h.mu.Unlock()
	if !ok {
		return ircerr.NoSuchNick
	}
	glog.Infof("federation: squitting %s: %s", serverName, reason)
	h.dropLink(l, reason)
	return nil
}

// LinkNames satisfies session.FederationHub.
func (h *Hub) LinkNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.links))
	for name := range h.links {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LinkInfo is a read-only snapshot for the status API.
type LinkInfo struct {
	Name      string
	Direction string
	Since     time.Time
}

// Links returns a snapshot of the current link table.
func (h *Hub) Links() []LinkInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]LinkInfo, 0, len(h.links))
	for _, l := range h.links {
		dir := "outbound"
		if l.Direction == DirectionInbound {
			dir = "inbound"
		}
		out = append(out, LinkInfo{Name: l.Name, Direction: dir, Since: l.Connected})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// dropLink removes a link from the table, notifies local clients of the
// netsplit via a QUIT per affected remote user (spec §4.4 "a link loss is
// announced as a QUIT with reason Netsplit SELF PEER, for every user
// who was reachable only through that link"), and — if the link was our
// parent — schedules a reconnect with backoff.
func (h *Hub) dropLink(l *Link, reason string) {
	h.mu.Lock()
	delete(h.links, l.Name)
	wasParent := h.parent == l
	if wasParent {
		h.parent = nil
	}
	h.mu.Unlock()
	linksGauge.Set(float64(len(h.links)))

	splitMsg := "Netsplit " + h.selfName + " " + l.Name
	for _, u := range h.reg.Users() {
		if u.Server == h.selfName {
			continue
		}
		if u.Server != l.Name {
			// Users on servers that are not direct neighbors are routed
			// via the parent (see RouteToUser), so they are cut off only
			// when the lost link was the parent.
			if !wasParent {
				continue
			}
			if _, stillLinked := h.linkByName(u.Server); stillLinked {
				continue
			}
		}
		affected, _ := h.reg.DropUser(u.Nick)
		line := ":" + u.Nick + "!" + u.Username + "@" + u.Host + " QUIT :" + splitMsg
		for _, chanName := range affected {
			h.deliverer.BroadcastLocalChannel(chanName, line, u.Nick)
		}
	}
	l.Sess.Close()

	if wasParent && h.cfg.Role == config.RoleSecondary {
		go h.reconnectWithBackoff()
	}
}

func (h *Hub) addLink(name string, sess *session.Session, dir Direction) *Link {
	l := &Link{Name: name, Direction: dir, Sess: sess, Connected: time.Now()}
	h.mu.Lock()
	h.links[name] = l
	if dir == DirectionOutbound {
		h.parent = l
	}
	h.mu.Unlock()
	linksGauge.Set(float64(len(h.links)))
	return l
}

func (h *Hub) linkByName(name string) (*Link, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.links[name]
	return l, ok
}

// knownServerName reports whether name would collide with an existing link
// or our own name, per spec §4.4's link-table invariant.
func (h *Hub) knownServerName(name string) bool {
	if strings.EqualFold(name, h.selfName) {
		return true
	}
	_, ok := h.linkByName(name)
	return ok
}
