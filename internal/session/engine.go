package session

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stapelberg/glog"
	irc "gopkg.in/sorcix/irc.v2"

	"github.com/robustirc/ircfed/internal/config"
	"github.com/robustirc/ircfed/internal/ircmsg"
	"github.com/robustirc/ircfed/internal/privacy"
	"github.com/robustirc/ircfed/internal/registry"
)

// FederationHub is everything Engine needs from C4, declared here (the
// consumer) rather than in the federation package, so that neither package
// imports the other directly: federation.Hub satisfies this interface
// structurally, and main wires the two together.
type FederationHub interface {
	// ReplicateChannelEvent forwards a fully-serialized line to every
	// federation neighbor (spec §4.2 "propagate to the tree").
	ReplicateChannelEvent(line string)
	// ReplicateUserEvent forwards a network-wide, non-channel-scoped event
	// (NICK change, QUIT, user mode) to every neighbor.
	ReplicateUserEvent(line string)
	// RouteToUser delivers line to nick, wherever they are in the tree.
	// ok is false if nick is not known anywhere in the federation.
	RouteToUser(nick, line string) (ok bool)
	// IsLocalUser reports whether nick's owning server is this one.
	IsLocalUser(nick string) bool
	// KillUser propagates an operator KILL network-wide.
	KillUser(nick, reason string) error
	// Squit tears down the named peer link.
	Squit(serverName, reason string) error
	// LinkNames lists directly connected peer server names, for LUSERS/LINKS.
	LinkNames() []string
}

// TransferBroker is everything Engine needs from C5.
type TransferBroker interface {
	// Offer registers a DCC SEND offer from "from" to "to" and returns the
	// broker's token for it, used with Cancel; the token is not part of the
	// CTCP line relayed to the recipient.
	Offer(from, to, filename string, size int64, addr string, port int) (token string, err error)
	// Accept matches an incoming DCC ACCEPT/RESUME against a pending offer,
	// by recipient and filename.
	Accept(to, filename string) error
	// Cancel aborts a pending or in-progress transfer (QUIT/timeout/decline).
	Cancel(token, reason string) error
}

// Engine is the C3 component: it owns every local client Session, the
// Commands dispatch table, and numeric-reply construction. It is grounded
// on the teacher's internal/ircserver.IRCServer, which plays the identical
// role for the teacher's protocol.
type Engine struct {
	Registry *registry.Registry
	Fed      FederationHub
	Transfer TransferBroker
	Config   config.Server
	Admins   []config.Admin

	ServerName string
	Created    time.Time

	mu       sync.RWMutex
	sessions map[uint64]*Session
	byNick   map[string]*Session // folded nick -> local session

	nextID uint64
}

// NewEngine constructs an Engine. Fed and Transfer may be set after
// construction (cmd/ircd wires them once federation.Hub/transfer.Broker
// exist, breaking the natural initialization cycle).
func NewEngine(reg *registry.Registry, cfg config.Server, admins []config.Admin) *Engine {
	return &Engine{
		Registry:   reg,
		Config:     cfg,
		Admins:     admins,
		ServerName: cfg.ServerName,
		Created:    time.Now(),
		sessions:   make(map[uint64]*Session),
		byNick:     make(map[string]*Session),
	}
}

// CreateSession allocates a new local client Session and starts tracking
// it. The caller must still start sess.Run in its own goroutine.
func (e *Engine) CreateSession(transport Transport) *Session {
	id := atomic.AddUint64(&e.nextID, 1)
	sess := NewSession(id, KindClient, transport)
	e.mu.Lock()
	e.sessions[id] = sess
	e.mu.Unlock()
	return sess
}

// Drop unregisters a session (on QUIT or transport loss), notifying
// channel peers and the federation exactly once.
func (e *Engine) Drop(sess *Session, reason string) {
	e.mu.Lock()
	if sess.Nick != "" {
		delete(e.byNick, registry.NickFold(sess.Nick))
	}
	delete(e.sessions, sess.ID)
	e.mu.Unlock()

	if sess.Phase() == Registered {
		affected, _ := e.Registry.DropUser(sess.Nick)
		line := ":" + sess.Nick + "!" + sess.Username + "@" + sess.Host + " QUIT :" + reason
		e.broadcastToChannels(affected, line, sess.Nick)
		if e.Fed != nil {
			e.Fed.ReplicateUserEvent(line)
		}
	}
	sess.Close()
}

// ircCommand mirrors the teacher's ircCommand{Func, MinParams}: one entry
// per supported verb.
type ircCommand struct {
	Func        func(e *Engine, s *Session, msg *irc.Message)
	MinParams   int
	RequireAuth bool // require Registered (false allows NICK/USER/PASS pre-registration)
}

// Commands is the dispatch table, populated by each cmd_*.go file's init().
var Commands = make(map[string]*ircCommand)

// HandleLine parses and dispatches one inbound line from a registered
// Transport read loop (spec §4.1/§4.3: parse, then route to Commands).
func (e *Engine) HandleLine(sess *Session, raw string) {
	sess.Touch()
	line := NormalizeLine(raw)
	if line == "" {
		return
	}
	msg, err := ircmsg.Parse(line)
	if err != nil {
		// err's text quotes the raw line, so log only its kind.
		reason := "malformed line"
		if mle, ok := err.(*ircmsg.MalformedLineError); ok {
			reason = mle.Kind.String()
		}
		glog.V(2).Infof("session %d: malformed line %q: %s", sess.ID, privacy.RedactLine(line), reason)
		return
	}
	cmd := strings.ToUpper(msg.Command)
	handler, ok := Commands[cmd]
	if !ok {
		if sess.Phase() >= Registered {
			e.numeric(sess, ERR_UNKNOWNCOMMAND, cmd, "Unknown command")
		}
		return
	}
	if handler.RequireAuth && sess.Phase() != Registered {
		e.numeric(sess, ERR_NOTREGISTERED, "*", "You have not registered")
		return
	}
	if len(msg.Params) < handler.MinParams {
		e.numeric(sess, ERR_NEEDMOREPARAMS, cmd, "Not enough parameters")
		return
	}
	handler.Func(e, sess, msg)
}

// numeric sends a server numeric reply to sess, following the teacher's
// convention: ":server CODE target args... :trailing".
func (e *Engine) numeric(sess *Session, code, target, trailing string) {
	nick := sess.Nick
	if nick == "" {
		nick = "*"
	}
	_ = target
	line := fmt.Sprintf(":%s %s %s :%s", e.ServerName, code, nick, trailing)
	sess.Send(line)
}

// numericf is numeric with extra positional params before the trailing arg.
func (e *Engine) numericf(sess *Session, code string, params []string, trailing string) {
	nick := sess.Nick
	if nick == "" {
		nick = "*"
	}
	parts := append([]string{e.ServerName, code, nick}, params...)
	line := strings.Join(parts, " ") + " :" + trailing
	sess.Send(line)
}

// replyErr maps err through numericFor and sends it, the single chokepoint
// every command handler funnels registry/session errors through.
func (e *Engine) replyErr(sess *Session, err error, context ...string) {
	code, text := numericFor(err)
	e.numericf(sess, code, context, text)
}

// sendFromServer writes a raw, already-prefixed line directly to sess,
// bypassing numeric construction (used for relayed PRIVMSG/NOTICE/MODE/etc
// where the prefix is some other user or a peer server).
func (e *Engine) sendFromServer(sess *Session, line string) {
	sess.Send(line)
}

// localSession returns the local session for a registered nickname.
func (e *Engine) localSession(nick string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.byNick[registry.NickFold(nick)]
	return s, ok
}

// DeliverLocal implements federation.LocalDeliverer: send line to nick if
// they have a local session. Returns false if nick isn't local.
func (e *Engine) DeliverLocal(nick, line string) bool {
	s, ok := e.localSession(nick)
	if !ok {
		return false
	}
	s.Send(line)
	return true
}

// BroadcastLocalChannel implements federation.LocalDeliverer: send line to
// every local member of chanName except exceptNick.
func (e *Engine) BroadcastLocalChannel(chanName, line, exceptNick string) {
	c, ok := e.Registry.GetChannel(chanName)
	if !ok {
		return
	}
	except := registry.NickFold(exceptNick)
	for folded := range c.Members {
		if folded == except {
			continue
		}
		nick := e.Registry.MemberNick(folded)
		if s, ok := e.localSession(nick); ok {
			s.Send(line)
		}
	}
}

// LocalNicknames implements federation.LocalDeliverer, used when building
// a burst to a newly linked peer.
func (e *Engine) LocalNicknames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.byNick))
	for _, s := range e.byNick {
		out = append(out, s.Nick)
	}
	sort.Strings(out)
	return out
}

// broadcastToChannels sends line to every local member across all of
// chanNames, de-duplicating recipients so someone in several shared
// channels with the quitting user only gets the QUIT once. This mirrors
// the teacher's sendCommonChannels.
func (e *Engine) broadcastToChannels(chanNames []string, line, exceptNick string) {
	seen := make(map[string]bool)
	except := registry.NickFold(exceptNick)
	seen[except] = true
	for _, ch := range chanNames {
		c, ok := e.Registry.GetChannel(ch)
		if !ok {
			continue
		}
		for folded := range c.Members {
			if seen[folded] {
				continue
			}
			seen[folded] = true
			nick := e.Registry.MemberNick(folded)
			if s, ok := e.localSession(nick); ok {
				s.Send(line)
			}
		}
	}
}

// bindNick registers sess as the local session for nick, used once
// registration completes and again on every successful NICK change.
func (e *Engine) bindNick(sess *Session, oldNick, newNick string) {
	e.mu.Lock()
	if oldNick != "" {
		delete(e.byNick, registry.NickFold(oldNick))
	}
	e.byNick[registry.NickFold(newNick)] = sess
	e.mu.Unlock()
}

// completeRegistration finishes the NICK+USER handshake: the teacher's
// maybeLogin equivalent, referenced but not defined anywhere in the
// retrieved sources. It registers the user in C2, binds
// the local session table, and sends the RPL_WELCOME/LUSERS/MOTD burst.
func (e *Engine) completeRegistration(sess *Session) {
	if sess.Phase() != AwaitingUser || sess.Nick == "" || sess.Username == "" {
		return
	}
	u, err := e.Registry.RegisterUser(sess.Nick, sess.Username, sess.Realname, sess.Host, e.ServerName, "", nil)
	if err != nil {
		e.replyErr(sess, err)
		sess.Close()
		return
	}
	sess.SetPhase(Registered)
	e.bindNick(sess, "", sess.Nick)

	if e.Fed != nil {
		e.Fed.ReplicateUserEvent("NICK " + u.Nick + " " + strconv.FormatInt(u.Created.Unix(), 10) + " " + u.Username + " " + u.Host + " " + u.Server + " :" + u.Realname)
	}

	e.numeric(sess, RPL_WELCOME, sess.Nick, fmt.Sprintf("Welcome to the Internet Relay Network %s!%s@%s", sess.Nick, sess.Username, sess.Host))
	e.numeric(sess, RPL_YOURHOST, sess.Nick, fmt.Sprintf("Your host is %s, running ircfed", e.ServerName))
	e.numeric(sess, RPL_CREATED, sess.Nick, fmt.Sprintf("This server was created %s", e.Created.Format(time.RFC1123)))
	e.numericf(sess, RPL_MYINFO, []string{e.ServerName}, "ircfed-1 o")

	total := e.Registry.NumUsers()
	e.numeric(sess, RPL_LUSERCLIENT, sess.Nick, fmt.Sprintf("There are %d users and 0 invisible on 1 servers", total))
	ops := 0
	for _, u := range e.Registry.Users() {
		if u.Operator {
			ops++
		}
	}
	e.numeric(sess, RPL_LUSEROP, sess.Nick, fmt.Sprintf("%d", ops))
	e.numeric(sess, RPL_LUSERCHANNELS, sess.Nick, fmt.Sprintf("%d", e.Registry.NumChannels()))
	e.numeric(sess, RPL_LUSERME, sess.Nick, fmt.Sprintf("I have %d clients and %d servers", total, len(e.linkNames())))

	e.numeric(sess, RPL_MOTDSTART, sess.Nick, fmt.Sprintf("- %s Message of the day -", e.ServerName))
	e.numeric(sess, RPL_MOTD, sess.Nick, "- Welcome.")
	e.numeric(sess, RPL_ENDOFMOTD, sess.Nick, "End of /MOTD command")

	glog.V(1).Infof("session %d registered as %s", sess.ID, sess.Nick)
}

func (e *Engine) linkNames() []string {
	if e.Fed == nil {
		return nil
	}
	return e.Fed.LinkNames()
}

// IdleSweep sends one PING to a session once it has been idle longer than
// the configured idle timeout, and drops it with "Ping timeout" once it
// has been idle longer than one and a half times that timeout. It
// is meant to be called periodically by cmd/ircd (grounded on the
// teacher's canary.go periodic-sweep idiom).
func (e *Engine) IdleSweep() {
	e.mu.RLock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	timeout := e.Config.IdleTimeout()
	for _, s := range sessions {
		idle := s.idleSince()
		switch {
		case idle > timeout+timeout/2:
			e.Drop(s, "Ping timeout")
		case idle > timeout:
			if !s.markPingSent() {
				s.Send(fmt.Sprintf("PING :%s", e.ServerName))
			}
		}
	}
}
