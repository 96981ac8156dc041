package federation

import (
	"strconv"
	"strings"
	"time"

	"github.com/stapelberg/glog"
	irc "gopkg.in/sorcix/irc.v2"

	"github.com/robustirc/ircfed/internal/ircmsg"
	"github.com/robustirc/ircfed/internal/registry"
	"github.com/robustirc/ircfed/internal/session"
)

// handleHandshakeLine processes PASS/SERVER lines before a link session has
// reached ServerRegistered. It returns the negotiated peer name and true
// once SERVER succeeds. A line that does not parse is ignored; any command
// other than PASS or SERVER before that point closes the session.
func (h *Hub) handleHandshakeLine(sess *session.Session, line, expectName string) (string, bool) {
	msg, err := ircmsg.Parse(line)
	if err != nil {
		return "", false
	}
	switch strings.ToUpper(msg.Command) {
	case "PASS":
		if len(msg.Params) > 0 {
			sess.PassParam = msg.Params[0]
		}
	case "SERVER":
		if len(msg.Params) == 0 {
			sess.Close()
			return "", false
		}
		name := msg.Params[0]
		if sess.PassParam != h.cfg.LinkPassword {
			glog.Warningf("federation: link from %q rejected: bad link password", name)
			sess.Send("ERROR :Bad link password")
			sess.Close()
			return "", false
		}
		if expectName != "" && name != expectName {
			glog.Warningf("federation: link identified as %q, expected %q", name, expectName)
			sess.Send("ERROR :Unexpected server name")
			sess.Close()
			return "", false
		}
		if h.knownServerName(name) {
			sess.Send("ERROR :Server already linked")
			sess.Close()
			return "", false
		}
		sess.PeerServerName = name
		sess.SetPhase(session.ServerRegistered)
		if expectName == "" {
			// Inbound link: answer with our own PASS/SERVER. An outbound
			// link already sent both in ConnectToParent.
			sess.Send("PASS :" + h.cfg.LinkPassword)
			sess.Send("SERVER " + h.selfName + " :federated ircd")
		}
		glog.Infof("federation: link to %s established", name)
		return name, true
	default:
		sess.Close()
	}
	return "", false
}

func prefixName(msg *irc.Message) string {
	if msg.Prefix == nil {
		return ""
	}
	return msg.Prefix.Name
}

type serverCommand struct {
	Func      func(h *Hub, link *Link, msg *irc.Message)
	MinParams int
}

var serverCommands = map[string]*serverCommand{}

func init() {
	serverCommands["server_NICK"] = &serverCommand{Func: serverNick, MinParams: 5}
	serverCommands["server_SJOIN"] = &serverCommand{Func: serverSjoin, MinParams: 1}
	serverCommands["server_JOIN"] = &serverCommand{Func: serverJoin, MinParams: 1}
	serverCommands["server_PART"] = &serverCommand{Func: serverPart, MinParams: 1}
	serverCommands["server_QUIT"] = &serverCommand{Func: serverQuit, MinParams: 0}
	serverCommands["server_PRIVMSG"] = &serverCommand{Func: serverRelay, MinParams: 2}
	serverCommands["server_NOTICE"] = &serverCommand{Func: serverRelay, MinParams: 2}
	serverCommands["server_TOPIC"] = &serverCommand{Func: serverTopic, MinParams: 2}
	serverCommands["server_MODE"] = &serverCommand{Func: serverMode, MinParams: 2}
	serverCommands["server_KICK"] = &serverCommand{Func: serverKick, MinParams: 2}
	serverCommands["server_KILL"] = &serverCommand{Func: serverKill, MinParams: 1}
	serverCommands["server_SQUIT"] = &serverCommand{Func: serverSquit, MinParams: 1}
	serverCommands["server_PING"] = &serverCommand{Func: serverPing, MinParams: 0}
	serverCommands["server_PONG"] = &serverCommand{Func: serverPong, MinParams: 0}
}

// handleServerLine dispatches one line arriving on an already-registered
// link, mirroring the teacher's "server_"-prefixed Commands-table
// extension that distinguishes privileged peer traffic from ordinary
// client traffic, generalized here from services-bridge messages to
// server-to-server federation traffic.
func (h *Hub) handleServerLine(link *Link, line string) {
	msg, err := ircmsg.Parse(line)
	if err != nil {
		glog.V(2).Infof("federation: malformed line from %s: %v", link.Name, err)
		return
	}
	key := "server_" + strings.ToUpper(msg.Command)
	cmd, ok := serverCommands[key]
	if !ok {
		return
	}
	if len(msg.Params) < cmd.MinParams {
		glog.V(2).Infof("federation: %s from %s missing params", msg.Command, link.Name)
		return
	}
	cmd.Func(h, link, msg)
}

// serverNick introduces a remote user, either as part of a burst or live
// (spec §4.4's nick-introduction rule, incl. collision tie-break: earlier
// Created timestamp wins per spec §7, lexicographically smaller server
// name as the tie-break for an exact timestamp match). The hopcount slot
// in the wire format (params[1]) carries the introducing server's
// RegisterUser/RegisterRemoteUser Created time as a Unix timestamp, so
// the tie-break can compare true registration order rather than only
// server name. Params: nick createdUnix username host server :realname
func serverNick(h *Hub, link *Link, msg *irc.Message) {
	nick, username, host, server := msg.Params[0], msg.Params[2], msg.Params[3], msg.Params[4]
	realname := ircmsg.Trailing(msg)
	created := time.Now()
	if ts, err := strconv.ParseInt(msg.Params[1], 10, 64); err == nil {
		created = time.Unix(ts, 0)
	}

	if existing, ok := h.reg.GetUser(nick); ok {
		// The wire carries whole seconds, so compare at that resolution.
		existingCreated := time.Unix(existing.Created.Unix(), 0)
		existingLoses := created.Before(existingCreated) ||
			(created.Equal(existingCreated) && server < existing.Server)
		if !existingLoses {
			// The introduction we just received loses the collision:
			// reject it and tell the introducing link to kill its own
			// copy too (spec §7: "forcibly renamed or killed (Nick
			// collision)").
			glog.V(2).Infof("federation: nick collision on %s, rejecting introduction from %s", nick, server)
			link.Sess.Send(":" + h.selfName + " KILL " + nick + " :Nick collision")
			return
		}
		h.killCollision(existing, link)
	}
	if _, err := h.reg.RegisterRemoteUser(nick, username, realname, host, server, created); err != nil {
		glog.V(2).Infof("federation: could not introduce %s from %s: %v", nick, server, err)
		return
	}
	line, _ := ircmsg.Serialize(msg)
	h.forwardToAllExcept(line, link)
}

// killCollision evicts the losing side of a nick collision (spec §7),
// delivering the KILL notification to the local session if the loser is
// ours, and propagating it along the tree otherwise so every other
// server drops the same user. Mirrors the local-vs-remote branching
// already used by Hub.KillUser.
func (h *Hub) killCollision(u *registry.User, exceptLink *Link) {
	line := ":" + h.selfName + " KILL " + u.Nick + " :Nick collision"
	if u.Server == h.selfName {
		h.deliverer.DeliverLocal(u.Nick, line)
	}
	h.reg.DropUser(u.Nick)
	h.forwardToAllExcept(line, exceptLink)
}

// serverSjoin applies a burst channel snapshot: "SJOIN #chan :nick1 nick2".
func serverSjoin(h *Hub, link *Link, msg *irc.Message) {
	chanName := msg.Params[0]
	for _, entry := range strings.Fields(ircmsg.Trailing(msg)) {
		nick := strings.TrimLeft(entry, "@+")
		if _, err := h.reg.JoinChannel(nick, chanName, ""); err != nil {
			continue
		}
		if strings.HasPrefix(entry, "@") {
			h.reg.SetMode(nick, chanName, []registry.ModeChange{{Add: true, Flag: 'o', Arg: nick}})
		}
	}
}

func serverJoin(h *Hub, link *Link, msg *irc.Message) {
	nick := prefixName(msg)
	chanName := msg.Params[0]
	if _, err := h.reg.JoinChannel(nick, chanName, ""); err != nil {
		glog.V(2).Infof("federation: dropping JOIN of %s to %s from %s: %v", nick, chanName, link.Name, err)
		return
	}
	line, _ := ircmsg.Serialize(msg)
	h.deliverer.BroadcastLocalChannel(chanName, line, nick)
	h.forwardToAllExcept(line, link)
}

func serverPart(h *Hub, link *Link, msg *irc.Message) {
	nick := prefixName(msg)
	chanName := msg.Params[0]
	c, _, err := h.reg.PartChannel(nick, chanName)
	if err != nil {
		return
	}
	line, _ := ircmsg.Serialize(msg)
	h.deliverer.BroadcastLocalChannel(c.Name, line, nick)
	h.forwardToAllExcept(line, link)
}

func serverQuit(h *Hub, link *Link, msg *irc.Message) {
	nick := prefixName(msg)
	affected, _ := h.reg.DropUser(nick)
	line, _ := ircmsg.Serialize(msg)
	for _, chanName := range affected {
		h.deliverer.BroadcastLocalChannel(chanName, line, nick)
	}
	h.forwardToAllExcept(line, link)
}

// serverRelay forwards a cross-server PRIVMSG/NOTICE toward its target,
// delivering to any local recipient and continuing the forward along the
// tree otherwise (spec §4.4 rule 4: loop-free forwarding).
func serverRelay(h *Hub, link *Link, msg *irc.Message) {
	target := msg.Params[0]
	line, _ := ircmsg.Serialize(msg)
	if registry.IsValidChannelName(target) {
		h.deliverer.BroadcastLocalChannel(target, line, "")
		h.forwardToAllExcept(line, link)
		return
	}
	if h.deliverer.DeliverLocal(target, line) {
		return
	}
	h.RouteToUser(target, line)
}

func serverTopic(h *Hub, link *Link, msg *irc.Message) {
	chanName, setter := msg.Params[0], msg.Params[1]
	topic := ircmsg.Trailing(msg)
	if _, err := h.reg.SetTopic(setter, chanName, topic); err != nil {
		return
	}
	line, _ := ircmsg.Serialize(msg)
	h.deliverer.BroadcastLocalChannel(chanName, line, "")
	h.forwardToAllExcept(line, link)
}

func serverMode(h *Hub, link *Link, msg *irc.Message) {
	target := msg.Params[0]
	if !registry.IsValidChannelName(target) {
		return
	}
	actor := prefixName(msg)
	if actor == "" {
		actor = h.selfName
	}
	changes, _ := parseServerModeChanges(msg.Params[1:])
	if _, err := h.reg.SetMode(actor, target, changes); err != nil {
		return
	}
	line, _ := ircmsg.Serialize(msg)
	h.deliverer.BroadcastLocalChannel(target, line, "")
	h.forwardToAllExcept(line, link)
}

func parseServerModeChanges(args []string) ([]registry.ModeChange, error) {
	if len(args) == 0 {
		return nil, nil
	}
	spec := args[0]
	rest := args[1:]
	var changes []registry.ModeChange
	add := true
	argi := 0
	for _, r := range spec {
		switch r {
		case '+':
			add = true
		case '-':
			add = false
		default:
			ch := registry.ModeChange{Add: add, Flag: byte(r)}
			if argi < len(rest) {
				ch.Arg = rest[argi]
				argi++
			}
			changes = append(changes, ch)
		}
	}
	return changes, nil
}

func serverKick(h *Hub, link *Link, msg *irc.Message) {
	actor := prefixName(msg)
	chanName, target := msg.Params[0], msg.Params[1]
	c, _, err := h.reg.Kick(actor, target, chanName)
	if err != nil {
		return
	}
	line, _ := ircmsg.Serialize(msg)
	h.deliverer.BroadcastLocalChannel(c.Name, line, "")
	h.deliverer.DeliverLocal(target, line)
	h.forwardToAllExcept(line, link)
}

func serverKill(h *Hub, link *Link, msg *irc.Message) {
	target := msg.Params[0]
	line, _ := ircmsg.Serialize(msg)
	if h.deliverer.DeliverLocal(target, line) {
		h.reg.DropUser(target)
	}
	h.forwardToAllExcept(line, link)
}

func serverSquit(h *Hub, link *Link, msg *irc.Message) {
	name := msg.Params[0]
	reason := "Remote SQUIT"
	if len(msg.Params) > 1 {
		reason = ircmsg.Trailing(msg)
	}
	if l, ok := h.linkByName(name); ok {
		h.dropLink(l, reason)
	}
}

func serverPing(h *Hub, link *Link, msg *irc.Message) {
	link.Sess.Send(":" + h.selfName + " PONG " + h.selfName + " :" + link.Name)
}

func serverPong(h *Hub, link *Link, msg *irc.Message) {
	link.Sess.Touch()
}
