package session

import (
	irc "gopkg.in/sorcix/irc.v2"

	"github.com/robustirc/ircfed/internal/ircerr"
	"github.com/robustirc/ircfed/internal/ircmsg"
	"github.com/robustirc/ircfed/internal/registry"
)

func init() {
	Commands["PASS"] = &ircCommand{Func: cmdPass, MinParams: 1}
	Commands["NICK"] = &ircCommand{Func: cmdNick, MinParams: 0}
	Commands["USER"] = &ircCommand{Func: cmdUser, MinParams: 4}
	Commands["QUIT"] = &ircCommand{Func: cmdQuit, MinParams: 0}
	Commands["PING"] = &ircCommand{Func: cmdPing, MinParams: 0}
	Commands["PONG"] = &ircCommand{Func: cmdPong, MinParams: 0}
}

// cmdPass implements PASS, grounded on the teacher's cmd_pass.go: it only
// records the parameter for later use (here: network-wide link password
// comparison is C4's job; a client PASS is otherwise unchecked, matching
// most deployed ircds that only enforce it via services).
func cmdPass(e *Engine, s *Session, msg *irc.Message) {
	if s.Phase() != Unregistered {
		e.replyErr(s, ircerr.AlreadyRegistered)
		return
	}
	s.PassParam = msg.Params[0]
}

func cmdNick(e *Engine, s *Session, msg *irc.Message) {
	if len(msg.Params) < 1 {
		e.numeric(s, ERR_NONICKNAMEGIVEN, "*", "No nickname given")
		return
	}
	nick := msg.Params[0]
	if !registry.IsValidNickname(nick) {
		e.numericf(s, ERR_ERRONEUSNICKNAME, []string{nick}, "Erroneous nickname")
		return
	}

	switch s.Phase() {
	case Unregistered:
		// The nickname is only checked here, not reserved: it enters the
		// registry when registration completes. If another session
		// registers the same nickname first, completeRegistration replies
		// 433 and closes this session.
		if _, ok := e.Registry.GetUser(nick); ok {
			e.numericf(s, ERR_NICKNAMEINUSE, []string{nick}, "Nickname is already in use")
			return
		}
		s.Nick = nick
		s.SetPhase(AwaitingUser)
		// USER may have already arrived (spec §4.3 doesn't fix an order
		// between NICK and USER); finish registration immediately rather
		// than waiting for a USER line that already came and went.
		if s.Username != "" {
			e.completeRegistration(s)
		}
	case AwaitingUser:
		if _, ok := e.Registry.GetUser(nick); ok {
			e.numericf(s, ERR_NICKNAMEINUSE, []string{nick}, "Nickname is already in use")
			return
		}
		s.Nick = nick
		e.completeRegistration(s)
	case Registered:
		old := s.Nick
		if _, err := e.Registry.RenameUser(old, nick); err != nil {
			e.numericf(s, ERR_NICKNAMEINUSE, []string{nick}, "Nickname is already in use")
			return
		}
		line := ":" + old + "!" + s.Username + "@" + s.Host + " NICK :" + nick
		affected := channelNamesOf(e, nick)
		e.broadcastToChannels(affected, line, old)
		s.Send(line)
		s.Nick = nick
		e.bindNick(s, old, nick)
		if e.Fed != nil {
			e.Fed.ReplicateUserEvent(line)
		}
	}
}

func channelNamesOf(e *Engine, nick string) []string {
	u, ok := e.Registry.GetUser(nick)
	if !ok {
		return nil
	}
	var out []string
	for ch := range u.Channels {
		out = append(out, ch)
	}
	return out
}

func cmdUser(e *Engine, s *Session, msg *irc.Message) {
	if s.Phase() == Registered {
		e.replyErr(s, ircerr.AlreadyRegistered)
		return
	}
	s.Username = msg.Params[0]
	s.Realname = ircmsg.Trailing(msg)
	if s.Host == "" {
		s.Host = s.RemoteAddr
	}
	if s.Phase() == AwaitingUser {
		e.completeRegistration(s)
	}
}

func cmdQuit(e *Engine, s *Session, msg *irc.Message) {
	reason := "Client Quit"
	if len(msg.Params) > 0 {
		reason = ircmsg.Trailing(msg)
	}
	e.Drop(s, reason)
}

func cmdPing(e *Engine, s *Session, msg *irc.Message) {
	arg := e.ServerName
	if len(msg.Params) > 0 {
		arg = msg.Params[0]
	}
	s.Send(":" + e.ServerName + " PONG " + e.ServerName + " :" + arg)
}

func cmdPong(e *Engine, s *Session, msg *irc.Message) {
	// Liveness only; Touch() already ran in HandleLine.
}
