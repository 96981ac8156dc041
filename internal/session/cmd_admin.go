package session

import (
	irc "gopkg.in/sorcix/irc.v2"

	"github.com/robustirc/ircfed/internal/ircerr"
)

func init() {
	Commands["OPER"] = &ircCommand{Func: cmdOper, MinParams: 2, RequireAuth: true}
	Commands["KILL"] = &ircCommand{Func: cmdKill, MinParams: 1, RequireAuth: true}
	Commands["SQUIT"] = &ircCommand{Func: cmdSquit, MinParams: 1, RequireAuth: true}
}

// cmdOper implements OPER against both credential sources spec §4.4/§6
// name: the TOML-configured operator list (Config.Operators) and the
// "A;password;nickname" admin table loaded from the persistence file
// (Engine.Admins, wired in at cmd/ircd/main.go and otherwise dead per
// maintainer review). Grounded on the teacher's cmd_oper.go
// password-comparison shape.
func cmdOper(e *Engine, s *Session, msg *irc.Message) {
	name, password := msg.Params[0], msg.Params[1]
	var matched bool
	for _, op := range e.Config.Operators {
		if op.Name == name && op.Password == password {
			matched = true
			break
		}
	}
	if !matched {
		for _, admin := range e.Admins {
			if admin.Nickname == name && admin.Password == password {
				matched = true
				break
			}
		}
	}
	if !matched {
		e.replyErr(s, ircerr.PasswordMismatch)
		return
	}
	if err := e.Registry.SetOperator(s.Nick); err != nil {
		e.replyErr(s, err)
		return
	}
	s.Operator = true
	e.numeric(s, RPL_YOUREOPER, s.Nick, "You are now an IRC operator")
}

// cmdKill implements the operator-only network-wide KILL (spec §4.4),
// immediate per spec §5: no outbound queue flush, the target is dropped
// on the spot wherever it is in the federation.
func cmdKill(e *Engine, s *Session, msg *irc.Message) {
	if !s.Operator {
		e.replyErr(s, ircerr.NoPrivileges)
		return
	}
	target := msg.Params[0]
	reason := "Killed"
	if len(msg.Params) > 1 {
		reason = msg.Params[len(msg.Params)-1]
	}
	if local, ok := e.localSession(target); ok {
		// Close the transport first so the queued output is not flushed.
		local.transport.Close()
		e.Drop(local, "Killed ("+s.Nick+": "+reason+")")
		return
	}
	if e.Fed == nil {
		e.replyErr(s, ircerr.NoSuchNick, target)
		return
	}
	if err := e.Fed.KillUser(target, s.Nick+": "+reason); err != nil {
		e.replyErr(s, err, target)
	}
}

// cmdSquit implements operator-only link teardown (spec §4.4 SQUIT).
func cmdSquit(e *Engine, s *Session, msg *irc.Message) {
	if !s.Operator {
		e.replyErr(s, ircerr.NoPrivileges)
		return
	}
	if e.Fed == nil {
		return
	}
	reason := "Operator requested"
	if len(msg.Params) > 1 {
		reason = msg.Params[len(msg.Params)-1]
	}
	if err := e.Fed.Squit(msg.Params[0], reason); err != nil {
		e.replyErr(s, err, msg.Params[0])
	}
}
