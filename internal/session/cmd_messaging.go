package session

import (
	"fmt"
	"time"

	irc "gopkg.in/sorcix/irc.v2"

	"github.com/robustirc/ircfed/internal/ircerr"
	"github.com/robustirc/ircfed/internal/ircmsg"
	"github.com/robustirc/ircfed/internal/registry"
)

func init() {
	Commands["PRIVMSG"] = &ircCommand{Func: cmdPrivmsg, MinParams: 2, RequireAuth: true}
	Commands["NOTICE"] = &ircCommand{Func: cmdNotice, MinParams: 2, RequireAuth: true}
	Commands["WHO"] = &ircCommand{Func: cmdWho, MinParams: 0, RequireAuth: true}
	Commands["WHOIS"] = &ircCommand{Func: cmdWhois, MinParams: 1, RequireAuth: true}
	Commands["AWAY"] = &ircCommand{Func: cmdAway, MinParams: 0, RequireAuth: true}
	Commands["VERSION"] = &ircCommand{Func: cmdVersion, MinParams: 0, RequireAuth: true}
	Commands["TIME"] = &ircCommand{Func: cmdTime, MinParams: 0, RequireAuth: true}
}

func cmdPrivmsg(e *Engine, s *Session, msg *irc.Message) { deliverTalk(e, s, msg, "PRIVMSG") }
func cmdNotice(e *Engine, s *Session, msg *irc.Message)  { deliverTalk(e, s, msg, "NOTICE") }

// deliverTalk implements spec §4.3 PRIVMSG/NOTICE: fan out to a channel's
// local members plus one replicated line to the federation, or route
// directly to a user (locally or across the tree). DCC CTCP offers are
// intercepted first, by maybeHandleDCC (see cmd_dcc.go).
func deliverTalk(e *Engine, s *Session, msg *irc.Message, verb string) {
	target := msg.Params[0]
	text := ircmsg.Trailing(msg)

	if handled := maybeHandleDCC(e, s, target, text, verb); handled {
		return
	}

	line := ":" + s.Prefix().String() + " " + verb + " " + target + " :" + text
	if registry.IsValidChannelName(target) {
		c, ok := e.Registry.GetChannel(target)
		if !ok {
			if verb == "PRIVMSG" {
				e.replyErr(s, ircerr.NoSuchChannel, target)
			}
			return
		}
		if _, onChan := c.Members[registry.NickFold(s.Nick)]; !onChan && c.Modes['n'] {
			if verb == "PRIVMSG" {
				e.replyErr(s, ircerr.CannotSendToChan, target)
			}
			return
		}
		e.BroadcastLocalChannel(target, line, s.Nick)
		if e.Fed != nil {
			e.Fed.ReplicateChannelEvent(line)
		}
		return
	}

	if e.DeliverLocal(target, line) {
		return
	}
	if e.Fed != nil && e.Fed.RouteToUser(target, line) {
		return
	}
	if verb == "PRIVMSG" {
		e.replyErr(s, ircerr.NoSuchNick, target)
	}
}

func cmdWho(e *Engine, s *Session, msg *irc.Message) {
	mask := "*"
	if len(msg.Params) > 0 {
		mask = msg.Params[0]
	}
	for _, entry := range e.Registry.Who(mask) {
		chanName := entry.Channel
		if chanName == "" {
			chanName = "*"
		}
		flag := "H"
		if entry.User.AwayMsg != "" {
			flag = "G"
		}
		if entry.User.Operator {
			flag += "*"
		}
		fields := []string{chanName, entry.User.Username, entry.User.Host, e.ServerName, entry.User.Nick, flag}
		e.numericf(s, RPL_WHOREPLY, fields, "0 "+entry.User.Realname)
	}
	e.numericf(s, RPL_ENDOFWHO, []string{mask}, "End of /WHO list")
}

func cmdWhois(e *Engine, s *Session, msg *irc.Message) {
	target := msg.Params[len(msg.Params)-1]
	info, err := e.Registry.Whois(target)
	if err != nil {
		e.replyErr(s, err, target)
		return
	}
	u := info.User
	e.numericf(s, RPL_WHOISUSER, []string{u.Nick, u.Username, u.Host, "*"}, u.Realname)
	e.numericf(s, RPL_WHOISSERVER, []string{u.Nick, u.Server}, "ircfed")
	if u.Operator {
		e.numericf(s, RPL_WHOISOPERATOR, []string{u.Nick}, "is an IRC operator")
	}
	if u.AwayMsg != "" {
		e.numericf(s, RPL_AWAY, []string{u.Nick}, u.AwayMsg)
	}
	idle := int64(0)
	if ls, ok := e.localSession(u.Nick); ok {
		idle = int64(ls.idleSince().Seconds())
	}
	e.numericf(s, RPL_WHOISIDLE, []string{u.Nick, fmt.Sprintf("%d", idle), fmt.Sprintf("%d", u.Created.Unix())}, "seconds idle, signon time")
	if len(info.Channels) > 0 {
		joined := ""
		for i, c := range info.Channels {
			if i > 0 {
				joined += " "
			}
			joined += c
		}
		e.numericf(s, RPL_WHOISCHANNELS, []string{u.Nick}, joined)
	}
	e.numericf(s, RPL_ENDOFWHOIS, []string{u.Nick}, "End of /WHOIS list")
}

func cmdAway(e *Engine, s *Session, msg *irc.Message) {
	message := ""
	if len(msg.Params) > 0 {
		message = ircmsg.Trailing(msg)
	}
	e.Registry.SetAway(s.Nick, message)
	s.AwayMsg = message
	if message == "" {
		e.numeric(s, RPL_UNAWAY, s.Nick, "You are no longer marked as being away")
	} else {
		e.numeric(s, RPL_NOWAWAY, s.Nick, "You have been marked as being away")
	}
}

func cmdVersion(e *Engine, s *Session, msg *irc.Message) {
	e.numericf(s, RPL_VERSION, []string{"ircfed-1." + e.ServerName}, "federated IRC core")
}

func cmdTime(e *Engine, s *Session, msg *irc.Message) {
	e.numericf(s, RPL_TIME, []string{e.ServerName}, time.Now().Format(time.RFC1123))
}
