package session

import (
	"strconv"
	"strings"

	irc "gopkg.in/sorcix/irc.v2"

	"github.com/robustirc/ircfed/internal/ircerr"
	"github.com/robustirc/ircfed/internal/ircmsg"
	"github.com/robustirc/ircfed/internal/registry"
)

func init() {
	Commands["JOIN"] = &ircCommand{Func: cmdJoin, MinParams: 1, RequireAuth: true}
	Commands["PART"] = &ircCommand{Func: cmdPart, MinParams: 1, RequireAuth: true}
	Commands["KICK"] = &ircCommand{Func: cmdKick, MinParams: 2, RequireAuth: true}
	Commands["TOPIC"] = &ircCommand{Func: cmdTopic, MinParams: 1, RequireAuth: true}
	Commands["NAMES"] = &ircCommand{Func: cmdNames, MinParams: 0, RequireAuth: true}
	Commands["LIST"] = &ircCommand{Func: cmdList, MinParams: 0, RequireAuth: true}
	Commands["INVITE"] = &ircCommand{Func: cmdInvite, MinParams: 2, RequireAuth: true}
	Commands["MODE"] = &ircCommand{Func: cmdMode, MinParams: 1, RequireAuth: true}
}

func userhost(e *Engine, nick string) string {
	u, ok := e.Registry.GetUser(nick)
	if !ok {
		return nick
	}
	return nick + "!" + u.Username + "@" + u.Host
}

func cmdJoin(e *Engine, s *Session, msg *irc.Message) {
	for _, chanName := range strings.Split(msg.Params[0], ",") {
		res, err := e.Registry.JoinChannel(s.Nick, chanName, joinKey(msg))
		if err != nil {
			e.replyErr(s, err, chanName)
			continue
		}
		line := ":" + s.Prefix().String() + " JOIN :" + res.Channel.Name
		s.Send(line)
		e.BroadcastLocalChannel(res.Channel.Name, line, s.Nick)
		if e.Fed != nil {
			e.Fed.ReplicateChannelEvent(line)
		}
		if res.CreatedByThis {
			opLine := ":" + e.ServerName + " MODE " + res.Channel.Name + " +o " + s.Nick
			s.Send(opLine)
			if e.Fed != nil {
				e.Fed.ReplicateChannelEvent(opLine)
			}
		}
		sendTopicAndNames(e, s, res.Channel.Name)
	}
}

func joinKey(msg *irc.Message) string {
	if len(msg.Params) > 1 {
		return msg.Params[1]
	}
	return ""
}

func sendTopicAndNames(e *Engine, s *Session, chanName string) {
	c, ok := e.Registry.GetChannel(chanName)
	if !ok {
		return
	}
	if c.Topic == "" {
		e.numericf(s, RPL_NOTOPIC, []string{chanName}, "No topic is set")
	} else {
		e.numericf(s, RPL_TOPIC, []string{chanName}, c.Topic)
	}
	names, _ := e.Registry.Names(chanName)
	e.numericf(s, RPL_NAMREPLY, []string{"=", chanName}, strings.Join(names, " "))
	e.numericf(s, RPL_ENDOFNAMES, []string{chanName}, "End of /NAMES list")
}

func cmdPart(e *Engine, s *Session, msg *irc.Message) {
	reason := s.Nick
	if len(msg.Params) > 1 {
		reason = ircmsg.Trailing(msg)
	}
	for _, chanName := range strings.Split(msg.Params[0], ",") {
		c, _, err := e.Registry.PartChannel(s.Nick, chanName)
		if err != nil {
			e.replyErr(s, err, chanName)
			continue
		}
		line := ":" + s.Prefix().String() + " PART " + chanName + " :" + reason
		s.Send(line)
		e.BroadcastLocalChannel(c.Name, line, s.Nick)
		if e.Fed != nil {
			e.Fed.ReplicateChannelEvent(line)
		}
	}
}

func cmdKick(e *Engine, s *Session, msg *irc.Message) {
	chanName, target := msg.Params[0], msg.Params[1]
	reason := target
	if len(msg.Params) > 2 {
		reason = ircmsg.Trailing(msg)
	}
	c, _, err := e.Registry.Kick(s.Nick, target, chanName)
	if err != nil {
		e.replyErr(s, err, chanName)
		return
	}
	line := ":" + s.Prefix().String() + " KICK " + chanName + " " + target + " :" + reason
	s.Send(line)
	e.BroadcastLocalChannel(c.Name, line, s.Nick)
	if targetSess, ok := e.localSession(target); ok {
		targetSess.Send(line)
	}
	if e.Fed != nil {
		e.Fed.ReplicateChannelEvent(line)
	}
}

func cmdTopic(e *Engine, s *Session, msg *irc.Message) {
	chanName := msg.Params[0]
	if len(msg.Params) == 1 {
		c, ok := e.Registry.GetChannel(chanName)
		if !ok {
			e.replyErr(s, ircerr.NoSuchChannel)
			return
		}
		if c.Topic == "" {
			e.numericf(s, RPL_NOTOPIC, []string{chanName}, "No topic is set")
		} else {
			e.numericf(s, RPL_TOPIC, []string{chanName}, c.Topic)
		}
		return
	}
	topic := ircmsg.Trailing(msg)
	c, err := e.Registry.SetTopic(s.Nick, chanName, topic)
	if err != nil {
		e.replyErr(s, err, chanName)
		return
	}
	line := ":" + s.Prefix().String() + " TOPIC " + chanName + " :" + topic
	s.Send(line)
	e.BroadcastLocalChannel(c.Name, line, s.Nick)
	if e.Fed != nil {
		e.Fed.ReplicateChannelEvent(line)
	}
}

func cmdNames(e *Engine, s *Session, msg *irc.Message) {
	if len(msg.Params) == 0 {
		return
	}
	for _, chanName := range strings.Split(msg.Params[0], ",") {
		names, ok := e.Registry.Names(chanName)
		if !ok {
			continue
		}
		e.numericf(s, RPL_NAMREPLY, []string{"=", chanName}, strings.Join(names, " "))
		e.numericf(s, RPL_ENDOFNAMES, []string{chanName}, "End of /NAMES list")
	}
}

func cmdList(e *Engine, s *Session, msg *irc.Message) {
	mask := ""
	if len(msg.Params) > 0 {
		mask = msg.Params[0]
	}
	e.numeric(s, RPL_LISTSTART, "Channel", "Users  Name")
	for _, entry := range e.Registry.List(mask) {
		if entry.Secret {
			continue
		}
		e.numericf(s, RPL_LIST, []string{entry.Name, strconv.Itoa(entry.Members)}, entry.Topic)
	}
	e.numeric(s, RPL_LISTEND, "*", "End of /LIST")
}

func cmdInvite(e *Engine, s *Session, msg *irc.Message) {
	target, chanName := msg.Params[0], msg.Params[1]
	if err := e.Registry.Invite(s.Nick, target, chanName); err != nil {
		e.replyErr(s, err, target)
		return
	}
	e.numericf(s, RPL_INVITING, []string{chanName, target}, target)
	line := ":" + s.Prefix().String() + " INVITE " + target + " :" + chanName
	if targetSess, ok := e.localSession(target); ok {
		targetSess.Send(line)
	} else if e.Fed != nil {
		e.Fed.RouteToUser(target, line)
	}
}

func cmdMode(e *Engine, s *Session, msg *irc.Message) {
	target := msg.Params[0]
	if registry.IsValidChannelName(target) {
		modeChannel(e, s, target, msg.Params[1:])
		return
	}
	modeUser(e, s, target, msg.Params[1:])
}

func modeChannel(e *Engine, s *Session, chanName string, args []string) {
	if len(args) == 0 {
		c, ok := e.Registry.GetChannel(chanName)
		if !ok {
			e.numericf(s, ERR_NOSUCHCHANNEL, []string{chanName}, "No such channel")
			return
		}
		e.numericf(s, RPL_CHANNELMODEIS, []string{chanName}, modeString(c))
		return
	}
	changes, err := parseModeChanges(args)
	if err != nil {
		return
	}
	applied, regErr := e.Registry.SetMode(s.Nick, chanName, changes)
	if regErr != nil {
		e.replyErr(s, regErr, chanName)
		return
	}
	if len(applied) == 0 {
		return
	}
	line := ":" + s.Prefix().String() + " MODE " + chanName + " " + renderModeChanges(applied)
	s.Send(line)
	e.BroadcastLocalChannel(chanName, line, s.Nick)
	if e.Fed != nil {
		e.Fed.ReplicateChannelEvent(line)
	}
}

func modeUser(e *Engine, s *Session, target string, args []string) {
	if !strings.EqualFold(target, s.Nick) {
		e.numericf(s, ERR_USERSDONTMATCH, nil, "Cannot change mode for other users")
		return
	}
	if len(args) == 0 {
		return
	}
	// User modes are not stored; the request is echoed back unchanged.
	s.Send(":" + s.Prefix().String() + " MODE " + target + " " + strings.Join(args, " "))
}

func modeString(c *registry.Channel) string {
	var b strings.Builder
	b.WriteByte('+')
	for _, f := range "ntispml" {
		if c.Modes[byte(f)] {
			b.WriteRune(f)
		}
	}
	return b.String()
}

func parseModeChanges(args []string) ([]registry.ModeChange, error) {
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
			flag := byte(r)
			ch := registry.ModeChange{Add: add, Flag: flag}
			if flagNeedsArg(flag, add) {
				if argi < len(rest) {
					ch.Arg = rest[argi]
					argi++
				}
			}
			changes = append(changes, ch)
		}
	}
	return changes, nil
}

func flagNeedsArg(flag byte, add bool) bool {
	switch flag {
	case 'o', 'v', 'b':
		return true
	case 'k':
		return add
	case 'l':
		return add
	}
	return false
}

func renderModeChanges(applied []registry.ModeChange) string {
	var flags strings.Builder
	var args []string
	add := true
	first := true
	for _, ch := range applied {
		if first || ch.Add != add {
			flags.WriteByte(boolToSign(ch.Add))
			add = ch.Add
			first = false
		}
		flags.WriteByte(ch.Flag)
		if ch.Arg != "" {
			args = append(args, ch.Arg)
		}
	}
	out := flags.String()
	if len(args) > 0 {
		out += " " + strings.Join(args, " ")
	}
	return out
}

func boolToSign(add bool) byte {
	if add {
		return '+'
	}
	return '-'
}
