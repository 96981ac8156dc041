package federation

import (
	"strconv"
	"strings"

	"github.com/robustirc/ircfed/internal/registry"
)

// sendBurst replays the entire current registry state down a newly
// established link (spec §4.4: "after the handshake, a burst of every
// known user and channel is sent down the new link so both sides start
// from an identical view"). Grounded on the teacher's full-state-snapshot
// send on proxy reconnect (proxy/proxy.go), generalized from "replay a
// log of raft commands" to "replay the live registry as synthesized
// NICK/JOIN/MODE lines", since there is no persisted command log here.
func (h *Hub) sendBurst(link *Link) {
	for _, u := range h.reg.Users() {
		line := "NICK " + u.Nick + " " + strconv.FormatInt(u.Created.Unix(), 10) + " " + u.Username + " " + u.Host + " " + u.Server + " :" + u.Realname
		link.Sess.Send(line)
	}
	for _, c := range h.reg.Channels() {
		names, ok := h.reg.Names(c.Name)
		if !ok {
			continue
		}
		line := "SJOIN " + c.Name + " :" + strings.Join(names, " ")
		link.Sess.Send(line)
		if c.Topic != "" {
			link.Sess.Send("TOPIC " + c.Name + " " + c.TopicSetBy + " :" + c.Topic)
		}
		for _, line := range burstModeLines(c) {
			link.Sess.Send(line)
		}
	}
}

// burstModeLines synthesizes the MODE lines needed to recreate a
// channel's +ntispml/+k/+l state and ban list on the remote side (spec
// §4.4 step 3, "MODE/TOPIC lines to recreate state"), mirroring the
// flag/argument layout `cmd_channel.go`'s modeString/flagNeedsArg use
// on the client-facing side.
func burstModeLines(c *registry.Channel) []string {
	var flags strings.Builder
	var args []string
	for _, f := range "ntispm" {
		if c.Modes[byte(f)] {
			flags.WriteByte(byte(f))
		}
	}
	if c.Modes['k'] && c.Key != "" {
		flags.WriteByte('k')
		args = append(args, c.Key)
	}
	if c.Modes['l'] && c.Limit > 0 {
		flags.WriteByte('l')
		args = append(args, strconv.Itoa(c.Limit))
	}
	var lines []string
	if flags.Len() > 0 {
		line := "MODE " + c.Name + " +" + flags.String()
		if len(args) > 0 {
			line += " " + strings.Join(args, " ")
		}
		lines = append(lines, line)
	}
	for _, mask := range c.BanMasks() {
		lines = append(lines, "MODE "+c.Name+" +b "+mask)
	}
	return lines
}
