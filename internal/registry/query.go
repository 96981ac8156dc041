package registry

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/robustirc/ircfed/internal/ircerr"
)

// WhoisInfo is a read-only snapshot for spec §4.2 whois(nick).
type WhoisInfo struct {
	User     User
	Channels []string // "@#chan" if the user is op there
}

// Whois implements spec §4.2 whois(nick).
func (r *Registry) Whois(nick string) (*WhoisInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[nickFold(nick)]
	if !ok {
		return nil, ircerr.NoSuchNick
	}
	info := &WhoisInfo{User: *u}
	for chname := range u.Channels {
		c := r.channels[lcChan(chname)]
		if c == nil {
			continue
		}
		prefix := ""
		if flags, ok := c.Members[string(nickFold(nick))]; ok && flags.Op() {
			prefix = "@"
		}
		info.Channels = append(info.Channels, prefix+c.Name)
	}
	sort.Strings(info.Channels)
	return info, nil
}

// WhoEntry is one row of spec §4.2 who(mask).
type WhoEntry struct {
	User    User
	Channel string // channel the entry is reported in relation to, if any
}

// Who implements spec §4.2 who(mask): mask may be a channel name (exact
// match) or a glob over nicknames.
func (r *Registry) Who(mask string) []WhoEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []WhoEntry
	if IsValidChannelName(mask) {
		c, ok := r.channels[chanFold(mask)]
		if !ok {
			return nil
		}
		nicks := make([]string, 0, len(c.Members))
		for n := range c.Members {
			nicks = append(nicks, n)
		}
		sort.Strings(nicks)
		for _, n := range nicks {
			if u, ok := r.users[lcNick(n)]; ok {
				out = append(out, WhoEntry{User: *u, Channel: c.Name})
			}
		}
		return out
	}

	var nicks []string
	for n := range r.users {
		nicks = append(nicks, string(n))
	}
	sort.Strings(nicks)
	for _, n := range nicks {
		if ok, _ := filepath.Match(strings.ToLower(mask), n); ok || mask == "" || mask == "*" {
			out = append(out, WhoEntry{User: *r.users[lcNick(n)]})
		}
	}
	return out
}

// Invite records that target has been invited to chanName by actor (spec
// §4.3 INVITE). It does not check +i mode here; that is the session
// layer's job (an invite is meaningful on any channel the inviter can see).
func (r *Registry) Invite(actor, target, chanName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ckey := chanFold(chanName)
	c, ok := r.channels[ckey]
	if !ok {
		return ircerr.NoSuchChannel
	}
	aKey := nickFold(actor)
	if _, ok := c.Members[string(aKey)]; !ok {
		return ircerr.NotOnChannel
	}
	tKey := nickFold(target)
	if _, ok := r.users[tKey]; !ok {
		return ircerr.NoSuchNick
	}
	c.Invited[string(tKey)] = true
	return nil
}

// SetAway records/unrecords an away message for nick.
func (r *Registry) SetAway(nick, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[nickFold(nick)]
	if !ok {
		return ircerr.NoSuchNick
	}
	u.AwayMsg = message
	return nil
}

// SetOperator marks nick as an IRC operator (spec §4.4 OPER).
func (r *Registry) SetOperator(nick string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[nickFold(nick)]
	if !ok {
		return ircerr.NoSuchNick
	}
	u.Operator = true
	u.Modes['o'] = true
	return nil
}
