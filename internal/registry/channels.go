package registry

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robustirc/ircfed/internal/ircerr"
)

// regexpMatcher wraps *regexp.Regexp so banPattern.re has a named type
// independent of the regexp package in the exported surface.
type regexpMatcher struct {
	*regexp.Regexp
}

// compileMask turns a ban mask such as "*!*@bad.example" into the same kind
// of anchored regexp the teacher's cmd_mode.go ban() builds: escape
// everything, then let "*" behave as a wildcard.
func compileMask(mask string) (*regexpMatcher, error) {
	pattern := regexp.QuoteMeta(mask)
	pattern = strings.ReplaceAll(pattern, `\*`, ".*")
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return nil, err
	}
	return &regexpMatcher{re}, nil
}

func matchesAny(bans []banPattern, userhost string) bool {
	for _, b := range bans {
		if b.re != nil && b.re.MatchString(userhost) {
			return true
		}
	}
	return false
}

// BanMasks returns the channel's ban masks in their original glob form,
// for callers (the federation burst) that need to recreate +b state
// without reaching into the unexported banPattern type.
func (c *Channel) BanMasks() []string {
	masks := make([]string, len(c.Bans))
	for i, b := range c.Bans {
		masks[i] = b.mask
	}
	return masks
}

// JoinResult carries everything C4 needs to replicate and announce a join:
// whether the channel was newly created (so MODE +nt and the creator's +o
// need announcing too) and whether the user became a channel operator.
type JoinResult struct {
	Channel       *Channel
	CreatedByThis bool
	BecameOp      bool
}

// JoinChannel implements spec §4.2 join_channel.
func (r *Registry) JoinChannel(nick, chanName, key string) (*JoinResult, error) {
	if !IsValidChannelName(chanName) {
		return nil, ircerr.NoSuchChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nkey := nickFold(nick)
	u, ok := r.users[nkey]
	if !ok {
		return nil, ircerr.NoSuchNick
	}

	if r.MaxChannelsPerUser > 0 && !u.Channels[string(chanFold(chanName))] && len(u.Channels) >= r.MaxChannelsPerUser {
		return nil, ircerr.TooManyChannels
	}

	ckey := chanFold(chanName)
	c, exists := r.channels[ckey]
	created := false
	if !exists {
		c = newChannel(chanName)
		c.Modes['n'] = true
		c.Modes['t'] = true
		r.channels[ckey] = c
		created = true
	} else {
		if _, already := c.Members[string(nkey)]; already {
			return nil, ircerr.AlreadyOnChannel
		}
		if c.Modes['i'] && !c.Invited[string(nkey)] {
			return nil, ircerr.InviteOnlyChan
		}
		if c.Modes['k'] && c.Key != "" && c.Key != key {
			return nil, ircerr.BadChannelKey
		}
		if c.Modes['l'] && c.Limit > 0 && len(c.Members) >= c.Limit {
			return nil, ircerr.ChannelIsFull
		}
		userhost := nick + "!" + u.Username + "@" + u.Host
		if matchesAny(c.Bans, userhost) {
			return nil, ircerr.BannedFromChan
		}
	}

	delete(c.Invited, string(nkey))

	flags := &MemberFlags{}
	if created {
		flags[memberOp] = true
	}
	c.Members[string(nkey)] = flags
	u.Channels[string(ckey)] = true
	channelsGauge.Set(float64(len(r.channels)))

	return &JoinResult{Channel: c, CreatedByThis: created, BecameOp: created}, nil
}

// PartChannel implements spec §4.2 part_channel. It returns the channel
// pointer (for the caller to build the broadcast before the channel is
// potentially destroyed) and whether the channel was destroyed as a result.
func (r *Registry) PartChannel(nick, chanName string) (*Channel, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ckey := chanFold(chanName)
	c, ok := r.channels[ckey]
	if !ok {
		return nil, false, ircerr.NoSuchChannel
	}
	nkey := nickFold(nick)
	if _, ok := c.Members[string(nkey)]; !ok {
		return nil, false, ircerr.NotOnChannel
	}

	delete(c.Members, string(nkey))
	if u, ok := r.users[nkey]; ok {
		delete(u.Channels, string(ckey))
	}

	destroyed := false
	if len(c.Members) == 0 {
		delete(r.channels, ckey)
		destroyed = true
		channelsGauge.Set(float64(len(r.channels)))
	}
	return c, destroyed, nil
}

// Kick implements the membership-removal half of KICK. It checks itself
// that the actor is on the channel and holds operator status there before
// removing target.
func (r *Registry) Kick(actor, target, chanName string) (*Channel, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ckey := chanFold(chanName)
	c, ok := r.channels[ckey]
	if !ok {
		return nil, false, ircerr.NoSuchChannel
	}
	aKey := nickFold(actor)
	actorFlags, ok := c.Members[string(aKey)]
	if !ok {
		return nil, false, ircerr.NotOnChannel
	}
	if !actorFlags.Op() {
		return nil, false, ircerr.ChanOpPrivsNeeded
	}
	tKey := nickFold(target)
	if _, ok := c.Members[string(tKey)]; !ok {
		return nil, false, ircerr.UserNotInChannel
	}

	delete(c.Members, string(tKey))
	if u, ok := r.users[tKey]; ok {
		delete(u.Channels, string(ckey))
	}

	destroyed := false
	if len(c.Members) == 0 {
		delete(r.channels, ckey)
		destroyed = true
		channelsGauge.Set(float64(len(r.channels)))
	}
	return c, destroyed, nil
}

// GetChannel returns the channel by name, if any.
func (r *Registry) GetChannel(chanName string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[chanFold(chanName)]
	return c, ok
}

// Channels returns a snapshot slice of every known channel, sorted by name.
func (r *Registry) Channels() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MemberNick joins lcNick keys in Channel.Members back to display
// nicknames; membership maps are keyed by folded nick, not the User
// pointer, to avoid a second layer of indirection during NICK changes.
func (r *Registry) MemberNick(foldedNick string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[lcNick(foldedNick)]; ok {
		return u.Nick
	}
	return foldedNick
}

// Names implements spec §4.2 names(chan): a point-in-time snapshot of
// "@nick"/"nick" entries, sorted.
func (r *Registry) Names(chanName string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[chanFold(chanName)]
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(c.Members))
	for foldedNick, flags := range c.Members {
		prefix := ""
		if flags.Op() {
			prefix = "@"
		} else if flags.Voice() {
			prefix = "+"
		}
		nick := foldedNick
		if u, ok := r.users[lcNick(foldedNick)]; ok {
			nick = u.Nick
		}
		names = append(names, prefix+nick)
	}
	sort.Strings(names)
	return names, true
}

// List implements spec §4.2 list(mask): every channel when mask is empty,
// otherwise only the channel whose name equals mask case-insensitively (no
// glob matching). Secret (+s) channels are included with Secret set; the
// session layer decides which of them the caller may see.
type ListEntry struct {
	Name    string
	Members int
	Topic   string
	Secret  bool
}

func (r *Registry) List(mask string) []ListEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	if mask == "" {
		for name := range r.channels {
			names = append(names, string(name))
		}
	} else {
		if c, ok := r.channels[chanFold(mask)]; ok {
			names = []string{string(chanFold(c.Name))}
		}
	}
	sort.Strings(names)

	out := make([]ListEntry, 0, len(names))
	for _, name := range names {
		c := r.channels[lcChan(name)]
		out = append(out, ListEntry{
			Name:    c.Name,
			Members: len(c.Members),
			Topic:   c.Topic,
			Secret:  c.Modes['s'],
		})
	}
	return out
}

// SetTopic implements spec §4.2 set_topic.
func (r *Registry) SetTopic(actor, chanName, topic string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[chanFold(chanName)]
	if !ok {
		return nil, ircerr.NoSuchChannel
	}
	aKey := nickFold(actor)
	flags, onChan := c.Members[string(aKey)]
	if !onChan {
		return nil, ircerr.NotOnChannel
	}
	if c.Modes['t'] && !flags.Op() {
		return nil, ircerr.ChanOpPrivsNeeded
	}

	c.Topic = topic
	c.TopicSetBy = actor
	c.TopicSetAt = time.Now()
	return c, nil
}

// ModeChange is one applied flag change, used both to build the MODE
// broadcast and to hand the diff to C4 for replication.
type ModeChange struct {
	Add  bool
	Flag byte
	Arg  string
}

// flagsWithArg are the channel mode letters which consume a parameter.
var flagsWithArg = map[byte]bool{'k': true, 'l': true, 'o': true, 'v': true, 'b': true}

// SetMode applies a sequence of requested mode changes left to right,
// enforcing operator privileges for every flag (spec §4.3: MODE ops
// applied left-to-right with per-flag argument consumption). It returns
// only the subset that were actually applied (the "diff").
func (r *Registry) SetMode(actor, chanName string, requested []ModeChange) ([]ModeChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[chanFold(chanName)]
	if !ok {
		return nil, ircerr.NoSuchChannel
	}
	aKey := nickFold(actor)
	actorFlags, onChan := c.Members[string(aKey)]
	if !onChan {
		return nil, ircerr.NotOnChannel
	}
	if !actorFlags.Op() {
		return nil, ircerr.ChanOpPrivsNeeded
	}

	var applied []ModeChange
	for _, ch := range requested {
		switch ch.Flag {
		case 'i', 'p', 's', 't', 'n', 'm':
			c.Modes[ch.Flag] = ch.Add
			applied = append(applied, ch)
		case 'k':
			if ch.Add {
				c.Modes['k'] = true
				c.Key = ch.Arg
			} else {
				c.Modes['k'] = false
				c.Key = ""
			}
			applied = append(applied, ch)
		case 'l':
			if ch.Add {
				n, err := strconv.Atoi(ch.Arg)
				if err != nil || n <= 0 {
					continue
				}
				c.Modes['l'] = true
				c.Limit = n
			} else {
				c.Modes['l'] = false
				c.Limit = 0
			}
			applied = append(applied, ch)
		case 'o', 'v':
			tKey := nickFold(ch.Arg)
			flags, ok := c.Members[string(tKey)]
			if !ok {
				continue
			}
			idx := memberOp
			if ch.Flag == 'v' {
				idx = memberVoice
			}
			flags[idx] = ch.Add
			applied = append(applied, ch)
		case 'b':
			if ch.Add {
				re, err := compileMask(ch.Arg)
				if err != nil {
					continue
				}
				c.Bans = append(c.Bans, banPattern{mask: ch.Arg, re: re})
			} else {
				filtered := c.Bans[:0]
				for _, b := range c.Bans {
					if b.mask != ch.Arg {
						filtered = append(filtered, b)
					}
				}
				c.Bans = filtered
			}
			applied = append(applied, ch)
		default:
			// Unknown flags are silently ignored per spec §4.3.
		}
	}
	return applied, nil
}

// IsValidChannelName reports whether name satisfies spec §3's channel name
// rule: case-folded, must start with '#' or '&'.
func IsValidChannelName(name string) bool {
	if name == "" {
		return false
	}
	return name[0] == '#' || name[0] == '&'
}

// validNickRe restricts nicknames to ASCII alphanumerics plus
// -_[]\^{}| (spec §9's side-step of non-ASCII case folding).
var validNickRe = regexp.MustCompile(`^[A-Za-z\[\]\\^{}|_][A-Za-z0-9\-\[\]\\^{}|_]{0,29}$`)

// IsValidNickname reports whether nick satisfies the restricted nickname
// grammar.
func IsValidNickname(nick string) bool {
	return validNickRe.MatchString(nick)
}
