// Package registry implements C2, the User & Channel Registry: the single
// authoritative, in-memory mapping of nicknames to users and channel names
// to channels (server links are kept by the federation package's Hub, not
// here). It is grounded on the teacher's
// internal/ircserver.IRCServer data model (the same map-of-pointers shape,
// the same single-RWMutex discipline, the same IRC case-folding helpers),
// but factored out into the standalone component spec §4.2 describes, with
// an explicit Ok/error-kind API instead of the teacher's inline
// state-mutation-plus-reply-construction style.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/robustirc/ircfed/internal/ircerr"
)

// lcNick and lcChan are case-folded keys, enforced via NickFold/ChanFold so
// that every map lookup in this package goes through the same folding rule.
type lcNick string
type lcChan string

// NickFold case-folds a nickname per §4.2/§9: lower-cased, with the
// Scandinavian equivalences [\]^ folded onto {|}~.
func NickFold(nick string) string {
	r := strings.NewReplacer("[", "{", "]", "}", "\\", "|", "^", "~")
	return r.Replace(strings.ToLower(nick))
}

func nickFold(nick string) lcNick { return lcNick(NickFold(nick)) }

// ChanFold case-folds a channel name: plain lower-casing, channel names
// carry no Scandinavian ambiguity since '#'/'&' are not letters.
func ChanFold(name string) string { return strings.ToLower(name) }

func chanFold(name string) lcChan { return lcChan(ChanFold(name)) }

const (
	maxMemberStatus = 2
	memberOp        = 0
	memberVoice     = 1
)

// MemberFlags holds the per-member channel roles (spec §3: 'o' operator,
// 'v' voice).
type MemberFlags [maxMemberStatus]bool

func (f MemberFlags) Op() bool    { return f[memberOp] }
func (f MemberFlags) Voice() bool { return f[memberVoice] }

// User is the registry's authoritative record for one network-wide
// nickname (spec §3 "User").
type User struct {
	Nick     string
	Username string
	Realname string
	Host     string
	// Server is the name of the server holding this user's live session
	// (spec §3: "owning server name").
	Server string

	PasswordHash []byte
	Registered   bool

	Modes    map[byte]bool
	AwayMsg  string
	Operator bool

	Channels map[string]bool // channel names (case-folded) this user is in

	Created time.Time
}

func newUser(nick, username, realname, host, server string) *User {
	return &User{
		Nick:     nick,
		Username: username,
		Realname: realname,
		Host:     host,
		Server:   server,
		Modes:    make(map[byte]bool),
		Channels: make(map[string]bool),
		Created:  time.Now(),
	}
}

// banPattern is a glob-style ban mask, compiled the way the teacher's
// cmd_mode.go ban() does: regexp.QuoteMeta with "*" rewritten to ".*".
type banPattern struct {
	mask string
	re   *regexpMatcher
}

// Channel is the registry's authoritative record for one channel (spec §3
// "Channel").
type Channel struct {
	Name string // original-case name, as first created

	Topic      string
	TopicSetBy string
	TopicSetAt time.Time

	Members map[string]*MemberFlags // nickname (case-folded) -> flags

	Modes map[byte]bool
	Key   string
	Limit int

	Invited map[string]bool
	Bans    []banPattern
}

func newChannel(name string) *Channel {
	return &Channel{
		Name:    name,
		Members: make(map[string]*MemberFlags),
		Modes:   make(map[byte]bool),
		Invited: make(map[string]bool),
	}
}

// Registry is the C2 component: the single authoritative store of users and
// channels. All writes hold the single RWMutex for their whole duration,
// per §5's "single lock protecting the whole map" option.
type Registry struct {
	mu sync.RWMutex

	users    map[lcNick]*User
	channels map[lcChan]*Channel

	MaxChannelsPerUser int
}

var (
	usersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "registry",
		Name:      "users",
		Help:      "Number of users known to the registry.",
	})
	channelsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "registry",
		Name:      "channels",
		Help:      "Number of channels known to the registry.",
	})
)

func init() {
	prometheus.MustRegister(usersGauge)
	prometheus.MustRegister(channelsGauge)
}

// New returns an empty Registry.
func New(maxChannelsPerUser int) *Registry {
	return &Registry{
		users:              make(map[lcNick]*User),
		channels:           make(map[lcChan]*Channel),
		MaxChannelsPerUser: maxChannelsPerUser,
	}
}

// HashPassword hashes a plaintext password for storage in User.PasswordHash.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// RegisterUser creates a new network-wide user (spec §4.2 register_user).
// password may be empty for an unregistered (guest) user; if
// wantPasswordHash is non-empty, password must bcrypt-match it or
// ircerr.PasswordMismatch is returned.
func (r *Registry) RegisterUser(nick, username, realname, host, server, password string, wantPasswordHash []byte) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nickFold(nick)
	if _, ok := r.users[key]; ok {
		return nil, ircerr.NickInUse
	}
	if len(wantPasswordHash) > 0 {
		if err := bcrypt.CompareHashAndPassword(wantPasswordHash, []byte(password)); err != nil {
			return nil, ircerr.PasswordMismatch
		}
	}

	u := newUser(nick, username, realname, host, server)
	u.Registered = len(wantPasswordHash) > 0
	u.PasswordHash = wantPasswordHash
	r.users[key] = u
	usersGauge.Set(float64(len(r.users)))
	return u, nil
}

// RegisterRemoteUser registers a user learned from a federation NICK
// introduction, preserving the remote-supplied Created timestamp (carried
// over the wire in place of a hopcount) rather than stamping local time,
// so nick-collision tie-breaks can compare true registration order
// network-wide (spec §7) instead of falling back to server-name order.
func (r *Registry) RegisterRemoteUser(nick, username, realname, host, server string, created time.Time) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nickFold(nick)
	if _, ok := r.users[key]; ok {
		return nil, ircerr.NickInUse
	}
	u := newUser(nick, username, realname, host, server)
	u.Created = created
	r.users[key] = u
	usersGauge.Set(float64(len(r.users)))
	return u, nil
}

// RenameUser changes a user's nickname (spec: NICK during Registered).
func (r *Registry) RenameUser(oldNick, newNick string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldKey := nickFold(oldNick)
	newKey := nickFold(newNick)

	u, ok := r.users[oldKey]
	if !ok {
		return nil, ircerr.NoSuchNick
	}
	if oldKey == newKey {
		u.Nick = newNick
		return u, nil
	}
	if _, ok := r.users[newKey]; ok {
		return nil, ircerr.NickInUse
	}

	delete(r.users, oldKey)
	u.Nick = newNick
	r.users[newKey] = u

	for chname := range u.Channels {
		c := r.channels[lcChan(chname)]
		if c == nil {
			continue
		}
		flags := c.Members[string(oldKey)]
		delete(c.Members, string(oldKey))
		c.Members[string(newKey)] = flags
	}

	return u, nil
}

// DropUser removes nick from the registry and every channel it was in. It
// returns the set of channels the user was a member of right before
// removal (C4's §4.2 "producing the set of affected channels" fan-out
// contract, so the caller can notify the remaining members) and the set of
// channels that had to be destroyed as a result.
func (r *Registry) DropUser(nick string) (affected []string, destroyed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nickFold(nick)
	u, ok := r.users[key]
	if !ok {
		return nil, nil
	}

	for chname := range u.Channels {
		affected = append(affected, chname)
		c := r.channels[lcChan(chname)]
		if c == nil {
			continue
		}
		delete(c.Members, string(key))
		if len(c.Members) == 0 {
			delete(r.channels, lcChan(chname))
			destroyed = append(destroyed, chname)
		}
	}
	for _, c := range r.channels {
		delete(c.Invited, string(key))
	}

	delete(r.users, key)
	usersGauge.Set(float64(len(r.users)))
	channelsGauge.Set(float64(len(r.channels)))
	sort.Strings(affected)
	sort.Strings(destroyed)
	return affected, destroyed
}

// GetUser returns the user with the given nick, if any.
func (r *Registry) GetUser(nick string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[nickFold(nick)]
	return u, ok
}

// Users returns a snapshot slice of every known user, sorted by nickname.
func (r *Registry) Users() []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

// NumUsers and NumChannels report the current registry size.
func (r *Registry) NumUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) NumChannels() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
