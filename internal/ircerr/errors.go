// Package ircerr is the shared error taxonomy (§7 of the design) used by
// the registry, session, federation and transfer packages. Keeping one set
// of sentinels lets the session layer map every error kind to its numeric
// reply in a single place (see internal/session/numerics.go) instead of
// each package inventing its own.
package ircerr

import "errors"

var (
	MalformedLine      = errors.New("malformed line")
	UnknownCommand     = errors.New("unknown command")
	NeedMoreParams     = errors.New("need more params")
	AlreadyRegistered  = errors.New("already registered")
	NotRegistered      = errors.New("not registered")
	NickInUse          = errors.New("nickname in use")
	ErroneousNickname  = errors.New("erroneous nickname")
	NoSuchNick         = errors.New("no such nick")
	NoSuchChannel      = errors.New("no such channel")
	NotOnChannel       = errors.New("not on channel")
	UserNotInChannel   = errors.New("user not in channel")
	ChanOpPrivsNeeded  = errors.New("channel operator privileges needed")
	InviteOnlyChan     = errors.New("invite only channel")
	BadChannelKey      = errors.New("bad channel key")
	ChannelIsFull      = errors.New("channel is full")
	TooManyChannels    = errors.New("too many channels")
	BannedFromChan     = errors.New("banned from channel")
	PasswordMismatch   = errors.New("password mismatch")
	NoPrivileges       = errors.New("no privileges")
	CannotSendToChan   = errors.New("cannot send to channel")
	AlreadyOnChannel   = errors.New("already on channel")
	TransferTimeout    = errors.New("file transfer timed out")
	TransferRefused    = errors.New("file transfer refused")
	LinkLost           = errors.New("server link lost")
	ReplicationRejected = errors.New("replication rejected")
)
