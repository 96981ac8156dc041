// Package ircmsg implements the wire codec described as C1 in the design:
// parsing and serializing IRC-style lines of the form
//
//	[:prefix] command params... [:trailing]
//
// It is a pure function package: no I/O, no state. The parsed
// representation is gopkg.in/sorcix/irc.v2's Message/Prefix types, which the
// rest of this module (and the wider IRC Go ecosystem) already speaks, but
// the parsing and serialization logic itself is ours, since the exact error
// taxonomy and round-trip guarantee below are part of the contract, not an
// accident of whatever a third-party parser happens to do.
package ircmsg

import (
	"fmt"
	"strings"

	irc "gopkg.in/sorcix/irc.v2"
)

// MaxLineLength is the maximum line length, including the terminating CR LF,
// per spec.
const MaxLineLength = 512

// MaxParams is the maximum number of space-separated parameters (the
// trailing parameter, if any, is not counted against this limit).
const MaxParams = 15

// Kind enumerates the reasons Parse can reject a line.
type Kind int

const (
	// LineTooLong means the line (plus CR LF) exceeds MaxLineLength.
	LineTooLong Kind = iota
	// EmptyCommand means no command token was present.
	EmptyCommand
	// MalformedPrefix means the prefix contained whitespace.
	MalformedPrefix
	// InvalidCommand means the command was neither alphabetic nor a
	// three-digit numeric.
	InvalidCommand
)

func (k Kind) String() string {
	switch k {
	case LineTooLong:
		return "line too long"
	case EmptyCommand:
		return "empty command"
	case MalformedPrefix:
		return "malformed prefix"
	case InvalidCommand:
		return "invalid command"
	default:
		return "malformed line"
	}
}

// MalformedLineError is returned by Parse for any line that fails §4.1's
// grammar. It carries enough detail (Kind, the offending Line) for the
// caller to decide how to react, but a session handler will almost always
// just turn it into a numeric reply or silently drop the line.
type MalformedLineError struct {
	Kind Kind
	Line string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("ircmsg: %s: %q", e.Kind, e.Line)
}

func malformed(kind Kind, line string) error {
	return &MalformedLineError{Kind: kind, Line: line}
}

var numericCmd = func(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var alphaCmd = func(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// Parse parses a single line (without its terminating CR LF, though a
// trailing CR LF or bare LF is tolerated and stripped) into an *irc.Message.
// It returns a *MalformedLineError wrapped in error for any line violating
// §4.1 of the design.
func Parse(line string) (*irc.Message, error) {
	raw := line
	line = strings.TrimRight(line, "\r\n")

	if len(line)+2 > MaxLineLength {
		return nil, malformed(LineTooLong, raw)
	}
	if line == "" {
		return nil, malformed(EmptyCommand, raw)
	}

	msg := &irc.Message{}
	rest := line

	if strings.HasPrefix(rest, ":") {
		sp := strings.IndexByte(rest, ' ')
		if sp == -1 {
			return nil, malformed(EmptyCommand, raw)
		}
		prefixStr := rest[1:sp]
		if prefixStr == "" || strings.ContainsAny(prefixStr, " \t") {
			return nil, malformed(MalformedPrefix, raw)
		}
		msg.Prefix = irc.ParsePrefix(prefixStr)
		rest = strings.TrimLeft(rest[sp+1:], " ")
	}

	// Split off the trailing parameter, introduced by " :".
	var trailing string
	hasTrailing := false
	if idx := strings.Index(rest, " :"); idx != -1 {
		trailing = rest[idx+2:]
		hasTrailing = true
		rest = rest[:idx]
	} else if strings.HasPrefix(rest, ":") {
		trailing = rest[1:]
		hasTrailing = true
		rest = ""
	}

	rest = strings.TrimRight(rest, " ")
	var fields []string
	if rest != "" {
		fields = strings.Fields(rest)
	}
	if len(fields) == 0 {
		return nil, malformed(EmptyCommand, raw)
	}

	command := fields[0]
	if !alphaCmd(command) && !numericCmd(command) {
		return nil, malformed(InvalidCommand, raw)
	}
	msg.Command = strings.ToUpper(command)
	if numericCmd(command) {
		// Numeric replies keep their exact three digits.
		msg.Command = command
	}

	params := fields[1:]
	if len(params) > MaxParams {
		params = params[:MaxParams]
	}
	msg.Params = params
	if hasTrailing {
		msg.Params = append(msg.Params, trailing)
	}

	return msg, nil
}

// needsColon decides whether a parameter must be serialized as the trailing,
// colon-introduced parameter: it must be the last parameter, and either
// empty, containing a space, or starting with ':'.
func needsColon(p string) bool {
	return p == "" || strings.HasPrefix(p, ":") || strings.ContainsRune(p, ' ')
}

// Serialize renders msg back into wire form (without a terminating CR LF;
// the transport appends that). It returns a *MalformedLineError if the
// result would violate §4.1 (empty command, oversized line).
func Serialize(msg *irc.Message) (string, error) {
	if msg.Command == "" {
		return "", malformed(EmptyCommand, "")
	}

	var b strings.Builder
	if msg.Prefix != nil {
		name := msg.Prefix.String()
		if strings.ContainsAny(name, " \t") {
			return "", malformed(MalformedPrefix, name)
		}
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte(' ')
	}
	b.WriteString(msg.Command)

	params := msg.Params
	if len(params) > 0 {
		last := params[len(params)-1]
		for _, p := range params[:len(params)-1] {
			b.WriteByte(' ')
			b.WriteString(p)
		}
		b.WriteByte(' ')
		if needsColon(last) {
			b.WriteByte(':')
		}
		b.WriteString(last)
	}

	line := b.String()
	if len(line)+2 > MaxLineLength {
		return "", malformed(LineTooLong, line)
	}
	return line, nil
}

// Trailing returns the last parameter of msg, or the empty string if msg has
// no parameters. It mirrors (*irc.Message).Trailing for callers that only
// have a raw irc.Message.
func Trailing(msg *irc.Message) string {
	if len(msg.Params) == 0 {
		return ""
	}
	return msg.Params[len(msg.Params)-1]
}
