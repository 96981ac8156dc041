// Package privacy removes private information (passwords, message
// bodies) from raw IRC lines before they reach a log line, grounded on
// the teacher's own internal/privacy package (which redacts PASS/
// PRIVMSG/NOTICE payloads out of Raft snapshots and replicated messages
// before they're ever written to disk or shown to an operator). There is
// no Raft snapshot here, so the only remaining place the same leak can
// happen is a debug log of a raw or malformed line; the session engine's
// malformed-line log is the one call site.
package privacy

import "strings"

// RedactLine returns line with the trailing parameter of a PASS, PRIVMSG,
// or NOTICE command replaced, so debug logs of raw wire lines never leak
// a password or a message body. Lines that fail to parse as one of these
// three commands (including genuinely malformed lines, which is the
// common caller here) are returned unchanged.
func RedactLine(line string) string {
	rest := line
	if strings.HasPrefix(rest, ":") {
		if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			rest = rest[sp+1:]
		}
	}
	cmd := rest
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		cmd = rest[:sp]
	}
	switch strings.ToUpper(cmd) {
	case "PASS", "PRIVMSG", "NOTICE":
	default:
		return line
	}
	// rest is a suffix of line, so offsets into rest map back onto line.
	base := len(line) - len(rest)
	if idx := strings.Index(rest, " :"); idx >= 0 {
		return line[:base+idx] + " :<redacted>"
	}
	if sp := strings.LastIndexByte(rest, ' '); sp >= 0 {
		return line[:base+sp] + " :<redacted>"
	}
	return line
}
