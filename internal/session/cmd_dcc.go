package session

import (
	"strconv"
	"strings"

	"github.com/robustirc/ircfed/internal/ircerr"
)

const ctcpMarker = "\x01"

// maybeHandleDCC intercepts the CTCP DCC SEND/ACCEPT payloads that ride
// inside ordinary PRIVMSG/NOTICE lines (spec C5: "piggybacks on the
// existing message-delivery path rather than opening a side channel").
// It returns true if it fully handled the message (nothing further to
// relay through the normal PRIVMSG/NOTICE path).
func maybeHandleDCC(e *Engine, s *Session, target, text, verb string) bool {
	if e.Transfer == nil || !strings.HasPrefix(text, ctcpMarker) {
		return false
	}
	payload := strings.Trim(text, ctcpMarker)
	fields := strings.Fields(payload)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "DCC") {
		return false
	}
	if len(fields) < 2 {
		return true
	}

	switch strings.ToUpper(fields[1]) {
	case "SEND":
		handleDCCSend(e, s, target, fields[2:])
		return true
	case "ACCEPT", "RESUME":
		handleDCCAccept(e, s, target, fields[2:])
		return true
	default:
		return false
	}
}

// handleDCCSend implements the Offered transition of spec C5's transfer
// state machine: the sender announces a file, the broker records the
// offer, and the recipient gets the same CTCP relayed (direct mode) once
// the broker has validated it.
func handleDCCSend(e *Engine, s *Session, target string, args []string) {
	if len(args) < 4 {
		return
	}
	filename, addr, portStr, sizeStr := args[0], args[1], args[2], args[3]
	port, _ := strconv.Atoi(portStr)
	size, _ := strconv.ParseInt(sizeStr, 10, 64)

	token, err := e.Transfer.Offer(s.Nick, target, filename, size, addr, port)
	if err != nil {
		e.replyErr(s, err, target)
		return
	}

	line := ctcpMarker + "DCC SEND " + filename + " " + addr + " " + portStr + " " + sizeStr + ctcpMarker
	if e.DeliverLocal(target, ":"+s.Prefix().String()+" PRIVMSG "+target+" :"+line) {
		return
	}
	if e.Fed != nil && e.Fed.RouteToUser(target, ":"+s.Prefix().String()+" PRIVMSG "+target+" :"+line) {
		return
	}
	e.Transfer.Cancel(token, "recipient unreachable")
	e.replyErr(s, ircerr.NoSuchNick, target)
}

// handleDCCAccept implements the Offered->Accepted transition: target here
// is whoever the CTCP was addressed to (the original offerer, in the
// recipient-initiated RESUME/ACCEPT handshake), and args[0] is the
// filename the broker uses as the offer's lookup key.
func handleDCCAccept(e *Engine, s *Session, target string, args []string) {
	if len(args) == 0 {
		return
	}
	filename := args[0]
	if err := e.Transfer.Accept(s.Nick, filename); err != nil {
		e.replyErr(s, err, target)
		return
	}
	if e.DeliverLocal(target, ":"+s.Prefix().String()+" NOTICE "+target+" :DCC accepted: "+filename) {
		return
	}
	if e.Fed != nil {
		e.Fed.RouteToUser(target, ":"+s.Prefix().String()+" NOTICE "+target+" :DCC accepted: "+filename)
	}
}
