package ircmsg

import (
	"strings"
	"testing"
)

func TestParseSerializeRoundTrip(t *testing.T) {
	cases := []string{
		"NICK secure",
		":secure!user@host PRIVMSG #chan :hey there, how are you?",
		"USER blah 0 * :Michael Stapelberg",
		":irc.example NOTICE * :*** Looking up your hostname...",
		"JOIN #chan",
		"MODE #chan +o secure",
		"PING :irc.example",
		"001 secure :Welcome",
	}
	for _, line := range cases {
		msg, err := Parse(line)
		if err != nil {
			t.Fatalf("Parse(%q) = %v, want nil error", line, err)
		}
		got, err := Serialize(msg)
		if err != nil {
			t.Fatalf("Serialize(Parse(%q)) = %v, want nil error", line, err)
		}
		if got != line {
			t.Errorf("round-trip mismatch: got %q, want %q", got, line)
		}
	}
}

func TestParseEmptyTrailing(t *testing.T) {
	msg, err := Parse("PRIVMSG #chan :")
	if err != nil {
		t.Fatalf("Parse() = %v, want nil", err)
	}
	if Trailing(msg) != "" {
		t.Fatalf("Trailing() = %q, want empty", Trailing(msg))
	}
	got, err := Serialize(msg)
	if err != nil {
		t.Fatalf("Serialize() = %v, want nil", err)
	}
	if got != "PRIVMSG #chan :" {
		t.Fatalf("Serialize() = %q, want %q", got, "PRIVMSG #chan :")
	}
}

func TestParseRejectsEmptyLine(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("Parse(\"\") = nil error, want MalformedLineError")
	}
	if _, err := Parse("   "); err == nil {
		t.Fatal("Parse(\"   \") = nil error, want MalformedLineError")
	}
}

func TestParseRejectsOversizedLine(t *testing.T) {
	long := "PRIVMSG #chan :" + strings.Repeat("a", 600)
	_, err := Parse(long)
	mfe, ok := err.(*MalformedLineError)
	if !ok {
		t.Fatalf("Parse(oversized) = %v (%T), want *MalformedLineError", err, err)
	}
	if mfe.Kind != LineTooLong {
		t.Fatalf("Parse(oversized).Kind = %v, want LineTooLong", mfe.Kind)
	}
}

func TestParseRejectsMalformedPrefix(t *testing.T) {
	_, err := Parse(": PRIVMSG #chan :hi")
	mfe, ok := err.(*MalformedLineError)
	if !ok {
		t.Fatalf("Parse(bad prefix) = %v (%T), want *MalformedLineError", err, err)
	}
	if mfe.Kind != EmptyCommand && mfe.Kind != MalformedPrefix {
		t.Fatalf("Parse(bad prefix).Kind = %v", mfe.Kind)
	}
}

func TestParseCapsParamsAtFifteen(t *testing.T) {
	params := strings.Repeat("p ", 20)
	msg, err := Parse("CMD " + strings.TrimSpace(params))
	if err != nil {
		t.Fatalf("Parse() = %v, want nil", err)
	}
	if len(msg.Params) != MaxParams {
		t.Fatalf("len(Params) = %d, want %d", len(msg.Params), MaxParams)
	}
}

func TestParseNumericCommandKeepsDigits(t *testing.T) {
	msg, err := Parse(":irc.example 001 secure :Welcome")
	if err != nil {
		t.Fatalf("Parse() = %v, want nil", err)
	}
	if msg.Command != "001" {
		t.Fatalf("Command = %q, want 001", msg.Command)
	}
}
