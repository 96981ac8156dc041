package registry

import (
	"testing"

	"github.com/robustirc/ircfed/internal/ircerr"
)

func mustRegister(t *testing.T, r *Registry, nick string) *User {
	t.Helper()
	u, err := r.RegisterUser(nick, "user", "Real Name", "host.example", "main.example", "", nil)
	if err != nil {
		t.Fatalf("RegisterUser(%q) = %v, want nil error", nick, err)
	}
	return u
}

func TestRegisterUserNickInUse(t *testing.T) {
	r := New(10)
	mustRegister(t, r, "secure")
	if _, err := r.RegisterUser("sECuRE", "x", "y", "z", "main.example", "", nil); err != ircerr.NickInUse {
		t.Fatalf("RegisterUser(case-folded duplicate) = %v, want ircerr.NickInUse", err)
	}
}

func TestNickFoldEquatesScandinavianChars(t *testing.T) {
	cases := map[string]string{
		"[foo]": "{foo}",
		"\\bar": "|bar",
		"baz^":  "baz~",
	}
	for have, want := range cases {
		if NickFold(have) != NickFold(want) {
			t.Errorf("NickFold(%q) = %q, NickFold(%q) = %q, want equal", have, NickFold(have), want, NickFold(want))
		}
	}
}

func TestRenameUserMigratesChannelMembership(t *testing.T) {
	r := New(10)
	mustRegister(t, r, "old")
	if _, err := r.JoinChannel("old", "#test", ""); err != nil {
		t.Fatalf("JoinChannel() = %v", err)
	}

	if _, err := r.RenameUser("old", "new"); err != nil {
		t.Fatalf("RenameUser() = %v", err)
	}

	names, ok := r.Names("#test")
	if !ok {
		t.Fatalf("Names(#test) not ok after rename")
	}
	if len(names) != 1 || names[0] != "@new" {
		t.Fatalf("Names(#test) = %v, want [\"@new\"]", names)
	}
}

func TestDropUserDestroysEmptyChannel(t *testing.T) {
	r := New(10)
	mustRegister(t, r, "solo")
	if _, err := r.JoinChannel("solo", "#alone", ""); err != nil {
		t.Fatalf("JoinChannel() = %v", err)
	}

	affected, destroyed := r.DropUser("solo")
	if len(affected) != 1 || affected[0] != "#alone" {
		t.Fatalf("DropUser() affected = %v, want [#alone]", affected)
	}
	if len(destroyed) != 1 || destroyed[0] != "#alone" {
		t.Fatalf("DropUser() destroyed = %v, want [#alone]", destroyed)
	}
	if _, ok := r.GetChannel("#alone"); ok {
		t.Fatalf("GetChannel(#alone) still exists after last member dropped")
	}
}

func TestJoinChannelFirstMemberBecomesOp(t *testing.T) {
	r := New(10)
	mustRegister(t, r, "first")
	res, err := r.JoinChannel("first", "#new", "")
	if err != nil {
		t.Fatalf("JoinChannel() = %v", err)
	}
	if !res.CreatedByThis || !res.BecameOp {
		t.Fatalf("JoinChannel() = %+v, want CreatedByThis=true BecameOp=true", res)
	}
}

func TestJoinChannelInviteOnly(t *testing.T) {
	r := New(10)
	mustRegister(t, r, "owner")
	mustRegister(t, r, "outsider")
	if _, err := r.JoinChannel("owner", "#private", ""); err != nil {
		t.Fatalf("JoinChannel(owner) = %v", err)
	}
	if _, err := r.SetMode("owner", "#private", []ModeChange{{Add: true, Flag: 'i'}}); err != nil {
		t.Fatalf("SetMode(+i) = %v", err)
	}
	if _, err := r.JoinChannel("outsider", "#private", ""); err != ircerr.InviteOnlyChan {
		t.Fatalf("JoinChannel(outsider) = %v, want ircerr.InviteOnlyChan", err)
	}
	if err := r.Invite("owner", "outsider", "#private"); err != nil {
		t.Fatalf("Invite() = %v", err)
	}
	if _, err := r.JoinChannel("outsider", "#private", ""); err != nil {
		t.Fatalf("JoinChannel(outsider) after invite = %v, want nil", err)
	}
}

func TestKickRequiresOp(t *testing.T) {
	r := New(10)
	mustRegister(t, r, "owner")
	mustRegister(t, r, "peasant")
	mustRegister(t, r, "target")
	r.JoinChannel("owner", "#c", "")
	r.JoinChannel("peasant", "#c", "")
	r.JoinChannel("target", "#c", "")

	if _, _, err := r.Kick("peasant", "target", "#c"); err != ircerr.ChanOpPrivsNeeded {
		t.Fatalf("Kick(non-op) = %v, want ircerr.ChanOpPrivsNeeded", err)
	}
	if _, _, err := r.Kick("owner", "target", "#c"); err != nil {
		t.Fatalf("Kick(op) = %v, want nil", err)
	}
}

func TestSetModeBanBlocksRejoin(t *testing.T) {
	r := New(10)
	mustRegister(t, r, "owner")
	r.JoinChannel("owner", "#c", "")
	mustRegister(t, r, "pest")
	r.JoinChannel("pest", "#c", "")

	if _, err := r.SetMode("owner", "#c", []ModeChange{{Add: true, Flag: 'b', Arg: "pest!*@*"}}); err != nil {
		t.Fatalf("SetMode(+b) = %v", err)
	}
	r.PartChannel("pest", "#c")
	if _, err := r.JoinChannel("pest", "#c", ""); err != ircerr.BannedFromChan {
		t.Fatalf("JoinChannel(banned) = %v, want ircerr.BannedFromChan", err)
	}
}

func TestListExcludesNothingAtRegistryLevel(t *testing.T) {
	r := New(10)
	mustRegister(t, r, "owner")
	r.JoinChannel("owner", "#secret", "")
	r.SetMode("owner", "#secret", []ModeChange{{Add: true, Flag: 's'}})

	entries := r.List("")
	if len(entries) != 1 || !entries[0].Secret {
		t.Fatalf("List(\"\") = %+v, want one secret channel (filtering is the session layer's job)", entries)
	}
}
