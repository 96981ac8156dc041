package transfer

import (
	"io"
	"net"
	"testing"

	"github.com/robustirc/ircfed/internal/ircerr"
)

func TestOfferThenAcceptTransitionsState(t *testing.T) {
	b := NewBroker(4096)
	token, err := b.Offer("alice", "bob", "photo.png", 100, "127.0.0.1", 5000)
	if err != nil {
		t.Fatalf("Offer() = %v, want nil", err)
	}

	if err := b.Accept("bob", "photo.png"); err != nil {
		t.Fatalf("Accept() = %v, want nil", err)
	}

	tr, ok := b.Get(token)
	if !ok {
		t.Fatalf("Get(%q) not found", token)
	}
	if tr.State != Accepted {
		t.Fatalf("State = %v, want Accepted", tr.State)
	}
}

func TestAcceptWithoutOfferFails(t *testing.T) {
	b := NewBroker(4096)
	if err := b.Accept("nobody", "nothing.bin"); err != ircerr.TransferRefused {
		t.Fatalf("Accept(no offer) = %v, want ircerr.TransferRefused", err)
	}
}

func TestAcceptTwiceFailsSecondTime(t *testing.T) {
	b := NewBroker(4096)
	b.Offer("alice", "bob", "f.bin", 10, "1.2.3.4", 1)
	if err := b.Accept("bob", "f.bin"); err != nil {
		t.Fatalf("first Accept() = %v, want nil", err)
	}
	if err := b.Accept("bob", "f.bin"); err != ircerr.TransferRefused {
		t.Fatalf("second Accept() = %v, want ircerr.TransferRefused", err)
	}
}

func TestCancelRemovesTransfer(t *testing.T) {
	b := NewBroker(4096)
	token, _ := b.Offer("alice", "bob", "f.bin", 10, "1.2.3.4", 1)
	if err := b.Cancel(token, "changed my mind"); err != nil {
		t.Fatalf("Cancel() = %v, want nil", err)
	}
	if _, ok := b.Get(token); ok {
		t.Fatalf("Get(%q) found a cancelled transfer", token)
	}
}

func TestCancelUnknownTokenFails(t *testing.T) {
	b := NewBroker(4096)
	if err := b.Cancel("does-not-exist", "why not"); err != ircerr.NoSuchNick {
		t.Fatalf("Cancel(unknown) = %v, want ircerr.NoSuchNick", err)
	}
}

func TestRelayCopiesAllBytesAndMarksDone(t *testing.T) {
	b := NewBroker(8) // small chunk size to force multiple reads
	token, _ := b.Offer("alice", "bob", "f.bin", 0, "1.2.3.4", 1)
	tr, _ := b.Get(token)

	srcRead, srcWrite := net.Pipe()
	dstRead, dstWrite := net.Pipe()

	payload := []byte("the quick brown fox jumps over the lazy dog")
	go func() {
		srcWrite.Write(payload)
		srcWrite.Close()
	}()

	got := make([]byte, 0, len(payload))
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := dstRead.Read(buf)
			got = append(got, buf[:n]...)
			if err != nil {
				break
			}
		}
		close(done)
	}()

	err := b.Relay(&tr, srcRead, dstWrite)
	dstWrite.Close()
	<-done
	if err != nil && err != io.EOF {
		t.Fatalf("Relay() = %v, want nil or io.EOF", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("relayed payload = %q, want %q", got, payload)
	}
	if tr.State != Done {
		t.Fatalf("transfer state after relay = %v, want %v", tr.State, Done)
	}

	final, ok := b.Get(token)
	if ok {
		t.Fatalf("Get(%q) after relay = %+v, want not found (finish() deletes it)", token, final)
	}
}
