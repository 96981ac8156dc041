package transfer

import (
	"io"
	"net"

	"github.com/stapelberg/glog"
)

// maxInFlightChunks bounds how many ChunkSize reads may be sitting in
// the relay's pipe between the reader and the writer, unacknowledged by
// a completed write, the same "bounded channel, blocking send propagates
// backpressure" discipline spec §9 requires of every other queue in this
// module (spec §4.5's window-based flow control with an unacknowledged-
// chunk cap).
const maxInFlightChunks = 4

type relayChunk struct {
	data []byte
	err  error
}

// Relay runs the server-mediated fallback path (spec C5: "when a direct
// client-to-client connection cannot be established, the server relays
// the transfer itself"). A reader goroutine pulls ChunkSize pieces off
// src and feeds them through a channel of capacity maxInFlightChunks
// into the writer loop below; once that channel is full the reader
// blocks on its next send, so at most maxInFlightChunks chunks are ever
// in flight ahead of the slower side (the reader for a slow sender, the
// writer for a slow receiver). Grounded on the teacher's proxy/proxy.go
// request/response bridging idiom, generalized from HTTP request
// proxying to a raw, windowed byte relay.
func (b *Broker) Relay(t *Transfer, src, dst net.Conn) error {
	b.lock()
	t.State = InProgress
	b.unlock()

	chunks := make(chan relayChunk, maxInFlightChunks)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			buf := make([]byte, b.chunkSize())
			n, err := src.Read(buf)
			if n > 0 {
				select {
				case chunks <- relayChunk{data: buf[:n]}:
				case <-stop:
					return
				}
			}
			if err != nil {
				select {
				case chunks <- relayChunk{err: err}:
				case <-stop:
				}
				return
			}
		}
	}()

	var sent int64
	for c := range chunks {
		if c.err != nil {
			if c.err == io.EOF {
				break
			}
			b.finish(t, Failed)
			return c.err
		}
		if _, werr := dst.Write(c.data); werr != nil {
			b.finish(t, Failed)
			return werr
		}
		sent += int64(len(c.data))
		b.lock()
		t.bytesSent = sent
		b.unlock()
		if t.Size > 0 && sent >= t.Size {
			break
		}
	}

	glog.V(1).Infof("transfer: %s relayed %d bytes %s -> %s", t.ID, sent, t.From, t.To)
	b.finish(t, Done)
	return nil
}

func (b *Broker) chunkSize() int {
	if b.ChunkSize <= 0 {
		return 4096
	}
	return b.ChunkSize
}
