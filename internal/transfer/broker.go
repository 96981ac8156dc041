// Package transfer implements C5, the DCC-style file-transfer broker: it
// tracks pending offers, matches ACCEPT/RESUME against them, and — when a
// direct client-to-client connection isn't possible — relays the bytes
// itself. It is grounded on the teacher's proxy/proxy.go, which plays the
// analogous "bridge two independent connections, retry with backoff on
// failure" role for its own protocol; github.com/google/uuid replaces the
// teacher's not-applicable session-id scheme for naming a transfer.
package transfer

import (
	"time"

	"github.com/stapelberg/glog"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/robustirc/ircfed/internal/ircerr"
)

// State is one position in the transfer state machine described in the
// domain spec's C5 section: Offered -> Accepted -> InProgress -> Done, or
// Offered/Accepted -> Declined/Failed at any point before completion.
type State int

const (
	Offered State = iota
	Accepted
	InProgress
	Done
	Declined
	Failed
)

func (s State) String() string {
	switch s {
	case Offered:
		return "offered"
	case Accepted:
		return "accepted"
	case InProgress:
		return "in-progress"
	case Done:
		return "done"
	case Declined:
		return "declined"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transfer is one DCC SEND offer and everything the broker tracks about
// it.
type Transfer struct {
	ID       string // uuid, handed back to the offerer as a cancellation token
	From, To string
	Filename string
	Size     int64
	Addr     string
	Port     int
	State    State
	Created  time.Time

	bytesSent int64
}

var (
	transfersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "transfer",
		Name:      "pending",
		Help:      "Number of file transfers currently tracked by the broker.",
	})
	transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "transfer",
		Name:      "completed_total",
		Help:      "Total number of file transfers that reached a terminal state, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(transfersGauge, transfersTotal)
}

// Broker is the C5 component.
type Broker struct {
	ChunkSize int

	mu          chan struct{} // binary semaphore; see lock/unlock helpers
	byID        map[string]*Transfer
	byRecipient map[string]*Transfer // key: to+"\x00"+filename
}

// NewBroker returns an empty Broker. chunkSize bounds each relayed read
// (spec's file-transfer chunk size, config.Server.FileTransferChunkSize).
func NewBroker(chunkSize int) *Broker {
	return &Broker{
		ChunkSize:   chunkSize,
		mu:          make(chan struct{}, 1),
		byID:        make(map[string]*Transfer),
		byRecipient: make(map[string]*Transfer),
	}
}

func (b *Broker) lock()   { b.mu <- struct{}{} }
func (b *Broker) unlock() { <-b.mu }

// Offer registers a new DCC SEND from "from" to "to" and returns a token
// identifying it (spec §C5 "each offer gets a distinct token usable for
// cancellation and progress queries").
func (b *Broker) Offer(from, to, filename string, size int64, addr string, port int) (string, error) {
	t := &Transfer{
		ID:       uuid.New().String(),
		From:     from,
		To:       to,
		Filename: filename,
		Size:     size,
		Addr:     addr,
		Port:     port,
		State:    Offered,
		Created:  time.Now(),
	}
	b.lock()
	defer b.unlock()
	b.byID[t.ID] = t
	b.byRecipient[recipientKey(to, filename)] = t
	transfersGauge.Set(float64(len(b.byID)))
	glog.V(1).Infof("transfer: %s offered %q (%d bytes) to %s", from, filename, size, to)
	return t.ID, nil
}

// Accept matches an incoming DCC ACCEPT/RESUME against a pending offer,
// identified the way the wire protocol actually identifies it (recipient
// + filename — the ACCEPT line doesn't carry our internal uuid).
func (b *Broker) Accept(to, filename string) error {
	b.lock()
	defer b.unlock()
	t, ok := b.byRecipient[recipientKey(to, filename)]
	if !ok || t.State != Offered {
		return ircerr.TransferRefused
	}
	t.State = Accepted
	return nil
}

// Cancel aborts a pending or in-progress transfer, identified by the
// offerer's token.
func (b *Broker) Cancel(token, reason string) error {
	b.lock()
	t, ok := b.byID[token]
	b.unlock()
	if !ok {
		return ircerr.NoSuchNick
	}
	b.finish(t, Failed)
	glog.V(1).Infof("transfer: %s cancelled: %s", token, reason)
	return nil
}

// Get returns a snapshot of the named transfer, for status reporting.
func (b *Broker) Get(token string) (Transfer, bool) {
	b.lock()
	defer b.unlock()
	t, ok := b.byID[token]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

func (b *Broker) finish(t *Transfer, outcome State) {
	b.lock()
	t.State = outcome
	delete(b.byID, t.ID)
	delete(b.byRecipient, recipientKey(t.To, t.Filename))
	transfersGauge.Set(float64(len(b.byID)))
	b.unlock()
	transfersTotal.WithLabelValues(outcome.String()).Inc()
}

func recipientKey(to, filename string) string { return to + "\x00" + filename }
