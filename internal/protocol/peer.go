// Package protocol implements the fully distributed mutual-exclusion
// protocol: the per-peer state machine, the priority rule, the permission
// vectors, and the two message-driven handlers.
package protocol

import (
	"math"
	"sync"

	"github.com/sincronizacion-distribuida/rooms-lifts/internal/clock"
	"github.com/sincronizacion-distribuida/rooms-lifts/internal/rng"
	"github.com/sirupsen/logrus"
)

// Phase is one of the six states a peer cycles through.
type Phase int

const (
	PhaseRest Phase = iota
	PhaseTry
	PhaseDown
	PhaseCrit
	PhaseLeaving
	PhaseUp
)

func (p Phase) String() string {
	switch p {
	case PhaseRest:
		return "Rest"
	case PhaseTry:
		return "Try"
	case PhaseDown:
		return "Down"
	case PhaseCrit:
		return "Crit"
	case PhaseLeaving:
		return "Leaving"
	case PhaseUp:
		return "Up"
	default:
		return "Unknown"
	}
}

// unsetTime is the sentinel stored in enter_time/leave_time before a peer's
// first request: it must lose every priority comparison, so it is the
// maximum representable timestamp. This is sound only for runs bounded
// well short of 2^64 logical ticks.
const unsetTime = math.MaxUint64

// Config is the fixed, process-wide configuration of the group.
type Config struct {
	Rooms int // R
	Lifts int // L
	Peers int // N
}

// Observer receives a notification on every phase transition. Used by
// internal/metrics; nil is valid and means "don't observe".
type Observer interface {
	PhaseChanged(rank int, phase Phase, logicalTime uint64, sumRooms, sumLifts int)
}

// Ledger records critical-section occupancy for audit purposes only; the
// protocol never reads it back, so a nil Ledger changes no protocol
// behavior (internal/audit.NoopLedger also satisfies this with a no-op).
type Ledger interface {
	RecordEnter(rank, need int, enterTime uint64)
	RecordLeave(rank int, leaveTime uint64)
}

// Peer is one process's share of the distributed mutual-exclusion group.
// Its mutable fields are shared between the progress thread (the state
// machine driving Rest→Try→Down→Crit→Leaving→Up) and the receiver thread
// (the request handler); both serialize on mu, a single coarse lock.
type Peer struct {
	mu sync.Mutex

	rank   int
	need   int
	config Config

	phase     Phase
	enterTime uint64
	leaveTime uint64

	vectors    *Vectors
	deferRooms []int
	deferLifts []int

	clock     *clock.Lamport
	transport Transport
	rng       rng.Source
	log       *logrus.Entry
	observer  Observer
	ledger    Ledger
}

// NewPeer constructs a peer aggregate. need must satisfy 1 <= need < R.
func NewPeer(rank, need int, config Config, clk *clock.Lamport, transport Transport, source rng.Source, log *logrus.Entry, observer Observer, ledger Ledger) *Peer {
	if observer == nil {
		observer = noopObserver{}
	}
	if ledger == nil {
		ledger = noopLedger{}
	}
	return &Peer{
		rank:      rank,
		need:      need,
		config:    config,
		phase:     PhaseRest,
		enterTime: unsetTime,
		leaveTime: unsetTime,
		vectors:   NewVectors(config.Peers),
		clock:     clk,
		transport: transport,
		rng:       source,
		log:       log.WithField("rank", rank),
		observer:  observer,
		ledger:    ledger,
	}
}

// Rank returns the peer's fixed identity.
func (p *Peer) Rank() int { return p.rank }

// Snapshot is a consistent, point-in-time copy of the fields a handler's
// decision depends on, taken under the peer lock.
type Snapshot struct {
	Phase     Phase
	EnterTime uint64
	LeaveTime uint64
}

func (p *Peer) snapshot() Snapshot {
	return Snapshot{Phase: p.phase, EnterTime: p.enterTime, LeaveTime: p.leaveTime}
}

// hasPriority reports whether the message timestamped theirTime from
// theirRank outranks a local reference timestamp myTime from myRank: the
// smaller timestamp wins; ties are broken by the smaller rank.
func hasPriority(theirTime, myTime uint64, theirRank, myRank int) bool {
	return theirTime < myTime || (theirTime == myTime && theirRank < myRank)
}

type noopObserver struct{}

func (noopObserver) PhaseChanged(int, Phase, uint64, int, int) {}

type noopLedger struct{}

func (noopLedger) RecordEnter(int, int, uint64) {}
func (noopLedger) RecordLeave(int, uint64)      {}
