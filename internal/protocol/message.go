package protocol

import "fmt"

// Tag identifies the kind of a protocol message on the wire:
// Resources=0, EnterRequest=1, LeaveRequest=2, Finish=3,
// LeaveResources=4.
type Tag uint16

const (
	TagResources Tag = iota
	TagEnterRequest
	TagLeaveRequest
	TagFinish
	TagLeaveResources
)

func (t Tag) String() string {
	switch t {
	case TagResources:
		return "Resources"
	case TagEnterRequest:
		return "EnterRequest"
	case TagLeaveRequest:
		return "LeaveRequest"
	case TagFinish:
		return "Finish"
	case TagLeaveResources:
		return "LeaveResources"
	default:
		return fmt.Sprintf("UnknownTag(%d)", uint16(t))
	}
}

// Payload is a message body, excluding the trailing Lamport timestamp that
// the transport facade appends on send and strips on receive.
type Payload []uint16

// Status carries the sender's rank, message tag, and the sender's logical
// send-time timestamp (the payload's trailing element, already folded into
// the local clock by the transport facade before Receive returns).
type Status struct {
	Source    int
	Tag       Tag
	Timestamp uint64
}

// Transport is the timestamped transport facade every peer talks
// through. Implementations attach the local logical clock's value to every outgoing
// payload and observe the clock from every incoming one.
type Transport interface {
	// Send transmits payload to a single destination rank under tag,
	// returning the logical timestamp the facade attached to it.
	Send(payload Payload, dest int, tag Tag) (uint64, error)
	// Broadcast transmits payload to every peer but self under tag,
	// returning the logical timestamp the facade attached to it.
	Broadcast(payload Payload, tag Tag) (uint64, error)
	// Receive blocks for the next message addressed to this peer.
	Receive() (Payload, Status, error)
	// Close releases any resources held by the transport.
	Close() error
}

// ResourcesPayload builds the [rooms_granted, lifts_granted] payload for a
// Resources or LeaveResources reply.
func ResourcesPayload(rooms, lifts uint16) Payload {
	return Payload{rooms, lifts}
}

// ParseResources extracts (rooms_granted, lifts_granted) from a Resources or
// LeaveResources payload. The trailing timestamp has already been stripped
// by the transport facade by the time handlers see it.
func ParseResources(p Payload) (rooms, lifts uint16) {
	if len(p) < 2 {
		return 0, 0
	}
	return p[0], p[1]
}

// FinishPayload is the one-element dummy payload for a Finish broadcast.
func FinishPayload() Payload { return Payload{0} }

// FatalError models the three fatal, non-recoverable error classes:
// configuration, unknown tag, and transport failure. The protocol never
// retries or times out; any of these ends the process.
type FatalError struct {
	Kind   string
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func NewUnknownTagError(tag Tag) error {
	return &FatalError{Kind: "unknown tag", Reason: tag.String()}
}

func NewTransportError(reason string) error {
	return &FatalError{Kind: "transport failure", Reason: reason}
}

func NewConfigError(reason string) error {
	return &FatalError{Kind: "configuration error", Reason: reason}
}
