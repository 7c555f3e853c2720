package protocol

// StatusReport is a point-in-time, JSON-serializable snapshot of a
// peer's state for the operational status surface (cmd/peer's /status
// endpoint). It has no bearing on the protocol itself — nothing reads
// it back.
type StatusReport struct {
	Rank       int    `json:"rank"`
	Need       int    `json:"need"`
	Phase      string `json:"phase"`
	EnterTime  uint64 `json:"enter_time,omitempty"`
	LeaveTime  uint64 `json:"leave_time,omitempty"`
	Rooms      []int  `json:"rooms"`
	Lifts      []int  `json:"lifts"`
	DeferRooms []int  `json:"defer_rooms"`
	DeferLifts []int  `json:"defer_lifts"`
	Clock      uint64 `json:"logical_clock"`
}

// Status builds a StatusReport under the peer lock.
func (p *Peer) Status() StatusReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := StatusReport{
		Rank:       p.rank,
		Need:       p.need,
		Phase:      p.phase.String(),
		Rooms:      append([]int(nil), p.vectors.Rooms...),
		Lifts:      append([]int(nil), p.vectors.Lifts...),
		DeferRooms: append([]int(nil), p.deferRooms...),
		DeferLifts: append([]int(nil), p.deferLifts...),
		Clock:      p.clock.Now(),
	}
	if p.enterTime != unsetTime {
		report.EnterTime = p.enterTime
	}
	if p.leaveTime != unsetTime {
		report.LeaveTime = p.leaveTime
	}
	return report
}
