package protocol

import (
	"context"
	"time"
)

// Run drives the progress thread through the six-phase cycle
// Rest→Try→Down→Crit→Leaving→Up→Rest until ctx is cancelled. It returns nil
// on a clean shutdown and a *FatalError if the transport fails outright.
func (p *Peer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.step(ctx); err != nil {
			return err
		}
	}
}

// step advances the peer by exactly one phase of the cycle.
func (p *Peer) step(ctx context.Context) error {
	p.mu.Lock()
	phase := p.phase
	p.mu.Unlock()

	switch phase {
	case PhaseRest:
		return p.runRest(ctx)
	case PhaseTry:
		return p.runTry(ctx)
	case PhaseDown:
		return p.runDown(ctx)
	case PhaseCrit:
		return p.runCrit(ctx)
	case PhaseLeaving:
		return p.runLeaving(ctx)
	case PhaseUp:
		return p.runUp(ctx)
	default:
		return NewConfigError("peer in unreachable phase")
	}
}

// waitUntil blocks, sleeping the injected random phase duration between
// checks, until predicate() holds or ctx is cancelled. It never holds the
// peer's mutex while sleeping.
func (p *Peer) waitUntil(ctx context.Context, predicate func() bool) bool {
	for {
		if predicate() {
			return true
		}
		if !p.sleep(ctx) {
			return false
		}
	}
}

// sleep pauses for one work-simulation interval and reports whether the
// peer is still running afterwards.
func (p *Peer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.rng.PhaseSleep()):
		return ctx.Err() == nil
	}
}

func (p *Peer) runRest(ctx context.Context) error {
	p.log.Debug("resting")
	if !p.sleep(ctx) {
		return nil
	}
	p.setPhase(PhaseTry)
	return nil
}

func (p *Peer) runTry(ctx context.Context) error {
	p.mu.Lock()
	p.vectors.ResetForEnter(p.rank, p.need, p.config.Rooms)
	p.mu.Unlock()

	t, err := p.transport.Broadcast(Payload{}, TagEnterRequest)
	if err != nil {
		return NewTransportError(err.Error())
	}

	p.mu.Lock()
	p.enterTime = t
	p.mu.Unlock()
	p.log.WithField("need", p.need).Info("trying to go down")

	ready := p.waitUntil(ctx, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.vectors.DownReady(p.config.Rooms, p.config.Lifts)
	})
	if !ready {
		return nil
	}
	p.setPhase(PhaseDown)
	return nil
}

func (p *Peer) runDown(ctx context.Context) error {
	p.log.Info("going down")
	p.mu.Lock()
	deferred := p.deferLifts
	p.deferLifts = nil
	p.mu.Unlock()

	for _, rank := range deferred {
		if _, err := p.transport.Send(ResourcesPayload(0, 1), rank, TagResources); err != nil {
			return NewTransportError(err.Error())
		}
	}

	if !p.sleep(ctx) {
		return nil
	}
	p.setPhase(PhaseCrit)
	return nil
}

func (p *Peer) runCrit(ctx context.Context) error {
	p.mu.Lock()
	p.vectors.ResetLiftsForRequest()
	p.mu.Unlock()

	p.log.Info("entering the critical section")
	p.ledgerRecordEnter()

	if err := p.broadcastLeaveRequest(); err != nil {
		return err
	}

	if !p.sleep(ctx) {
		return nil
	}
	p.log.Info("leaving the critical section")
	p.ledgerRecordLeave()
	p.setPhase(PhaseLeaving)
	return nil
}

func (p *Peer) broadcastLeaveRequest() error {
	t, err := p.transport.Broadcast(Payload{}, TagLeaveRequest)
	if err != nil {
		return NewTransportError(err.Error())
	}
	p.mu.Lock()
	p.leaveTime = t
	p.mu.Unlock()
	return nil
}

func (p *Peer) runLeaving(ctx context.Context) error {
	ready := p.waitUntil(ctx, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.vectors.UpReady(p.config.Lifts)
	})
	if !ready {
		return nil
	}
	p.setPhase(PhaseUp)
	return nil
}

func (p *Peer) runUp(ctx context.Context) error {
	p.log.Info("going up")
	p.mu.Lock()
	ranks, roomsOf, liftsOf := p.drainUpQueues()
	p.mu.Unlock()

	for _, rank := range ranks {
		rooms := uint16(0)
		if roomsOf[rank] {
			rooms = uint16(p.need)
		}
		lifts := uint16(0)
		if liftsOf[rank] {
			lifts = 1
		}
		if _, err := p.transport.Send(ResourcesPayload(rooms, lifts), rank, TagResources); err != nil {
			return NewTransportError(err.Error())
		}
	}

	if !p.sleep(ctx) {
		return nil
	}
	p.setPhase(PhaseRest)
	return nil
}

// drainUpQueues merges defer_rooms and defer_lifts (a rank may appear in
// either or both) into an ordered, de-duplicated rank list plus membership
// maps, then clears both queues. Called with the peer lock held.
func (p *Peer) drainUpQueues() (ranks []int, inRooms, inLifts map[int]bool) {
	inRooms = make(map[int]bool, len(p.deferRooms))
	inLifts = make(map[int]bool, len(p.deferLifts))
	seen := make(map[int]bool, len(p.deferRooms)+len(p.deferLifts))

	for _, r := range p.deferRooms {
		inRooms[r] = true
		if !seen[r] {
			seen[r] = true
			ranks = append(ranks, r)
		}
	}
	for _, r := range p.deferLifts {
		inLifts[r] = true
		if !seen[r] {
			seen[r] = true
			ranks = append(ranks, r)
		}
	}

	p.deferRooms = nil
	p.deferLifts = nil
	return ranks, inRooms, inLifts
}

func (p *Peer) setPhase(phase Phase) {
	p.mu.Lock()
	p.phase = phase
	sumRooms := p.vectors.SumRooms()
	sumLifts := p.vectors.SumLifts()
	p.mu.Unlock()
	p.observer.PhaseChanged(p.rank, phase, p.clock.Now(), sumRooms, sumLifts)
}

func (p *Peer) ledgerRecordEnter() {
	p.mu.Lock()
	need, enterTime := p.need, p.enterTime
	p.mu.Unlock()
	p.ledger.RecordEnter(p.rank, need, enterTime)
}

func (p *Peer) ledgerRecordLeave() {
	p.mu.Lock()
	leaveTime := p.leaveTime
	p.mu.Unlock()
	p.ledger.RecordLeave(p.rank, leaveTime)
}
