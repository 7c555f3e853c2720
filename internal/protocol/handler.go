package protocol

// Serve runs the receiver thread: a blocking loop over Transport.Receive
// that dispatches each message to its handler, until a Finish-tagged
// message arrives or the transport fails. It returns nil on a clean
// Finish and a *FatalError on an unknown tag or transport failure.
func (p *Peer) Serve() error {
	for {
		payload, status, err := p.transport.Receive()
		if err != nil {
			return NewTransportError(err.Error())
		}

		switch status.Tag {
		case TagEnterRequest:
			p.handleEnterRequestAt(status.Source, status.Timestamp)
		case TagLeaveRequest:
			p.handleLeaveRequestAt(status.Source, status.Timestamp)
		case TagResources:
			p.handleResources(payload, status.Source)
		case TagLeaveResources:
			p.handleLeaveResources(status.Source)
		case TagFinish:
			p.log.Info("received finish, exiting receiver loop")
			return nil
		default:
			return NewUnknownTagError(status.Tag)
		}
	}
}

// handleEnterRequestAt implements the EnterRequest handler. senderTime is the wire timestamp the sender attached when it broadcast
// the EnterRequest (status.Timestamp), used for the priority rule.
func (p *Peer) handleEnterRequestAt(sender int, senderTime uint64) {
	p.mu.Lock()

	senderWins := p.phase == PhaseRest || hasPriority(senderTime, p.enterTime, sender, p.rank)

	var roomsGrant, liftsGrant uint16
	switch {
	case senderWins:
		roomsGrant, liftsGrant = uint16(p.config.Rooms), 1
	case p.phase == PhaseCrit:
		roomsGrant, liftsGrant = uint16(p.config.Rooms-p.need), 1
		p.deferRooms = append(p.deferRooms, sender)
	default: // Try, Down, Leaving, Up, losing the priority comparison
		roomsGrant, liftsGrant = uint16(p.config.Rooms-p.need), 0
		p.deferRooms = append(p.deferRooms, sender)
		p.deferLifts = append(p.deferLifts, sender)
	}
	p.mu.Unlock()

	p.log.WithFields(map[string]interface{}{
		"sender": sender, "grantedRooms": roomsGrant, "grantedLifts": liftsGrant,
	}).Debug("replying to enter-request")
	p.sendResources(sender, roomsGrant, liftsGrant)
}

// handleLeaveRequestAt implements the LeaveRequest handler. senderTime is the wire timestamp the sender attached when it broadcast
// the LeaveRequest (status.Timestamp), used for the priority rule.
func (p *Peer) handleLeaveRequestAt(sender int, senderTime uint64) {
	p.mu.Lock()

	selfOutranksSender := (p.phase == PhaseLeaving || p.phase == PhaseUp) &&
		!hasPriority(senderTime, p.leaveTime, sender, p.rank)

	if selfOutranksSender {
		p.deferLifts = append(p.deferLifts, sender)
		p.mu.Unlock()
		p.log.WithField("sender", sender).Debug("deferring leave-reply")
		return
	}

	p.vectors.CreditLift(sender)
	p.mu.Unlock()

	p.log.WithField("sender", sender).Debug("granting lift")
	p.sendLeaveResources(sender)
}

// handleResources implements the Resources handler: the sender's granted
// rooms/lifts are subtracted from this peer's belief of what the sender
// still claims.
func (p *Peer) handleResources(payload Payload, sender int) {
	rooms, lifts := ParseResources(payload)
	p.mu.Lock()
	p.vectors.GrantRooms(sender, rooms)
	p.vectors.GrantLifts(sender, lifts)
	p.mu.Unlock()
}

// handleLeaveResources implements the LeaveResources handler: a lift this
// peer was granted is acknowledged, and the grantor is queued for a
// grant-back at this peer's next Down or Up transition.
func (p *Peer) handleLeaveResources(sender int) {
	p.mu.Lock()
	p.vectors.Lifts[sender]--
	p.deferLifts = append(p.deferLifts, sender)
	p.mu.Unlock()
}

// sendResources sends a Resources-tagged reply. The send happens outside
// the peer lock, and after all state mutations the reply reflects are
// already committed.
func (p *Peer) sendResources(dest int, rooms, lifts uint16) {
	if _, err := p.transport.Send(ResourcesPayload(rooms, lifts), dest, TagResources); err != nil {
		p.log.WithError(err).Error("failed to send resources reply")
	}
}

// sendLeaveResources sends the fixed {rooms:0, lifts:1} LeaveResources
// reply to a LeaveRequest.
func (p *Peer) sendLeaveResources(dest int) {
	if _, err := p.transport.Send(ResourcesPayload(0, 1), dest, TagLeaveResources); err != nil {
		p.log.WithError(err).Error("failed to send leave-resources reply")
	}
}
