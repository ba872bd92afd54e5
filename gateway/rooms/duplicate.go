package rooms

import "context"

// ConfirmDuplicate resolves a parked duplicate-session join. On
// confirm the old same-role connection is evicted (if it is still
// around) and admission re-runs with the parked parameters. On cancel
// the room is left untouched and the new connection stays un-admitted.
func (s *svcImpl) ConfirmDuplicate(roomID, connID string, confirm bool) *DuplicateResult {
	rm, ok := s.rooms.Load(roomID)
	if !ok {
		return &DuplicateResult{Cancelled: true}
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	pj, ok := rm.pending[connID]
	if !ok || pj.state != pendingConfirm {
		return &DuplicateResult{Cancelled: true}
	}

	if !confirm {
		pj.state = pendingCancelled
		delete(rm.pending, connID)
		duplicateCancels.Add(context.Background(), 1)
		return &DuplicateResult{Cancelled: true}
	}

	pj.state = pendingResolved
	delete(rm.pending, connID)
	duplicateConfirms.Add(context.Background(), 1)

	// The old connection may have disconnected naturally while the
	// prompt was outstanding; a missing holder is not an error.
	var evicted string
	if b := rm.liveBinding(pj.req.Role); b != nil && b.ConnID != connID && b.TokenID != pj.req.TokenID {
		evicted = b.ConnID
		rm.dropConn(evicted)
	}

	now := s.clock.Now()
	res := s.admitLocked(rm, pj.req, now)
	if res.Admitted {
		rm.lastActive = now
	}
	return &DuplicateResult{
		EvictedConnID: evicted,
		Admit:         res,
	}
}
