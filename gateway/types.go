package gateway

import "context"

// MeetingControl is the operator-facing lifecycle seam: the REST layer
// terminates meetings through it without knowing about WebSocket
// connections or broadcast groups.
type MeetingControl interface {
	// EndMeeting force-ends a room and evicts every connection.
	// Ending an already-ended room reports alreadyEnded and succeeds.
	EndMeeting(ctx context.Context, roomID, reason string) (alreadyEnded bool, err error)
}
