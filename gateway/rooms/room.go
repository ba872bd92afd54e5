package rooms

import (
	"sync"
	"time"
)

const (
	chatLogCap       = 500
	chatHistoryLimit = 200
)

// pendingState is the duplicate-session machine for one parked join.
// Transitions: pendingNone -> pendingConfirm -> {pendingResolved | pendingCancelled}.
type pendingState int

const (
	pendingNone pendingState = iota
	pendingConfirm
	pendingResolved
	pendingCancelled
)

type pendingJoin struct {
	state pendingState
	req   *JoinRequest
}

// room is the single-owner state of one interview room. All access
// goes through mu; helpers below assume the caller holds it.
type room struct {
	mu sync.Mutex

	id         string
	startMs    int64
	lastActive time.Time
	ended      bool
	endReason  string

	participants map[string]*Participant
	bindings     map[Role]*Binding
	chat         []ChatMessage
	pending      map[string]*pendingJoin
}

func newRoom(id string, now time.Time) *room {
	return &room{
		id:           id,
		lastActive:   now,
		participants: make(map[string]*Participant),
		bindings:     make(map[Role]*Binding),
		pending:      make(map[string]*pendingJoin),
	}
}

func (r *room) snapshot() *Snapshot {
	parts := make(map[string]Participant, len(r.participants))
	for id, p := range r.participants {
		parts[id] = *p
	}
	return &Snapshot{
		Participants: parts,
		Locked:       r.locked(),
		StartMs:      r.startMs,
	}
}

// locked is true iff every defined role slot is held by a live connection.
func (r *room) locked() bool {
	for _, role := range AllRoles() {
		b, ok := r.bindings[role]
		if !ok || b.ConnID == "" {
			return false
		}
		if _, live := r.participants[b.ConnID]; !live {
			return false
		}
	}
	return true
}

// liveBinding returns the binding for role only when its connection is
// still present in the participant table.
func (r *room) liveBinding(role Role) *Binding {
	b, ok := r.bindings[role]
	if !ok || b.ConnID == "" {
		return nil
	}
	if _, live := r.participants[b.ConnID]; !live {
		return nil
	}
	return b
}

func (r *room) bind(role Role, tokenID, connID string) {
	r.bindings[role] = &Binding{TokenID: tokenID, ConnID: connID}
}

// dropConn removes the connection's participant entry, its pending
// duplicate (if any), and the connection half of any binding it held.
func (r *room) dropConn(connID string) (Participant, bool) {
	delete(r.pending, connID)

	p, ok := r.participants[connID]
	if !ok {
		return Participant{}, false
	}
	delete(r.participants, connID)

	for _, b := range r.bindings {
		if b.ConnID == connID {
			b.ConnID = ""
		}
	}
	return *p, true
}

// softReset clears everything but the ended flag and its reason once
// the room is empty. The registry entry itself survives. Parked
// duplicate joins are kept: their connections were never participants,
// and an outstanding confirm must still resolve after the old holder
// left on its own.
func (r *room) softReset() {
	r.startMs = 0
	r.participants = make(map[string]*Participant)
	r.bindings = make(map[Role]*Binding)
	r.chat = nil
}

func (r *room) appendChat(msg ChatMessage) {
	r.chat = append(r.chat, msg)
	if len(r.chat) > chatLogCap {
		r.chat = r.chat[len(r.chat)-chatLogCap:]
	}
}

func (r *room) chatHistory() []ChatMessage {
	n := len(r.chat)
	if n == 0 {
		return nil
	}
	if n > chatHistoryLimit {
		n = chatHistoryLimit
	}
	history := make([]ChatMessage, n)
	copy(history, r.chat[len(r.chat)-n:])
	return history
}

func (r *room) connIDs() []string {
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	return ids
}

// peersThatOffer lists live connections whose role can originate an
// offer, excluding the given connection.
func (r *room) peersThatOffer(excludeConnID string) []string {
	var peers []string
	for id, p := range r.participants {
		if id == excludeConnID || !p.Role.CanOffer() {
			continue
		}
		peers = append(peers, id)
	}
	return peers
}
