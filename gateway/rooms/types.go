package rooms

import (
	"time"
)

// Role is a named seat in a room, occupiable by at most one live
// connection at a time.
type Role string

const (
	RoleBot       Role = "bot"
	RoleCandidate Role = "candidate"
	RoleRecruiter Role = "recruiter"
	RoleObserver  Role = "observer"
)

// AllRoles is the closed role set; an unknown role never survives
// token verification, so code past that point may assume membership.
func AllRoles() []Role {
	return []Role{RoleBot, RoleCandidate, RoleRecruiter, RoleObserver}
}

func RoleNames() []string {
	roles := AllRoles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return names
}

func (r Role) Valid() bool {
	switch r {
	case RoleBot, RoleCandidate, RoleRecruiter, RoleObserver:
		return true
	}
	return false
}

// StartsTimer reports whether the first join of this role sets the
// room start timestamp.
func (r Role) StartsTimer() bool {
	return r == RoleBot
}

// RequiresConsent reports whether the role must declare recording
// consent before admission.
func (r Role) RequiresConsent() bool {
	return r == RoleCandidate
}

// UsesResolver reports whether same-role collisions go through the
// duplicate-session confirm/replace flow instead of a role_taken denial.
func (r Role) UsesResolver() bool {
	return r == RoleCandidate
}

// CanOffer reports whether the role may originate an SDP offer.
// Observers cannot, so their join triggers a re-offer fan-out instead.
func (r Role) CanOffer() bool {
	return r != RoleObserver
}

// DenyReason is a structured admission denial, surfaced only to the
// rejecting connection.
type DenyReason string

const (
	DenyMeetingEnded    DenyReason = "meeting_ended"
	DenyEarlyJoin       DenyReason = "early_join"
	DenyTooLate         DenyReason = "too_late"
	DenyConsentRequired DenyReason = "consent_required"
	DenyRoleTaken       DenyReason = "role_taken"
	DenyRoomFull        DenyReason = "room_full"
)

// Participant is one live connection's seat state within a room.
type Participant struct {
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Muted    bool   `json:"muted"`
	VideoOff bool   `json:"videoOff"`
	JoinedMs int64  `json:"joinTimestamp"`
}

// Binding ties a role slot to the credential (jti) and connection
// holding it. Either half may be empty: a binding with an empty ConnID
// is a dead seat whose previous holder disconnected.
type Binding struct {
	TokenID string
	ConnID  string
}

// ChatMessage is one entry of the bounded per-room chat log.
type ChatMessage struct {
	From    string `json:"from"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	Message string `json:"message"`
	SentMs  int64  `json:"ts"`
}

// Snapshot is the full room-state payload rebroadcast to every
// connection on any mutation. Full snapshots are deliberate: room
// population is bounded by the role-set size plus observers.
type Snapshot struct {
	Participants map[string]Participant `json:"participants"`
	Locked       bool                   `json:"locked"`
	StartMs      int64                  `json:"startMs"`
}

// JoinRequest carries everything admission needs; Claims are the
// verified token payload, never a raw token.
type JoinRequest struct {
	ConnID  string
	RoomID  string
	Role    Role
	TokenID string
	Name    string
	Consent bool

	ScheduledStart time.Time
	HasSchedule    bool
	Expiry         time.Time
	HasExpiry      bool
	GraceMin       int
}

// AdmitResult is the outcome of one admission attempt. Exactly one of
// Admitted / Pending / Reason-set holds.
type AdmitResult struct {
	Admitted bool

	// Pending means the join was parked behind a duplicate-session
	// prompt; the caller must emit the prompt and await confirm/cancel.
	Pending bool

	Reason           DenyReason
	ScheduledStartMs int64 // echoed on early_join

	// Populated on admission.
	Participant  Participant
	Snapshot     *Snapshot
	ChatHistory  []ChatMessage
	StartMs      int64
	TimerStarted bool
	// ReplacedConnID is a stale connection of the same credential that
	// this admission displaced (same-jti reconnect).
	ReplacedConnID string
	// ReofferPeers lists non-observer connections that should be asked
	// to re-offer toward a newly admitted observer.
	ReofferPeers []string
}

// LeaveResult describes the cleanup applied for a departing connection.
type LeaveResult struct {
	Removed     bool
	Emptied     bool
	Participant Participant
	Snapshot    *Snapshot
}

// DuplicateResult is the outcome of a duplicate-session confirm/cancel.
type DuplicateResult struct {
	Cancelled bool
	// EvictedConnID is the old connection to force-remove; empty when
	// it already disconnected naturally before the confirm arrived.
	EvictedConnID string
	Admit         *AdmitResult
}

// EndResult describes a meeting termination.
type EndResult struct {
	AlreadyEnded bool
	Reason       string
	ConnIDs      []string
}

// ProbeResult is the read-only pre-connect eligibility answer.
type ProbeResult struct {
	Valid            bool       `json:"valid"`
	RoomID           string     `json:"roomId"`
	Role             Role       `json:"role"`
	ScheduledStartMs int64      `json:"scheduledStart,omitempty"`
	Early            bool       `json:"early"`
	SameTokenBound   bool       `json:"alreadyBoundToSameToken"`
	ActivePeers      int        `json:"activePeerCount"`
	Ended            bool       `json:"ended"`
	EndReason        string     `json:"endReason,omitempty"`
	Reason           DenyReason `json:"reason,omitempty"`
}

// RoomStatus is the operator-facing view of one room.
type RoomStatus struct {
	RoomID       string                 `json:"roomId"`
	StartMs      int64                  `json:"startMs"`
	Ended        bool                   `json:"ended"`
	EndReason    string                 `json:"endReason,omitempty"`
	LastActive   time.Time              `json:"lastActive"`
	Participants map[string]Participant `json:"participants"`
	Locked       bool                   `json:"locked"`
	ChatLen      int                    `json:"chatLen"`
}

// Service owns the room registry and every room-state mutation.
// Mutations within one room are serialized; rooms are independent.
// No method blocks on I/O.
type Service interface {
	Admit(req *JoinRequest) *AdmitResult
	ConfirmDuplicate(roomID, connID string, confirm bool) *DuplicateResult
	Leave(roomID, connID string) *LeaveResult
	SetAVState(roomID, connID string, muted, videoOff bool) (*Snapshot, bool)
	Rename(roomID, connID, name string) (*Snapshot, bool)
	AppendChat(roomID, connID, message string) (*ChatMessage, bool)
	End(roomID, reason string) *EndResult
	Probe(req *JoinRequest) *ProbeResult
	GetStatus(roomID string) (*RoomStatus, bool)
	ListStatus() []*RoomStatus
	Close()
}
