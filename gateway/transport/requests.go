package transport

import "time"

// CreateInvitesBody describes one batch of admission tokens to mint.
type CreateInvitesBody struct {
	// RoomID: 3-32 characters (letters, numbers, hyphens, underscores) - required
	RoomID string `json:"roomId" binding:"required,roomid"`
	// Roles to mint tokens for; defaults to the full role set
	Roles []string `json:"roles,omitempty" binding:"omitempty,dive,role"`
	// Names maps role to the display name embedded in its token
	Names map[string]string `json:"names,omitempty"`
	// Token lifetime in minutes; defaults to 24h
	TTLMinutes int `json:"ttlMinutes,omitempty" binding:"omitempty,gte=1,lte=10080"`
	// Scheduled meeting start; omitted means "valid immediately"
	StartAt *time.Time `json:"startAt,omitempty"`
	// Grace window past the scheduled start, in minutes
	GraceMinutes int `json:"graceMinutes,omitempty" binding:"omitempty,gte=0,lte=240"`
}

// ValidateQuery carries the token to probe.
type ValidateQuery struct {
	Token string `form:"t" binding:"required"`
}

// RoomStatusURI represents the URI parameters for one room lookup
type RoomStatusURI struct {
	RoomID string `uri:"roomId" binding:"required,roomid"`
}

// EndMeetingURI represents the URI parameters for ending a meeting
type EndMeetingURI struct {
	RoomID string `uri:"roomId" binding:"required,roomid"`
}

// EndMeetingBody carries the optional termination reason
type EndMeetingBody struct {
	Reason string `json:"reason,omitempty" binding:"omitempty,max=128"`
}
