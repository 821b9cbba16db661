package models

import "time"

// Role is the participant role declared at authentication.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r may take part in a classroom.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Identity is a verified user as returned by the identity verifier.
type Identity struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"isActive"`
}

// ClassSession is the scheduled class backing a room.
type ClassSession struct {
	ID          string
	ScheduleID  string
	CourseID    string
	Batch       string
	SessionDate time.Time
	StartTime   time.Time
	EndTime     time.Time
	IsActive    bool
}

// Joinable reports whether the session accepts participants at now. A
// positive lead opens the room that long before the scheduled start.
func (s ClassSession) Joinable(now time.Time, lead time.Duration) bool {
	if !s.IsActive {
		return false
	}
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return true
	}
	return !now.Before(s.StartTime.Add(-lead)) && !now.After(s.EndTime)
}

// RoomSnapshot is the confirmation returned to a participant on join.
type RoomSnapshot struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	CreatedBy        string                 `json:"created_by"`
	ParticipantCount int64                  `json:"participantCount"`
	Opts             map[string]interface{} `json:"opts"`
}

// RaisedHand is one entry of the raised-hand list.
type RaisedHand struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// RoomStatus is the REST view of a room.
type RoomStatus struct {
	RoomID           string       `json:"roomId"`
	ParticipantCount int64        `json:"participantCount"`
	RaisedHands      []RaisedHand `json:"raisedHands"`
}

const (
	// MaxChatLength bounds chat text, counted in runes after trimming.
	MaxChatLength = 500
	// AnonymousName is used when no display name is known.
	AnonymousName = "Anonymous"
)

// AllowedEmojis is the closed set of broadcast reactions.
var AllowedEmojis = map[string]bool{
	"🙋": true,
	"👍": true,
	"👏": true,
	"😊": true,
}
