package models

import (
	"fmt"
	"time"
)

type CallStatus = string

const (
	CallStatusRinging  = CallStatus("ringing")
	CallStatusActive   = CallStatus("active")
	CallStatusEnded    = CallStatus("ended")
	CallStatusDeclined = CallStatus("declined")
	CallStatusMissed   = CallStatus("missed")
)

const (
	CallEndReasonHangup     = "hangup"
	CallEndReasonDeclined   = "declined"
	CallEndReasonMissed     = "missed"
	CallEndReasonConnection = "connection_error"
)

// CallRecord is the audit row for a one-to-one video/audio call. Only the
// signaling layer mutates status; terminal statuses never transition again.
type CallRecord struct {
	BaseModel

	CallID     string     `json:"call_id" gorm:"uniqueIndex"`
	CallerID   uint       `json:"caller_id"`
	CalleeID   uint       `json:"callee_id"`
	Caller     Account    `json:"caller"`
	Callee     Account    `json:"callee"`
	Status     CallStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	AnsweredAt *time.Time `json:"answered_at"`
	EndedAt    *time.Time `json:"ended_at"`
	EndReason  string     `json:"end_reason"`
}

// ChannelID is the per-call signaling channel name, so one call's messages
// never interleave with another's.
func (v CallRecord) ChannelID() string {
	return fmt.Sprintf("video-call-%s", v.CallID)
}

func (v CallRecord) IsTerminal() bool {
	switch v.Status {
	case CallStatusEnded, CallStatusDeclined, CallStatusMissed:
		return true
	}
	return false
}

// DurationSeconds is derived, not stored. Nil means the call was never
// answered, which is distinct from a zero-length answered call.
func (v CallRecord) DurationSeconds() *int64 {
	if v.AnsweredAt == nil || v.EndedAt == nil {
		return nil
	}
	out := int64(v.EndedAt.Sub(*v.AnsweredAt).Seconds())
	return &out
}

// FormatDuration renders the call length for history lists; unanswered calls
// show as "No answer" rather than 0:00.
func (v CallRecord) FormatDuration() string {
	dur := v.DurationSeconds()
	if dur == nil {
		return "No answer"
	}
	return fmt.Sprintf("%d:%02d", *dur/60, *dur%60)
}
