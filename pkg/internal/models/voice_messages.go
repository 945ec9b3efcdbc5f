package models

import (
	"github.com/samber/lo"
	"gorm.io/datatypes"
)

// VoiceMessage is the store-and-forward artifact: a complete recording
// uploaded to the blob store, optionally directed at one recipient. A nil
// RecipientID means broadcast to the whole organization.
type VoiceMessage struct {
	BaseModel

	SenderID        uint                      `json:"sender_id"`
	Sender          Account                   `json:"sender"`
	SenderName      string                    `json:"sender_name"`
	SenderRole      AccountRole               `json:"sender_role"`
	AudioURL        string                    `json:"audio_url"`
	DurationSeconds int                       `json:"duration_seconds"`
	ListenedBy      datatypes.JSONSlice[uint] `json:"listened_by"`
	RecipientID     *uint                     `json:"recipient_id"`
	OrganizationID  uint                      `json:"organization_id"`
}

// AppendListener grows the listened-by set monotonically; re-appending an
// existing id is a no-op, not an error. Reports whether the set changed.
func (v *VoiceMessage) AppendListener(accountId uint) bool {
	if lo.Contains(v.ListenedBy, accountId) {
		return false
	}
	v.ListenedBy = append(v.ListenedBy, accountId)
	return true
}

// IsUnreadFor is true when the user neither sent nor listened to the message.
func (v VoiceMessage) IsUnreadFor(accountId uint) bool {
	if accountId == v.SenderID {
		return false
	}
	return !lo.Contains(v.ListenedBy, accountId)
}
