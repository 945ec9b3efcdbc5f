package models

import (
	"fmt"
	"time"
)

// Group is a named walkie-talkie channel owned by an organization. Created by
// admin action, never auto-deleted.
type Group struct {
	BaseModel

	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Color          string  `json:"color"`
	OrganizationID uint    `json:"organization_id"`
	AccountID      uint    `json:"account_id"`
	Account        Account `json:"account"`

	Members []GroupMember `json:"members"`
}

// ChannelID is the broadcast channel name for this group, deterministic from
// organization and group id so every client lands on the same channel.
func (v Group) ChannelID() string {
	return fmt.Sprintf("walkie-talkie-%d-%d", v.OrganizationID, v.ID)
}

// GroupMember is unique per (group, account). IsActive flips on channel
// join/leave; rows are kept (soft-deleted at worst) so participation history
// survives.
type GroupMember struct {
	BaseModel

	GroupID      uint       `json:"group_id" gorm:"uniqueIndex:idx_group_account"`
	AccountID    uint       `json:"account_id" gorm:"uniqueIndex:idx_group_account"`
	Group        Group      `json:"group"`
	Account      Account    `json:"account"`
	IsActive     bool       `json:"is_active"`
	LastActiveAt *time.Time `json:"last_active_at"`
}
