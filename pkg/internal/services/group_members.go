package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/caretransit/commlink/pkg/internal/database"
	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

func CountGroupMember(groupId uint) (int64, error) {
	var count int64
	if err := database.C.Where(&models.GroupMember{
		GroupID: groupId,
	}).Model(&models.GroupMember{}).Count(&count).Error; err != nil {
		return 0, err
	} else {
		return count, nil
	}
}

func ListGroupMember(groupId uint, take int, offset int) ([]models.GroupMember, error) {
	var members []models.GroupMember

	if err := database.C.
		Limit(take).Offset(offset).
		Where(&models.GroupMember{GroupID: groupId}).
		Preload("Account").
		Find(&members).Error; err != nil {
		return members, err
	}

	return members, nil
}

func GetGroupMember(user models.Account, groupId uint) (models.GroupMember, error) {
	var member models.GroupMember

	if err := database.C.
		Where(&models.GroupMember{AccountID: user.ID, GroupID: groupId}).
		First(&member).Error; err != nil {
		return member, err
	}

	return member, nil
}

// AddGroupMember enrolls a user into a group without activating them. Safe to
// call twice; an existing row is left untouched.
func AddGroupMember(user models.Account, target models.Group) error {
	var member models.GroupMember
	if err := database.C.Where(&models.GroupMember{
		AccountID: user.ID,
		GroupID:   target.ID,
	}).First(&member).Error; err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	member = models.GroupMember{
		GroupID:   target.ID,
		AccountID: user.ID,
	}

	err := database.C.Save(&member).Error

	if err == nil {
		InvalidGroupIdentityCache(target.ID, user.ID)
	}

	return err
}

// JoinGroup marks the membership active and announces the arrival on the
// group channel. Idempotent beyond the timestamp refresh: a second call keeps
// a single row with is_active still true.
func JoinGroup(user models.Account, target models.Group) (models.GroupMember, error) {
	var member models.GroupMember
	err := database.C.Where(&models.GroupMember{
		AccountID: user.ID,
		GroupID:   target.ID,
	}).First(&member).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return member, err
		}
		member = models.GroupMember{
			GroupID:   target.ID,
			AccountID: user.ID,
		}
	}

	member.IsActive = true
	member.LastActiveAt = lo.ToPtr(time.Now())

	if err := database.C.Save(&member).Error; err != nil {
		return member, err
	}

	InvalidGroupIdentityCache(target.ID, user.ID)

	Nh.Broadcast(target.ChannelID(), models.NewEnvelope(user.ID, models.UserJoinedPayload{
		UserID: user.ID,
		Name:   user.DisplayName(),
		Role:   user.Role,
	}))

	return member, nil
}

// LeaveGroup clears the active flag and announces the departure. Called from
// every exit path of a channel session; the persisted row is kept for
// participation history. The write is fire-and-forget so teardown can never
// block on the datastore.
func LeaveGroup(user models.Account, target models.Group) {
	if err := database.C.Model(&models.GroupMember{}).
		Where(&models.GroupMember{AccountID: user.ID, GroupID: target.ID}).
		Update("is_active", false).Error; err != nil {
		log.Warn().Err(err).
			Uint("user", user.ID).
			Uint("group", target.ID).
			Msg("An error occurred when deactivating group membership...")
	}

	InvalidGroupIdentityCache(target.ID, user.ID)

	Nh.Broadcast(target.ChannelID(), models.NewEnvelope(user.ID, models.UserLeftPayload{
		UserID: user.ID,
	}))
}

func RemoveGroupMember(member models.GroupMember, target models.Group) error {
	if err := database.C.Delete(&member).Error; err != nil {
		return err
	}

	InvalidGroupIdentityCache(target.ID, member.AccountID)

	return nil
}

func InvalidGroupIdentityCache(groupId, accountId uint) {
	invalidCacheTags(
		fmt.Sprintf("group#%d", groupId),
		fmt.Sprintf("user#%d", accountId),
	)
}
