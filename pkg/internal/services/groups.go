package services

import (
	"context"
	"fmt"

	localCache "github.com/caretransit/commlink/pkg/internal/cache"
	"github.com/caretransit/commlink/pkg/internal/database"
	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/marshaler"
	"github.com/eko/gocache/lib/v4/store"
	"github.com/rs/zerolog/log"
)

type groupIdentityCacheEntry struct {
	Group       models.Group
	GroupMember models.GroupMember
}

func GetGroupIdentityCacheKey(group uint, user uint) string {
	return fmt.Sprintf("group-identity-%d#%d", group, user)
}

func CacheGroupIdentity(group models.Group, member models.GroupMember, user uint) {
	cacheManager := cache.New[any](localCache.S)
	marshal := marshaler.New(cacheManager)
	contx := context.Background()

	_ = marshal.Set(
		contx,
		GetGroupIdentityCacheKey(group.ID, user),
		groupIdentityCacheEntry{group, member},
		store.WithTags([]string{"group-identity", fmt.Sprintf("group#%d", group.ID), fmt.Sprintf("user#%d", user)}),
	)
}

// GetGroupIdentity resolves the group plus the caller's membership in it,
// cached per (group, user) until a membership change invalidates the tags.
func GetGroupIdentity(groupId uint, user uint) (models.Group, models.GroupMember, error) {
	cacheManager := cache.New[any](localCache.S)
	marshal := marshaler.New(cacheManager)
	contx := context.Background()

	if val, err := marshal.Get(contx, GetGroupIdentityCacheKey(groupId, user), new(groupIdentityCacheEntry)); err == nil {
		entry := val.(*groupIdentityCacheEntry)
		return entry.Group, entry.GroupMember, nil
	}

	group, member, err := GetAvailableGroup(groupId, user)
	if err == nil {
		CacheGroupIdentity(group, member, user)
	}

	return group, member, err
}

func GetGroup(id uint) (models.Group, error) {
	var group models.Group
	if err := database.C.Where(models.Group{
		BaseModel: models.BaseModel{ID: id},
	}).Preload("Account").First(&group).Error; err != nil {
		return group, err
	}

	return group, nil
}

// GetAvailableGroup loads a group and proves the caller has a membership row
// in it, active or not.
func GetAvailableGroup(id uint, user uint) (models.Group, models.GroupMember, error) {
	var err error
	var member models.GroupMember
	var group models.Group
	if group, err = GetGroup(id); err != nil {
		return group, member, err
	}

	if err := database.C.Where(models.GroupMember{
		AccountID: user,
		GroupID:   group.ID,
	}).First(&member).Error; err != nil {
		return group, member, fmt.Errorf("group principal not found: %v", err.Error())
	}

	return group, member, nil
}

// ListGroupForUser returns every group the user has a membership row for,
// regardless of is_active. Read errors degrade to an empty list so a flaky
// datastore cannot block the rest of the app.
func ListGroupForUser(user uint) []models.Group {
	var memberships []models.GroupMember
	if err := database.C.Where("account_id = ?", user).Find(&memberships).Error; err != nil {
		log.Warn().Err(err).Uint("user", user).Msg("An error occurred when listing group memberships...")
		return []models.Group{}
	}

	var idRange []uint
	for _, membership := range memberships {
		idRange = append(idRange, membership.GroupID)
	}

	var groups []models.Group
	if err := database.C.Where("id IN ?", idRange).Find(&groups).Error; err != nil {
		log.Warn().Err(err).Uint("user", user).Msg("An error occurred when listing groups...")
		return []models.Group{}
	}

	return groups
}

func ListGroupForOrganization(organizationId uint) ([]models.Group, error) {
	var groups []models.Group
	if err := database.C.Where(models.Group{
		OrganizationID: organizationId,
	}).Find(&groups).Error; err != nil {
		return groups, err
	}

	return groups, nil
}

func NewGroup(group models.Group) (models.Group, error) {
	err := database.C.Save(&group).Error
	return group, err
}

func EditGroup(group models.Group, name, description, color string) (models.Group, error) {
	group.Name = name
	group.Description = description
	group.Color = color

	err := database.C.Save(&group).Error

	if err == nil {
		cacheManager := cache.New[any](localCache.S)
		marshal := marshaler.New(cacheManager)
		contx := context.Background()

		_ = marshal.Invalidate(
			contx,
			store.WithInvalidateTags([]string{fmt.Sprintf("group#%d", group.ID)}),
		)
	}

	return group, err
}

func DeleteGroup(group models.Group) error {
	if err := database.C.Delete(&group).Error; err != nil {
		return err
	}

	cacheManager := cache.New[any](localCache.S)
	marshal := marshaler.New(cacheManager)
	contx := context.Background()

	_ = marshal.Invalidate(
		contx,
		store.WithInvalidateTags([]string{fmt.Sprintf("group#%d", group.ID)}),
	)

	return nil
}
