package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	localCache "github.com/caretransit/commlink/pkg/internal/cache"
	"github.com/caretransit/commlink/pkg/internal/database"
	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/eko/gocache/lib/v4/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// nullStore satisfies the cache store so services run without a redis in
// tests; every read is a miss.
type nullStore struct{}

func (nullStore) Get(context.Context, any) (any, error) {
	return nil, errors.New("cache miss")
}

func (nullStore) GetWithTTL(context.Context, any) (any, time.Duration, error) {
	return nil, 0, errors.New("cache miss")
}

func (nullStore) Set(context.Context, any, any, ...store.Option) error { return nil }

func (nullStore) Delete(context.Context, any) error { return nil }

func (nullStore) Invalidate(context.Context, ...store.InvalidateOption) error { return nil }

func (nullStore) Clear(context.Context) error { return nil }

func (nullStore) GetType() string { return "null" }

func newTestDatabase(t *testing.T) {
	t.Helper()

	source, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	require.NoError(t, err)
	require.NoError(t, database.RunMigration(source))

	database.C = source
	localCache.S = nullStore{}
}

func seedMembershipFixtures(t *testing.T) (models.Account, models.Group) {
	t.Helper()

	account := models.Account{Name: "nadia", Role: models.RoleDriver, OrganizationID: 1}
	require.NoError(t, database.C.Create(&account).Error)

	group := models.Group{Name: "Dispatch", OrganizationID: 1, AccountID: account.ID}
	require.NoError(t, database.C.Create(&group).Error)

	return account, group
}

func TestJoinGroupIsIdempotent(t *testing.T) {
	newTestDatabase(t)
	account, group := seedMembershipFixtures(t)

	first, err := JoinGroup(account, group)
	require.NoError(t, err)
	assert.True(t, first.IsActive)
	require.NotNil(t, first.LastActiveAt)

	second, err := JoinGroup(account, group)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsActive)

	var count int64
	require.NoError(t, database.C.Model(&models.GroupMember{}).
		Where("group_id = ? AND account_id = ?", group.ID, account.ID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestLeaveGroupDeactivatesButKeepsRow(t *testing.T) {
	newTestDatabase(t)
	account, group := seedMembershipFixtures(t)

	_, err := JoinGroup(account, group)
	require.NoError(t, err)

	LeaveGroup(account, group)

	var member models.GroupMember
	require.NoError(t, database.C.
		Where("group_id = ? AND account_id = ?", group.ID, account.ID).
		First(&member).Error)
	assert.False(t, member.IsActive)
}

func TestAddGroupMemberIsIdempotent(t *testing.T) {
	newTestDatabase(t)
	account, group := seedMembershipFixtures(t)

	require.NoError(t, AddGroupMember(account, group))
	require.NoError(t, AddGroupMember(account, group))

	var count int64
	require.NoError(t, database.C.Model(&models.GroupMember{}).
		Where("group_id = ? AND account_id = ?", group.ID, account.ID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAddGroupMemberSurfacesReadFailure(t *testing.T) {
	newTestDatabase(t)
	account, group := seedMembershipFixtures(t)

	require.NoError(t, database.C.Migrator().DropTable(&models.GroupMember{}))

	assert.Error(t, AddGroupMember(account, group))
}
