package api

import (
	"github.com/caretransit/commlink/pkg/internal/database"
	"github.com/caretransit/commlink/pkg/internal/http/exts"
	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

func listGroupMembers(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	groupId, _ := c.ParamsInt("groupId")
	take := c.QueryInt("take", 100)
	offset := c.QueryInt("offset", 0)

	group, _, err := services.GetGroupIdentity(uint(groupId), user.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	members, err := services.ListGroupMember(group.ID, take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	count, _ := services.CountGroupMember(group.ID)

	return c.JSON(fiber.Map{
		"count": count,
		"data": lo.Map(members, func(member models.GroupMember, index int) fiber.Map {
			return fiber.Map{
				"member":      member,
				"is_online":   services.CheckUserActive(member.AccountID, group.ID),
				"is_speaking": services.CheckUserSpeaking(member.AccountID, group.ID),
			}
		}),
	})
}

func addGroupMember(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, models.RoleAdmin, models.RoleDispatcher); err != nil {
		return err
	}
	groupId, _ := c.ParamsInt("groupId")

	var data struct {
		AccountID uint `json:"account_id" validate:"required"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	group, err := services.GetGroup(uint(groupId))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	account, err := services.GetAccount(data.AccountID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	if err := services.AddGroupMember(account, group); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.SendStatus(fiber.StatusOK)
}

func removeGroupMember(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, models.RoleAdmin, models.RoleDispatcher); err != nil {
		return err
	}
	groupId, _ := c.ParamsInt("groupId")
	memberId, _ := c.ParamsInt("memberId")

	group, err := services.GetGroup(uint(groupId))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	var member models.GroupMember
	if err := database.C.Where(&models.GroupMember{
		BaseModel: models.BaseModel{ID: uint(memberId)},
		GroupID:   group.ID,
	}).First(&member).Error; err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	if err := services.RemoveGroupMember(member, group); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.SendStatus(fiber.StatusOK)
}

func joinGroup(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	groupId, _ := c.ParamsInt("groupId")

	group, _, err := services.GetAvailableGroup(uint(groupId), user.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	member, err := services.JoinGroup(user, group)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(member)
}

func leaveGroup(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	groupId, _ := c.ParamsInt("groupId")

	group, _, err := services.GetAvailableGroup(uint(groupId), user.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	services.LeaveGroup(user, group)

	return c.SendStatus(fiber.StatusOK)
}
