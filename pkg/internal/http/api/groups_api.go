package api

import (
	"github.com/caretransit/commlink/pkg/internal/http/exts"
	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func listGroup(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	return c.JSON(services.ListGroupForUser(user.ID))
}

func getGroup(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	groupId, _ := c.ParamsInt("groupId")

	group, member, err := services.GetGroupIdentity(uint(groupId), user.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	return c.JSON(fiber.Map{
		"group":  group,
		"member": member,
	})
}

func createGroup(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, models.RoleAdmin, models.RoleDispatcher); err != nil {
		return err
	}
	user := exts.GetUser(c)

	var data struct {
		Name        string `json:"name" validate:"required"`
		Description string `json:"description"`
		Color       string `json:"color"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	group, err := services.NewGroup(models.Group{
		Name:           data.Name,
		Description:    data.Description,
		Color:          data.Color,
		OrganizationID: user.OrganizationID,
		AccountID:      user.ID,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := services.AddGroupMember(user, group); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(group)
}

func editGroup(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, models.RoleAdmin, models.RoleDispatcher); err != nil {
		return err
	}
	groupId, _ := c.ParamsInt("groupId")

	var data struct {
		Name        string `json:"name" validate:"required"`
		Description string `json:"description"`
		Color       string `json:"color"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	group, err := services.GetGroup(uint(groupId))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	group, err = services.EditGroup(group, data.Name, data.Description, data.Color)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(group)
}

func deleteGroup(c *fiber.Ctx) error {
	if err := exts.EnsureRole(c, models.RoleAdmin); err != nil {
		return err
	}
	groupId, _ := c.ParamsInt("groupId")

	group, err := services.GetGroup(uint(groupId))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	if err := services.DeleteGroup(group); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.SendStatus(fiber.StatusOK)
}
