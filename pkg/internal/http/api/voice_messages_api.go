package api

import (
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caretransit/commlink/pkg/internal/http/exts"
	"github.com/caretransit/commlink/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

func listVoiceMessage(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	take := c.QueryInt("take", 20)
	offset := c.QueryInt("offset", 0)

	messages, err := services.ListVoiceMessage(user, take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(messages)
}

func uploadVoiceMessage(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	header, err := c.FormFile("audio")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "an audio file is required")
	}

	file, err := header.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	extension := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	url, err := services.UploadBlob(data, extension)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	duration, _ := strconv.Atoi(c.FormValue("duration_seconds"))

	var recipientId *uint
	if v, err := strconv.ParseUint(c.FormValue("recipient_id"), 10, 64); err == nil && v > 0 {
		recipientId = lo.ToPtr(uint(v))
	}

	message, err := services.NewVoiceMessage(user, url, duration, recipientId)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(message)
}

func markVoiceMessageListened(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	messageId, _ := c.ParamsInt("messageId")

	message, err := services.GetVoiceMessage(uint(messageId))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	message, err = services.MarkVoiceMessageListened(message, user)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(message)
}

func deleteVoiceMessage(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	messageId, _ := c.ParamsInt("messageId")

	message, err := services.GetVoiceMessage(uint(messageId))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	if err := services.DeleteVoiceMessage(message, user); err != nil {
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	}

	return c.SendStatus(fiber.StatusOK)
}
