package api

import (
	"github.com/caretransit/commlink/pkg/internal/http/exts"
	"github.com/gofiber/fiber/v2"
)

func getUserinfo(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	return c.JSON(user)
}
