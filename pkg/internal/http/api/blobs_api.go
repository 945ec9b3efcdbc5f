package api

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/caretransit/commlink/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
)

func readBlob(c *fiber.Ctx) error {
	name := c.Params("name")

	path, err := services.OpenBlob(name)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	return c.SendFile(path)
}

func uploadBlob(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "a file is required")
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

	return c.JSON(fiber.Map{
		"url": url,
	})
}
