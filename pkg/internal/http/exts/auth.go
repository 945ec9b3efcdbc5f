package exts

import (
	"strconv"
	"strings"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

// AuthMiddleware resolves the bearer token into an Account. The token can
// also ride the "tk" query parameter because browsers cannot set headers on
// websocket upgrades.
func AuthMiddleware(c *fiber.Ctx) error {
	var tokenStr string
	if authorization := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(authorization, "Bearer ") {
		tokenStr = strings.TrimPrefix(authorization, "Bearer ")
	} else if tk := c.Query("tk"); len(tk) > 0 {
		tokenStr = tk
	} else {
		return fiber.NewError(fiber.StatusUnauthorized, "missing credentials")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return []byte(viper.GetString("security.jwt_secret")), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS512"}))
	if err != nil || !token.Valid {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	userId, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "malformed subject claim")
	}

	user, err := services.GetAccount(uint(userId))
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "account not found")
	}

	c.Locals("user", user)

	return c.Next()
}

func GetUser(c *fiber.Ctx) models.Account {
	return c.Locals("user").(models.Account)
}

func EnsureRole(c *fiber.Ctx, roles ...models.AccountRole) error {
	user := GetUser(c)
	for _, role := range roles {
		if user.Role == role {
			return nil
		}
	}
	return fiber.NewError(fiber.StatusForbidden, "you have not enough permission to do this")
}
