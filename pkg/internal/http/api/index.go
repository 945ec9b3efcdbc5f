package api

import (
	"github.com/caretransit/commlink/pkg/internal/http/exts"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

func MapAPIs(app *fiber.App, baseURL string) {
	api := app.Group(baseURL).Name("API")
	{
		api.Get("/users/me", exts.AuthMiddleware, getUserinfo)

		api.Get("/blobs/:name", readBlob)
		api.Post("/blobs", exts.AuthMiddleware, uploadBlob)

		groups := api.Group("/groups").Use(exts.AuthMiddleware).Name("Groups API")
		{
			groups.Get("/", listGroup)
			groups.Get("/:groupId", getGroup)
			groups.Post("/", createGroup)
			groups.Put("/:groupId", editGroup)
			groups.Delete("/:groupId", deleteGroup)

			groups.Get("/:groupId/members", listGroupMembers)
			groups.Post("/:groupId/members", addGroupMember)
			groups.Delete("/:groupId/members/:memberId", removeGroupMember)
			groups.Post("/:groupId/members/me", joinGroup)
			groups.Delete("/:groupId/members/me", leaveGroup)
		}

		calls := api.Group("/calls").Use(exts.AuthMiddleware).Name("Calls API")
		{
			calls.Get("/history", listCallHistory)
			calls.Get("/ongoing", getOngoingCall)
			calls.Post("/", startCall)
			calls.Post("/:callId/answer", answerCall)
			calls.Post("/:callId/decline", declineCall)
			calls.Post("/:callId/end", endCall)
		}

		voice := api.Group("/voice-messages").Use(exts.AuthMiddleware).Name("Voice Messages API")
		{
			voice.Get("/", listVoiceMessage)
			voice.Post("/", uploadVoiceMessage)
			voice.Put("/:messageId/listened", markVoiceMessageListened)
			voice.Delete("/:messageId", deleteVoiceMessage)
		}

		api.Get("/gateway", exts.AuthMiddleware, websocket.New(gateway))
	}
}
