package api

import (
	"errors"
	"sync"

	"github.com/caretransit/commlink/pkg/internal/http/exts"
	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/services"
	"github.com/caretransit/commlink/pkg/internal/signaling"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var callLocks sync.Map

// callRecorder lands signaling outcomes in the audit row. Failed writes are
// logged and swallowed; the live call must never block on them.
type callRecorder struct{}

func (callRecorder) MarkAnswered(callId string) {
	call, err := services.GetCallRecord(callId)
	if err != nil {
		log.Warn().Err(err).Str("call", callId).Msg("An error occurred when loading call record...")
		return
	}
	if _, err := services.MarkCallAnswered(call); err != nil && !errors.Is(err, services.ErrCallTerminal) {
		log.Warn().Err(err).Str("call", callId).Msg("An error occurred when marking call answered...")
	}
}

func (callRecorder) MarkEnded(callId string, reason string) {
	call, err := services.GetCallRecord(callId)
	if err != nil {
		log.Warn().Err(err).Str("call", callId).Msg("An error occurred when loading call record...")
		return
	}
	if _, err := services.MarkCallEnded(call, reason); err != nil && !errors.Is(err, services.ErrCallTerminal) {
		log.Warn().Err(err).Str("call", callId).Msg("An error occurred when marking call ended...")
	}
}

func listCallHistory(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	take := c.QueryInt("take", 20)

	calls, err := services.ListCallHistory(user, take)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(lo.Map(calls, func(call models.CallRecord, index int) fiber.Map {
		return fiber.Map{
			"call":             call,
			"duration_seconds": call.DurationSeconds(),
			"duration_text":    call.FormatDuration(),
		}
	}))
}

func getOngoingCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	call, err := services.GetOngoingCallForUser(user)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	return c.JSON(call)
}

func startCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)

	var data struct {
		CalleeID uint `json:"callee_id" validate:"required"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	if _, ok := callLocks.Load(user.ID); ok {
		return fiber.NewError(fiber.StatusLocked, "there is already a call in creation progress")
	} else {
		callLocks.Store(user.ID, true)
	}
	defer callLocks.Delete(user.ID)

	call, err := services.NewCallRecord(user, data.CalleeID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.JSON(fiber.Map{
		"call":    call,
		"channel": call.ChannelID(),
	})
}

func answerCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	callId := c.Params("callId")

	call, err := services.GetCallRecord(callId)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if call.CalleeID != user.ID {
		return fiber.NewError(fiber.StatusForbidden, "only the callee can answer a call")
	}

	call, err = services.MarkCallAnswered(call)
	if err != nil {
		if errors.Is(err, services.ErrCallTerminal) {
			return fiber.NewError(fiber.StatusGone, "this call is already over")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"call":    call,
		"channel": call.ChannelID(),
	})
}

func declineCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	callId := c.Params("callId")

	call, err := services.GetCallRecord(callId)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if call.CalleeID != user.ID {
		return fiber.NewError(fiber.StatusForbidden, "only the callee can decline a call")
	}
	if call.IsTerminal() {
		return fiber.NewError(fiber.StatusGone, "this call is already over")
	}

	signaling.Decline(services.Nh, call.CallID, user.ID, callRecorder{})

	return c.SendStatus(fiber.StatusOK)
}

func endCall(c *fiber.Ctx) error {
	user := exts.GetUser(c)
	callId := c.Params("callId")

	var data struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&data)

	call, err := services.GetCallRecord(callId)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if call.CallerID != user.ID && call.CalleeID != user.ID {
		return fiber.NewError(fiber.StatusForbidden, "only call participants can end a call")
	}
	if call.IsTerminal() {
		return fiber.NewError(fiber.StatusGone, "this call is already over")
	}

	reason := data.Reason
	if len(reason) == 0 {
		reason = models.CallEndReasonHangup
	}

	services.Nh.Broadcast(call.ChannelID(), models.NewEnvelope(user.ID, models.SignalPayload{
		CallID: call.CallID,
		Type:   models.SignalEndCall,
		Reason: reason,
	}))

	call, err = services.MarkCallEnded(call, reason)
	if err != nil && !errors.Is(err, services.ErrCallTerminal) {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(call)
}
