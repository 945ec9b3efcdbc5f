package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/caretransit/commlink/pkg/internal/database"
	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// ErrCallTerminal rejects status writes against a call that already reached
// ended, declined or missed.
var ErrCallTerminal = errors.New("call record is already in a terminal status")

func GetCallRecord(callId string) (models.CallRecord, error) {
	var call models.CallRecord
	if err := database.C.
		Where(models.CallRecord{CallID: callId}).
		Preload("Caller").
		Preload("Callee").
		First(&call).Error; err != nil {
		return call, err
	}

	return call, nil
}

func GetOngoingCallForUser(user models.Account) (models.CallRecord, error) {
	var call models.CallRecord
	if err := database.C.
		Where("(caller_id = ? OR callee_id = ?) AND status IN ?", user.ID, user.ID,
			[]models.CallStatus{models.CallStatusRinging, models.CallStatusActive}).
		Preload("Caller").
		Preload("Callee").
		Order("started_at DESC").
		First(&call).Error; err != nil {
		return call, err
	}

	return call, nil
}

// ListCallHistory returns the caller's recent calls, both placed and received,
// newest first, bounded.
func ListCallHistory(user models.Account, take int) ([]models.CallRecord, error) {
	if take <= 0 || take > 100 {
		take = 20
	}

	var calls []models.CallRecord
	if err := database.C.
		Where("caller_id = ? OR callee_id = ?", user.ID, user.ID).
		Limit(take).
		Preload("Caller").
		Preload("Callee").
		Order("started_at DESC").
		Find(&calls).Error; err != nil {
		return calls, err
	}

	return calls, nil
}

// NewCallRecord creates the ringing row, mirrors the insert onto the change
// feed so the callee's watch fires, and rings their device via the
// notification bridge.
func NewCallRecord(caller models.Account, calleeId uint) (models.CallRecord, error) {
	if caller.ID == calleeId {
		return models.CallRecord{}, fmt.Errorf("unable to call yourself")
	}

	var callee models.Account
	if err := database.C.Where("id = ?", calleeId).First(&callee).Error; err != nil {
		return models.CallRecord{}, fmt.Errorf("callee not found: %v", err)
	}

	call := models.CallRecord{
		CallID:    uuid.NewString(),
		CallerID:  caller.ID,
		CalleeID:  callee.ID,
		Caller:    caller,
		Callee:    callee,
		Status:    models.CallStatusRinging,
		StartedAt: time.Now(),
	}

	if err := database.C.Save(&call).Error; err != nil {
		return call, err
	}

	Nh.PublishChange(TableCallRecords, transport.ChangeInsert, call)

	if err := NotifyAccount(callee, Notification{
		Topic: "commlink.callStart",
		Title: "Incoming call",
		Body:  fmt.Sprintf("%s is calling you", caller.DisplayName()),
		Metadata: map[string]any{
			"call_id":   call.CallID,
			"user_id":   caller.ID,
			"user_name": caller.Name,
			"user_nick": caller.Nick,
			"avatar":    caller.Avatar,
		},
		Alert:   true,
		Vibrate: true,
	}); err != nil {
		log.Warn().Err(err).Msg("An error occurred when trying notify callee.")
	}

	return call, nil
}

// MarkCallAnswered moves ringing -> active and stamps answered_at.
func MarkCallAnswered(call models.CallRecord) (models.CallRecord, error) {
	if call.IsTerminal() {
		return call, ErrCallTerminal
	}

	call.Status = models.CallStatusActive
	call.AnsweredAt = lo.ToPtr(time.Now())

	if err := database.C.Save(&call).Error; err != nil {
		return call, err
	}

	Nh.PublishChange(TableCallRecords, transport.ChangeUpdate, call)

	return call, nil
}

// MarkCallEnded finishes the record with a reason. The terminal status is
// derived from the reason: declined and missed keep their own status,
// everything else becomes ended. Calling it on an already-terminal record is
// a no-op returning ErrCallTerminal, never a second transition.
func MarkCallEnded(call models.CallRecord, reason string) (models.CallRecord, error) {
	if call.IsTerminal() {
		return call, ErrCallTerminal
	}

	switch reason {
	case models.CallEndReasonDeclined:
		call.Status = models.CallStatusDeclined
	case models.CallEndReasonMissed:
		call.Status = models.CallStatusMissed
	default:
		call.Status = models.CallStatusEnded
	}
	call.EndReason = reason
	call.EndedAt = lo.ToPtr(time.Now())

	if err := database.C.Save(&call).Error; err != nil {
		return call, err
	}

	Nh.PublishChange(TableCallRecords, transport.ChangeUpdate, call)

	return call, nil
}

// SweepUnansweredCalls marks stale ringing calls as missed so a dead client
// cannot leave records ringing forever.
func SweepUnansweredCalls(timeout time.Duration) {
	deadline := time.Now().Add(-timeout)

	var calls []models.CallRecord
	if err := database.C.
		Where("status = ? AND started_at < ?", models.CallStatusRinging, deadline).
		Find(&calls).Error; err != nil {
		log.Error().Err(err).Msg("An error occurred when sweeping unanswered calls...")
		return
	}

	for _, call := range calls {
		if _, err := MarkCallEnded(call, models.CallEndReasonMissed); err != nil {
			log.Warn().Err(err).Str("call", call.CallID).Msg("An error occurred when marking call missed...")
		}
	}
}
