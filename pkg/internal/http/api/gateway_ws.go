package api

import (
	"strconv"

	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/services"
	"github.com/caretransit/commlink/pkg/internal/transport"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// gateway bridges one websocket client onto the channel transport. A client
// attaches to a group channel (?group=<id>, membership required), to a
// per-call signaling channel (?call=<uuid>, participants only), or with no
// parameters to a personal stream of row changes addressed to them. Every exit
// path runs the same teardown: unsubscribe, presence clear, leave broadcast.
func gateway(c *websocket.Conn) {
	user := c.Locals("user").(models.Account)

	if groupId := c.Query("group"); len(groupId) > 0 {
		id, err := strconv.ParseUint(groupId, 10, 64)
		if err != nil {
			_ = c.WriteMessage(websocket.TextMessage, errorEnvelope(user.ID, "malformed group id"))
			return
		}
		groupGateway(c, user, uint(id))
		return
	}

	if callId := c.Query("call"); len(callId) > 0 {
		callGateway(c, user, callId)
		return
	}

	personalGateway(c, user)
}

func groupGateway(c *websocket.Conn, user models.Account, groupId uint) {
	group, _, err := services.GetGroupIdentity(groupId, user.ID)
	if err != nil {
		_ = c.WriteMessage(websocket.TextMessage, errorEnvelope(user.ID, "group principal not found"))
		return
	}

	// The roster comes up before the join broadcast so it observes this
	// session's own arrival.
	services.AcquireGroupRoster(group)
	defer services.ReleaseGroupRoster(group)

	if _, err := services.JoinGroup(user, group); err != nil {
		_ = c.WriteMessage(websocket.TextMessage, errorEnvelope(user.ID, "unable to join group"))
		return
	}

	sessionId := uuid.NewString()
	services.TrackActiveUser(user.ID, group.ID, sessionId)

	sub := services.Nh.Open(group.ChannelID())

	defer func() {
		sub.Close()
		services.UntrackSession(sessionId)
		services.LeaveGroup(user, group)
	}()

	relay(c, user, sub, func(envelope models.Envelope) {
		services.Nh.Broadcast(group.ChannelID(), envelope)
	})
}

func callGateway(c *websocket.Conn, user models.Account, callId string) {
	call, err := services.GetCallRecord(callId)
	if err != nil {
		_ = c.WriteMessage(websocket.TextMessage, errorEnvelope(user.ID, "call not found"))
		return
	}
	if call.CallerID != user.ID && call.CalleeID != user.ID {
		_ = c.WriteMessage(websocket.TextMessage, errorEnvelope(user.ID, "you are not a participant of this call"))
		return
	}

	sub := services.Nh.Open(call.ChannelID())
	defer sub.Close()

	relay(c, user, sub, func(envelope models.Envelope) {
		services.Nh.Broadcast(call.ChannelID(), envelope)
	})
}

// personalGateway streams row changes addressed to the user: their call
// records and the voice messages visible to them. This is how a callee's
// device starts ringing and how online members pick up new recordings without
// polling.
func personalGateway(c *websocket.Conn, user models.Account) {
	calls := services.Nh.Watch(services.TableCallRecords, func(change transport.Change) bool {
		call, ok := change.Payload.(models.CallRecord)
		if !ok {
			return false
		}
		return call.CalleeID == user.ID || call.CallerID == user.ID
	})
	messages := services.Nh.Watch(services.TableVoiceMessages, func(change transport.Change) bool {
		message, ok := change.Payload.(models.VoiceMessage)
		if !ok {
			return false
		}
		if message.OrganizationID != user.OrganizationID {
			return false
		}
		return message.RecipientID == nil || *message.RecipientID == user.ID || message.SenderID == user.ID
	})
	defer calls.Close()
	defer messages.Close()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			var change transport.Change
			var ok bool
			select {
			case change, ok = <-calls.C():
			case change, ok = <-messages.C():
			}
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, changeFrame(change)); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}

	calls.Close()
	messages.Close()
	<-writeDone
}

func changeFrame(change transport.Change) []byte {
	raw, _ := jsoniter.Marshal(map[string]any{
		"event":   "change",
		"table":   change.Table,
		"op":      change.Op,
		"payload": change.Payload,
	})
	return raw
}

// wsConn is the slice of the websocket connection the relay needs; the
// gateway passes the real connection, tests pass a fake.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
}

// relay pumps the subscription to the socket and client frames back onto the
// channel. The sender id on inbound envelopes is always stamped from the
// authenticated user, never trusted from the wire. The connection allows a
// single writer, so every outbound frame, error envelopes included, goes
// through the one pump goroutine.
func relay(c wsConn, user models.Account, sub *transport.Subscription, publish func(models.Envelope)) {
	faults := make(chan []byte, 8)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case envelope, ok := <-sub.C():
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, envelope.Marshal()); err != nil {
					return
				}
			case frame := <-faults:
				if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	}()

	// Fault frames are best-effort: if the pump is saturated or gone the
	// report is dropped rather than blocking the read loop.
	reportFault := func(message string) {
		select {
		case faults <- errorEnvelope(user.ID, message):
		default:
		}
	}

	for {
		_, packet, err := c.ReadMessage()
		if err != nil {
			break
		}

		var envelope models.Envelope
		if err := jsoniter.Unmarshal(packet, &envelope); err != nil {
			reportFault("unable to unmarshal your envelope, requires json request")
			continue
		}

		envelope.SenderID = user.ID
		if _, err := envelope.Decode(); err != nil {
			reportFault(err.Error())
			continue
		}

		publish(envelope)
	}

	sub.Close()
	<-writeDone
}

func errorEnvelope(userId uint, message string) []byte {
	raw, _ := jsoniter.Marshal(map[string]any{
		"event":     "error",
		"sender_id": userId,
		"payload":   map[string]any{"message": message},
	})
	return raw
}
