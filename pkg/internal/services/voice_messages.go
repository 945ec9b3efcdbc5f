package services

import (
	"fmt"

	"github.com/caretransit/commlink/pkg/internal/database"
	"github.com/caretransit/commlink/pkg/internal/models"
	"github.com/caretransit/commlink/pkg/internal/transport"
	"github.com/rs/zerolog/log"
)

func GetVoiceMessage(id uint) (models.VoiceMessage, error) {
	var message models.VoiceMessage
	if err := database.C.
		Where(models.VoiceMessage{BaseModel: models.BaseModel{ID: id}}).
		Preload("Sender").
		First(&message).Error; err != nil {
		return message, err
	}

	return message, nil
}

// ListVoiceMessage returns messages visible to the user: broadcasts within
// their organization plus ones directed at them, newest first.
func ListVoiceMessage(user models.Account, take int, offset int) ([]models.VoiceMessage, error) {
	if take <= 0 || take > 100 {
		take = 20
	}

	var messages []models.VoiceMessage
	if err := database.C.
		Where("organization_id = ? AND (recipient_id IS NULL OR recipient_id = ? OR sender_id = ?)",
			user.OrganizationID, user.ID, user.ID).
		Limit(take).Offset(offset).
		Preload("Sender").
		Order("created_at DESC").
		Find(&messages).Error; err != nil {
		return messages, err
	}

	return messages, nil
}

// NewVoiceMessage records the uploaded blob's metadata and pushes an insert
// onto the change feed so online members pick it up without polling.
func NewVoiceMessage(sender models.Account, audioUrl string, durationSeconds int, recipientId *uint) (models.VoiceMessage, error) {
	message := models.VoiceMessage{
		SenderID:        sender.ID,
		Sender:          sender,
		SenderName:      sender.DisplayName(),
		SenderRole:      sender.Role,
		AudioURL:        audioUrl,
		DurationSeconds: durationSeconds,
		RecipientID:     recipientId,
		OrganizationID:  sender.OrganizationID,
	}

	if err := database.C.Save(&message).Error; err != nil {
		return message, err
	}

	Nh.PublishChange(TableVoiceMessages, transport.ChangeInsert, message)

	if recipientId != nil {
		var recipient models.Account
		if err := database.C.Where("id = ?", *recipientId).First(&recipient).Error; err == nil {
			if err := NotifyAccount(recipient, Notification{
				Topic: "commlink.voiceMessage",
				Title: "New voice message",
				Body:  fmt.Sprintf("%s sent you a voice message", sender.DisplayName()),
				Metadata: map[string]any{
					"message_id": message.ID,
					"user_id":    sender.ID,
					"user_name":  sender.Name,
				},
				Alert: true,
			}); err != nil {
				log.Warn().Err(err).Msg("An error occurred when trying notify recipient.")
			}
		}
	}

	return message, nil
}

// MarkVoiceMessageListened appends the listener exactly once; a repeat call
// for the same user leaves the set unchanged.
func MarkVoiceMessageListened(message models.VoiceMessage, user models.Account) (models.VoiceMessage, error) {
	if !message.AppendListener(user.ID) {
		return message, nil
	}

	if err := database.C.Save(&message).Error; err != nil {
		return message, err
	}

	Nh.PublishChange(TableVoiceMessages, transport.ChangeUpdate, message)

	return message, nil
}

// DeleteVoiceMessage removes a message; only its sender may do so.
func DeleteVoiceMessage(message models.VoiceMessage, user models.Account) error {
	if message.SenderID != user.ID {
		return fmt.Errorf("only the sender can delete a voice message")
	}

	if err := database.C.Delete(&message).Error; err != nil {
		return err
	}

	Nh.PublishChange(TableVoiceMessages, transport.ChangeDelete, message)

	return nil
}
