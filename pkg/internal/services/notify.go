package services

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/caretransit/commlink/pkg/internal/models"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"
)

// Notification is handed to the platform's notification bridge, which turns
// it into an alert sound, a system notification and optional vibration on the
// target device.
type Notification struct {
	Topic    string         `json:"topic"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata"`
	Alert    bool           `json:"alert"`
	Vibrate  bool           `json:"vibrate"`
	Priority int            `json:"priority"`
}

// NotifyAccount fires a notification at one user. Fire-and-forget with a
// bounded timeout; a dead bridge degrades communication alerts, it never
// blocks them.
func NotifyAccount(user models.Account, notification Notification) error {
	endpoint := viper.GetString("notify.endpoint")
	if len(endpoint) == 0 {
		return nil
	}

	payload := map[string]any{
		"user_id":      user.ID,
		"notification": notification,
	}
	raw, _ := jsoniter.Marshal(payload)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := viper.GetString("notify.access_token"); len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify bridge responded with status %d", resp.StatusCode)
	}

	return nil
}
