// Package telegram holds the inbound update envelope and the outbound bot
// client. Inbound webhook payloads are decoded and validated here; delivery
// of replies goes through the Bot API client.
package telegram

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Update is the webhook envelope. Only message updates are accepted; edits,
// callbacks, and channel posts are rejected by validation.
type Update struct {
	UpdateID int64    `json:"update_id" validate:"required"`
	Message  *Message `json:"message" validate:"required"`
}

// Message is the subset of the Telegram message object the assistant reads.
type Message struct {
	MessageID int64     `json:"message_id" validate:"required"`
	From      *User     `json:"from" validate:"required"`
	Chat      *Chat     `json:"chat" validate:"required"`
	Date      int64     `json:"date" validate:"required"`
	Text      string    `json:"text"`
	Location  *Location `json:"location,omitempty"`
}

type User struct {
	ID           int64  `json:"id" validate:"required"`
	IsBot        bool   `json:"is_bot"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

type Chat struct {
	ID        int64  `json:"id" validate:"required"`
	Type      string `json:"type"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DisplayName is the best-effort human name for the statistics log.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return fmt.Sprintf("id%d", u.ID)
}

var validate = validator.New()

// DecodeUpdate parses and validates a webhook body. Extra fields from newer
// Bot API revisions are tolerated; missing required envelope fields are not.
func DecodeUpdate(body []byte) (*Update, error) {
	var upd Update
	if err := json.Unmarshal(body, &upd); err != nil {
		return nil, fmt.Errorf("malformed update: %w", err)
	}
	if err := validate.Struct(&upd); err != nil {
		return nil, fmt.Errorf("invalid update: %w", err)
	}
	return &upd, nil
}
