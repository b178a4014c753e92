package telegram

import (
	"testing"
)

func TestDecodeUpdate(t *testing.T) {
	body := []byte(`{
		"update_id": 10000,
		"message": {
			"message_id": 1365,
			"from": {"id": 1111, "is_bot": false, "first_name": "Test", "username": "tester"},
			"chat": {"id": 1111, "type": "private", "first_name": "Test"},
			"date": 1441645532,
			"text": "/current_weather",
			"unknown_future_field": {"x": 1}
		}
	}`)

	upd, err := DecodeUpdate(body)
	if err != nil {
		t.Fatalf("DecodeUpdate: %v", err)
	}
	if upd.Message.Chat.ID != 1111 {
		t.Errorf("chat id = %d, want 1111", upd.Message.Chat.ID)
	}
	if upd.Message.Text != "/current_weather" {
		t.Errorf("text = %q", upd.Message.Text)
	}
}

func TestDecodeUpdateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"update_id": `},
		{"no message", `{"update_id": 1}`},
		{"no chat", `{"update_id": 1, "message": {"message_id": 2, "date": 3, "from": {"id": 4}}}`},
		{"no from", `{"update_id": 1, "message": {"message_id": 2, "date": 3, "chat": {"id": 4}}}`},
		{"zero chat id", `{"update_id": 1, "message": {"message_id": 2, "date": 3, "from": {"id": 4}, "chat": {"id": 0}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeUpdate([]byte(tt.body)); err == nil {
				t.Error("decode accepted invalid update")
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		user *User
		want string
	}{
		{"nil", nil, ""},
		{"username wins", &User{ID: 1, Username: "alice", FirstName: "A"}, "alice"},
		{"full name", &User{ID: 1, FirstName: "Ada", LastName: "L"}, "Ada L"},
		{"first only", &User{ID: 1, FirstName: "Ada"}, "Ada"},
		{"id fallback", &User{ID: 42}, "id42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.DisplayName(); got != tt.want {
				t.Errorf("DisplayName = %q, want %q", got, tt.want)
			}
		})
	}
}
