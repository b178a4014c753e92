// Package state persists per-chat conversation state, user presence, and
// the action statistics log. One row per chat holds the remembered city and
// two one-shot input slots; a slot set to the awaiting sentinel means the
// next free-text message from that chat is the slot's value.
package state

import (
	"context"
	"fmt"
	"strconv"

	"github.com/weathergram/weathergram/internal/sqlbuilder"
)

// Column values shared with the dispatcher.
const (
	// DefaultCity seeds new conversations.
	DefaultCity = "Moskva"

	// AwaitingInput marks a field whose value the next message supplies.
	AwaitingInput = "waiting_value"

	// None marks an empty one-shot slot.
	None = "None"
)

// Field names of the armable user_state columns.
const (
	FieldCity           = "city"
	FieldDateDifference = "date_difference"
	FieldQtyDays        = "qty_days"
)

const (
	tableUserState   = "user_state"
	tableStatistic   = "statistic"
	tableUsersOnline = "users_online"
)

// Querier is the executor surface the store needs. *pgexec.Executor
// satisfies it; tests substitute fakes.
type Querier interface {
	Fetch(ctx context.Context, query string, args ...any) ([]map[string]any, error)
	FetchRow(ctx context.Context, query string, args ...any) (map[string]any, error)
	FetchVal(ctx context.Context, query string, args ...any) (any, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Conversation is one chat's persisted state.
type Conversation struct {
	ChatID         int64
	City           string
	DateDifference string
	QtyDays        string
}

// Awaiting reports which field, if any, is armed for the next message.
// Checking order is fixed: city wins over date, date over day count.
func (c Conversation) Awaiting() (string, bool) {
	switch {
	case c.City == AwaitingInput:
		return FieldCity, true
	case c.DateDifference == AwaitingInput:
		return FieldDateDifference, true
	case c.QtyDays == AwaitingInput:
		return FieldQtyDays, true
	}
	return "", false
}

// Store runs conversation-state operations against one backend.
type Store struct {
	q       Querier
	dialect string
}

func NewStore(q Querier, dialect string) *Store {
	return &Store{q: q, dialect: dialect}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS user_state (
  chat_id         BIGINT PRIMARY KEY,
  city            TEXT NOT NULL,
  date_difference TEXT NOT NULL,
  qty_days        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS statistic (
  id        BIGSERIAL PRIMARY KEY,
  ts        BIGINT NOT NULL,
  user_id   BIGINT NOT NULL,
  user_name TEXT NOT NULL,
  chat_id   BIGINT NOT NULL,
  action    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statistic_chat_ts
  ON statistic(chat_id, ts DESC);

CREATE TABLE IF NOT EXISTS users_online (
  chat_id   BIGINT NOT NULL UNIQUE,
  timestamp BIGINT NOT NULL
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_state (
  chat_id         INTEGER PRIMARY KEY,
  city            TEXT NOT NULL,
  date_difference TEXT NOT NULL,
  qty_days        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS statistic (
  id        INTEGER PRIMARY KEY AUTOINCREMENT,
  ts        INTEGER NOT NULL,
  user_id   INTEGER NOT NULL,
  user_name TEXT NOT NULL,
  chat_id   INTEGER NOT NULL,
  action    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statistic_chat_ts
  ON statistic(chat_id, ts DESC);

CREATE TABLE IF NOT EXISTS users_online (
  chat_id   INTEGER NOT NULL UNIQUE,
  timestamp INTEGER NOT NULL
);
`

// Init creates the schema if missing.
func (s *Store) Init(ctx context.Context) error {
	schema := postgresSchema
	if s.dialect == "sqlite" {
		schema = sqliteSchema
	}
	if _, err := s.q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// GetOrCreate loads the chat's conversation, seeding a fresh row with the
// default city and empty slots on first contact. The insert is a
// do-nothing-on-conflict upsert so concurrent first messages are safe.
func (s *Store) GetOrCreate(ctx context.Context, chatID int64) (Conversation, error) {
	insert, args := sqlbuilder.New(tableUserState).Insert([]sqlbuilder.Field{
		{Column: "chat_id", Value: chatID},
		{Column: FieldCity, Value: DefaultCity},
		{Column: FieldDateDifference, Value: None},
		{Column: FieldQtyDays, Value: None},
	}).OnConflict("chat_id").Build()
	if _, err := s.q.Exec(ctx, insert, args...); err != nil {
		return Conversation{}, fmt.Errorf("seed conversation: %w", err)
	}

	sel, args := sqlbuilder.New(tableUserState).
		Select(FieldCity, FieldDateDifference, FieldQtyDays).
		Where([]sqlbuilder.Cond{{Column: "chat_id", Op: "=", Value: chatID}}).
		Build()
	row, err := s.q.FetchRow(ctx, sel, args...)
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return Conversation{
		ChatID:         chatID,
		City:           asString(row[FieldCity]),
		DateDifference: asString(row[FieldDateDifference]),
		QtyDays:        asString(row[FieldQtyDays]),
	}, nil
}

// Arm marks the field as awaiting the chat's next message.
func (s *Store) Arm(ctx context.Context, chatID int64, field string) error {
	return s.setField(ctx, chatID, field, AwaitingInput)
}

// Resolve writes a concrete value into an armed field. Pass None to clear
// the slot.
func (s *Store) Resolve(ctx context.Context, chatID int64, field, value string) error {
	return s.setField(ctx, chatID, field, value)
}

func (s *Store) setField(ctx context.Context, chatID int64, field, value string) error {
	switch field {
	case FieldCity, FieldDateDifference, FieldQtyDays:
	default:
		return fmt.Errorf("unknown conversation field %q", field)
	}
	query, args := sqlbuilder.New(tableUserState).
		Update([]sqlbuilder.Field{{Column: field, Value: value}}).
		Where([]sqlbuilder.Cond{{Column: "chat_id", Op: "=", Value: chatID}}).
		Build()
	if _, err := s.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("set %s: %w", field, err)
	}
	return nil
}

// TouchOnline records the chat as seen at ts, updating the existing row if
// the chat is already present.
func (s *Store) TouchOnline(ctx context.Context, chatID, ts int64) error {
	query, args := sqlbuilder.New(tableUsersOnline).Insert([]sqlbuilder.Field{
		{Column: "chat_id", Value: chatID},
		{Column: "timestamp", Value: ts},
	}).OnConflict("chat_id", "timestamp").Build()
	if _, err := s.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("touch online: %w", err)
	}
	return nil
}

// PruneOnline drops presence rows last seen before cutoff and reports how
// many were removed.
func (s *Store) PruneOnline(ctx context.Context, cutoff int64) (int64, error) {
	query, args := sqlbuilder.New(tableUsersOnline).Delete().
		Where([]sqlbuilder.Cond{{Column: "timestamp", Op: "<", Value: cutoff}}).
		Build()
	n, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune online: %w", err)
	}
	return n, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	default:
		return 0
	}
}
