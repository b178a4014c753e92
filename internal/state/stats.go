package state

import (
	"context"
	"fmt"

	"github.com/weathergram/weathergram/internal/sqlbuilder"
)

// trackedActions is the command vocabulary written to the statistic table.
// Free-text replies and unknown commands are not recorded.
var trackedActions = map[string]struct{}{
	"/start":                     {},
	"/help":                      {},
	"/change_city":               {},
	"/current_weather":           {},
	"/weather_forecast":          {},
	"/forecast_for_several_days": {},
	"/weather_statistic":         {},
	"/prediction":                {},
}

// ActionRow is one recorded user action.
type ActionRow struct {
	TS       int64  `json:"timestamp"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	ChatID   int64  `json:"chat_id"`
	Action   string `json:"action"`
}

// MonthCount is the number of actions one chat performed in one month.
type MonthCount struct {
	ChatID int64  `json:"chat_id"`
	Month  string `json:"month"`
	Count  int64  `json:"count"`
}

// ActionFilter narrows UserActions. Zero fields are not applied; FromTS and
// UntilTS are exclusive bounds.
type ActionFilter struct {
	ChatID  int64
	FromTS  int64
	UntilTS int64
	Limit   int
}

const defaultActionLimit = 1000

// RecordAction appends the action to the statistic log when it belongs to
// the tracked vocabulary, otherwise it is a no-op.
func (s *Store) RecordAction(ctx context.Context, ts, userID int64, userName string, chatID int64, action string) error {
	if _, ok := trackedActions[action]; !ok {
		return nil
	}
	query, args := sqlbuilder.New(tableStatistic).Insert([]sqlbuilder.Field{
		{Column: "ts", Value: ts},
		{Column: "user_id", Value: userID},
		{Column: "user_name", Value: userName},
		{Column: "chat_id", Value: chatID},
		{Column: "action", Value: action},
	}).Build()
	if _, err := s.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

// UserActions lists recorded actions newest first.
func (s *Store) UserActions(ctx context.Context, f ActionFilter) ([]ActionRow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultActionLimit
	}

	conds := make([]sqlbuilder.Cond, 0, 3)
	if f.ChatID != 0 {
		conds = append(conds, sqlbuilder.Cond{Column: "chat_id", Op: "=", Value: f.ChatID})
	}
	if f.FromTS != 0 {
		conds = append(conds, sqlbuilder.Cond{Column: "ts", Op: ">", Value: f.FromTS})
	}
	if f.UntilTS != 0 {
		conds = append(conds, sqlbuilder.Cond{Column: "ts", Op: "<", Value: f.UntilTS})
	}

	b := sqlbuilder.New(tableStatistic).
		Select("ts", "user_id", "user_name", "chat_id", "action")
	if len(conds) > 0 {
		b = b.Where(conds)
	}
	query, args := b.OrderBy("ts", "DESC").Limit(limit).Build()

	rows, err := s.q.Fetch(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	out := make([]ActionRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, ActionRow{
			TS:       asInt64(row["ts"]),
			UserID:   asInt64(row["user_id"]),
			UserName: asString(row["user_name"]),
			ChatID:   asInt64(row["chat_id"]),
			Action:   asString(row["action"]),
		})
	}
	return out, nil
}

// ActionsCount buckets recorded actions per chat per calendar month,
// optionally restricted to one chat. The month expression is the one
// dialect-specific query in the store.
func (s *Store) ActionsCount(ctx context.Context, chatID int64) ([]MonthCount, error) {
	monthExpr := "to_char(DATE_TRUNC('month', to_timestamp(ts)), 'YYYY-MM')"
	if s.dialect == "sqlite" {
		monthExpr = "strftime('%Y-%m', ts, 'unixepoch')"
	}

	b := sqlbuilder.New(tableStatistic).
		Select("chat_id", monthExpr+" AS month", "COUNT(action) AS actions")
	if chatID != 0 {
		b = b.Where([]sqlbuilder.Cond{{Column: "chat_id", Op: "=", Value: chatID}})
	}
	query, args := b.
		GroupBy("chat_id", monthExpr).
		OrderBy("chat_id", "ASC").
		Build()

	rows, err := s.q.Fetch(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count actions: %w", err)
	}

	out := make([]MonthCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, MonthCount{
			ChatID: asInt64(row["chat_id"]),
			Month:  asString(row["month"]),
			Count:  asInt64(row["actions"]),
		})
	}
	return out, nil
}
