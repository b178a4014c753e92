// Package dispatch is the conversation state machine. An admitted message
// either resolves an armed input slot or is routed as a command; both paths
// reply over the Sender and record tracked actions.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/weathergram/weathergram/internal/state"
	"github.com/weathergram/weathergram/internal/telegram"
	"github.com/weathergram/weathergram/internal/weather"
)

// Conversations is the store surface the dispatcher needs.
type Conversations interface {
	GetOrCreate(ctx context.Context, chatID int64) (state.Conversation, error)
	Arm(ctx context.Context, chatID int64, field string) error
	Resolve(ctx context.Context, chatID int64, field, value string) error
	TouchOnline(ctx context.Context, chatID, ts int64) error
	RecordAction(ctx context.Context, ts, userID int64, userName string, chatID int64, action string) error
}

// Provider is the weather client surface the dispatcher needs.
type Provider interface {
	Current(ctx context.Context, city string) (*weather.Payload, error)
	Forecast(ctx context.Context, city string, days int) (*weather.Payload, error)
	History(ctx context.Context, city, date string) (*weather.Payload, error)
	VerifyCity(ctx context.Context, city string) error
	AverageHistoryTemp(ctx context.Context, city string, days int, today time.Time) (int, error)
	AverageForecastTemp(ctx context.Context, city string, days int) (int, error)
}

// Hooks are optional metric callbacks.
type Hooks struct {
	UnknownCommand func()
	UserError      func()
	RuntimeError   func()
}

func (h Hooks) unknownCommand() {
	if h.UnknownCommand != nil {
		h.UnknownCommand()
	}
}

func (h Hooks) userError() {
	if h.UserError != nil {
		h.UserError()
	}
}

func (h Hooks) runtimeError() {
	if h.RuntimeError != nil {
		h.RuntimeError()
	}
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// Dispatcher routes one chat message at a time per chat. Messages from
// different chats proceed concurrently; messages from the same chat are
// serialized so the read-arm-resolve cycle cannot interleave.
type Dispatcher struct {
	states   Conversations
	provider Provider
	sender   telegram.Sender
	logger   *slog.Logger

	// Now is the clock, overridable in tests.
	Now   func() time.Time
	Hooks Hooks

	mu    sync.Mutex
	locks map[int64]*chatLock
}

func New(states Conversations, provider Provider, sender telegram.Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		states:   states,
		provider: provider,
		sender:   sender,
		logger:   logger,
		Now:      time.Now,
		locks:    make(map[int64]*chatLock),
	}
}

// HandleMessage processes one admitted update. Errors returned here are
// internal faults; user mistakes are answered in-band and return nil.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *telegram.Message) error {
	chatID := msg.Chat.ID
	unlock := d.lockChat(chatID)
	defer unlock()

	conv, err := d.states.GetOrCreate(ctx, chatID)
	if err != nil {
		d.Hooks.runtimeError()
		d.reply(ctx, chatID, msgInternalError)
		return fmt.Errorf("load conversation for chat %d: %w", chatID, err)
	}

	if err := d.states.TouchOnline(ctx, chatID, d.Now().Unix()); err != nil {
		// Presence is best effort, the message still gets handled.
		d.logger.Warn("touch online failed", "chat_id", chatID, "error", err)
	}

	if field, ok := conv.Awaiting(); ok {
		return d.handleAwaiting(ctx, conv, field, msg)
	}
	return d.handleCommand(ctx, conv, msg)
}

func (d *Dispatcher) lockChat(chatID int64) func() {
	d.mu.Lock()
	l, ok := d.locks[chatID]
	if !ok {
		l = &chatLock{}
		d.locks[chatID] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, chatID)
		}
		d.mu.Unlock()
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if err := d.sender.Send(ctx, chatID, text); err != nil {
		d.Hooks.runtimeError()
		d.logger.Error("send reply failed", "chat_id", chatID, "error", err)
	}
}

func (d *Dispatcher) record(ctx context.Context, msg *telegram.Message, action string) {
	err := d.states.RecordAction(ctx, d.Now().Unix(), msg.From.ID, msg.From.DisplayName(), msg.Chat.ID, action)
	if err != nil {
		d.Hooks.runtimeError()
		d.logger.Error("record action failed", "chat_id", msg.Chat.ID, "action", action, "error", err)
	}
}
