package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/weathergram/weathergram/internal/state"
	"github.com/weathergram/weathergram/internal/telegram"
	"github.com/weathergram/weathergram/internal/weather"
)

// maxForecastDays is the provider's forecast horizon.
const maxForecastDays = 10

func datePrompt(today time.Time) string {
	return fmt.Sprintf("Input the date from %s to %s:",
		today.Format("2006-01-02"),
		today.AddDate(0, 0, maxForecastDays).Format("2006-01-02"))
}

// handleAwaiting treats the message as the answer to the armed field. On a
// user mistake or a provider fault the field stays armed so the next message
// retries the same prompt; /cancel is the escape hatch.
func (d *Dispatcher) handleAwaiting(ctx context.Context, conv state.Conversation, field string, msg *telegram.Message) error {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID

	if text == cmdCancelInput {
		if err := d.states.Resolve(ctx, chatID, field, state.None); err != nil {
			return d.internalFault(ctx, chatID, "cancel input", err)
		}
		d.reply(ctx, chatID, msgInputCanceled)
		return nil
	}

	switch field {
	case state.FieldCity:
		return d.resolveCity(ctx, chatID, text)
	case state.FieldDateDifference:
		return d.resolveForecastDate(ctx, conv, chatID, text)
	case state.FieldQtyDays:
		return d.resolveDayCount(ctx, conv, chatID, text)
	}
	return fmt.Errorf("unreachable awaiting field %q", field)
}

// resolveCity verifies the name against the provider before persisting it,
// so a typo never becomes the stored city.
func (d *Dispatcher) resolveCity(ctx context.Context, chatID int64, text string) error {
	if err := d.provider.VerifyCity(ctx, text); err != nil {
		var apiErr *weather.APIError
		if errors.As(err, &apiErr) && apiErr.IsCityNotFound() {
			d.Hooks.userError()
			d.logger.Debug("city rejected", "chat_id", chatID, "city", text)
		} else {
			d.Hooks.runtimeError()
			d.logger.Error("city verification failed", "chat_id", chatID, "error", err)
		}
		d.reply(ctx, chatID, weather.UserMessage(err))
		return nil
	}

	if err := d.states.Resolve(ctx, chatID, state.FieldCity, text); err != nil {
		return d.internalFault(ctx, chatID, "resolve city", err)
	}
	d.reply(ctx, chatID, msgCityAdded)
	return nil
}

// resolveForecastDate parses a YYYY-MM-DD date within the forecast horizon
// and answers with that day's forecast. The provider is asked for enough
// days to cover the date plus a trailing day, so the requested date is
// always inside the returned window.
func (d *Dispatcher) resolveForecastDate(ctx context.Context, conv state.Conversation, chatID int64, text string) error {
	today := truncateToDay(d.Now())
	input, err := time.Parse("2006-01-02", text)
	if err != nil {
		d.Hooks.userError()
		d.logger.Debug("bad forecast date", "chat_id", chatID, "input", text)
		d.reply(ctx, chatID, msgBadDateFormat)
		return nil
	}

	diff := int(input.Sub(today).Hours() / 24)
	switch {
	case diff < 0:
		d.Hooks.userError()
		d.reply(ctx, chatID, fmt.Sprintf("The entered date must be no earlier than %s.", today.Format("2006-01-02")))
		return nil
	case diff > maxForecastDays:
		d.Hooks.userError()
		maxDate := today.AddDate(0, 0, maxForecastDays).Format("2006-01-02")
		d.reply(ctx, chatID, fmt.Sprintf("The entered date must be no later than %s.", maxDate))
		return nil
	}

	p, err := d.provider.Forecast(ctx, conv.City, diff+2)
	if err != nil {
		d.providerFault(ctx, chatID, "dated forecast", err)
		return nil
	}
	d.reply(ctx, chatID, weather.FormatForecastDay(p, diff))

	if err := d.states.Resolve(ctx, chatID, state.FieldDateDifference, state.None); err != nil {
		return d.internalFault(ctx, chatID, "clear date slot", err)
	}
	return nil
}

// resolveDayCount parses a day count in [1,10] and sends one message per
// upcoming day.
func (d *Dispatcher) resolveDayCount(ctx context.Context, conv state.Conversation, chatID int64, text string) error {
	qty, err := strconv.Atoi(text)
	if err != nil {
		d.Hooks.userError()
		d.logger.Debug("bad day count", "chat_id", chatID, "input", text)
		d.reply(ctx, chatID, fmt.Sprintf("Invalid input format please try again. %s", text))
		return nil
	}
	if qty < 1 || qty > maxForecastDays {
		d.Hooks.userError()
		d.reply(ctx, chatID, msgBadDayCount)
		return nil
	}

	// One extra day because today is skipped in the replies.
	p, err := d.provider.Forecast(ctx, conv.City, qty+1)
	if err != nil {
		d.providerFault(ctx, chatID, "multi-day forecast", err)
		return nil
	}
	for i := 1; i < len(p.Forecast.ForecastDay); i++ {
		d.reply(ctx, chatID, weather.FormatMultiDay(p, i))
	}

	if err := d.states.Resolve(ctx, chatID, state.FieldQtyDays, state.None); err != nil {
		return d.internalFault(ctx, chatID, "clear day count slot", err)
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
