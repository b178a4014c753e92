package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/weathergram/weathergram/internal/state"
	"github.com/weathergram/weathergram/internal/telegram"
	"github.com/weathergram/weathergram/internal/weather"
)

// Command vocabulary.
const (
	cmdStart       = "/start"
	cmdHelp        = "/help"
	cmdChangeCity  = "/change_city"
	cmdCurrent     = "/current_weather"
	cmdForecast    = "/weather_forecast"
	cmdSeveralDays = "/forecast_for_several_days"
	cmdStatistic   = "/weather_statistic"
	cmdPrediction  = "/prediction"
	cmdCancelInput = "/cancel"
)

const (
	historyDays    = 7
	predictionDays = 3
)

const (
	msgInternalError  = "An error occurred. Please try again later."
	msgUnknownCommand = "Unknown command. Please try again\n/help"
	msgEnterNewCity   = "Please enter the new city"
	msgCityAdded      = "City added successfully. Select the next command."
	msgInputCanceled  = "Canceled. Select the next command."
	msgBadDateFormat  = "Date must be in the format YYYY-MM-DD."
	msgBadDayCount    = "Number of days must be from 1 to 10"
	msgSeveralDays    = "In this section, you can get the weather forecast for several days.\nEnter the number of days (from 1 to 10):"
)

var helpLines = []struct {
	command     string
	description string
}{
	{cmdHelp, "help"},
	{cmdChangeCity, "change city"},
	{cmdCurrent, "current weather"},
	{cmdForecast, "weather forecast for a specific date"},
	{cmdSeveralDays, "weather forecast for multiple days"},
	{cmdStatistic, "weather statistics for the last 7 days"},
	{cmdPrediction, "prediction for 3 days"},
}

func helpText() string {
	lines := make([]string, 0, len(helpLines))
	for _, h := range helpLines {
		lines = append(lines, h.command+" - "+h.description)
	}
	return strings.Join(lines, "\n")
}

func greeting(firstName string) string {
	return fmt.Sprintf(
		"Hello %s! I am WeatherForecastBot, your personal assistant for getting an accurate weather forecast. "+
			"I can provide you with weather information for any city. Just type the name of the city and I will "+
			"tell you what to expect!\nHere are the commands I know:\n%s", firstName, helpText())
}

func (d *Dispatcher) handleCommand(ctx context.Context, conv state.Conversation, msg *telegram.Message) error {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID

	switch text {
	case cmdStart:
		d.reply(ctx, chatID, greeting(msg.From.FirstName))

	case cmdHelp:
		d.reply(ctx, chatID, helpText())

	case cmdChangeCity:
		if err := d.states.Arm(ctx, chatID, state.FieldCity); err != nil {
			return d.internalFault(ctx, chatID, "arm city", err)
		}
		d.reply(ctx, chatID, msgEnterNewCity)

	case cmdCurrent:
		d.currentWeather(ctx, conv, chatID)

	case cmdForecast:
		if err := d.states.Arm(ctx, chatID, state.FieldDateDifference); err != nil {
			return d.internalFault(ctx, chatID, "arm date", err)
		}
		d.reply(ctx, chatID, datePrompt(d.Now()))

	case cmdSeveralDays:
		if err := d.states.Arm(ctx, chatID, state.FieldQtyDays); err != nil {
			return d.internalFault(ctx, chatID, "arm day count", err)
		}
		d.reply(ctx, chatID, msgSeveralDays)

	case cmdStatistic:
		d.weeklyStatistic(ctx, conv, chatID)

	case cmdPrediction:
		d.prediction(ctx, conv, chatID)

	default:
		d.Hooks.unknownCommand()
		d.logger.Debug("unknown command", "chat_id", chatID, "text", text)
		d.reply(ctx, chatID, msgUnknownCommand)
		return nil
	}

	d.record(ctx, msg, text)
	return nil
}

func (d *Dispatcher) currentWeather(ctx context.Context, conv state.Conversation, chatID int64) {
	p, err := d.provider.Current(ctx, conv.City)
	if err != nil {
		d.providerFault(ctx, chatID, "current weather", err)
		return
	}
	d.reply(ctx, chatID, weather.FormatCurrent(p))
}

// weeklyStatistic sends one message per day for the previous week.
func (d *Dispatcher) weeklyStatistic(ctx context.Context, conv state.Conversation, chatID int64) {
	today := d.Now()
	for day := 1; day <= historyDays; day++ {
		date := today.AddDate(0, 0, -day).Format("2006-01-02")
		p, err := d.provider.History(ctx, conv.City, date)
		if err != nil {
			d.providerFault(ctx, chatID, "weather statistic", err)
			return
		}
		d.reply(ctx, chatID, weather.FormatHistoryDay(p))
	}
}

func (d *Dispatcher) prediction(ctx context.Context, conv state.Conversation, chatID int64) {
	avgPast, err := d.provider.AverageHistoryTemp(ctx, conv.City, historyDays, d.Now())
	if err != nil {
		d.providerFault(ctx, chatID, "prediction history", err)
		return
	}
	// Request one extra day so today drops out of the mean.
	avgNext, err := d.provider.AverageForecastTemp(ctx, conv.City, predictionDays+1)
	if err != nil {
		d.providerFault(ctx, chatID, "prediction forecast", err)
		return
	}
	d.reply(ctx, chatID, weather.FormatPrediction(avgNext, avgPast))
}

func (d *Dispatcher) providerFault(ctx context.Context, chatID int64, op string, err error) {
	d.Hooks.runtimeError()
	d.logger.Error("provider request failed", "op", op, "chat_id", chatID, "error", err)
	d.reply(ctx, chatID, weather.UserMessage(err))
}

func (d *Dispatcher) internalFault(ctx context.Context, chatID int64, op string, err error) error {
	d.Hooks.runtimeError()
	d.reply(ctx, chatID, msgInternalError)
	return fmt.Errorf("%s for chat %d: %w", op, chatID, err)
}
