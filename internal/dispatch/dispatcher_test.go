package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/weathergram/weathergram/internal/state"
	"github.com/weathergram/weathergram/internal/telegram"
	"github.com/weathergram/weathergram/internal/weather"
)

type fakeStates struct {
	convs   map[int64]*state.Conversation
	actions []string
	touched []int64
}

func newFakeStates() *fakeStates {
	return &fakeStates{convs: make(map[int64]*state.Conversation)}
}

func (f *fakeStates) GetOrCreate(_ context.Context, chatID int64) (state.Conversation, error) {
	if c, ok := f.convs[chatID]; ok {
		return *c, nil
	}
	c := &state.Conversation{ChatID: chatID, City: state.DefaultCity, DateDifference: state.None, QtyDays: state.None}
	f.convs[chatID] = c
	return *c, nil
}

func (f *fakeStates) set(chatID int64, field, value string) {
	c := f.convs[chatID]
	switch field {
	case state.FieldCity:
		c.City = value
	case state.FieldDateDifference:
		c.DateDifference = value
	case state.FieldQtyDays:
		c.QtyDays = value
	}
}

func (f *fakeStates) Arm(_ context.Context, chatID int64, field string) error {
	f.set(chatID, field, state.AwaitingInput)
	return nil
}

func (f *fakeStates) Resolve(_ context.Context, chatID int64, field, value string) error {
	f.set(chatID, field, value)
	return nil
}

func (f *fakeStates) TouchOnline(_ context.Context, chatID, _ int64) error {
	f.touched = append(f.touched, chatID)
	return nil
}

func (f *fakeStates) RecordAction(_ context.Context, _, _ int64, _ string, _ int64, action string) error {
	f.actions = append(f.actions, action)
	return nil
}

type fakeProvider struct {
	payload    *weather.Payload
	err        error
	lastCity   string
	lastDays   int
	historyReq []string
}

func (f *fakeProvider) Current(_ context.Context, city string) (*weather.Payload, error) {
	f.lastCity = city
	return f.payload, f.err
}

func (f *fakeProvider) Forecast(_ context.Context, city string, days int) (*weather.Payload, error) {
	f.lastCity, f.lastDays = city, days
	return f.payload, f.err
}

func (f *fakeProvider) History(_ context.Context, city, date string) (*weather.Payload, error) {
	f.lastCity = city
	f.historyReq = append(f.historyReq, date)
	return f.payload, f.err
}

func (f *fakeProvider) VerifyCity(_ context.Context, city string) error {
	f.lastCity = city
	return f.err
}

func (f *fakeProvider) AverageHistoryTemp(_ context.Context, city string, _ int, _ time.Time) (int, error) {
	f.lastCity = city
	return 5, f.err
}

func (f *fakeProvider) AverageForecastTemp(_ context.Context, city string, days int) (int, error) {
	f.lastCity, f.lastDays = city, days
	return 8, f.err
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(_ context.Context, _ int64, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

type counters struct {
	unknown, user, runtime int
}

func newTestDispatcher(provider *fakeProvider) (*Dispatcher, *fakeStates, *fakeSender, *counters) {
	states := newFakeStates()
	sender := &fakeSender{}
	c := &counters{}
	if provider.payload == nil {
		provider.payload = &weather.Payload{
			Location: weather.Location{Name: "Moskva", Region: "Moscow"},
			Current:  weather.Current{TempC: 4, WindDir: "N"},
			Forecast: weather.Forecast{ForecastDay: []weather.ForecastDay{
				{Date: "2024-03-01", Day: weather.Day{Condition: weather.Condition{Text: "Sunny"}}},
				{Date: "2024-03-02", Day: weather.Day{Condition: weather.Condition{Text: "Cloudy"}}},
				{Date: "2024-03-03", Day: weather.Day{Condition: weather.Condition{Text: "Overcast"}}},
			}},
		}
	}
	d := New(states, provider, sender, nil)
	d.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	d.Hooks = Hooks{
		UnknownCommand: func() { c.unknown++ },
		UserError:      func() { c.user++ },
		RuntimeError:   func() { c.runtime++ },
	}
	return d, states, sender, c
}

func message(chatID int64, text string) *telegram.Message {
	return &telegram.Message{
		MessageID: 1,
		From:      &telegram.User{ID: chatID, FirstName: "Test", Username: "tester"},
		Chat:      &telegram.Chat{ID: chatID, Type: "private"},
		Date:      1709287200,
		Text:      text,
	}
}

func handle(t *testing.T, d *Dispatcher, msg *telegram.Message) {
	t.Helper()
	if err := d.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage(%q): %v", msg.Text, err)
	}
}

func TestUnknownCommand(t *testing.T) {
	d, states, sender, c := newTestDispatcher(&fakeProvider{})

	handle(t, d, message(1, "what is the weather"))

	if len(sender.sent) != 1 || sender.sent[0] != msgUnknownCommand {
		t.Errorf("sent = %v", sender.sent)
	}
	if c.unknown != 1 {
		t.Errorf("unknown counter = %d, want 1", c.unknown)
	}
	if len(states.actions) != 0 {
		t.Errorf("unknown command was recorded: %v", states.actions)
	}
}

func TestHelpRecordsAction(t *testing.T) {
	d, states, sender, _ := newTestDispatcher(&fakeProvider{})

	handle(t, d, message(1, "/help"))

	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "/change_city - change city") {
		t.Errorf("sent = %v", sender.sent)
	}
	if len(states.actions) != 1 || states.actions[0] != "/help" {
		t.Errorf("actions = %v", states.actions)
	}
	if len(states.touched) != 1 {
		t.Errorf("touched = %v, want one presence update", states.touched)
	}
}

func TestCurrentWeatherUsesStoredCity(t *testing.T) {
	provider := &fakeProvider{}
	d, _, sender, _ := newTestDispatcher(provider)

	handle(t, d, message(1, "/current_weather"))

	if provider.lastCity != state.DefaultCity {
		t.Errorf("provider city = %q, want default", provider.lastCity)
	}
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "Moskva (Moscow)") {
		t.Errorf("sent = %v", sender.sent)
	}
}

func TestCurrentWeatherCityNotFound(t *testing.T) {
	provider := &fakeProvider{err: &weather.APIError{Status: 400, Code: 1006}}
	d, states, sender, c := newTestDispatcher(provider)

	handle(t, d, message(1, "/current_weather"))

	if len(sender.sent) != 1 || sender.sent[0] != "City not found, please check the city name." {
		t.Errorf("sent = %v", sender.sent)
	}
	conv := states.convs[1]
	if conv.City != state.DefaultCity || conv.DateDifference != state.None || conv.QtyDays != state.None {
		t.Errorf("conversation mutated by failed lookup: %+v", conv)
	}
	if len(states.actions) != 1 || states.actions[0] != "/current_weather" {
		t.Errorf("actions = %v, want only the command record", states.actions)
	}
	if c.runtime != 1 {
		t.Errorf("runtime error counter = %d, want 1", c.runtime)
	}
}

func TestChangeCityFlow(t *testing.T) {
	provider := &fakeProvider{}
	d, states, sender, _ := newTestDispatcher(provider)

	handle(t, d, message(1, "/change_city"))
	if states.convs[1].City != state.AwaitingInput {
		t.Fatalf("city not armed: %+v", states.convs[1])
	}
	if sender.sent[len(sender.sent)-1] != msgEnterNewCity {
		t.Errorf("prompt = %q", sender.sent[len(sender.sent)-1])
	}

	handle(t, d, message(1, "Kazan"))
	if states.convs[1].City != "Kazan" {
		t.Errorf("city = %q, want Kazan", states.convs[1].City)
	}
	if sender.sent[len(sender.sent)-1] != msgCityAdded {
		t.Errorf("reply = %q", sender.sent[len(sender.sent)-1])
	}
}

func TestCityNotFoundStaysArmed(t *testing.T) {
	provider := &fakeProvider{err: &weather.APIError{Status: 400, Code: 1006}}
	d, states, sender, c := newTestDispatcher(provider)

	handle(t, d, message(1, "/change_city"))
	provider.lastCity = ""
	handle(t, d, message(1, "Nowhereville"))

	if states.convs[1].City != state.AwaitingInput {
		t.Errorf("city = %q, want still armed", states.convs[1].City)
	}
	if got := sender.sent[len(sender.sent)-1]; got != "City not found, please check the city name." {
		t.Errorf("reply = %q", got)
	}
	if c.user != 1 {
		t.Errorf("user error counter = %d, want 1", c.user)
	}
}

func TestForecastDateValidation(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantReply string
	}{
		{"bad format", "03-05-2024", msgBadDateFormat},
		{"not a date", "tomorrow", msgBadDateFormat},
		{"too late", "2024-03-20", "The entered date must be no later than 2024-03-11."},
		{"in the past", "2024-02-20", "The entered date must be no earlier than 2024-03-01."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, states, sender, c := newTestDispatcher(&fakeProvider{})

			handle(t, d, message(1, "/weather_forecast"))
			handle(t, d, message(1, tt.input))

			if got := sender.sent[len(sender.sent)-1]; got != tt.wantReply {
				t.Errorf("reply = %q, want %q", got, tt.wantReply)
			}
			if states.convs[1].DateDifference != state.AwaitingInput {
				t.Error("date slot was released on invalid input")
			}
			if c.user != 1 {
				t.Errorf("user error counter = %d, want 1", c.user)
			}
		})
	}
}

func TestForecastDateSuccess(t *testing.T) {
	provider := &fakeProvider{}
	d, states, sender, _ := newTestDispatcher(provider)

	handle(t, d, message(1, "/weather_forecast"))
	handle(t, d, message(1, "2024-03-03"))

	// Two days out needs a four-day window.
	if provider.lastDays != 4 {
		t.Errorf("forecast days = %d, want 4", provider.lastDays)
	}
	if got := sender.sent[len(sender.sent)-1]; !strings.Contains(got, "2024-03-03") {
		t.Errorf("reply = %q, want the requested date", got)
	}
	if states.convs[1].DateDifference != state.None {
		t.Errorf("date slot = %q, want cleared", states.convs[1].DateDifference)
	}
}

func TestDayCountValidation(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantReply string
	}{
		{"out of range high", "15", msgBadDayCount},
		{"out of range low", "0", msgBadDayCount},
		{"not a number", "three", "Invalid input format please try again. three"},
		{"command as input", "/help", "Invalid input format please try again. /help"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, states, sender, c := newTestDispatcher(&fakeProvider{})

			handle(t, d, message(1, "/forecast_for_several_days"))
			handle(t, d, message(1, tt.input))

			if got := sender.sent[len(sender.sent)-1]; got != tt.wantReply {
				t.Errorf("reply = %q, want %q", got, tt.wantReply)
			}
			if states.convs[1].QtyDays != state.AwaitingInput {
				t.Error("day count slot was released on invalid input")
			}
			if c.user != 1 {
				t.Errorf("user error counter = %d, want 1", c.user)
			}
		})
	}
}

func TestDayCountSuccess(t *testing.T) {
	provider := &fakeProvider{}
	d, states, sender, _ := newTestDispatcher(provider)

	handle(t, d, message(1, "/forecast_for_several_days"))
	handle(t, d, message(1, "2"))

	if provider.lastDays != 3 {
		t.Errorf("forecast days = %d, want 3 (requested 2 plus today)", provider.lastDays)
	}
	// One reply per upcoming day, today's entry skipped.
	replies := sender.sent[1:]
	if len(replies) != 2 {
		t.Fatalf("replies = %v, want 2 forecast messages", replies)
	}
	if !strings.Contains(replies[0], "2024-03-02") || !strings.Contains(replies[1], "2024-03-03") {
		t.Errorf("replies = %v", replies)
	}
	if states.convs[1].QtyDays != state.None {
		t.Errorf("day count slot = %q, want cleared", states.convs[1].QtyDays)
	}
}

func TestCancelReleasesSlot(t *testing.T) {
	d, states, sender, _ := newTestDispatcher(&fakeProvider{})

	handle(t, d, message(1, "/weather_forecast"))
	handle(t, d, message(1, "/cancel"))

	if states.convs[1].DateDifference != state.None {
		t.Errorf("date slot = %q, want cleared by /cancel", states.convs[1].DateDifference)
	}
	if got := sender.sent[len(sender.sent)-1]; got != msgInputCanceled {
		t.Errorf("reply = %q", got)
	}

	// Back to idle: the next command routes normally.
	handle(t, d, message(1, "/help"))
	if got := sender.sent[len(sender.sent)-1]; !strings.Contains(got, "/prediction") {
		t.Errorf("post-cancel reply = %q, want help text", got)
	}
}

func TestWeeklyStatistic(t *testing.T) {
	provider := &fakeProvider{}
	d, _, sender, _ := newTestDispatcher(provider)

	handle(t, d, message(1, "/weather_statistic"))

	if len(provider.historyReq) != 7 {
		t.Fatalf("history requests = %d, want 7", len(provider.historyReq))
	}
	if provider.historyReq[0] != "2024-02-29" || provider.historyReq[6] != "2024-02-23" {
		t.Errorf("history dates = %v", provider.historyReq)
	}
	if len(sender.sent) != 7 {
		t.Errorf("sent %d messages, want 7", len(sender.sent))
	}
}

func TestPrediction(t *testing.T) {
	provider := &fakeProvider{}
	d, _, sender, _ := newTestDispatcher(provider)

	handle(t, d, message(1, "/prediction"))

	// Fake provider: past mean 5, next mean 8.
	want := "The average temperature in the next 3 days will be 8°C, which is 3°C warmer than the last week"
	if len(sender.sent) != 1 || sender.sent[0] != want {
		t.Errorf("sent = %v, want %q", sender.sent, want)
	}
	if provider.lastDays != 4 {
		t.Errorf("forecast days = %d, want 4", provider.lastDays)
	}
}

func TestProviderFaultKeepsSlotArmed(t *testing.T) {
	provider := &fakeProvider{}
	d, states, sender, c := newTestDispatcher(provider)

	handle(t, d, message(1, "/weather_forecast"))
	provider.err = &weather.APIError{Status: 500}
	handle(t, d, message(1, "2024-03-03"))

	if states.convs[1].DateDifference != state.AwaitingInput {
		t.Error("date slot was released on provider fault")
	}
	if got := sender.sent[len(sender.sent)-1]; got != "Internal server error. Please try again later." {
		t.Errorf("reply = %q", got)
	}
	if c.runtime != 1 {
		t.Errorf("runtime error counter = %d, want 1", c.runtime)
	}
}
