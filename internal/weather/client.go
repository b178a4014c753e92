package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

const defaultBaseURL = "https://api.weatherapi.com/v1"

// keyProbeCity is an arbitrary known-good location for key verification.
const keyProbeCity = "Kazan"

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errCircuitOpen = errors.New("circuit breaker open")
)

// BackoffConfig controls retry pacing for transient provider failures.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Client calls weatherapi.com. Rate limits and 5xx responses are retried
// with exponential backoff behind a circuit breaker; 4xx responses surface
// as *APIError without retry.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	backoff BackoffConfig
	circuit *gobreaker.CircuitBreaker
	logger  *slog.Logger

	// ObserveError, when set, is called with the HTTP status of every
	// provider error response.
	ObserveError func(status int)
}

func NewClient(apiKey string, logger *slog.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weatherapi",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		circuit: cb,
		logger:  logger,
	}
}

// Forecast fetches the forecast for city. days <= 0 requests today only.
func (c *Client) Forecast(ctx context.Context, city string, days int) (*Payload, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", city)
	if days > 0 {
		q.Set("days", fmt.Sprint(days))
	}
	q.Set("aqi", "no")
	q.Set("alerts", "no")
	return c.get(ctx, "/forecast.json", q)
}

// Current fetches today's weather, current conditions included.
func (c *Client) Current(ctx context.Context, city string) (*Payload, error) {
	return c.Forecast(ctx, city, 0)
}

// History fetches the daily aggregate for one past date (YYYY-MM-DD).
func (c *Client) History(ctx context.Context, city, date string) (*Payload, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", city)
	q.Set("dt", date)
	return c.get(ctx, "/history.json", q)
}

// VerifyCity probes the forecast endpoint so a typo is caught before the
// city name is persisted.
func (c *Client) VerifyCity(ctx context.Context, city string) error {
	_, err := c.Current(ctx, city)
	return err
}

// VerifyKey makes one probe call at startup so a revoked key fails the boot
// instead of the first user.
func (c *Client) VerifyKey(ctx context.Context) error {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", keyProbeCity)
	if _, err := c.get(ctx, "/current.json", q); err != nil {
		return fmt.Errorf("weather api key check: %w", err)
	}
	return nil
}

// AverageHistoryTemp averages the daily mean over the previous days before
// today, newest first.
func (c *Client) AverageHistoryTemp(ctx context.Context, city string, days int, today time.Time) (int, error) {
	if days <= 0 {
		return 0, errors.New("days must be positive")
	}
	var sum float64
	for d := 1; d <= days; d++ {
		date := today.AddDate(0, 0, -d).Format("2006-01-02")
		p, err := c.History(ctx, city, date)
		if err != nil {
			return 0, err
		}
		if len(p.Forecast.ForecastDay) == 0 {
			return 0, fmt.Errorf("history for %s returned no days", date)
		}
		sum += p.Forecast.ForecastDay[0].Day.AvgTempC
	}
	return int(math.Round(sum / float64(days))), nil
}

// AverageForecastTemp averages the daily mean over the upcoming days,
// today excluded.
func (c *Client) AverageForecastTemp(ctx context.Context, city string, days int) (int, error) {
	p, err := c.Forecast(ctx, city, days)
	if err != nil {
		return 0, err
	}
	if len(p.Forecast.ForecastDay) < 2 {
		return 0, fmt.Errorf("forecast returned %d days", len(p.Forecast.ForecastDay))
	}
	var sum float64
	upcoming := p.Forecast.ForecastDay[1:]
	for _, fd := range upcoming {
		sum += fd.Day.AvgTempC
	}
	return int(math.Round(sum / float64(len(upcoming)))), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (*Payload, error) {
	var (
		attempt    int
		lastErr    error
		lastStatus int
	)

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Status and error must describe the same attempt, so the final
		// error shape cannot mix a stale status with a newer failure.
		lastStatus = 0

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		result, err := c.circuit.Execute(func() (any, error) {
			resp, execErr := c.client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				lastStatus = resp.StatusCode
				drain(resp)
				if resp.StatusCode == http.StatusTooManyRequests {
					return nil, errRateLimited
				}
				return nil, errServerError
			}
			return resp, nil
		})

		if err == nil {
			resp := result.(*http.Response)
			return c.decode(resp)
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if attempt >= c.backoff.MaxRetries {
			break
		}

		delay := c.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if c.backoff.MaxInterval > 0 && delay > c.backoff.MaxInterval {
			delay = c.backoff.MaxInterval
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}

	if lastStatus != 0 {
		apiErr := &APIError{Status: lastStatus, Message: lastErr.Error()}
		c.observe(lastStatus)
		return nil, apiErr
	}
	return nil, lastErr
}

func (c *Client) decode(resp *http.Response) (*Payload, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &envelope)
		apiErr := &APIError{
			Status:  resp.StatusCode,
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
		}
		c.observe(resp.StatusCode)
		c.logger.Error("weather provider error",
			"status", apiErr.Status,
			"code", apiErr.Code,
			"message", apiErr.Message)
		return nil, apiErr
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return &payload, nil
}

func (c *Client) observe(status int) {
	if c.ObserveError != nil {
		c.ObserveError(status)
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}

// UserMessage converts any error from this client into the reply text shown
// to the chat.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	return "An error occurred. Please try again later."
}
