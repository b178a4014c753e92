package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration, read from the environment.
// A dotenv file can seed the environment in development; real deployments
// inject the variables directly.
type Config struct {
	BotToken      string `validate:"required"`
	WeatherAPIKey string `validate:"required"`
	WebhookSecret string `validate:"required,min=8"`

	// AppDomain is the public HTTPS origin Telegram delivers updates to.
	// When empty the webhook is not registered, which is the local-dev mode.
	AppDomain   string `validate:"omitempty,url"`
	WebhookPath string `validate:"required,startswith=/"`
	ListenAddr  string `validate:"required"`

	// PostgresDSN selects the postgres backend; when empty the service
	// falls back to the embedded sqlite file at SQLitePath.
	PostgresDSN string
	SQLitePath  string `validate:"required"`

	ReportUser     string
	ReportPassword string

	LogLevel  string
	LogOutput string
	LogFile   string

	OnlineRetention time.Duration `validate:"min=1m"`
	PruneInterval   time.Duration `validate:"min=10s"`

	TracingEndpoint string `validate:"omitempty,url"`
	TracingInsecure bool
}

func loadConfig(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			return Config{}, fmt.Errorf("load dotenv %q: %w", dotenvPath, err)
		}
	}

	cfg := Config{
		BotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		WeatherAPIKey:   os.Getenv("WEATHER_API_KEY"),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		AppDomain:       strings.TrimRight(os.Getenv("APP_DOMAIN"), "/"),
		WebhookPath:     envDefault("WEBHOOK_PATH", "/webhook"),
		ListenAddr:      envDefault("LISTEN_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("DATABASE_URL"),
		SQLitePath:      envDefault("SQLITE_PATH", "./data/weathergram.db"),
		ReportUser:      os.Getenv("REPORT_USER"),
		ReportPassword:  os.Getenv("REPORT_PASSWORD"),
		LogLevel:        envDefault("LOG_LEVEL", "info"),
		LogOutput:       envDefault("LOG_OUTPUT", "stderr"),
		LogFile:         os.Getenv("LOG_FILE"),
		TracingEndpoint: os.Getenv("TRACING_ENDPOINT"),
	}

	var err error
	if cfg.OnlineRetention, err = envDuration("ONLINE_RETENTION", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.PruneInterval, err = envDuration("PRUNE_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.TracingInsecure, err = envBool("TRACING_INSECURE"); err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", describeConfigError(err))
	}
	if (cfg.ReportUser == "") != (cfg.ReportPassword == "") {
		return Config{}, fmt.Errorf("invalid configuration: REPORT_USER and REPORT_PASSWORD must be set together")
	}
	return cfg, nil
}

// describeConfigError maps struct field names back to the environment
// variables operators actually set.
func describeConfigError(err error) error {
	verr, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	names := map[string]string{
		"BotToken":        "TELEGRAM_BOT_TOKEN",
		"WeatherAPIKey":   "WEATHER_API_KEY",
		"WebhookSecret":   "WEBHOOK_SECRET",
		"AppDomain":       "APP_DOMAIN",
		"WebhookPath":     "WEBHOOK_PATH",
		"ListenAddr":      "LISTEN_ADDR",
		"SQLitePath":      "SQLITE_PATH",
		"OnlineRetention": "ONLINE_RETENTION",
		"PruneInterval":   "PRUNE_INTERVAL",
		"TracingEndpoint": "TRACING_ENDPOINT",
	}
	parts := make([]string, 0, len(verr))
	for _, fe := range verr {
		name := names[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		parts = append(parts, fmt.Sprintf("%s fails %q", name, fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBool(key string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}

// WebhookURL is the absolute URL registered with Telegram.
func (c Config) WebhookURL() string {
	if c.AppDomain == "" {
		return ""
	}
	return c.AppDomain + c.WebhookPath
}
