// Command weathergram runs the Weathergram Telegram weather assistant.
//
// Weathergram receives Telegram webhook updates, keeps per-chat conversation
// state in Postgres (or SQLite for small deployments), talks to the
// weatherapi.com forecast API, and serves a basic-auth usage-reporting API.
//
// Usage:
//
//	weathergram run [--dotenv ./.env]
package main

import (
	"os"

	"github.com/weathergram/weathergram/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
