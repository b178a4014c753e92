// Package weathergram is a conversational weather-forecasting assistant
// driven by a Telegram webhook.
//
// Weathergram validates inbound webhook events at the edge, tracks a small
// per-chat conversation state in a relational store, queries an external
// weather provider, and replies over the Telegram send API. A basic-auth
// reporting API exposes usage analytics from the same store.
package weathergram
