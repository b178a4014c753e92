// Package ingress is the webhook edge guard. It admits a request only when
// the method, shared secret, and update schema all check out, then hands the
// message to the dispatcher. Rejections never leak detail beyond a status
// and a short reason.
package ingress

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/weathergram/weathergram/internal/telegram"
)

// SecretHeader carries the shared secret Telegram echoes on every delivery.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Reject reasons passed to ObserveReject.
const (
	ReasonMethod     = "method"
	ReasonAuth       = "auth"
	ReasonPolicy     = "policy"
	ReasonValidation = "validation"
)

type Server struct {
	Secret   string
	Dispatch func(ctx context.Context, msg *telegram.Message) error
	Logger   *slog.Logger

	ObserveResult func(accepted bool)
	ObserveReject func(statusCode int, reason string)

	MaxBodyBytes int64
}

func NewServer(secret string, dispatch func(ctx context.Context, msg *telegram.Message) error, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Secret:       secret,
		Dispatch:     dispatch,
		Logger:       logger,
		MaxBodyBytes: 1 << 20, // Telegram updates are small; 1 MiB is generous.
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The secret check runs before anything else so an unauthenticated
	// caller learns nothing, not even the allowed method.
	if !secureEqual(r.Header.Get(SecretHeader), s.Secret) {
		s.Logger.Warn("webhook rejected", "reason", ReasonAuth, "remote_addr", r.RemoteAddr)
		s.reject(w, http.StatusUnauthorized, ReasonAuth, "Unauthorized")
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.reject(w, http.StatusMethodNotAllowed, ReasonMethod, "Method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.reject(w, http.StatusRequestEntityTooLarge, ReasonPolicy, "Payload too large")
			return
		}
		s.reject(w, http.StatusBadRequest, ReasonPolicy, "Unreadable request body")
		return
	}

	upd, err := telegram.DecodeUpdate(body)
	if err != nil {
		s.Logger.Error("webhook update rejected", "error", err)
		s.reject(w, http.StatusBadRequest, ReasonValidation, "An error occurred, please try again later")
		return
	}

	if err := s.Dispatch(r.Context(), upd.Message); err != nil {
		// The dispatcher already answered the user in-band; the webhook
		// still acknowledges so Telegram does not redeliver.
		s.Logger.Error("dispatch failed", "update_id", upd.UpdateID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	if s.ObserveResult != nil {
		s.ObserveResult(true)
	}
}

func (s *Server) reject(w http.ResponseWriter, status int, reason, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
	if s.ObserveResult != nil {
		s.ObserveResult(false)
	}
	if s.ObserveReject != nil {
		s.ObserveReject(status, reason)
	}
}

func secureEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
