// Package reportapi serves the usage-reporting endpoints over the statistic
// table: raw per-user actions and per-month counts, behind HTTP basic auth.
package reportapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/weathergram/weathergram/internal/state"
)

// Stats is the store surface the reporting API reads from.
type Stats interface {
	UserActions(ctx context.Context, f state.ActionFilter) ([]state.ActionRow, error)
	ActionsCount(ctx context.Context, chatID int64) ([]state.MonthCount, error)
}

type Server struct {
	Stats  Stats
	Auth   *BasicAuth
	Logger *slog.Logger
}

func NewServer(stats Stats, auth *BasicAuth, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Stats: stats, Auth: auth, Logger: logger}
}

// Register mounts the reporting routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/users_actions", s.handleUsersActions)
	mux.HandleFunc("/actions_count", s.handleActionsCount)
}

func (s *Server) handleUsersActions(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}

	var filter state.ActionFilter
	var err error
	q := r.URL.Query()
	if filter.ChatID, err = intParam(q.Get("chat_id")); err != nil {
		badRequest(w, "chat_id must be an integer")
		return
	}
	if filter.FromTS, err = intParam(q.Get("from_ts")); err != nil {
		badRequest(w, "from_ts must be an integer")
		return
	}
	if filter.UntilTS, err = intParam(q.Get("until_ts")); err != nil {
		badRequest(w, "until_ts must be an integer")
		return
	}
	limits, err := intParam(q.Get("limits"))
	if err != nil {
		badRequest(w, "limits must be an integer")
		return
	}
	filter.Limit = int(limits)

	rows, err := s.Stats.UserActions(r.Context(), filter)
	if err != nil {
		s.internalError(w, "users_actions", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleActionsCount(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}

	chatID, err := intParam(r.URL.Query().Get("chat_id"))
	if err != nil {
		badRequest(w, "chat_id must be an integer")
		return
	}

	counts, err := s.Stats.ActionsCount(r.Context(), chatID)
	if err != nil {
		s.internalError(w, "actions_count", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// admit enforces method and credentials for every reporting route.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method not allowed"})
		return false
	}
	if !s.Auth.Verify(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="reports"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.Logger.Error("report query failed", "op", op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Internal Server Error"})
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
