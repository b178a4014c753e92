package sqlbuilder

import (
	"reflect"
	"testing"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Builder
		wantSQL  string
		wantArgs []any
	}{
		{
			name: "select all",
			build: func() *Builder {
				return New("user_state").Select()
			},
			wantSQL:  "SELECT * FROM user_state",
			wantArgs: nil,
		},
		{
			name: "select fields",
			build: func() *Builder {
				return New("user_state").Select("chat_id", "city")
			},
			wantSQL:  "SELECT chat_id, city FROM user_state",
			wantArgs: nil,
		},
		{
			name: "select where two conditions",
			build: func() *Builder {
				return New("users").Select().Where([]Cond{
					{Column: "chat_id", Op: "=", Value: int64(42)},
					{Column: "city", Op: "=", Value: "Moskva"},
				})
			},
			wantSQL:  "SELECT * FROM users WHERE chat_id = $1 AND city = $2",
			wantArgs: []any{int64(42), "Moskva"},
		},
		{
			name: "select limit",
			build: func() *Builder {
				return New("users").Select().Limit(10)
			},
			wantSQL:  "SELECT * FROM users LIMIT $1",
			wantArgs: []any{10},
		},
		{
			name: "where then limit keeps numbering",
			build: func() *Builder {
				return New("statistic").Select("action").Where([]Cond{
					{Column: "chat_id", Op: "=", Value: int64(7)},
				}).OrderBy("ts", "DESC").Limit(1000)
			},
			wantSQL:  "SELECT action FROM statistic WHERE chat_id = $1 ORDER BY ts DESC LIMIT $2",
			wantArgs: []any{int64(7), 1000},
		},
		{
			name: "insert",
			build: func() *Builder {
				return New("users").Insert([]Field{
					{Column: "chat_id", Value: int64(1)},
					{Column: "city", Value: "Perm"},
					{Column: "last_name", Value: "Ivanov"},
				})
			},
			wantSQL:  "INSERT INTO users (chat_id, city, last_name) VALUES ($1, $2, $3)",
			wantArgs: []any{int64(1), "Perm", "Ivanov"},
		},
		{
			name: "insert on conflict do nothing",
			build: func() *Builder {
				return New("user_state").Insert([]Field{
					{Column: "chat_id", Value: int64(1)},
					{Column: "city", Value: "Moskva"},
				}).OnConflict("chat_id")
			},
			wantSQL:  "INSERT INTO user_state (chat_id, city) VALUES ($1, $2) ON CONFLICT (chat_id) DO NOTHING",
			wantArgs: []any{int64(1), "Moskva"},
		},
		{
			name: "insert on conflict do update",
			build: func() *Builder {
				return New("users_online").Insert([]Field{
					{Column: "chat_id", Value: int64(1)},
					{Column: "timestamp", Value: int64(1700000000)},
				}).OnConflict("chat_id", "timestamp")
			},
			wantSQL:  "INSERT INTO users_online (chat_id, timestamp) VALUES ($1, $2) ON CONFLICT (chat_id) DO UPDATE SET timestamp = EXCLUDED.timestamp",
			wantArgs: []any{int64(1), int64(1700000000)},
		},
		{
			name: "update replaces args then where continues",
			build: func() *Builder {
				b := New("user_state").Select().Where([]Cond{
					{Column: "city", Op: "=", Value: "stale"},
				})
				return b.Update([]Field{
					{Column: "city", Value: "Kazan"},
				}).Where([]Cond{
					{Column: "chat_id", Op: "=", Value: int64(5)},
				})
			},
			wantSQL:  "UPDATE user_state SET city = $1 WHERE chat_id = $2",
			wantArgs: []any{"Kazan", int64(5)},
		},
		{
			name: "delete where",
			build: func() *Builder {
				return New("users_online").Delete().Where([]Cond{
					{Column: "timestamp", Op: "<", Value: int64(100)},
				})
			},
			wantSQL:  "DELETE FROM users_online WHERE timestamp < $1",
			wantArgs: []any{int64(100)},
		},
		{
			name: "group by",
			build: func() *Builder {
				return New("statistic").
					Select("chat_id", "COUNT(action)").
					GroupBy("chat_id")
			},
			wantSQL:  "SELECT chat_id, COUNT(action) FROM statistic GROUP BY chat_id",
			wantArgs: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.build().Build()
			if sql != tt.wantSQL {
				t.Errorf("sql = %q, want %q", sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}
