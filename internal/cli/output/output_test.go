package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/crmdesk/server/internal/models"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatSize(tt.input); got != tt.want {
				t.Errorf("FormatSize(%d) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"just now", now.Add(-10 * time.Second), "just now"},
		{"minutes", now.Add(-5 * time.Minute), "5m ago"},
		{"hours", now.Add(-3 * time.Hour), "3h ago"},
		{"days", now.Add(-7 * 24 * time.Hour), "7d ago"},
		{"old", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "2024-01-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelativeTime(tt.at, now); got != tt.want {
				t.Errorf("RelativeTime() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserTable(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	active := now.Add(-2 * time.Hour)

	var buf bytes.Buffer
	UserTable(&buf, []models.User{
		{Email: "admin@example.com", FullName: "Admin", Role: models.UserRoleAdmin, IsOnline: true, LastActive: &active},
		{Email: "user@example.com", FullName: "User", Role: models.UserRoleUser},
	}, now)

	out := buf.String()
	for _, want := range []string{"EMAIL", "admin@example.com", "2h ago", "never"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	buf.Reset()
	UserTable(&buf, nil, now)
	if !strings.Contains(buf.String(), "No users found.") {
		t.Errorf("expected empty message, got %q", buf.String())
	}
}
