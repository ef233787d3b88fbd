// Package output renders crmctl results as tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/crmdesk/server/internal/datastore"
	"github.com/crmdesk/server/internal/models"
)

// JSON prints v as indented JSON.
func JSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func UserTable(w io.Writer, users []models.User, now time.Time) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tNAME\tROLE\tONLINE\tLAST ACTIVE")
	for _, u := range users {
		online := "-"
		if u.IsOnline {
			online = "yes"
		}
		lastActive := "never"
		if u.LastActive != nil {
			lastActive = RelativeTime(*u.LastActive, now)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.Email, u.FullName, u.Role, online, lastActive)
	}
	tw.Flush()
}

func LoadSummary(w io.Writer, s *datastore.LoadSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Users:\t%d\n", s.Users)
	fmt.Fprintf(tw, "Products:\t%d\n", s.Products)
	fmt.Fprintf(tw, "Clients:\t%d\n", s.Clients)
	fmt.Fprintf(tw, "Comments:\t%d\n", s.Comments)
	fmt.Fprintf(tw, "Reminders:\t%d\n", s.Reminders)
	fmt.Fprintf(tw, "Documents:\t%d\n", s.Documents)
	fmt.Fprintf(tw, "Reset tokens:\t%d\n", s.ResetTokens)
	fmt.Fprintf(tw, "Import logs:\t%d\n", s.ImportLogs)
	fmt.Fprintf(tw, "Orphans:\t%d\n", s.Orphans)
	fmt.Fprintf(tw, "Passwords hashed:\t%d\n", s.HashedPasswords)
	tw.Flush()
}

// Stats is the row set printed by crmctl stats.
type Stats struct {
	Users         int64 `json:"users"`
	Products      int64 `json:"products"`
	Clients       int64 `json:"clients"`
	Documents     int64 `json:"documents"`
	DocumentBytes int64 `json:"documentBytes"`
	Orphans       int64 `json:"orphans"`
}

func StatsTable(w io.Writer, s Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Users:\t%d\n", s.Users)
	fmt.Fprintf(tw, "Products:\t%d\n", s.Products)
	fmt.Fprintf(tw, "Clients:\t%d\n", s.Clients)
	fmt.Fprintf(tw, "Documents:\t%d (%s)\n", s.Documents, FormatSize(s.DocumentBytes))
	fmt.Fprintf(tw, "Orphaned records:\t%d\n", s.Orphans)
	tw.Flush()
}

// FormatSize converts bytes to a human-readable string.
func FormatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// RelativeTime formats t relative to now (e.g. "2h ago", "3d ago").
func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
