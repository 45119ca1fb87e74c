package main

import (
	"fmt"
	"time"

	"github.com/dom/event-portal/internal/session"
)

func printRecord(rec *session.Record, p session.Projection) {
	fmt.Printf("  Session:   %s\n", rec.SessionID)
	printUser(rec.User)
	if !p.Persisted {
		fmt.Println("  Warning: session storage is unavailable; this session ends with the process.")
	}
}

func printUser(u *session.User) {
	if u == nil {
		fmt.Println("  User:      (unknown)")
		return
	}
	fmt.Printf("  User:      %s (%s)\n", u.Username, u.Role)
	if u.DisplayName != "" {
		fmt.Printf("  Name:      %s\n", u.DisplayName)
	}
	if u.Email != "" {
		fmt.Printf("  Email:     %s\n", u.Email)
	}
}

func printProjection(p session.Projection) {
	fmt.Printf("state=%s", p.State)
	if p.SessionID != "" {
		fmt.Printf(" session=%s", p.SessionID)
	}
	if p.User != nil {
		fmt.Printf(" user=%s role=%s", p.User.Username, p.User.Role)
	}
	if p.SessionID != "" && !p.Persisted {
		fmt.Print(" (not persisted)")
	}
	if p.Error != nil {
		fmt.Printf(" error=%q", session.UserMessage(p.Error))
	}
	fmt.Println()
}

func printSessions(sessions []session.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Println("No stored sessions.")
		return
	}
	fmt.Printf("%d stored session(s):\n", len(sessions))
	for _, s := range sessions {
		marker := " "
		if s.IsCurrent {
			marker = "*"
		}
		name := "(unknown)"
		if s.User != nil {
			name = s.User.Username
		}
		fmt.Printf("  %s %s  %-16s %-12s %s\n", marker, s.SessionID, name, s.Role, s.CreatedAt.Local().Format(time.DateTime))
	}
}
