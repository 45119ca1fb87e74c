// Seeds a participant and an organizer account for trying out multiple
// sessions side by side. Run with: go run scripts/seed-users.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dom/event-portal/internal/authclient"
	"github.com/dom/event-portal/internal/session"
)

var accounts = []session.Registration{
	{
		Username:    "participant",
		Password:    "participant123",
		Email:       "participant@example.com",
		DisplayName: "Pat Participant",
		Role:        "participant",
	},
	{
		Username:    "organizer",
		Password:    "organizer123",
		Email:       "organizer@example.com",
		DisplayName: "Olive Organizer",
		Role:        "organizer",
	},
}

func main() {
	apiURL := "http://localhost:8080"
	if envURL := os.Getenv("API_URL"); envURL != "" {
		apiURL = envURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := authclient.New(apiURL)

	fmt.Print("Checking backend health... ")
	if err := client.Health(ctx); err != nil {
		fmt.Printf("FAILED\n  Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")

	for _, reg := range accounts {
		fmt.Printf("Registering %s (%s)... ", reg.Username, reg.Role)
		_, err := client.Register(ctx, reg)
		switch {
		case err == nil:
			fmt.Println("OK")
		case authclient.IsStatus(err, http.StatusConflict):
			fmt.Println("already exists")
		default:
			fmt.Printf("FAILED\n  Error: %v\n", err)
			os.Exit(1)
		}

		// Confirm the credentials work even when the account already existed.
		if _, err := client.Login(ctx, session.Credentials{Username: reg.Username, Password: reg.Password}); err != nil {
			if errors.Is(err, session.ErrUnauthorized) {
				fmt.Printf("  Warning: %s exists with a different password\n", reg.Username)
				continue
			}
			fmt.Printf("  Login check failed: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println()
	fmt.Println("Seeded accounts:")
	for _, reg := range accounts {
		fmt.Printf("  %-12s / %s\n", reg.Username, reg.Password)
	}
	fmt.Println()
	fmt.Println("Try them in two tabs:")
	fmt.Println("  SESSION_TAB=one sessionctl login --username=participant --password=participant123")
	fmt.Println("  SESSION_TAB=two sessionctl login --username=organizer --password=organizer123")
}
