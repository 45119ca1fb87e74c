package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dom/event-portal/internal/config"
	"github.com/dom/event-portal/internal/logging"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"login":     loginCmd,
	"register":  registerCmd,
	"logout":    logoutCmd,
	"refresh":   refreshCmd,
	"whoami":    whoamiCmd,
	"list":      listCmd,
	"switch":    switchCmd,
	"profile":   profileCmd,
	"delete":    deleteCmd,
	"watch":     watchCmd,
	"simulate":  simulateCmd,
	"duplicate": duplicateCmd,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	args := os.Args[2:]

	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Printf("Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Environment)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	e, err := newEnv(cfg, log)
	if err != nil {
		log.Fatal("failed to set up session stores", zap.Error(err))
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, e, args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`sessionctl - drive event-portal client sessions from the terminal

USAGE:
  sessionctl <command> [options]

Each invocation acts as the tab named by SESSION_TAB and restores that
tab's active session before running the command.

COMMANDS:
  login      Log in and make the new session active in this tab
  register   Create an account and log in
  logout     End the active session
  refresh    Exchange the refresh token for a new access token
  whoami     Show the active session
  list       List every stored session
  switch     Make another stored session active in this tab
  profile    Fetch or update the active user's profile
  delete     Delete the active user's account
  watch      Follow session changes made by other tabs
  simulate   Store a session from tokens issued elsewhere
  duplicate  Copy this tab's active session pointer to a new tab
  help       Show this help message

ENVIRONMENT:
  API_URL          Backend URL (default: http://localhost:8080)
  SESSION_STORE    redis, postgres or memory (default: redis)
  SESSION_TAB      Tab id owning the active-session pointer (default: default)
  SESSION_PREFIX   Key prefix for shared session state (default: event-portal)
  REDIS_URL        Redis URL for records, pointers and notifications
  DATABASE_URL     Postgres URL when SESSION_STORE=postgres

EXAMPLES:
  # Two identities side by side
  SESSION_TAB=organizer sessionctl login --username=alice --password=secret123
  SESSION_TAB=attendee  sessionctl login --username=bob --password=secret123

  # Open a second tab on the same session, then follow it
  sessionctl duplicate --to=tab-2
  SESSION_TAB=tab-2 sessionctl watch`)
}
