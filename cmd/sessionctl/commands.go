package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/dom/event-portal/internal/session"
	"golang.org/x/sync/errgroup"
)

func loginCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "Username (required)")
	password := fs.String("password", "", "Password (required)")
	fs.Parse(args)

	if *username == "" || *password == "" {
		return errors.New("--username and --password are required")
	}

	if err := e.restore(ctx); err != nil {
		return err
	}

	fmt.Printf("Logging in as %s... ", *username)
	rec, err := e.manager.Login(ctx, session.Credentials{Username: *username, Password: *password})
	if err != nil {
		fmt.Println("FAILED")
		return errors.New(session.UserMessage(err))
	}
	fmt.Println("OK")
	printRecord(rec, e.manager.Projection())
	return nil
}

func registerCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	username := fs.String("username", "", "Username (required)")
	password := fs.String("password", "", "Password (required)")
	email := fs.String("email", "", "Email address")
	displayName := fs.String("name", "", "Display name")
	role := fs.String("role", "participant", "participant or organizer")
	fs.Parse(args)

	if *username == "" || *password == "" {
		return errors.New("--username and --password are required")
	}

	if err := e.restore(ctx); err != nil {
		return err
	}

	fmt.Printf("Registering %s (%s)... ", *username, *role)
	rec, err := e.manager.Register(ctx, session.Registration{
		Username:    *username,
		Password:    *password,
		Email:       *email,
		DisplayName: *displayName,
		Role:        *role,
	})
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Println("OK")
	printRecord(rec, e.manager.Projection())
	return nil
}

func logoutCmd(ctx context.Context, e *env, args []string) error {
	if err := e.restore(ctx); err != nil {
		return err
	}
	if !e.manager.Projection().IsAuthenticated {
		fmt.Println("No active session in this tab.")
		return nil
	}
	if err := e.manager.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func refreshCmd(ctx context.Context, e *env, args []string) error {
	if err := e.restore(ctx); err != nil {
		return err
	}
	if err := e.manager.Refresh(ctx); err != nil {
		return errors.New(session.UserMessage(err))
	}
	fmt.Println("Access token refreshed.")
	return nil
}

func whoamiCmd(ctx context.Context, e *env, args []string) error {
	if err := e.restore(ctx); err != nil {
		return err
	}
	printProjection(e.manager.Projection())
	return nil
}

func listCmd(ctx context.Context, e *env, args []string) error {
	if err := e.restore(ctx); err != nil {
		return err
	}
	printSessions(e.manager.ListSessions(ctx))
	return nil
}

func switchCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("switch", flag.ExitOnError)
	id := fs.String("session", "", "Session id to activate (required)")
	fs.Parse(args)

	if *id == "" {
		return errors.New("--session is required")
	}

	if err := e.restore(ctx); err != nil {
		return err
	}
	if err := e.manager.SwitchTo(ctx, *id); err != nil {
		return errors.New(session.UserMessage(err))
	}
	printProjection(e.manager.Projection())
	return nil
}

func profileCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	displayName := fs.String("name", "", "New display name")
	email := fs.String("email", "", "New email address")
	fs.Parse(args)

	if err := e.restore(ctx); err != nil {
		return err
	}

	var (
		user *session.User
		err  error
	)
	upd := session.ProfileUpdate{}
	if *displayName != "" {
		upd.DisplayName = displayName
	}
	if *email != "" {
		upd.Email = email
	}

	if upd.DisplayName == nil && upd.Email == nil {
		user, err = e.manager.FetchProfile(ctx)
	} else {
		user, err = e.manager.UpdateProfile(ctx, upd)
	}
	if err != nil {
		return errors.New(session.UserMessage(err))
	}
	printUser(user)
	return nil
}

func deleteCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm account deletion")
	fs.Parse(args)

	if !*confirm {
		return errors.New("refusing to delete the account without --yes")
	}

	if err := e.restore(ctx); err != nil {
		return err
	}
	if err := e.manager.DeleteAccount(ctx); err != nil {
		return errors.New(session.UserMessage(err))
	}
	fmt.Println("Account deleted.")
	return nil
}

// watchCmd prints every projection change until interrupted. Removals by
// other tabs arrive through the notifier; the poller catches anything the
// notifier missed.
func watchCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", e.cfg.PollInterval, "Session list poll interval")
	fs.Parse(args)

	unsubscribe := e.manager.Subscribe(func(p session.Projection) {
		fmt.Printf("[%s] ", time.Now().Format(time.TimeOnly))
		printProjection(p)
	})
	defer unsubscribe()

	if err := e.restore(ctx); err != nil {
		return err
	}

	fmt.Printf("Watching tab %s (Ctrl+C to stop)\n", e.manager.TabID())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.manager.Watch(ctx) })
	g.Go(func() error {
		last := ""
		return session.Poll(ctx, e.manager, *interval, func(sessions []session.SessionSummary) {
			ids := make([]string, len(sessions))
			for i, s := range sessions {
				ids[i] = s.SessionID
			}
			if key := strings.Join(ids, ","); key != last {
				last = key
				printSessions(sessions)
			}
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func simulateCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	access := fs.String("access", "", "Access token (required)")
	refresh := fs.String("refresh", "", "Refresh token")
	username := fs.String("username", "", "Username to record without asking the server")
	fs.Parse(args)

	if *access == "" {
		return errors.New("--access is required")
	}

	if err := e.restore(ctx); err != nil {
		return err
	}

	var user *session.User
	if *username != "" {
		user = &session.User{Username: *username}
	}
	rec, err := e.manager.SimulateSession(ctx, session.Tokens{Access: *access, Refresh: *refresh}, user)
	if err != nil {
		return err
	}
	printRecord(rec, e.manager.Projection())
	return nil
}

// duplicateCmd mirrors opening a link in a new browser tab: the new tab
// starts on the same session but owns its own pointer from then on.
func duplicateCmd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("duplicate", flag.ExitOnError)
	to := fs.String("to", "", "Tab id of the new tab (required)")
	fs.Parse(args)

	if *to == "" {
		return errors.New("--to is required")
	}

	rp, ok := e.pointer.(interface {
		Duplicate(ctx context.Context, tabID string) (*session.RedisPointer, error)
	})
	if !ok {
		return fmt.Errorf("tab pointers are not shared with the %s store", e.cfg.SessionStore)
	}

	dup, err := rp.Duplicate(ctx, *to)
	if err != nil {
		return err
	}
	id, ok := dup.Get(ctx)
	if !ok {
		fmt.Printf("Tab %s created with no active session.\n", dup.TabID())
		return nil
	}
	fmt.Printf("Tab %s now points at session %s.\n", dup.TabID(), id)
	return nil
}
