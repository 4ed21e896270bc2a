package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kariuki-john/remas-mobile/internal/badge"
	"github.com/kariuki-john/remas-mobile/internal/config"
	"github.com/kariuki-john/remas-mobile/internal/identity"
	"github.com/kariuki-john/remas-mobile/internal/rest"
	"github.com/kariuki-john/remas-mobile/internal/session"
	"go.uber.org/zap"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	tokens := identity.TokenFunc(func() string {
		return session.ReadToken(sessionName)
	})
	client := rest.NewClient(cfg.APIBaseURL, tokens, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: remasctl login <email> <password>")
			os.Exit(1)
		}
		cmdLogin(ctx, client, sessionName, args[1], args[2])
	case "logout":
		cmdLogout(sessionName)
	case "whoami":
		cmdWhoami(sessionName, *jsonFlag)
	case "badge":
		cmdBadge(ctx, client, cfg.PageSize)
	case "notifications":
		kind := rest.NotificationsUnread
		if len(args) >= 2 {
			kind = rest.NotificationKind(args[1])
		}
		cmdNotifications(ctx, client, kind, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdLogin(ctx context.Context, client *rest.Client, sessionName, email, password string) {
	token, err := client.Login(ctx, email, password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.WriteToken(sessionName, token); err != nil {
		fmt.Fprintf(os.Stderr, "error persisting token: %v\n", err)
		os.Exit(1)
	}
	ident, err := identity.Resolve(token)
	if err != nil {
		fmt.Printf("logged in (identity unreadable: %v)\n", err)
		return
	}
	fmt.Printf("logged in as %s\n", ident.Email)
}

func cmdLogout(sessionName string) {
	if err := session.WriteToken(sessionName, ""); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("logged out")
}

func cmdWhoami(sessionName string, asJSON bool) {
	token := session.ReadToken(sessionName)
	ident, err := identity.Resolve(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "not logged in: %v\n", err)
		os.Exit(1)
	}
	if asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(ident)
		return
	}
	fmt.Printf("email: %s\n", ident.Email)
	if ident.Name != "" {
		fmt.Printf("name:  %s\n", ident.Name)
	}
}

func cmdBadge(ctx context.Context, client *rest.Client, pageSize int) {
	n, err := client.UnreadCount(ctx, 1, pageSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	display := badge.FormatBadge(n)
	if display == "" {
		display = "none"
	}
	fmt.Printf("unread: %d (badge: %s)\n", n, display)
}

func cmdNotifications(ctx context.Context, client *rest.Client, kind rest.NotificationKind, asJSON bool) {
	notes, err := client.Notifications(ctx, kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(notes)
		return
	}
	for _, n := range notes {
		marker := " "
		if !n.Read {
			marker = "*"
		}
		fmt.Printf("%s %s  %s — %s\n", marker, n.CreatedAt.Time().Format(time.RFC3339), n.Title, n.Message)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: remasctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <email> <password>   Authenticate and persist the session token")
	fmt.Fprintln(os.Stderr, "  logout                     Clear the session token")
	fmt.Fprintln(os.Stderr, "  whoami                     Show the logged-in identity")
	fmt.Fprintln(os.Stderr, "  badge                      Show the unread badge count")
	fmt.Fprintln(os.Stderr, "  notifications [kind]       List notifications (unread|bill|general)")
}
