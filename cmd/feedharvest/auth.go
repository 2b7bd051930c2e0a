package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"feedharvest/pkg/auth"
	"feedharvest/pkg/ui"
)

var (
	// Auth command flags
	loginCookie    string
	loginUserAgent string
	loginGuide     bool
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored session cookies",
	Long: `Manage browser session cookies used to fetch HTTP feeds.

Sessions are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation

A run uses the session named by http.session (or HARVEST_SESSION), or the
most recently stored one, whenever http.cookie is empty.

Never share your session cookies or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store a session cookie securely",
	Long: `Store a browser session cookie in the system keychain or encrypted file.

Paste either the bare cookie value or the whole 'Cookie: ...' header line.
Without --cookie you are prompted for it and the input is hidden.`,
	Example: `  # Interactive login as the default session
  feedharvest auth login

  # Named session from a copied header
  feedharvest auth login work --cookie "Cookie: auth_token=abc; ct0=def"

  # Show where to find the cookie
  feedharvest auth login --guide`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout <name>",
	Short: "Remove a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Long:  `List stored sessions with their cookies masked, newest first.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)

	loginCmd.Flags().StringVar(&loginCookie, "cookie", "", "cookie value or 'Cookie:' header line")
	loginCmd.Flags().StringVar(&loginUserAgent, "user-agent", "", "user agent the cookie was issued to")
	loginCmd.Flags().BoolVar(&loginGuide, "guide", false, "show how to copy the cookie and exit")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if loginGuide {
		auth.WriteCookieGuide(os.Stdout)
		return nil
	}

	name := "default"
	if len(args) > 0 {
		name = args[0]
	}

	raw := loginCookie
	if raw == "" {
		auth.WriteCookieGuide(os.Stdout)
		fmt.Println()
		fmt.Print("Cookie: ")
		var err error
		raw, err = readSecret(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read cookie: %w", err)
		}
	}
	cookie, err := auth.ParseCookie(raw)
	if err != nil {
		return err
	}

	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	session := &auth.Session{
		Name:         name,
		Cookie:       cookie,
		UserAgent:    loginUserAgent,
		LastModified: time.Now(),
	}
	if err := manager.Store(session); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Session saved: %s", name))
	ui.PrintInfo("Cookie", auth.Sanitize(session).Cookie)
	fmt.Printf("\nSelect it with 'http.session: %s' or HARVEST_SESSION=%s\n", name, name)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	if err := manager.Delete(args[0]); err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return fmt.Errorf("no stored session named %q", args[0])
		}
		return fmt.Errorf("failed to remove session: %w", err)
	}
	ui.PrintSuccess("Session removed: " + args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	sessions, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		ui.PrintInfo("No stored sessions", "Use 'feedharvest auth login' to add one")
		return nil
	}

	renderSessions(os.Stdout, sessions)
	return nil
}

// renderSessions writes the sessions as a table with cookies masked
func renderSessions(w io.Writer, sessions []*auth.Session) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Stored Sessions")
	t.AppendHeader(table.Row{"Name", "Cookie", "User Agent", "Last Modified"})
	for _, s := range sessions {
		clean := auth.Sanitize(s)
		agent := clean.UserAgent
		if agent == "" {
			agent = "-"
		}
		t.AppendRow(table.Row{clean.Name, clean.Cookie, agent, clean.LastModified.Local().Format("2006-01-02 15:04:05")})
	}
	t.Render()
}

// readSecret reads one line from r without echo when r is a terminal
func readSecret(r *os.File) (string, error) {
	if term.IsTerminal(int(r.Fd())) {
		secret, err := term.ReadPassword(int(r.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
