package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide writes instructions for copying a session cookie out of
// a logged-in browser
func WriteCookieGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "COPYING A SESSION COOKIE")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "HTTP feeds that require a login are fetched with your browser session.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  1. Log in to the site in your browser and open the feed page")
	fmt.Fprintln(w, "  2. Open Developer Tools (F12, or Cmd+Option+I on macOS)")
	fmt.Fprintln(w, "  3. Go to the Network tab and refresh the page")
	fmt.Fprintln(w, "  4. Click any request to the site and find 'Request Headers'")
	fmt.Fprintln(w, "  5. Copy the whole value of the 'Cookie:' header")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Tips:")
	fmt.Fprintln(w, "  - Copy everything after 'Cookie: ' on one line")
	fmt.Fprintln(w, "  - Sessions expire; run 'feedharvest auth login' again when fetches fail with 401 or 403")
	fmt.Fprintln(w, "  - The cookie grants full access to the account; it is stored encrypted or in the system keychain")
	fmt.Fprintln(w, rule)
}

// ParseCookie accepts either a bare cookie value or a copied
// "Cookie: ..." header line
func ParseCookie(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= 7 && strings.EqualFold(s[:7], "cookie:") {
		s = strings.TrimSpace(s[7:])
	}
	s = strings.Trim(s, `"'`)
	if s == "" {
		return "", fmt.Errorf("%w: empty cookie", ErrInvalidCredentials)
	}
	if !strings.Contains(s, "=") {
		return "", fmt.Errorf("%w: cookie must contain name=value pairs", ErrInvalidCredentials)
	}
	return s, nil
}
