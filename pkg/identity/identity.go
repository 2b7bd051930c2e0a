// Package identity computes the stable dedup key of a harvested item.
//
// A canonical identifier exposed by the item (a status permalink or post id)
// always wins. Only when none is present is the key derived from content,
// and then from the full normalized content rather than a prefix of it, so
// that two posts sharing an opening line do not collapse into one.
package identity

import (
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"

	"feedharvest/pkg/models"
)

const (
	canonicalPrefix = "id:"
	hashPrefix      = "h:"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	statusPath = regexp.MustCompile(`/status(?:es)?/(\d+)`)
)

// Of returns the identity for an extracted post
func Of(p models.Post) string {
	if id := Canonical(p); id != "" {
		return canonicalPrefix + id
	}
	return hashPrefix + ContentHash(p.AuthorHandle, p.Timestamp, p.Text)
}

// Canonical returns the post's canonical id, or "" if it has none
func Canonical(p models.Post) string {
	if id := strings.TrimSpace(p.ID); id != "" {
		return id
	}
	if p.Link == "" {
		return ""
	}
	if m := statusPath.FindStringSubmatch(p.Link); m != nil {
		return m[1]
	}
	u, err := url.Parse(strings.TrimSpace(p.Link))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host) + strings.TrimRight(u.EscapedPath(), "/")
}

// ContentHash hashes the normalized content parts
func ContentHash(parts ...string) string {
	h, _ := blake2b.New256(nil)
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(Normalize(part)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize collapses whitespace and lowercases s
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(whitespace.ReplaceAllString(s, " ")))
}
