package sink

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"feedharvest/pkg/models"
)

// Columns is the CSV header, in order
var Columns = []string{
	"tweet_id", "tweet_link", "author_name", "author_handle",
	"text", "timestamp", "likes", "retweets", "replies",
	"image_urls", "is_reply", "reply_to", "conversation_id",
	"identity", "created_at",
}

// row flattens a record in Columns order
func row(r models.Record) []string {
	p := r.Post
	return []string{
		p.ID,
		p.Link,
		p.AuthorName,
		p.AuthorHandle,
		p.Text,
		p.Timestamp,
		p.Likes,
		p.Reposts,
		p.Replies,
		strings.Join(p.ImageURLs, "|"),
		strconv.FormatBool(p.IsReply),
		p.ReplyTo,
		p.ConversationID,
		r.Identity,
		r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// FilePath returns dir/<feed>.<ext> with path separators in feed replaced
func FilePath(dir, feed, ext string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, feed)
	return filepath.Join(dir, safe+"."+ext)
}
