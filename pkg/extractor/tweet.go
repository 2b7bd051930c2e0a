package extractor

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"feedharvest/pkg/models"
)

// DefaultBaseURL resolves relative status links
const DefaultBaseURL = "https://x.com"

var (
	statusID   = regexp.MustCompile(`/status/(\d+)`)
	whitespace = regexp.MustCompile(`\s+`)
)

// TweetExtractor reads one rendered post article
type TweetExtractor struct {
	BaseURL string
}

// NewTweetExtractor creates an extractor resolving links against baseURL,
// or DefaultBaseURL when empty
func NewTweetExtractor(baseURL string) *TweetExtractor {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &TweetExtractor{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Extract parses a fragment. It returns nil, nil for fragments that carry
// no post at all, such as placeholders and "show more" rows.
func (e *TweetExtractor) Extract(f models.Fragment) (*models.Post, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(f.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse fragment %d: %w", f.Index, err)
	}
	s := doc.Selection

	p := &models.Post{}
	if href, ok := s.Find("a[href*='/status/']").First().Attr("href"); ok {
		p.Link = e.absolute(href)
		if m := statusID.FindStringSubmatch(href); m != nil {
			p.ID = m[1]
		}
	}

	p.AuthorName, p.AuthorHandle = authorOf(s.Find("[data-testid='User-Name']").First())
	p.Text = clean(s.Find("[data-testid='tweetText']").First().Text())
	p.Timestamp, _ = s.Find("time[datetime]").First().Attr("datetime")

	if p.Link == "" && p.Timestamp == "" && p.Text == "" {
		return nil, nil
	}

	p.Replies = count(s, "reply")
	p.Reposts = count(s, "retweet")
	p.Likes = count(s, "like")

	s.Find("img[alt='Image']").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			p.ImageURLs = append(p.ImageURLs, src)
		}
	})

	p.IsReply, p.ReplyTo = replyOf(s)

	if conv, ok := s.Find("[data-conversation-id]").First().Attr("data-conversation-id"); ok {
		p.ConversationID = conv
	} else if !p.IsReply {
		p.ConversationID = p.ID
	}

	return p, nil
}

func (e *TweetExtractor) absolute(href string) string {
	if strings.HasPrefix(href, "/") {
		return e.BaseURL + href
	}
	return href
}

// authorOf reads the display name and @handle from a User-Name block
func authorOf(block *goquery.Selection) (name, handle string) {
	block.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		text := clean(span.Text())
		switch {
		case text == "" || text == "·":
		case strings.HasPrefix(text, "@"):
			if handle == "" {
				handle = text
			}
		case name == "":
			name = text
		}
		return name == "" || handle == ""
	})
	return name, handle
}

func count(s *goquery.Selection, metric string) string {
	return clean(s.Find(fmt.Sprintf("[data-testid='%s-count']", metric)).First().Text())
}

// replyOf finds the "Replying to" marker and the first handle it names
func replyOf(s *goquery.Selection) (bool, string) {
	var marker *goquery.Selection
	s.Find("div").EachWithBreak(func(_ int, d *goquery.Selection) bool {
		if d.Children().Length() > 0 && d.Children().First().Is("div") {
			return true
		}
		if strings.HasPrefix(clean(d.Text()), "Replying to") {
			marker = d
			return false
		}
		return true
	})
	if marker == nil {
		return false, ""
	}

	to := ""
	marker.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if text := clean(a.Text()); strings.HasPrefix(text, "@") {
			to = text
			return false
		}
		return true
	})
	if to == "" {
		if fields := strings.Fields(strings.TrimPrefix(clean(marker.Text()), "Replying to")); len(fields) > 0 {
			to = fields[0]
		}
	}
	return true, to
}

func clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
