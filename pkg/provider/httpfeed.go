package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"feedharvest/pkg/fetch"
	"feedharvest/pkg/logger"
	"feedharvest/pkg/models"
)

// Fetcher fetches a URL; *fetch.Client satisfies it
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// HTTPFeedConfig describes an HTTP feed
type HTTPFeedConfig struct {
	// URL may contain {page}, replaced by the 1-based page number
	URL      string
	Selector string
	// KeepPages bounds how many of the most recent pages stay visible;
	// 0 keeps all of them
	KeepPages int
}

// HTTPFeed reveals one more page of an HTTP feed per Advance. Size counts
// the bytes of every distinct page fetched so far, so it stops growing
// once the feed runs out.
type HTTPFeed struct {
	client Fetcher
	cfg    HTTPFeedConfig
	log    logger.Logger

	mu        sync.Mutex
	pages     []page
	size      int64
	next      int
	lastHash  [32]byte
	exhausted bool
}

// NewHTTPFeed creates an HTTP feed provider. Nothing is fetched until the
// first IsReady call.
func NewHTTPFeed(client Fetcher, cfg HTTPFeedConfig, log logger.Logger) (*HTTPFeed, error) {
	if client == nil {
		return nil, fmt.Errorf("http feed needs a client")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("http feed needs a url")
	}
	if cfg.Selector == "" {
		return nil, fmt.Errorf("http feed needs a fragment selector")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &HTTPFeed{
		client: client,
		cfg:    cfg,
		log:    log.WithField("component", "http_feed"),
		next:   1,
	}, nil
}

// IsReady fetches the first page if it has not been fetched yet
func (h *HTTPFeed) IsReady(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pages) > 0 {
		return true, nil
	}
	if _, err := h.fetchNext(ctx); err != nil {
		return false, err
	}
	return len(h.pages) > 0, nil
}

// CurrentContent returns the visible pages
func (h *HTTPFeed) CurrentContent(ctx context.Context) (models.Content, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return join(h.pages, h.size), nil
}

// Advance fetches the next page. A missing page or a page identical to the
// previous one marks the feed exhausted; further advances do nothing.
func (h *HTTPFeed) Advance(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exhausted {
		return nil
	}
	grew, err := h.fetchNext(ctx)
	if err != nil {
		return err
	}
	if !grew {
		h.exhausted = true
		h.log.DebugWithFields("Feed exhausted", map[string]interface{}{
			"pages": h.next - 1,
		})
	}
	return nil
}

// Close releases nothing; the HTTP client is shared
func (h *HTTPFeed) Close() error {
	return nil
}

func (h *HTTPFeed) pageURL(n int) string {
	return strings.ReplaceAll(h.cfg.URL, "{page}", strconv.Itoa(n))
}

// fetchNext fetches page h.next and reports whether it revealed anything new
func (h *HTTPFeed) fetchNext(ctx context.Context) (bool, error) {
	url := h.pageURL(h.next)
	body, err := h.client.Get(ctx, url)
	if err != nil {
		var serr *fetch.StatusError
		if errors.As(err, &serr) && serr.Code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}

	sum := blake2b.Sum256(body)
	if len(h.pages) > 0 && sum == h.lastHash {
		return false, nil
	}

	frags, err := SplitHTML(body, h.cfg.Selector)
	if err != nil {
		return false, err
	}
	if len(frags) == 0 && len(h.pages) > 0 {
		return false, nil
	}

	h.lastHash = sum
	h.next++
	h.size += int64(len(body))
	h.pages = append(h.pages, page{frags: frags})
	if h.cfg.KeepPages > 0 && len(h.pages) > h.cfg.KeepPages {
		h.pages = h.pages[len(h.pages)-h.cfg.KeepPages:]
	}

	h.log.DebugWithFields("Fetched feed page", map[string]interface{}{
		"url":       url,
		"fragments": len(frags),
		"bytes":     len(body),
	})
	return true, nil
}
