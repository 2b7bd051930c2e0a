package provider

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"feedharvest/pkg/models"
)

// SplitHTML returns the outer HTML of every element matching selector, in
// document order
func SplitHTML(page []byte, selector string) ([]models.Fragment, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	var frags []models.Fragment
	var outerErr error
	doc.Find(selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		html, err := goquery.OuterHtml(s)
		if err != nil {
			outerErr = fmt.Errorf("failed to render fragment %d: %w", i, err)
			return false
		}
		frags = append(frags, models.Fragment{Index: i, Body: []byte(html)})
		return true
	})
	if outerErr != nil {
		return nil, outerErr
	}
	return frags, nil
}

// page is one fetched or replayed page split into fragments
type page struct {
	frags []models.Fragment
}

// join concatenates pages into one content view with sequential indexes
func join(pages []page, size int64) models.Content {
	n := 0
	for _, p := range pages {
		n += len(p.frags)
	}
	out := make([]models.Fragment, 0, n)
	for _, p := range pages {
		for _, f := range p.frags {
			f.Index = len(out)
			out = append(out, f)
		}
	}
	return models.Content{Fragments: out, Size: size}
}
