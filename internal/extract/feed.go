package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"site_watcher/internal/model"
)

// Feed extracts items from an RSS, Atom or JSON feed listing.
type Feed struct{}

// NewFeed returns a feed extractor.
func NewFeed() *Feed {
	return &Feed{}
}

// Extract implements Extractor. A well-formed feed without items is a
// confirmed empty listing.
func (f *Feed) Extract(page *model.Page) (*Listing, error) {
	parser := gofeed.NewParser()
	feed, err := parser.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &Error{URL: page.URL, Err: fmt.Errorf("parse feed: %w", err)}
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, &Error{URL: page.URL, Err: fmt.Errorf("parse page url: %w", err)}
	}

	var records []model.Candidate
	seen := make(map[string]bool, len(feed.Items))
	for _, item := range feed.Items {
		link := itemLink(base, item)
		title := Normalize(StripMarkup(item.Title))
		if link == "" || title == "" || seen[link] {
			continue
		}
		seen[link] = true
		records = append(records, model.Candidate{
			Title:    title,
			DateText: strings.TrimSpace(item.Published),
			Link:     link,
			Content:  Normalize(StripMarkup(item.Title + " " + item.Description + " " + item.Content)),
		})
	}

	return &Listing{
		Records:        records,
		ConfirmedEmpty: len(feed.Items) == 0,
	}, nil
}

// itemLink resolves the item link against the page, falling back to the GUID.
func itemLink(base *url.URL, item *gofeed.Item) string {
	raw := strings.TrimSpace(item.Link)
	if raw == "" {
		return strings.TrimSpace(item.GUID)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}
