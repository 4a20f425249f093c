package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"site_watcher/internal/model"
)

// readMoreLabels are link texts that carry no title.
var readMoreLabels = []string{"daha fazla oku", "read more"}

// HTML extracts announcement cards from a rendered listing page.
type HTML struct {
	itemSelector    string
	listingSelector string
	emptySelector   string
}

// NewHTML returns an extractor that takes every element matching
// itemSelector as an item link. The page must contain listingSelector to be
// considered a listing; emptySelector, when set, marks a genuinely empty one.
func NewHTML(itemSelector, listingSelector, emptySelector string) *HTML {
	if listingSelector == "" {
		listingSelector = "body"
	}
	return &HTML{
		itemSelector:    itemSelector,
		listingSelector: listingSelector,
		emptySelector:   emptySelector,
	}
}

// Extract implements Extractor.
func (h *HTML) Extract(page *model.Page) (*Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &Error{URL: page.URL, Err: fmt.Errorf("parse html: %w", err)}
	}
	if doc.Find(h.listingSelector).Length() == 0 {
		return nil, &Error{URL: page.URL, Err: fmt.Errorf("listing container %q not found", h.listingSelector)}
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, &Error{URL: page.URL, Err: fmt.Errorf("parse page url: %w", err)}
	}

	var records []model.Candidate
	seen := make(map[string]bool)
	doc.Find(h.itemSelector).Each(func(_ int, s *goquery.Selection) {
		c, ok := h.candidate(base, s)
		if !ok || seen[c.Link] {
			return
		}
		seen[c.Link] = true
		records = append(records, c)
	})

	listing := &Listing{Records: records}
	if len(records) == 0 && h.emptySelector != "" && doc.Find(h.emptySelector).Length() > 0 {
		listing.ConfirmedEmpty = true
	}
	return listing, nil
}

func (h *HTML) candidate(base *url.URL, s *goquery.Selection) (model.Candidate, bool) {
	href, ok := s.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return model.Candidate{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return model.Candidate{}, false
	}

	// The card holding date and title wraps the link two levels up.
	card := s.Parent().Parent()
	if card.Length() == 0 {
		card = s
	}
	lines := textLines(card.Nodes[0])

	title, dateText := titleAndDate(lines)
	if title == "" {
		title = Normalize(s.Text())
		if isReadMore(title) {
			title = ""
			if len(lines) > 0 {
				title = lines[0]
			}
		}
	}
	if title == "" || isReadMore(title) {
		return model.Candidate{}, false
	}

	return model.Candidate{
		Title:    title,
		DateText: dateText,
		Link:     base.ResolveReference(ref).String(),
		Content:  Normalize(strings.Join(lines, " ")),
	}, true
}

// titleAndDate finds a day line (1-31) followed by month and year lines. The
// line after the year is the title.
func titleAndDate(lines []string) (title, dateText string) {
	for i, line := range lines {
		day, err := strconv.Atoi(line)
		if err != nil || day < 1 || day > 31 {
			continue
		}
		if i+2 < len(lines) {
			month := lines[i+1]
			year := lines[i+2]
			if _, err := strconv.Atoi(year); err != nil {
				year = ""
			}
			dateText = strings.TrimSpace(line + " " + month + " " + year)
			if i+3 < len(lines) {
				title = lines[i+3]
			}
		}
		break
	}
	return title, dateText
}

func isReadMore(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, label := range readMoreLabels {
		if s == label {
			return true
		}
	}
	return false
}
