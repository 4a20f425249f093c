// Package extract turns a fetched listing page into ordered candidate records.
package extract

import (
	"fmt"

	"site_watcher/internal/model"
)

// Listing is the result of one extraction. Records keep listing order.
// ConfirmedEmpty is set only when the page positively shows an empty
// listing, as opposed to merely yielding no records.
type Listing struct {
	Records        []model.Candidate
	ConfirmedEmpty bool
}

// Extractor parses a page into candidate records. Identical pages yield
// identical listings.
type Extractor interface {
	Extract(page *model.Page) (*Listing, error)
}

// Error means the page could not be parsed into a well-formed listing.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
