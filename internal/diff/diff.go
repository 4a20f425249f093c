// Package diff classifies freshly extracted candidates against the tracked
// announcements. It performs no I/O.
package diff

import (
	"crypto/sha256"
	"encoding/hex"

	"site_watcher/internal/model"
)

// Hash returns the digest of normalized content used for change detection.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Create is a link that has never been tracked.
type Create struct {
	Candidate model.Candidate
	Hash      string
}

// Update refreshes an existing announcement. Unless Modified or Revived is
// set, only last_seen advances.
type Update struct {
	ID        int64
	Candidate model.Candidate
	Hash      string
	Modified  bool
	Revived   bool
}

// Removal marks a tracked announcement as absent from the listing.
type Removal struct {
	ID    int64
	Title string
	Link  string
}

// Plan is the update plan of one scan. Changes are ordered new, modified,
// removed; new and modified follow candidate order, removed follows the
// order of the previous snapshot. Changes for created links carry a zero
// AnnouncementID until the store assigns one.
type Plan struct {
	ToCreate []Create
	ToUpdate []Update
	ToRemove []Removal
	Changes  []model.Change
}

// Counts summarizes a plan.
type Counts struct {
	New       int
	Modified  int
	Removed   int
	Unchanged int
}

// Counts returns how many records fall in each class.
func (p Plan) Counts() Counts {
	var c Counts
	for _, ch := range p.Changes {
		switch ch.Type {
		case model.ChangeNew:
			c.New++
		case model.ChangeModified:
			c.Modified++
		case model.ChangeRemoved:
			c.Removed++
		}
	}
	for _, u := range p.ToUpdate {
		if !u.Modified && !u.Revived {
			c.Unchanged++
		}
	}
	return c
}

// Active returns the number of announcements that are active once the plan
// is applied: every distinct candidate, created or updated.
func (p Plan) Active() int {
	return len(p.ToCreate) + len(p.ToUpdate)
}

// Empty reports whether the plan records no change.
func (p Plan) Empty() bool {
	return len(p.Changes) == 0
}

// Diff compares the previous snapshot, keyed by link, with the candidates of
// the current scan.
func Diff(previous []model.Tracked, candidates []model.Candidate) Plan {
	byLink := make(map[string]model.Tracked, len(previous))
	for _, p := range previous {
		byLink[p.Link] = p
	}

	var (
		plan     Plan
		created  []model.Change
		modified []model.Change
		removed  []model.Change
	)
	seen := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		if seen[c.Link] {
			continue
		}
		seen[c.Link] = true

		hash := Hash(c.Content)
		prev, ok := byLink[c.Link]
		switch {
		case !ok:
			plan.ToCreate = append(plan.ToCreate, Create{Candidate: c, Hash: hash})
			created = append(created, model.Change{
				Type:       model.ChangeNew,
				Title:      c.Title,
				Link:       c.Link,
				NewContent: ptr(c.Content),
			})
		case prev.Removed():
			plan.ToUpdate = append(plan.ToUpdate, Update{ID: prev.ID, Candidate: c, Hash: hash, Revived: true})
			created = append(created, model.Change{
				AnnouncementID: prev.ID,
				Type:           model.ChangeNew,
				Title:          c.Title,
				Link:           c.Link,
				NewContent:     ptr(c.Content),
			})
		case prev.ContentHash != hash:
			plan.ToUpdate = append(plan.ToUpdate, Update{ID: prev.ID, Candidate: c, Hash: hash, Modified: true})
			modified = append(modified, model.Change{
				AnnouncementID: prev.ID,
				Type:           model.ChangeModified,
				Title:          c.Title,
				Link:           c.Link,
				OldContent:     ptr(prev.Content),
				NewContent:     ptr(c.Content),
			})
		default:
			plan.ToUpdate = append(plan.ToUpdate, Update{ID: prev.ID, Candidate: c, Hash: hash})
		}
	}

	for _, p := range previous {
		if seen[p.Link] || p.Removed() {
			continue
		}
		plan.ToRemove = append(plan.ToRemove, Removal{ID: p.ID, Title: p.Title, Link: p.Link})
		removed = append(removed, model.Change{
			AnnouncementID: p.ID,
			Type:           model.ChangeRemoved,
			Title:          p.Title,
			Link:           p.Link,
			OldContent:     ptr(p.Content),
		})
	}

	plan.Changes = make([]model.Change, 0, len(created)+len(modified)+len(removed))
	plan.Changes = append(plan.Changes, created...)
	plan.Changes = append(plan.Changes, modified...)
	plan.Changes = append(plan.Changes, removed...)
	return plan
}

func ptr(s string) *string {
	return &s
}
