package scanner

import "fmt"

// Guard refuses scans whose removals look like a broken page rather than a
// real change to the listing.
type Guard struct {
	// MaxRemovalRatio is the largest share of active announcements a
	// non-empty scan may remove.
	MaxRemovalRatio float64
	// MinTracked is the number of active announcements below which the
	// ratio check is skipped.
	MinTracked int
}

// GuardError is a scan refused by the mass-removal guard. Nothing of the
// scan is committed.
type GuardError struct {
	Active     int
	Candidates int
	Removed    int
	Reason     string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("refusing scan: %s (active=%d candidates=%d removals=%d)",
		e.Reason, e.Active, e.Candidates, e.Removed)
}

// Check validates a plan against the guard. An empty candidate set is only
// trusted when the page confirmed it.
func (g Guard) Check(active, candidates, removed int, confirmedEmpty bool) error {
	if candidates == 0 {
		if active > 0 && !confirmedEmpty {
			return &GuardError{Active: active, Removed: removed, Reason: "empty listing was not confirmed by the page"}
		}
		return nil
	}
	if g.MaxRemovalRatio <= 0 || active < g.MinTracked || active == 0 {
		return nil
	}
	if float64(removed) > g.MaxRemovalRatio*float64(active) {
		return &GuardError{
			Active:     active,
			Candidates: candidates,
			Removed:    removed,
			Reason:     fmt.Sprintf("removal share exceeds %.0f%%", g.MaxRemovalRatio*100),
		}
	}
	return nil
}
