package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"site_watcher/internal/diff"
	"site_watcher/internal/model"
)

var (
	t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(10 * time.Minute)
	t2 = t1.Add(10 * time.Minute)
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func cand(link, content string) model.Candidate {
	return model.Candidate{Title: "Title " + link, DateText: "1 Mart 2026", Link: link, Content: content}
}

// scan runs one diff-and-commit cycle the way the scanner does.
func scan(t *testing.T, s *SQLite, at time.Time, candidates ...model.Candidate) []model.Change {
	t.Helper()
	ctx := context.Background()
	prev, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	changes, err := s.CommitScan(ctx, "scan-"+at.Format("150405"), at, diff.Diff(prev, candidates))
	if err != nil {
		t.Fatalf("commit scan: %v", err)
	}
	return changes
}

func str(v string) *string { return &v }

func TestCommitScanNewAnnouncements(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	changes := scan(t, s, t0, cand("https://x/duyuru/1", "a"), cand("https://x/duyuru/2", "b"))

	want := []model.Change{
		{ScanID: "scan-090000", Type: model.ChangeNew, DetectedAt: t0, Title: "Title https://x/duyuru/1", Link: "https://x/duyuru/1", NewContent: str("a")},
		{ScanID: "scan-090000", Type: model.ChangeNew, DetectedAt: t0, Title: "Title https://x/duyuru/2", Link: "https://x/duyuru/2", NewContent: str("b")},
	}
	ignoreIDs := cmpopts.IgnoreFields(model.Change{}, "ID", "AnnouncementID")
	if diff := cmp.Diff(want, changes, ignoreIDs); diff != "" {
		t.Errorf("CommitScan mismatch (-want +got):\n%s", diff)
	}
	for _, ch := range changes {
		if ch.ID == 0 || ch.AnnouncementID == 0 {
			t.Errorf("change %q missing ids: %+v", ch.Link, ch)
		}
	}

	list, err := s.ListAnnouncements(ctx, 0)
	if err != nil {
		t.Fatalf("list announcements: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 announcements, got %d", len(list))
	}
	for _, a := range list {
		if !a.FirstSeen.Equal(a.LastSeen) || !a.FirstSeen.Equal(t0) {
			t.Errorf("announcement %q: first_seen=%v last_seen=%v, want both %v", a.Link, a.FirstSeen, a.LastSeen, t0)
		}
		if a.ContentHash == "" || a.Removed() {
			t.Errorf("announcement %q unexpected state: %+v", a.Link, a)
		}
	}
}

func TestCommitScanIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	items := []model.Candidate{cand("A", "a"), cand("B", "b")}
	scan(t, s, t0, items...)
	if got := scan(t, s, t1, items...); len(got) != 0 {
		t.Fatalf("second scan produced %d changes, want 0", len(got))
	}

	list, err := s.ListAnnouncements(ctx, 0)
	if err != nil {
		t.Fatalf("list announcements: %v", err)
	}
	for _, a := range list {
		if !a.FirstSeen.Equal(t0) || !a.LastSeen.Equal(t1) {
			t.Errorf("announcement %q: first_seen=%v last_seen=%v", a.Link, a.FirstSeen, a.LastSeen)
		}
	}

	changes, err := s.ListChanges(ctx, 0)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 2 {
		t.Errorf("expected 2 change records, got %d", len(changes))
	}
}

func TestCommitScanModifiedAndRemoved(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	scan(t, s, t0, cand("A", "1"), cand("B", "2"))
	got := scan(t, s, t1, cand("A", "9"), cand("C", "3"))

	want := []model.Change{
		{Type: model.ChangeNew, Link: "C", NewContent: str("3")},
		{Type: model.ChangeModified, Link: "A", OldContent: str("1"), NewContent: str("9")},
		{Type: model.ChangeRemoved, Link: "B", OldContent: str("2")},
	}
	opts := cmpopts.IgnoreFields(model.Change{}, "ID", "ScanID", "AnnouncementID", "DetectedAt", "Title")
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	byLink := map[string]model.Tracked{}
	for _, tr := range snap {
		byLink[tr.Link] = tr
	}
	if byLink["A"].Content != "9" || byLink["A"].ContentHash != diff.Hash("9") {
		t.Errorf("A not refreshed: %+v", byLink["A"])
	}
	if byLink["B"].RemovedAt == nil || !byLink["B"].RemovedAt.Equal(t1) {
		t.Errorf("B not marked removed: %+v", byLink["B"])
	}
	if byLink["B"].Content != "2" {
		t.Errorf("removed B lost its content: %q", byLink["B"].Content)
	}

	n, err := s.CountActive(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("CountActive = %d, want 2", n)
	}

	// Removed announcements are not removed again.
	if got := scan(t, s, t2, cand("A", "9"), cand("C", "3")); len(got) != 0 {
		t.Errorf("expected no changes, got %+v", got)
	}
}

func TestCommitScanRevivesRemovedLink(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	first := scan(t, s, t0, cand("A", "1"), cand("B", "2"))
	scan(t, s, t1, cand("A", "1"))
	revived := scan(t, s, t2, cand("A", "1"), cand("B", "2b"))

	if len(revived) != 1 || revived[0].Type != model.ChangeNew {
		t.Fatalf("expected one new change, got %+v", revived)
	}
	if revived[0].AnnouncementID != first[1].AnnouncementID {
		t.Errorf("revived row id = %d, want %d", revived[0].AnnouncementID, first[1].AnnouncementID)
	}

	list, err := s.ListAnnouncements(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, a := range list {
		if a.Link != "B" {
			continue
		}
		if a.Removed() || !a.FirstSeen.Equal(t0) || !a.LastSeen.Equal(t2) {
			t.Errorf("B not revived correctly: %+v", a)
		}
	}
}

func TestCommitScanRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	scan(t, s, t0, cand("A", "1"))

	tests := []struct {
		name string
		plan diff.Plan
	}{
		{
			name: "change without announcement",
			plan: diff.Plan{
				ToCreate: []diff.Create{{Candidate: cand("B", "2"), Hash: diff.Hash("2")}},
				Changes:  []model.Change{{Type: model.ChangeNew, Link: "missing"}},
			},
		},
		{
			name: "foreign key violation",
			plan: diff.Plan{
				ToCreate: []diff.Create{{Candidate: cand("B", "2"), Hash: diff.Hash("2")}},
				ToRemove: []diff.Removal{{ID: 1}},
				Changes:  []model.Change{{AnnouncementID: 999, Type: model.ChangeRemoved, Link: "ghost"}},
			},
		},
		{
			name: "duplicate link insert",
			plan: diff.Plan{
				ToCreate: []diff.Create{{Candidate: cand("A", "x"), Hash: diff.Hash("x")}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := s.Snapshot(ctx)
			if err != nil {
				t.Fatalf("snapshot: %v", err)
			}

			_, err = s.CommitScan(ctx, "bad", t1, tt.plan)
			var serr *Error
			if !errors.As(err, &serr) {
				t.Fatalf("expected *storage.Error, got %v", err)
			}

			after, err := s.Snapshot(ctx)
			if err != nil {
				t.Fatalf("snapshot: %v", err)
			}
			if diff := cmp.Diff(before, after); diff != "" {
				t.Errorf("state changed after failed commit (-before +after):\n%s", diff)
			}
		})
	}
}

func TestCommitScanCancelledContext(t *testing.T) {
	s := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := diff.Diff(nil, []model.Candidate{cand("A", "1")})
	_, err := s.CommitScan(ctx, "cancelled", t0, plan)
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected *storage.Error, got %v", err)
	}

	n, err := s.CountActive(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("CountActive = %d after cancelled commit, want 0", n)
	}
}

func TestListChangesOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	scan(t, s, t0, cand("A", "1"), cand("B", "2"))
	scan(t, s, t1, cand("A", "1"), cand("C", "3"))

	got, err := s.ListChanges(ctx, 0)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	var order []string
	for _, ch := range got {
		order = append(order, string(ch.Type)+":"+ch.Link)
	}
	want := []string{"new:C", "removed:B", "new:A", "new:B"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("change order mismatch (-want +got):\n%s", diff)
	}

	limited, err := s.ListChanges(ctx, 3)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(limited) != 3 {
		t.Errorf("expected 3 changes, got %d", len(limited))
	}
}

func TestListAnnouncementsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	scan(t, s, t0, cand("A", "1"), cand("B", "2"))
	scan(t, s, t1, cand("B", "2"))

	got, err := s.ListAnnouncements(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var links []string
	for _, a := range got {
		links = append(links, a.Link)
	}
	if diff := cmp.Diff([]string{"B", "A"}, links); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	one, err := s.ListAnnouncements(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("expected 1 announcement, got %d", len(one))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	want := model.DefaultSettings()
	want.EmailRecipients = []string{}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("seeded settings mismatch (-want +got):\n%s", diff)
	}

	updated := model.Settings{
		RefreshInterval: 120,
		EmailEnabled:    true,
		EmailSender:     "watcher@example.com",
		EmailRecipients: []string{"a@example.com", "b@example.com"},
		SMTPServer:      "smtp.example.com",
		SMTPPort:        2525,
		SMTPUsername:    "user",
		SMTPPassword:    "secret",
	}
	if err := s.PutSettings(ctx, updated); err != nil {
		t.Fatalf("put settings: %v", err)
	}
	got, err = s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if diff := cmp.Diff(updated, got); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	got, err := s.GetStatus(ctx)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if diff := cmp.Diff(model.ScanStatus{}, got); diff != "" {
		t.Errorf("initial status mismatch (-want +got):\n%s", diff)
	}

	scan(t, s, t0, cand("A", "1"), cand("B", "2"))
	next := t0.Add(10 * time.Minute)
	// IsScanning is process state and is not persisted.
	put := model.ScanStatus{LastScan: &t0, IsScanning: true, Error: "fetch failed", NextAutoScan: &next}
	if err := s.PutStatus(ctx, put); err != nil {
		t.Fatalf("put status: %v", err)
	}

	got, err = s.GetStatus(ctx)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	want := model.ScanStatus{LastScan: &t0, AnnouncementCount: 2, Error: "fetch failed", NextAutoScan: &next}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestAnnouncementsCannotBeDeletedWithHistory(t *testing.T) {
	s := newTestDB(t)
	scan(t, s, t0, cand("A", "1"))

	if _, err := s.db.Exec(`DELETE FROM announcements WHERE link = 'A'`); err == nil {
		t.Fatal("expected foreign key error deleting an announcement with changes")
	}
}
