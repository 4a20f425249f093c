package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"site_watcher/internal/diff"
	"site_watcher/internal/model"
	"site_watcher/migrations"
)

// Fixed width, always UTC: lexical order of stored values is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Snapshot implements Storage.
func (s *SQLite) Snapshot(ctx context.Context) ([]model.Tracked, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.title, a.date_text, a.link, a.content_hash, a.first_seen, a.last_seen, a.removed_at,
		        COALESCE((SELECT c.new_content FROM changes c
		                  WHERE c.announcement_id = a.id AND c.new_content IS NOT NULL
		                  ORDER BY c.id DESC LIMIT 1), '')
		 FROM announcements a ORDER BY a.id`,
	)
	if err != nil {
		return nil, wrap("snapshot", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Tracked
	for rows.Next() {
		var t model.Tracked
		a, err := scanAnnouncement(rows, &t.Content)
		if err != nil {
			return nil, wrap("snapshot", err)
		}
		t.Announcement = a
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("snapshot", err)
	}
	return out, nil
}

// CommitScan implements Storage. Every row touched by the plan shares
// detectedAt as its last_seen, removed_at and detected_at.
func (s *SQLite) CommitScan(ctx context.Context, scanID string, detectedAt time.Time, plan diff.Plan) ([]model.Change, error) {
	detectedAt = detectedAt.UTC()
	ts := detectedAt.Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("begin scan commit", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make(map[string]int64, len(plan.ToCreate))
	for _, c := range plan.ToCreate {
		id, err := upsertAnnouncement(ctx, tx, 0, c.Candidate, c.Hash, true, ts)
		if err != nil {
			return nil, wrap("commit scan", err)
		}
		ids[c.Candidate.Link] = id
	}
	for _, u := range plan.ToUpdate {
		if _, err := upsertAnnouncement(ctx, tx, u.ID, u.Candidate, u.Hash, u.Modified || u.Revived, ts); err != nil {
			return nil, wrap("commit scan", err)
		}
	}
	for _, r := range plan.ToRemove {
		if err := markRemoved(ctx, tx, r.ID, ts); err != nil {
			return nil, wrap("commit scan", err)
		}
	}

	out := make([]model.Change, 0, len(plan.Changes))
	for _, ch := range plan.Changes {
		ch.ScanID = scanID
		ch.DetectedAt = detectedAt
		if ch.AnnouncementID == 0 {
			id, ok := ids[ch.Link]
			if !ok {
				return nil, wrap("commit scan", fmt.Errorf("no announcement for change link %q", ch.Link))
			}
			ch.AnnouncementID = id
		}
		if err := appendChange(ctx, tx, &ch); err != nil {
			return nil, wrap("commit scan", err)
		}
		out = append(out, ch)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap("commit scan", err)
	}
	return out, nil
}

// upsertAnnouncement inserts a new row when id is zero. Otherwise it advances
// last_seen and, when refresh is set, rewrites the descriptive fields and
// clears any removal marker.
func upsertAnnouncement(ctx context.Context, tx *sql.Tx, id int64, c model.Candidate, hash string, refresh bool, ts string) (int64, error) {
	if id == 0 {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO announcements (title, date_text, link, content_hash, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.Title, c.DateText, c.Link, hash, ts, ts,
		)
		if err != nil {
			return 0, fmt.Errorf("insert announcement %q: %w", c.Link, err)
		}
		return res.LastInsertId()
	}

	var err error
	if refresh {
		_, err = tx.ExecContext(ctx,
			`UPDATE announcements
			 SET title = ?, date_text = ?, content_hash = ?, last_seen = ?, removed_at = NULL
			 WHERE id = ?`,
			c.Title, c.DateText, hash, ts, id,
		)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE announcements SET last_seen = ? WHERE id = ?`, ts, id)
	}
	if err != nil {
		return 0, fmt.Errorf("update announcement %d: %w", id, err)
	}
	return id, nil
}

func markRemoved(ctx context.Context, tx *sql.Tx, id int64, ts string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE announcements SET removed_at = ? WHERE id = ?`, ts, id); err != nil {
		return fmt.Errorf("mark announcement %d removed: %w", id, err)
	}
	return nil
}

func appendChange(ctx context.Context, tx *sql.Tx, ch *model.Change) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO changes (scan_id, announcement_id, change_type, detected_at, title, link, old_content, new_content)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ScanID, ch.AnnouncementID, string(ch.Type), ch.DetectedAt.Format(timeLayout),
		ch.Title, ch.Link, ch.OldContent, ch.NewContent,
	)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	ch.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

// ListAnnouncements returns announcements ordered by last_seen, newest first.
// A non-positive limit returns all rows.
func (s *SQLite) ListAnnouncements(ctx context.Context, limit int) ([]model.Announcement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, date_text, link, content_hash, first_seen, last_seen, removed_at
		 FROM announcements ORDER BY last_seen DESC, id LIMIT ?`, sqlLimit(limit),
	)
	if err != nil {
		return nil, wrap("list announcements", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, wrap("list announcements", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list announcements", err)
	}
	return out, nil
}

// CountActive returns the number of announcements not marked removed.
func (s *SQLite) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM announcements WHERE removed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, wrap("count announcements", err)
	}
	return n, nil
}

// ListChanges returns the most recent changes, newest scan first and in
// detection order within a scan.
func (s *SQLite) ListChanges(ctx context.Context, limit int) ([]model.Change, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scan_id, announcement_id, change_type, detected_at, title, link, old_content, new_content
		 FROM changes ORDER BY detected_at DESC, id LIMIT ?`, sqlLimit(limit),
	)
	if err != nil {
		return nil, wrap("list changes", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Change
	for rows.Next() {
		var (
			ch       model.Change
			typ      string
			detected string
			oldC     sql.NullString
			newC     sql.NullString
		)
		if err := rows.Scan(&ch.ID, &ch.ScanID, &ch.AnnouncementID, &typ, &detected, &ch.Title, &ch.Link, &oldC, &newC); err != nil {
			return nil, wrap("list changes", fmt.Errorf("scan change: %w", err))
		}
		ch.Type = model.ChangeType(typ)
		ch.DetectedAt = parseTime(detected)
		ch.OldContent = nullString(oldC)
		ch.NewContent = nullString(newC)
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list changes", err)
	}
	return out, nil
}

// GetSettings returns the singleton settings row.
func (s *SQLite) GetSettings(ctx context.Context) (model.Settings, error) {
	var (
		st         model.Settings
		enabled    int
		recipients string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT refresh_interval, email_enabled, email_sender, email_recipients,
		        smtp_server, smtp_port, smtp_username, smtp_password
		 FROM settings WHERE id = 1`,
	).Scan(&st.RefreshInterval, &enabled, &st.EmailSender, &recipients,
		&st.SMTPServer, &st.SMTPPort, &st.SMTPUsername, &st.SMTPPassword)
	if err != nil {
		return model.Settings{}, wrap("get settings", err)
	}
	st.EmailEnabled = enabled == 1
	if err := json.Unmarshal([]byte(recipients), &st.EmailRecipients); err != nil {
		return model.Settings{}, wrap("get settings", fmt.Errorf("decode recipients: %w", err))
	}
	return st, nil
}

// PutSettings replaces the singleton settings row.
func (s *SQLite) PutSettings(ctx context.Context, st model.Settings) error {
	recipients := st.EmailRecipients
	if recipients == nil {
		recipients = []string{}
	}
	raw, err := json.Marshal(recipients)
	if err != nil {
		return wrap("put settings", fmt.Errorf("encode recipients: %w", err))
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE settings SET refresh_interval = ?, email_enabled = ?, email_sender = ?, email_recipients = ?,
		        smtp_server = ?, smtp_port = ?, smtp_username = ?, smtp_password = ?
		 WHERE id = 1`,
		st.RefreshInterval, boolToInt(st.EmailEnabled), st.EmailSender, string(raw),
		st.SMTPServer, st.SMTPPort, st.SMTPUsername, st.SMTPPassword,
	)
	if err != nil {
		return wrap("put settings", err)
	}
	return nil
}

// GetStatus returns the persisted scan status. AnnouncementCount is always
// recomputed from the announcement rows.
func (s *SQLite) GetStatus(ctx context.Context) (model.ScanStatus, error) {
	var (
		st       model.ScanStatus
		lastScan sql.NullString
		next     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_scan, error, next_auto_scan FROM scan_status WHERE id = 1`,
	).Scan(&lastScan, &st.Error, &next)
	if err != nil {
		return model.ScanStatus{}, wrap("get status", err)
	}
	st.LastScan = nullTime(lastScan)
	st.NextAutoScan = nullTime(next)

	st.AnnouncementCount, err = s.CountActive(ctx)
	if err != nil {
		return model.ScanStatus{}, err
	}
	return st, nil
}

// PutStatus persists last_scan, error and next_auto_scan.
func (s *SQLite) PutStatus(ctx context.Context, st model.ScanStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_status SET last_scan = ?, error = ?, next_auto_scan = ? WHERE id = 1`,
		formatTime(st.LastScan), st.Error, formatTime(st.NextAutoScan),
	)
	if err != nil {
		return wrap("put status", err)
	}
	return nil
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

// scanAnnouncement reads the announcement columns followed by any extra
// destinations.
func scanAnnouncement(row scannable, extra ...any) (model.Announcement, error) {
	var (
		a         model.Announcement
		firstSeen string
		lastSeen  string
		removedAt sql.NullString
	)
	dest := append([]any{&a.ID, &a.Title, &a.DateText, &a.Link, &a.ContentHash, &firstSeen, &lastSeen, &removedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return a, fmt.Errorf("scan announcement: %w", err)
	}
	a.FirstSeen = parseTime(firstSeen)
	a.LastSeen = parseTime(lastSeen)
	a.RemovedAt = nullTime(removedAt)
	return a, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
