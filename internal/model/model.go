// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"net/mail"
	"time"
)

// Announcement is one tracked listing item. Link is its natural key.
type Announcement struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	DateText    string     `json:"date_text"`
	Link        string     `json:"link"`
	ContentHash string     `json:"content_hash"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	RemovedAt   *time.Time `json:"removed_at,omitempty"`
}

// Removed reports whether the latest scan that touched the item marked it removed.
func (a Announcement) Removed() bool {
	return a.RemovedAt != nil
}

// Tracked pairs an announcement with the normalized content recorded by its
// most recent new or modified change.
type Tracked struct {
	Announcement
	Content string
}

// ChangeType classifies a detected transition.
type ChangeType string

// Supported change types.
const (
	ChangeNew      ChangeType = "new"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is an immutable audit record of one detected transition.
type Change struct {
	ID             int64      `json:"id"`
	ScanID         string     `json:"scan_id"`
	AnnouncementID int64      `json:"announcement_id"`
	Type           ChangeType `json:"change_type"`
	DetectedAt     time.Time  `json:"detected_at"`
	Title          string     `json:"title"`
	Link           string     `json:"link"`
	OldContent     *string    `json:"old_content"`
	NewContent     *string    `json:"new_content"`
}

// Candidate is an item extracted from the current page, before diffing.
type Candidate struct {
	Title    string
	DateText string
	Link     string
	Content  string
}

// Page is a fetched listing page.
type Page struct {
	URL         string
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// ScanStatus is the orchestrator's externally visible state.
type ScanStatus struct {
	LastScan          *time.Time `json:"last_scan"`
	IsScanning        bool       `json:"is_scanning"`
	AnnouncementCount int        `json:"announcement_count"`
	Error             string     `json:"error,omitempty"`
	NextAutoScan      *time.Time `json:"next_auto_scan"`
	NotifyError       string     `json:"notify_error,omitempty"`
}

// Refresh interval bounds, in seconds.
const (
	MinRefreshInterval     = 60
	MaxRefreshInterval     = 3600
	DefaultRefreshInterval = 600
)

// Settings is the runtime-mutable configuration.
type Settings struct {
	RefreshInterval int      `json:"refresh_interval"`
	EmailEnabled    bool     `json:"email_enabled"`
	EmailSender     string   `json:"email_sender"`
	EmailRecipients []string `json:"email_recipients"`
	SMTPServer      string   `json:"smtp_server"`
	SMTPPort        int      `json:"smtp_port"`
	SMTPUsername    string   `json:"smtp_username"`
	SMTPPassword    string   `json:"smtp_password"`
}

// DefaultSettings returns the values seeded into a fresh database.
func DefaultSettings() Settings {
	return Settings{
		RefreshInterval: DefaultRefreshInterval,
		SMTPServer:      "smtp.office365.com",
		SMTPPort:        587,
	}
}

// Interval returns the refresh interval as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

// Validate checks the settings bounds.
func (s Settings) Validate() error {
	if s.RefreshInterval < MinRefreshInterval || s.RefreshInterval > MaxRefreshInterval {
		return fmt.Errorf("refresh_interval must be between %d and %d seconds", MinRefreshInterval, MaxRefreshInterval)
	}
	if s.SMTPPort < 1 || s.SMTPPort > 65535 {
		return fmt.Errorf("smtp_port must be between 1 and 65535")
	}
	if s.EmailEnabled && s.EmailSender == "" {
		return fmt.Errorf("email_sender is required when email is enabled")
	}
	if s.EmailSender != "" {
		if _, err := mail.ParseAddress(s.EmailSender); err != nil {
			return fmt.Errorf("invalid email_sender %q", s.EmailSender)
		}
	}
	for _, r := range s.EmailRecipients {
		if _, err := mail.ParseAddress(r); err != nil {
			return fmt.Errorf("invalid recipient %q", r)
		}
	}
	return nil
}
