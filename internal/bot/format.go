package bot

import (
	"fmt"
	"strings"
	"time"

	"site_watcher/internal/model"
)

const (
	timeLayout = "2006-01-02 15:04 UTC"
	// maxNotified bounds the changes listed in one Telegram notification.
	maxNotified = 20
)

func changeLabel(t model.ChangeType) string {
	switch t {
	case model.ChangeNew:
		return "NEW"
	case model.ChangeModified:
		return "MODIFIED"
	case model.ChangeRemoved:
		return "REMOVED"
	default:
		return strings.ToUpper(string(t))
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(timeLayout)
}

// FormatNotification formats one scan's change set as a Telegram message.
func FormatNotification(changes []model.Change) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Site Watcher: %d change(s) detected\n", len(changes))
	for i, ch := range changes {
		if i == maxNotified {
			fmt.Fprintf(&b, "\n…and %d more. Use /changes to see them.", len(changes)-maxNotified)
			break
		}
		fmt.Fprintf(&b, "\n[%s] %s", changeLabel(ch.Type), ch.Title)
		if ch.Type != model.ChangeRemoved && ch.Link != "" {
			fmt.Fprintf(&b, "\n%s", ch.Link)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatStatus formats the scan status and schedule.
func FormatStatus(st model.ScanStatus, settings model.Settings) string {
	var b strings.Builder
	state := "idle"
	if st.IsScanning {
		state = "scanning"
	}
	fmt.Fprintf(&b, "State: %s\n", state)
	fmt.Fprintf(&b, "Tracked announcements: %d\n", st.AnnouncementCount)
	fmt.Fprintf(&b, "Last scan: %s\n", formatTime(st.LastScan))
	fmt.Fprintf(&b, "Next scan: %s\n", formatTime(st.NextAutoScan))
	fmt.Fprintf(&b, "Interval: %d sec\n", settings.RefreshInterval)
	email := "off"
	if settings.EmailEnabled {
		email = fmt.Sprintf("on (%d recipient(s))", len(settings.EmailRecipients))
	}
	fmt.Fprintf(&b, "Email: %s\n", email)
	if st.Error != "" {
		fmt.Fprintf(&b, "\nLast error: %s\n", st.Error)
	}
	if st.NotifyError != "" {
		fmt.Fprintf(&b, "\nNotification error: %s\n", st.NotifyError)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatChangeList formats recent changes, newest first.
func FormatChangeList(changes []model.Change) string {
	if len(changes) == 0 {
		return "No changes recorded yet."
	}
	var b strings.Builder
	b.WriteString("Recent changes:\n")
	for _, ch := range changes {
		fmt.Fprintf(&b, "\n%s [%s] %s", ch.DetectedAt.UTC().Format(timeLayout), changeLabel(ch.Type), ch.Title)
	}
	return b.String()
}

// FormatAnnouncementList formats tracked announcements.
func FormatAnnouncementList(items []model.Announcement) string {
	if len(items) == 0 {
		return "No announcements tracked yet. Use /scan to run a scan."
	}
	var b strings.Builder
	b.WriteString("Announcements:\n")
	for _, a := range items {
		fmt.Fprintf(&b, "\n#%d %s", a.ID, a.Title)
		if a.DateText != "" {
			fmt.Fprintf(&b, " (%s)", a.DateText)
		}
		if a.Removed() {
			b.WriteString(" [removed]")
		} else {
			fmt.Fprintf(&b, "\n   %s", a.Link)
		}
	}
	return b.String()
}
