package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"site_watcher/internal/model"
)

// ChannelEmail names the email channel in results and metrics.
const ChannelEmail = "email"

// ErrNotConfigured means email is enabled but cannot be sent.
var ErrNotConfigured = errors.New("email settings incomplete")

// Message is a rendered email for a single recipient.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Transport sends a rendered message using the server in settings.
type Transport interface {
	Send(ctx context.Context, settings model.Settings, msg Message) error
}

// Email sends one message per recipient when email is enabled.
type Email struct {
	transport  Transport
	listingURL string
	log        *slog.Logger
}

// NewEmail creates an email notifier. listingURL is linked from every message.
func NewEmail(transport Transport, listingURL string, log *slog.Logger) *Email {
	return &Email{transport: transport, listingURL: listingURL, log: log}
}

// Notify implements Notifier.
func (e *Email) Notify(ctx context.Context, changes []model.Change, settings model.Settings) Result {
	if !settings.EmailEnabled {
		return skipped(ChannelEmail, "email disabled")
	}
	if len(changes) == 0 {
		return skipped(ChannelEmail, "no changes")
	}

	var missing []string
	if settings.EmailSender == "" {
		missing = append(missing, "sender")
	}
	if len(settings.EmailRecipients) == 0 {
		missing = append(missing, "recipients")
	}
	if settings.SMTPServer == "" {
		missing = append(missing, "smtp server")
	}
	if len(missing) > 0 {
		err := fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
		return Result{Channel: ChannelEmail, Failures: []*TransportError{{Channel: ChannelEmail, Err: err}}}
	}

	subject, text, html, err := e.render(changes)
	if err != nil {
		return Result{Channel: ChannelEmail, Failures: []*TransportError{{Channel: ChannelEmail, Err: err}}}
	}

	res := Result{Channel: ChannelEmail}
	for _, rcpt := range settings.EmailRecipients {
		res.Attempted++
		msg := Message{From: settings.EmailSender, To: rcpt, Subject: subject, Text: text, HTML: html}
		if err := e.transport.Send(ctx, settings, msg); err != nil {
			e.log.Warn("send email", "recipient", rcpt, "error", err)
			res.Failures = append(res.Failures, &TransportError{Channel: ChannelEmail, Recipient: rcpt, Err: err})
			continue
		}
		res.Delivered++
	}
	e.log.Info("email notification sent", "delivered", res.Delivered, "attempted", res.Attempted)
	return res
}

type changeRow struct {
	Label      string
	Color      string
	Title      string
	Link       string
	DetectedAt string
}

type emailData struct {
	Count      int
	Rows       []changeRow
	ListingURL string
}

var changeLabels = map[model.ChangeType]struct{ label, color string }{
	model.ChangeNew:      {"🆕 YENİ", "#22c55e"},
	model.ChangeModified: {"✏️ DEĞİŞTİ", "#f59e0b"},
	model.ChangeRemoved:  {"🗑️ KALDIRILDI", "#ef4444"},
}

func (e *Email) render(changes []model.Change) (subject, text, html string, err error) {
	data := emailData{Count: len(changes), ListingURL: e.listingURL}
	var tb strings.Builder
	fmt.Fprintf(&tb, "%d change(s) detected\n\n", len(changes))
	for _, ch := range changes {
		l, ok := changeLabels[ch.Type]
		if !ok {
			l.label, l.color = string(ch.Type), "#6b7280"
		}
		row := changeRow{
			Label:      l.label,
			Color:      l.color,
			Title:      ch.Title,
			DetectedAt: ch.DetectedAt.Local().Format(time.DateTime),
		}
		if ch.Type != model.ChangeRemoved {
			row.Link = ch.Link
		}
		data.Rows = append(data.Rows, row)

		fmt.Fprintf(&tb, "%s  %s\n", l.label, ch.Title)
		if row.Link != "" {
			fmt.Fprintf(&tb, "    %s\n", row.Link)
		}
	}
	if e.listingURL != "" {
		fmt.Fprintf(&tb, "\nAnnouncements: %s\n", e.listingURL)
	}

	var hb bytes.Buffer
	if err := emailTemplate.Execute(&hb, data); err != nil {
		return "", "", "", fmt.Errorf("render email: %w", err)
	}
	return fmt.Sprintf("Site Watcher: %d change(s) detected", len(changes)), tb.String(), hb.String(), nil
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #f3f4f6; margin: 0; padding: 20px;">
<div style="max-width: 600px; margin: 0 auto; background-color: white; border-radius: 8px; overflow: hidden;">
  <div style="background-color: #6366f1; padding: 24px; text-align: center;">
    <h1 style="color: white; margin: 0; font-size: 24px;">Site Watcher</h1>
    <p style="color: #e0e7ff; margin: 8px 0 0 0; font-size: 14px;">{{.Count}} change(s) detected</p>
  </div>
  <div style="padding: 24px;">
    <table style="width: 100%; border-collapse: collapse;">
      <thead>
        <tr style="background-color: #f9fafb;">
          <th style="padding: 12px; text-align: left; font-size: 12px; color: #6b7280;">Type</th>
          <th style="padding: 12px; text-align: left; font-size: 12px; color: #6b7280;">Title</th>
          <th style="padding: 12px; text-align: left; font-size: 12px; color: #6b7280;">Detected At</th>
        </tr>
      </thead>
      <tbody>
      {{- range .Rows}}
        <tr>
          <td style="padding: 12px; border-bottom: 1px solid #e5e7eb;"><span style="padding: 4px 8px; border-radius: 4px; background-color: {{.Color}}; color: white; font-size: 12px; font-weight: bold;">{{.Label}}</span></td>
          <td style="padding: 12px; border-bottom: 1px solid #e5e7eb;">{{if .Link}}<a href="{{.Link}}" style="color: #2563eb; text-decoration: none;">{{.Title}}</a>{{else}}{{.Title}}{{end}}</td>
          <td style="padding: 12px; border-bottom: 1px solid #e5e7eb; color: #6b7280; font-size: 12px;">{{.DetectedAt}}</td>
        </tr>
      {{- end}}
      </tbody>
    </table>
    {{- if .ListingURL}}
    <p style="margin-top: 24px;"><a href="{{.ListingURL}}" style="padding: 12px 24px; background-color: #6366f1; color: white; text-decoration: none; border-radius: 6px;">View announcements</a></p>
    {{- end}}
  </div>
  <div style="background-color: #f9fafb; padding: 16px 24px; text-align: center;">
    <p style="color: #9ca3af; margin: 0; font-size: 12px;">This is an automated notification from Site Watcher.</p>
  </div>
</div>
</body>
</html>
`))
