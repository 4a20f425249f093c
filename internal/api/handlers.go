package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/feeds"

	"site_watcher/internal/model"
	"site_watcher/internal/scanner"
)

const (
	defaultAnnouncementsLimit = 200
	maxAnnouncementsLimit     = 1000
	defaultChangesLimit       = 50
	maxChangesLimit           = 500
)

type announcementView struct {
	model.Announcement
	Removed bool `json:"removed"`
}

type settingsView struct {
	model.Settings
	SMTPPasswordSet bool `json:"smtp_password_set"`
}

func redact(s model.Settings) settingsView {
	v := settingsView{Settings: s, SMTPPasswordSet: s.SMTPPassword != ""}
	v.SMTPPassword = ""
	if v.EmailRecipients == nil {
		v.EmailRecipients = []string{}
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultAnnouncementsLimit, maxAnnouncementsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.store.ListAnnouncements(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "list announcements", err)
		return
	}
	out := make([]announcementView, len(items))
	for i, a := range items {
		out[i] = announcementView{Announcement: a, Removed: a.Removed()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultChangesLimit, maxChangesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	changes, err := s.store.ListChanges(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "list changes", err)
		return
	}
	if changes == nil {
		changes = []model.Change{}
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleChangesFeed(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultChangesLimit, maxChangesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	changes, err := s.store.ListChanges(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "list changes", err)
		return
	}

	atom, err := buildFeed(s.listingURL, changes).ToAtom()
	if err != nil {
		s.internalError(w, r, "render atom", err)
		return
	}
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(atom))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	res, err := s.scanner.Trigger(r.Context())
	if err != nil {
		s.internalError(w, r, "trigger scan", err)
		return
	}
	if res == scanner.AlreadyScanning {
		writeError(w, http.StatusConflict, "Scan already in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Scan started"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.scanner.Settings(r.Context())
	if err != nil {
		s.internalError(w, r, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, redact(settings))
}

// handlePutSettings applies a partial update: fields missing from the body
// keep their stored values, and an empty password keeps the stored one.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.scanner.Settings(r.Context())
	if err != nil {
		s.internalError(w, r, "get settings", err)
		return
	}

	// Accepts the GET shape. smtp_password_set is read-only and ignored.
	req := settingsView{Settings: current}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	updated := req.Settings
	if updated.SMTPPassword == "" {
		updated.SMTPPassword = current.SMTPPassword
	}
	if err := updated.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.scanner.UpdateSettings(r.Context(), updated); err != nil {
		s.internalError(w, r, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, redact(updated))
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Error(op, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func buildFeed(listingURL string, changes []model.Change) *feeds.Feed {
	feed := &feeds.Feed{
		Title:       "Site Watcher changes",
		Link:        &feeds.Link{Href: listingURL, Rel: "alternate", Type: "text/html"},
		Description: "Announcements added, modified or removed on the watched listing",
		Id:          listingURL,
	}
	for _, ch := range changes {
		if ch.DetectedAt.After(feed.Updated) {
			feed.Updated = ch.DetectedAt
		}
		item := &feeds.Item{
			Id:      fmt.Sprintf("%s#change-%d", listingURL, ch.ID),
			Title:   fmt.Sprintf("[%s] %s", ch.Type, ch.Title),
			Link:    &feeds.Link{Href: ch.Link, Rel: "alternate", Type: "text/html"},
			Created: ch.DetectedAt,
			Updated: ch.DetectedAt,
		}
		if ch.NewContent != nil {
			item.Description = *ch.NewContent
		} else if ch.OldContent != nil {
			item.Description = *ch.OldContent
		}
		feed.Items = append(feed.Items, item)
	}
	if feed.Updated.IsZero() {
		feed.Updated = time.Now().UTC()
	}
	return feed
}

func parseLimit(r *http.Request, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, ceiling), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
