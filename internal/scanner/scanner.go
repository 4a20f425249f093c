// Package scanner runs the scan-diff-notify pipeline on a timer and on demand.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"site_watcher/internal/diff"
	"site_watcher/internal/extract"
	"site_watcher/internal/fetcher"
	"site_watcher/internal/filter"
	"site_watcher/internal/lock"
	"site_watcher/internal/metrics"
	"site_watcher/internal/model"
	"site_watcher/internal/notify"
	"site_watcher/internal/storage"
)

// Trigger sources.
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
	TriggerOnce   = "once"
)

// ErrAlreadyScanning is returned by ScanNow while another scan holds the lock.
var ErrAlreadyScanning = errors.New("scan already in progress")

// TriggerResult is the immediate answer to a manual trigger.
type TriggerResult int

// Trigger results.
const (
	Started TriggerResult = iota
	AlreadyScanning
)

func (r TriggerResult) String() string {
	if r == Started {
		return "started"
	}
	return "already scanning"
}

// PageFetcher retrieves the listing page. Any renderer with this method can
// stand in for the HTTP fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*model.Page, error)
}

// Options configures a Scanner.
type Options struct {
	ListingURL    string
	FetchTimeout  time.Duration
	CommitTimeout time.Duration
	NotifyTimeout time.Duration
	Guard         Guard
	Rules         []filter.Rule
}

// Report describes one completed scan.
type Report struct {
	ScanID     string
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Counts     diff.Counts
	Changes    []model.Change
	Active     int
	Notify     notify.Result
}

// Scanner owns the scan lifecycle. At most one scan body runs at a time.
type Scanner struct {
	store     storage.Storage
	fetcher   PageFetcher
	extractor extract.Extractor
	notifier  notify.Notifier
	locker    lock.Locker
	opts      Options
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	status   model.ScanStatus
	interval time.Duration
	lastDone time.Time
	unlock   lock.Unlock

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a Scanner. A nil locker means an in-process lock; a nil
// notifier disables notifications.
func New(store storage.Storage, f PageFetcher, ex extract.Extractor, n notify.Notifier, l lock.Locker, opts Options, log *slog.Logger) *Scanner {
	if l == nil {
		l = lock.NewLocal()
	}
	if n == nil {
		n = notify.Multi{}
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 10 * time.Second
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 60 * time.Second
	}
	return &Scanner{
		store:     store,
		fetcher:   f,
		extractor: ex,
		notifier:  n,
		locker:    l,
		opts:      opts,
		log:       log,
		now:       time.Now,
		interval:  time.Duration(model.DefaultRefreshInterval) * time.Second,
		wake:      make(chan struct{}, 1),
	}
}

// Restore reloads settings and the persisted status after a restart. The
// first automatic scan is due at the persisted schedule, one interval after
// the last successful scan, or immediately.
func (s *Scanner) Restore(ctx context.Context) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	st, err := s.store.GetStatus(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = settings.Interval()
	st.IsScanning = false
	if st.LastScan != nil {
		s.lastDone = *st.LastScan
	}
	if st.NextAutoScan == nil {
		next := s.now()
		if st.LastScan != nil {
			next = st.LastScan.Add(s.interval)
		}
		st.NextAutoScan = &next
	}
	s.status = st
	metrics.SetTracked(st.AnnouncementCount)
	return nil
}

// Status returns a snapshot of the scan status.
func (s *Scanner) Status() model.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Settings returns the stored runtime settings.
func (s *Scanner) Settings(ctx context.Context) (model.Settings, error) {
	return s.store.GetSettings(ctx)
}

// UpdateSettings validates and stores settings. A new interval reschedules the
// next automatic scan from the end of the last scan; a running scan keeps the
// settings it started with.
func (s *Scanner) UpdateSettings(ctx context.Context, settings model.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.store.PutSettings(ctx, settings); err != nil {
		return err
	}

	s.mu.Lock()
	changed := settings.Interval() != s.interval
	s.interval = settings.Interval()
	if changed && !s.status.IsScanning {
		base := s.lastDone
		if base.IsZero() {
			base = s.now()
		}
		next := base.Add(s.interval)
		s.status.NextAutoScan = &next
	}
	s.mu.Unlock()

	if changed {
		s.log.Info("refresh interval updated", "interval", settings.Interval())
		s.poke()
	}
	return nil
}

// Trigger starts a manual scan in the background. A scan already running is
// reported, never queued.
func (s *Scanner) Trigger(ctx context.Context) (TriggerResult, error) {
	ok, err := s.begin(ctx)
	if err != nil {
		return AlreadyScanning, err
	}
	if !ok {
		return AlreadyScanning, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.run(context.WithoutCancel(ctx), TriggerManual)
	}()
	return Started, nil
}

// ScanNow runs one scan synchronously.
func (s *Scanner) ScanNow(ctx context.Context, trigger string) (*Report, error) {
	ok, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyScanning
	}
	return s.run(ctx, trigger)
}

// Wait blocks until background scans started by Trigger have finished.
func (s *Scanner) Wait() {
	s.wg.Wait()
}

// Run drives automatic scans until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			timer.Reset(s.untilNext())
		case <-timer.C:
			ok, err := s.begin(ctx)
			if err != nil {
				s.log.Error("acquire scan lock", "error", err)
			}
			if !ok {
				s.postpone()
			} else {
				_, _ = s.run(ctx, TriggerTimer)
			}
			timer.Reset(s.untilNext())
		}
	}
}

// begin moves Idle to Scanning. It reports false when a scan is already
// running here or, through the locker, elsewhere.
func (s *Scanner) begin(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.status.IsScanning {
		s.mu.Unlock()
		return false, nil
	}
	s.status.IsScanning = true
	s.mu.Unlock()

	unlock, ok, err := s.locker.TryLock(ctx)
	if err != nil || !ok {
		s.mu.Lock()
		s.status.IsScanning = false
		s.mu.Unlock()
		return false, err
	}

	s.mu.Lock()
	s.unlock = unlock
	s.status.Error = ""
	s.status.NotifyError = ""
	s.mu.Unlock()
	return true, nil
}

func (s *Scanner) run(ctx context.Context, trigger string) (*Report, error) {
	rep := &Report{ScanID: uuid.NewString(), Trigger: trigger, StartedAt: s.now()}
	log := s.log.With("scan_id", rep.ScanID, "trigger", trigger)
	log.Info("scan started")

	err := s.execute(ctx, log, rep)
	s.finish(log, rep, err)
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *Scanner) execute(ctx context.Context, log *slog.Logger, rep *Report) error {
	rctx, cancel := context.WithTimeout(ctx, s.opts.CommitTimeout)
	settings, err := s.store.GetSettings(rctx)
	cancel()
	if err != nil {
		return err
	}

	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	page, err := s.fetcher.Fetch(fctx, s.opts.ListingURL)
	cancel()
	if err != nil {
		var ferr *fetcher.Error
		if !errors.As(err, &ferr) {
			err = &fetcher.Error{URL: s.opts.ListingURL, Err: err}
		}
		return err
	}

	listing, err := s.extractor.Extract(page)
	if err != nil {
		return err
	}
	candidates := filter.Apply(listing.Records, s.opts.Rules)
	log.Debug("listing extracted", "records", len(listing.Records), "candidates", len(candidates), "confirmed_empty", listing.ConfirmedEmpty)

	rctx, cancel = context.WithTimeout(ctx, s.opts.CommitTimeout)
	previous, err := s.store.Snapshot(rctx)
	cancel()
	if err != nil {
		return err
	}
	plan := diff.Diff(previous, candidates)
	if err := s.opts.Guard.Check(countActive(previous), len(candidates), len(plan.ToRemove), listing.ConfirmedEmpty); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.CommitTimeout)
	changes, err := s.store.CommitScan(cctx, rep.ScanID, s.now(), plan)
	cancel()
	if err != nil {
		return err
	}
	// Committed: nothing below may fail the scan.
	rep.Counts = plan.Counts()
	rep.Changes = changes
	rep.Active = plan.Active()
	metrics.AddChanges(changes)
	log.Info("scan committed",
		"new", rep.Counts.New,
		"modified", rep.Counts.Modified,
		"removed", rep.Counts.Removed,
		"unchanged", rep.Counts.Unchanged,
		"active", rep.Active,
	)

	if len(changes) == 0 {
		return nil
	}
	nctx, cancel := context.WithTimeout(ctx, s.opts.NotifyTimeout)
	rep.Notify = s.notifier.Notify(nctx, changes, settings)
	cancel()
	for _, r := range rep.Notify.Channels() {
		metrics.ObserveNotification(r.Channel, r.Delivered, len(r.Failures))
	}
	if err := rep.Notify.Err(); err != nil {
		log.Warn("notification failed", "error", err)
	} else if rep.Notify.Skipped {
		log.Debug("notification skipped", "reason", rep.Notify.Reason)
	}
	return nil
}

// finish returns the scanner to Idle and schedules the next automatic scan
// from the interval current at this moment.
func (s *Scanner) finish(log *slog.Logger, rep *Report, err error) {
	rep.FinishedAt = s.now()

	s.mu.Lock()
	unlock := s.unlock
	s.unlock = nil
	s.mu.Unlock()
	if unlock != nil {
		if uerr := unlock(context.Background()); uerr != nil {
			log.Error("release scan lock", "error", uerr)
		}
	}

	s.mu.Lock()
	s.status.IsScanning = false
	if err != nil {
		s.status.Error = err.Error()
	} else {
		done := rep.FinishedAt
		s.status.LastScan = &done
		s.status.AnnouncementCount = rep.Active
		if nerr := rep.Notify.Err(); nerr != nil {
			s.status.NotifyError = nerr.Error()
		}
	}
	s.lastDone = rep.FinishedAt
	next := rep.FinishedAt.Add(s.interval)
	s.status.NextAutoScan = &next
	st := s.status
	s.mu.Unlock()

	if err != nil {
		log.Error("scan failed", "kind", errorKind(err), "error", err)
	} else {
		metrics.SetTracked(rep.Active)
		log.Info("scan finished", "changes", len(rep.Changes), "duration", rep.FinishedAt.Sub(rep.StartedAt))
	}
	metrics.ObserveScan(rep.Trigger, err, rep.FinishedAt.Sub(rep.StartedAt))

	pctx, cancel := context.WithTimeout(context.Background(), s.opts.CommitTimeout)
	defer cancel()
	if perr := s.store.PutStatus(pctx, st); perr != nil {
		log.Warn("persist scan status", "error", perr)
	}
	s.poke()
}

// postpone pushes the automatic schedule one interval ahead after the timer
// could not start a scan.
func (s *Scanner) postpone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsScanning {
		return
	}
	next := s.now().Add(s.interval)
	s.status.NextAutoScan = &next
}

func (s *Scanner) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsScanning {
		// finish wakes the loop.
		return s.interval
	}
	if s.status.NextAutoScan == nil {
		return 0
	}
	return max(s.status.NextAutoScan.Sub(s.now()), 0)
}

func (s *Scanner) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func countActive(tracked []model.Tracked) int {
	n := 0
	for _, t := range tracked {
		if !t.Removed() {
			n++
		}
	}
	return n
}

func errorKind(err error) string {
	var (
		ferr *fetcher.Error
		eerr *extract.Error
		serr *storage.Error
		gerr *GuardError
	)
	switch {
	case errors.As(err, &ferr):
		return "fetch"
	case errors.As(err, &eerr):
		return "extract"
	case errors.As(err, &serr):
		return "storage"
	case errors.As(err, &gerr):
		return "guard"
	default:
		return "internal"
	}
}
