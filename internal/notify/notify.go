// Package notify delivers detected changes to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"site_watcher/internal/model"
)

// Notifier delivers one scan's change set. Delivery failures are reported in
// the Result and never abort the caller.
type Notifier interface {
	Notify(ctx context.Context, changes []model.Change, settings model.Settings) Result
}

// TransportError is a failed delivery to one recipient. An empty Recipient
// means the channel could not attempt delivery at all.
type TransportError struct {
	Channel   string
	Recipient string
	Err       error
}

func (e *TransportError) Error() string {
	if e.Recipient == "" {
		return fmt.Sprintf("%s: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("%s to %s: %v", e.Channel, e.Recipient, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Result summarizes a delivery attempt.
type Result struct {
	Channel   string
	Skipped   bool
	Reason    string
	Attempted int
	Delivered int
	Failures  []*TransportError

	// Parts holds per-channel results of a fan-out.
	Parts []Result
}

// Err joins all delivery failures, or returns nil.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Channels returns per-channel results.
func (r Result) Channels() []Result {
	if len(r.Parts) > 0 {
		return r.Parts
	}
	return []Result{r}
}

func skipped(channel, reason string) Result {
	return Result{Channel: channel, Skipped: true, Reason: reason}
}

// Multi fans a change set out to several notifiers in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, changes []model.Change, settings model.Settings) Result {
	out := Result{Channel: "multi", Skipped: true}
	var reasons []string
	for _, n := range m {
		r := n.Notify(ctx, changes, settings)
		out.Parts = append(out.Parts, r)
		out.Attempted += r.Attempted
		out.Delivered += r.Delivered
		out.Failures = append(out.Failures, r.Failures...)
		if r.Skipped {
			reasons = append(reasons, r.Channel+": "+r.Reason)
		} else {
			out.Skipped = false
		}
	}
	if out.Skipped {
		out.Reason = strings.Join(reasons, "; ")
	}
	return out
}
