package compose

import (
	"fmt"
	"strings"
	"time"
)

// emphasisRatio is the share of a limit above which a counter is highlighted.
const emphasisRatio = 0.9

// Counter is the observational "<n> / <limit>" readout next to an editor.
type Counter struct {
	Length int
	Limit  int
}

func (c Counter) String() string {
	return fmt.Sprintf("%d / %d", c.Length, c.Limit)
}

// Emphasized reports whether the count is above 90% of the limit.
func (c Counter) Emphasized() bool {
	return c.Limit > 0 && float64(c.Length) > float64(c.Limit)*emphasisRatio
}

// Validate checks a draft before dispatch. Checks run in a fixed order and
// the first failure is returned.
func Validate(caps Capabilities, d Draft, now time.Time) error {
	if len(d.Selected) == 0 {
		return ErrNoTargetSelected
	}
	for _, id := range d.Selected {
		t, ok := caps.Lookup(id)
		if !ok {
			return &TargetUnavailableError{Target: id, Reason: "unknown target"}
		}
		if !t.Enabled {
			return &TargetUnavailableError{Target: id, Reason: "target is not connected"}
		}
	}
	for _, id := range d.Selected {
		if strings.TrimSpace(d.Content(id)) == "" {
			return &EmptyContentError{Target: id}
		}
	}
	for _, id := range d.Selected {
		limit := caps.Limit(id)
		if n := Length(d.Content(id)); limit > 0 && n > limit {
			return &ContentTooLongError{Target: id, Length: n, Limit: limit}
		}
	}
	if len(d.Media) > MaxMedia {
		return &MediaLimitError{Current: len(d.Media)}
	}
	if d.Scheduled {
		if d.ScheduledAt.IsZero() {
			return ErrMissingScheduleTime
		}
		if d.ScheduledAt.Before(now) {
			return &ScheduleInPastError{At: d.ScheduledAt, Now: now}
		}
	}
	return nil
}

// CheckAttach rejects a batch that would push the media list past MaxMedia.
func CheckAttach(current, incoming int) error {
	if current+incoming > MaxMedia {
		return &MediaLimitError{Current: current, Incoming: incoming}
	}
	return nil
}

// SupportedMediaType reports whether a declared MIME type is an image or video.
func SupportedMediaType(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	return strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "video/")
}
