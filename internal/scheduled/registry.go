// Package scheduled keeps the client's view of deferred deliveries: it
// fetches the backend's list, decodes loosely typed entries, and cancels
// entries by id.
package scheduled

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/compose"
	"github.com/blacktop/snspost/internal/logutil"
)

const (
	previewLength = 100
	ellipsis      = "..."
	// DisplayLayout is how scheduled times are shown.
	DisplayLayout = "2006/01/02 15:04"
)

// Status is the lifecycle state of a scheduled post.
type Status string

const (
	StatusPending   Status = api.StatusPending
	StatusCompleted Status = api.StatusCompleted
	StatusFailed    Status = api.StatusFailed
)

// ParseStatus maps the stored status; anything unknown reads as pending.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusCompleted:
		return StatusCompleted
	case StatusFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// Label is the fixed display text for a status.
func (s Status) Label() string {
	switch s {
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	default:
		return "Pending"
	}
}

// Class is the style class for a status.
func (s Status) Class() string {
	switch s {
	case StatusCompleted, StatusFailed:
		return string(s)
	default:
		return string(StatusPending)
	}
}

// Entry is a render-ready scheduled post.
type Entry struct {
	ID          int64
	ScheduledAt time.Time
	// ScheduledRaw keeps the server's text when it could not be parsed.
	ScheduledRaw string
	Targets      []TargetEntry
	TargetNames  []string
	Content      string
	Preview      string
	MediaPaths   []string
	HasMedia     bool
	Status       Status
	PostMode     api.PostMode
}

// DisplayTime formats the schedule time in loc, or the raw text if it did
// not parse.
func (e Entry) DisplayTime(loc *time.Location) string {
	if e.ScheduledAt.IsZero() {
		return e.ScheduledRaw
	}
	if loc == nil {
		loc = time.Local
	}
	return e.ScheduledAt.In(loc).Format(DisplayLayout)
}

// NewEntry decodes one stored post. Undecodable fields fall back to empty
// values so one bad record never hides the rest of the list.
func NewEntry(p api.ScheduledPost) Entry {
	e := Entry{
		ID:           p.ID,
		ScheduledRaw: p.ScheduledTime,
		Status:       ParseStatus(p.Status),
		PostMode:     p.PostMode,
	}

	targets, err := DecodeTargets(p.Platforms)
	if err != nil {
		logutil.Warnf("scheduled post %d: undecodable targets: %v", p.ID, err)
		targets = nil
	}
	e.Targets = targets
	for _, t := range targets {
		if t.Selected {
			e.TargetNames = append(e.TargetNames, DisplayName(t.ID))
		}
	}

	content, err := DecodeContent(p.Content)
	if err != nil {
		logutil.Warnf("scheduled post %d: undecodable content: %v", p.ID, err)
		content = ""
	}
	if content == "" {
		for _, t := range targets {
			if t.Content != "" {
				content = t.Content
				break
			}
		}
	}
	e.Content = content
	e.Preview = Preview(content)

	media, err := DecodeMediaPaths(p.MediaPaths)
	if err != nil {
		logutil.Warnf("scheduled post %d: undecodable media paths: %v", p.ID, err)
		media = nil
	}
	e.MediaPaths = media
	e.HasMedia = len(media) > 0

	if at, ok := ParseTime(p.ScheduledTime, time.Local); ok {
		e.ScheduledAt = at
	}
	return e
}

// DisplayName capitalizes a target id for display.
func DisplayName(id string) string {
	r, size := utf8.DecodeRuneInString(id)
	if r == utf8.RuneError {
		return id
	}
	return string(unicode.ToUpper(r)) + id[size:]
}

// Preview truncates content to the list's preview length.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	n := 0
	for i := range content {
		if n == previewLength {
			return content[:i] + ellipsis
		}
		n++
	}
	return content
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime accepts RFC 3339 and the offset-less forms browsers and Python
// emit. Offset-less values are read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range timeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Source is the slice of the backend client the registry needs.
type Source interface {
	ScheduledPosts(ctx context.Context) ([]api.ScheduledPost, error)
	DeleteScheduledPost(ctx context.Context, id int64) error
}

// Confirmer asks the user whether entry should really be deleted.
type Confirmer func(entry Entry) bool

// Registry holds the last fetched list. It never edits entries; the backend
// is the only source of truth and every change is followed by a re-fetch.
type Registry struct {
	src Source

	mu      sync.Mutex
	entries []Entry
	fetched bool
}

// New returns an empty registry backed by src.
func New(src Source) *Registry {
	return &Registry{src: src}
}

// Refresh replaces the list with the backend's current one.
func (r *Registry) Refresh(ctx context.Context) error {
	posts, err := r.src.ScheduledPosts(ctx)
	if err != nil {
		return &compose.ActionError{Action: "load scheduled posts", Err: err}
	}
	entries := make([]Entry, 0, len(posts))
	for _, p := range posts {
		entries = append(entries, NewEntry(p))
	}
	r.mu.Lock()
	r.entries = entries
	r.fetched = true
	r.mu.Unlock()
	logutil.Debugf("scheduled posts refreshed: count=%d", len(entries))
	return nil
}

// Entries returns a copy of the last fetched list.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Fetched reports whether at least one refresh succeeded.
func (r *Registry) Fetched() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetched
}

// Lookup finds an entry in the last fetched list.
func (r *Registry) Lookup(id int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Delete asks confirm, then requests deletion of id and re-fetches the list
// whatever the deletion reported. It returns false without any request when
// the user declines.
func (r *Registry) Delete(ctx context.Context, id int64, confirm Confirmer) (bool, error) {
	entry, ok := r.Lookup(id)
	if !ok {
		entry = Entry{ID: id}
	}
	if confirm == nil || !confirm(entry) {
		return false, nil
	}

	delErr := r.src.DeleteScheduledPost(ctx, id)
	refreshErr := r.Refresh(ctx)
	if delErr != nil {
		return false, errors.Join(&compose.ActionError{Action: "delete scheduled post", Err: delErr}, refreshErr)
	}
	logutil.Infof("scheduled post deleted: id=%d", id)
	return true, refreshErr
}
