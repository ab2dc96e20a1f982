// Package compose owns the draft being composed, validates it against the
// backend's target capabilities, attaches media and dispatches it.
package compose

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/blacktop/snspost/internal/api"
)

// MaxMedia is the most media files a single draft may carry.
const MaxMedia = 4

// Mode selects which content field is authoritative at dispatch time.
type Mode = api.PostMode

const (
	Unified    = api.ModeUnified
	Individual = api.ModeIndividual
)

// MediaRef points at an already uploaded file.
type MediaRef struct {
	Path        string
	MimeType    string
	DisplayName string
}

// State is the mutable draft. The zero value is not usable; call NewState.
type State struct {
	mu sync.Mutex

	caps        Capabilities
	mode        Mode
	unified     string
	selected    map[string]struct{}
	perTarget   map[string]string
	media       []MediaRef
	scheduled   bool
	scheduledAt time.Time
}

// NewState returns an empty draft bound to caps.
func NewState(caps Capabilities) *State {
	s := &State{caps: caps}
	s.resetLocked()
	return s
}

func (s *State) resetLocked() {
	s.mode = Unified
	s.unified = ""
	s.selected = map[string]struct{}{}
	s.perTarget = map[string]string{}
	s.media = nil
	s.scheduled = false
	s.scheduledAt = time.Time{}
}

// Capabilities returns the snapshot the draft validates against.
func (s *State) Capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// SelectTarget adds id to the selection. Unknown or disabled targets are
// rejected and leave the draft untouched.
func (s *State) SelectTarget(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.caps.Lookup(id)
	if !ok {
		return &TargetUnavailableError{Target: id, Reason: "unknown target"}
	}
	if !t.Enabled {
		return &TargetUnavailableError{Target: id, Reason: "target is not connected"}
	}
	s.selected[id] = struct{}{}
	if s.mode == Individual {
		if _, ok := s.perTarget[id]; !ok {
			s.perTarget[id] = truncate(s.unified, t.Limit)
		}
	}
	return nil
}

// DeselectTarget drops id from the selection. Its per-target text is kept so
// reselecting restores it.
func (s *State) DeselectTarget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selected, id)
}

// ToggleTarget flips the selection of id.
func (s *State) ToggleTarget(id string) error {
	s.mu.Lock()
	_, on := s.selected[id]
	s.mu.Unlock()
	if on {
		s.DeselectTarget(id)
		return nil
	}
	return s.SelectTarget(id)
}

// SetMode switches between unified and individual editing. Entering
// individual mode seeds every selected target that has no text of its own
// with a copy of the unified text.
func (s *State) SetMode(m Mode) error {
	if !m.Valid() {
		return ErrInvalidMode
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == Individual && s.mode != Individual {
		for id := range s.selected {
			if _, ok := s.perTarget[id]; !ok {
				s.perTarget[id] = truncate(s.unified, s.caps.Limit(id))
			}
		}
	}
	s.mode = m
	return nil
}

// Mode reports the current editing mode.
func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// EditUnified replaces the unified text. Input past the smallest loaded
// limit is dropped, like a text field with a maximum length. The accepted
// text is returned.
func (s *State) EditUnified(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unified = truncate(text, s.caps.MinLimit())
	return s.unified
}

// EditTarget replaces the text of one selected target, capped at its limit.
func (s *State) EditTarget(id, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selected[id]; !ok {
		return "", &TargetUnavailableError{Target: id, Reason: ErrTargetNotSelected.Error()}
	}
	accepted := truncate(text, s.caps.Limit(id))
	s.perTarget[id] = accepted
	return accepted, nil
}

// SetScheduled turns deferred delivery on or off.
func (s *State) SetScheduled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = on
}

// SetScheduleTime records when a scheduled dispatch should be delivered. A
// zero time clears it.
func (s *State) SetScheduleTime(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduledAt = at
}

// AppendMedia adds refs in order. The whole call fails if the list would
// grow past MaxMedia.
func (s *State) AppendMedia(refs ...MediaRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.media)+len(refs) > MaxMedia {
		return &MediaLimitError{Current: len(s.media), Incoming: len(refs)}
	}
	s.media = append(s.media, refs...)
	return nil
}

// RemoveMedia deletes the entry at index i and shifts later entries down.
func (s *State) RemoveMedia(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.media) {
		return ErrMediaIndex
	}
	s.media = append(s.media[:i:i], s.media[i+1:]...)
	return nil
}

// MediaCount reports how many media files are attached.
func (s *State) MediaCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.media)
}

// Reset returns the draft to its initial empty form.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Snapshot copies the draft for validation and dispatch.
func (s *State) Snapshot() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := make([]string, 0, len(s.selected))
	for id := range s.selected {
		selected = append(selected, id)
	}
	sort.Slice(selected, func(i, j int) bool {
		oi, oj := s.caps.order(selected[i]), s.caps.order(selected[j])
		if oi != oj {
			return oi < oj
		}
		return selected[i] < selected[j]
	})

	perTarget := make(map[string]string, len(s.perTarget))
	for id, text := range s.perTarget {
		perTarget[id] = text
	}

	return Draft{
		Mode:        s.mode,
		Unified:     s.unified,
		Selected:    selected,
		PerTarget:   perTarget,
		Media:       append([]MediaRef(nil), s.media...),
		Scheduled:   s.scheduled,
		ScheduledAt: s.scheduledAt,
	}
}

// UnifiedCounter is the live counter for the unified editor.
func (s *State) UnifiedCounter() Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counter{Length: Length(s.unified), Limit: s.caps.MinLimit()}
}

// TargetCounter is the live counter for one target's editor in individual mode.
func (s *State) TargetCounter(id string) (Counter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selected[id]; !ok {
		return Counter{}, false
	}
	return Counter{Length: Length(s.perTarget[id]), Limit: s.caps.Limit(id)}, true
}

// Draft is an immutable copy of State.
type Draft struct {
	Mode        Mode
	Unified     string
	Selected    []string
	PerTarget   map[string]string
	Media       []MediaRef
	Scheduled   bool
	ScheduledAt time.Time
}

// Content resolves the authoritative text for target.
func (d Draft) Content(target string) string {
	if d.Mode == Unified {
		return d.Unified
	}
	return d.PerTarget[target]
}

// Empty reports whether the draft is in its initial form.
func (d Draft) Empty() bool {
	return len(d.Selected) == 0 && d.Unified == "" && len(d.PerTarget) == 0 &&
		len(d.Media) == 0 && !d.Scheduled && d.ScheduledAt.IsZero()
}

// Length counts characters the way the limits are expressed: in code points.
func Length(s string) int {
	return utf8.RuneCountInString(s)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
