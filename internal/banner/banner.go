// Package banner models the single transient status banner: a new banner
// replaces the current one, stays for DisplayFor, fades for FadeFor, then
// hides.
package banner

import (
	"sync"
	"time"
)

const (
	DisplayFor = 5 * time.Second
	FadeFor    = 300 * time.Millisecond
)

// Kind distinguishes success from error banners.
type Kind int

const (
	Success Kind = iota
	Error
)

func (k Kind) String() string {
	if k == Error {
		return "error"
	}
	return "success"
}

// Visibility is where a banner is in its show/fade/hide sequence.
type Visibility int

const (
	Hidden Visibility = iota
	Shown
	Fading
)

// Banner is the board's current content.
type Banner struct {
	Kind       Kind
	Message    string
	Visibility Visibility
}

// Stopper cancels a pending timer. *time.Timer satisfies it.
type Stopper interface{ Stop() bool }

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfter(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

// Board holds at most one banner.
type Board struct {
	mu       sync.Mutex
	current  Banner
	gen      uint64
	timer    Stopper
	after    AfterFunc
	onChange func(Banner)
}

// Option configures a Board.
type Option func(*Board)

// WithAfterFunc swaps the timer source, mostly for tests.
func WithAfterFunc(fn AfterFunc) Option { return func(b *Board) { b.after = fn } }

// OnChange is called after every visibility change, outside the lock.
func OnChange(fn func(Banner)) Option { return func(b *Board) { b.onChange = fn } }

// New returns an empty board.
func New(opts ...Option) *Board {
	b := &Board{after: realAfter}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Success shows a success banner.
func (b *Board) Success(msg string) { b.show(Success, msg) }

// Error shows an error banner.
func (b *Board) Error(msg string) { b.show(Error, msg) }

// Current returns what the board shows right now.
func (b *Board) Current() Banner {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Board) show(kind Kind, msg string) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	if b.timer != nil {
		b.timer.Stop()
	}
	b.current = Banner{Kind: kind, Message: msg, Visibility: Shown}
	b.timer = b.after(DisplayFor, func() { b.fade(gen) })
	snapshot := b.current
	b.mu.Unlock()
	b.notify(snapshot)
}

func (b *Board) fade(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.current.Visibility = Fading
	b.timer = b.after(FadeFor, func() { b.hide(gen) })
	snapshot := b.current
	b.mu.Unlock()
	b.notify(snapshot)
}

func (b *Board) hide(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.current.Visibility = Hidden
	b.timer = nil
	snapshot := b.current
	b.mu.Unlock()
	b.notify(snapshot)
}

func (b *Board) notify(cur Banner) {
	if b.onChange != nil {
		b.onChange(cur)
	}
}
