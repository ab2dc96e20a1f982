package banner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct{ timers []*fakeTimer }

func (c *fakeClock) after(d time.Duration, f func()) Stopper {
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer { return c.timers[len(c.timers)-1] }

func TestBannerLifecycle(t *testing.T) {
	clock := &fakeClock{}
	var seen []Visibility
	b := New(WithAfterFunc(clock.after), OnChange(func(cur Banner) { seen = append(seen, cur.Visibility) }))

	assert.Equal(t, Hidden, b.Current().Visibility)

	b.Success("Posted to 2 targets")
	cur := b.Current()
	assert.Equal(t, Success, cur.Kind)
	assert.Equal(t, "Posted to 2 targets", cur.Message)
	assert.Equal(t, Shown, cur.Visibility)
	require.Len(t, clock.timers, 1)
	assert.Equal(t, DisplayFor, clock.last().d)

	clock.last().f()
	assert.Equal(t, Fading, b.Current().Visibility)
	assert.Equal(t, FadeFor, clock.last().d)

	clock.last().f()
	assert.Equal(t, Hidden, b.Current().Visibility)
	assert.Equal(t, []Visibility{Shown, Fading, Hidden}, seen)
}

func TestBannerReplacesCurrent(t *testing.T) {
	clock := &fakeClock{}
	b := New(WithAfterFunc(clock.after))

	b.Success("first")
	first := clock.last()
	b.Error("second")

	assert.True(t, first.stopped)
	cur := b.Current()
	assert.Equal(t, Error, cur.Kind)
	assert.Equal(t, "second", cur.Message)

	// a stale timer firing anyway must not touch the new banner
	first.f()
	assert.Equal(t, Shown, b.Current().Visibility)

	clock.last().f()
	assert.Equal(t, Fading, b.Current().Visibility)
	assert.Equal(t, "second", b.Current().Message)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "error", Error.String())
}
