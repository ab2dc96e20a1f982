package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	targets map[string]string
	media   []string
}

type fakeDeliverer struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []call
}

func (f *fakeDeliverer) Deliver(ctx context.Context, targets map[string]string, media []string, wait func(context.Context) error) map[string]api.TargetResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{targets: targets, media: media})
	out := map[string]api.TargetResult{}
	for id := range targets {
		if wait != nil {
			_ = wait(ctx)
		}
		if f.fail[id] {
			out[id] = api.TargetResult{Error: "boom"}
			continue
		}
		out[id] = api.TargetResult{Success: true}
	}
	return out
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "snspost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func statusOf(t *testing.T, st *store.Store, id int64) string {
	t.Helper()
	p, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestRunOnceStatuses(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	ok, err := st.Add(ctx, store.Post{
		Content:     "all good",
		Targets:     map[string]api.TargetContent{"x": {Selected: true}, "bluesky": {Selected: true}},
		ScheduledAt: past,
	})
	require.NoError(t, err)
	partial, err := st.Add(ctx, store.Post{
		Content:     "one fails",
		Targets:     map[string]api.TargetContent{"x": {Selected: true}, "mastodon": {Selected: true}},
		ScheduledAt: past,
	})
	require.NoError(t, err)
	none, err := st.Add(ctx, store.Post{
		Content:     "nobody",
		Targets:     map[string]api.TargetContent{"x": {Selected: false}},
		ScheduledAt: past,
	})
	require.NoError(t, err)
	lostMedia, err := st.Add(ctx, store.Post{
		Content:     "media gone",
		Targets:     map[string]api.TargetContent{"x": {Selected: true}},
		ScheduledAt: past,
		MediaFiles:  []string{"/uploads/gone.png"},
	})
	require.NoError(t, err)
	future, err := st.Add(ctx, store.Post{
		Content:     "later",
		Targets:     map[string]api.TargetContent{"x": {Selected: true}},
		ScheduledAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	d := &fakeDeliverer{fail: map[string]bool{"mastodon": true}}
	svc := New(st, d, Options{
		RatePerSec:   1000,
		Now:          func() time.Time { return now },
		ResolveMedia: func(string) (string, bool) { return "", false },
	})

	rep, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 4, Completed: 1, Failed: 3}, rep)

	assert.Equal(t, api.StatusCompleted, statusOf(t, st, ok))
	assert.Equal(t, api.StatusFailed, statusOf(t, st, partial))
	assert.Equal(t, api.StatusFailed, statusOf(t, st, none))
	assert.Equal(t, api.StatusFailed, statusOf(t, st, lostMedia))
	assert.Equal(t, api.StatusPending, statusOf(t, st, future))
	assert.Len(t, d.calls, 2, "posts without targets or media never reach the connectors")

	rep, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Due)
}

func TestRunOnceContentByMode(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	_, err := st.Add(ctx, store.Post{
		Content:     "shared",
		Targets:     map[string]api.TargetContent{"x": {Selected: true, Content: "stale"}},
		ScheduledAt: now,
		PostMode:    api.ModeUnified,
	})
	require.NoError(t, err)
	_, err = st.Add(ctx, store.Post{
		Targets:     map[string]api.TargetContent{"misskey": {Selected: true, Content: "long form"}},
		ScheduledAt: now.Add(-time.Second),
		PostMode:    api.ModeIndividual,
		MediaFiles:  []string{"/uploads/a.png"},
	})
	require.NoError(t, err)

	d := &fakeDeliverer{}
	svc := New(st, d, Options{
		Now:          func() time.Time { return now },
		ResolveMedia: func(p string) (string, bool) { return "/data" + p, true },
	})
	_, err = svc.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, d.calls, 2)
	assert.Equal(t, map[string]string{"misskey": "long form"}, d.calls[0].targets)
	assert.Equal(t, []string{"/data/uploads/a.png"}, d.calls[0].media)
	assert.Equal(t, map[string]string{"x": "shared"}, d.calls[1].targets)
}

func TestStartStop(t *testing.T) {
	svc := New(openStore(t), &fakeDeliverer{}, Options{Interval: time.Hour})
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()
	svc.Stop()
}
