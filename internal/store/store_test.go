package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/blacktop/snspost/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "snspost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	at := time.Date(2026, 10, 16, 0, 30, 0, 0, time.UTC)

	id, err := s.Add(ctx, Post{
		Content:     "hello",
		Targets:     map[string]api.TargetContent{"x": {Selected: true, Content: "hello"}, "bluesky": {}},
		ScheduledAt: at,
		MediaFiles:  []string{"/uploads/a.png"},
		PostMode:    api.ModeUnified,
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.True(t, got.ScheduledAt.Equal(at))
	assert.Equal(t, api.StatusPending, got.Status)
	assert.Equal(t, []string{"/uploads/a.png"}, got.MediaFiles)
	assert.Equal(t, map[string]string{"x": "hello"}, got.Selected())
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.Get(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDueAndStatus(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	past, err := s.Add(ctx, Post{Content: "past", ScheduledAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = s.Add(ctx, Post{Content: "future", ScheduledAt: now.Add(time.Hour)})
	require.NoError(t, err)

	due, err := s.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, past, due[0].ID)

	require.NoError(t, s.UpdateStatus(ctx, past, api.StatusCompleted))
	due, err = s.Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	assert.Error(t, s.UpdateStatus(ctx, past, "weird"))
	assert.ErrorIs(t, s.UpdateStatus(ctx, 999, api.StatusFailed), ErrNotFound)
}

func TestUpdateScheduledAtMakesPostDue(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	id, err := s.Add(ctx, Post{Content: "later", ScheduledAt: now.Add(24 * time.Hour)})
	require.NoError(t, err)
	due, err := s.Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, s.UpdateScheduledAt(ctx, id, now))
	due, err = s.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, due[0].ScheduledAt.Equal(now))
	assert.Equal(t, api.StatusPending, due[0].Status)

	assert.ErrorIs(t, s.UpdateScheduledAt(ctx, id+100, now), ErrNotFound)
}

func TestListOrderAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	base := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	first, err := s.Add(ctx, Post{Content: "a", ScheduledAt: base})
	require.NoError(t, err)
	second, err := s.Add(ctx, Post{Content: "b", ScheduledAt: base.Add(time.Hour), PostMode: api.ModeIndividual})
	require.NoError(t, err)

	posts, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, second, posts[0].ID)
	assert.Equal(t, api.ModeIndividual, posts[0].PostMode)
	assert.Equal(t, api.ModeUnified, posts[1].PostMode)

	require.NoError(t, s.Delete(ctx, first))
	assert.ErrorIs(t, s.Delete(ctx, first), ErrNotFound)
	posts, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snspost.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.Add(ctx, Post{Content: "kept", ScheduledAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	posts, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}
