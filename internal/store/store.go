// Package store persists scheduled posts in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/logutil"
)

var ErrNotFound = errors.New("not found")

// tsLayout is fixed width so stored times sort and compare as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Post is one row of scheduled_posts.
type Post struct {
	ID          int64
	Content     string
	Targets     map[string]api.TargetContent
	ScheduledAt time.Time
	Status      string
	CreatedAt   time.Time
	MediaFiles  []string
	PostMode    api.PostMode
}

// Selected returns the targets marked selected, with their text.
func (p Post) Selected() map[string]string {
	out := make(map[string]string, len(p.Targets))
	for id, tc := range p.Targets {
		if tc.Selected {
			out[id] = tc.Content
		}
	}
	return out
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add inserts a pending post and returns its id.
func (s *Store) Add(ctx context.Context, p Post) (int64, error) {
	platforms, err := json.Marshal(p.Targets)
	if err != nil {
		return 0, fmt.Errorf("encode targets: %w", err)
	}
	var media any
	if len(p.MediaFiles) > 0 {
		b, err := json.Marshal(api.MediaPaths{Files: p.MediaFiles})
		if err != nil {
			return 0, fmt.Errorf("encode media: %w", err)
		}
		media = string(b)
	}
	mode := p.PostMode
	if !mode.Valid() {
		mode = api.ModeUnified
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO scheduled_posts(content, platforms, scheduled_time, status, created_at, media_paths, post_mode)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Content, string(platforms), ts(p.ScheduledAt), api.StatusPending, ts(created), media, string(mode))
	if err != nil {
		return 0, fmt.Errorf("insert scheduled post: %w", err)
	}
	return res.LastInsertId()
}

// Get returns one post.
func (s *Store) Get(ctx context.Context, id int64) (Post, error) {
	rows, err := s.db.QueryContext(ctx, selectPosts+` WHERE id = ?`, id)
	if err != nil {
		return Post{}, fmt.Errorf("get scheduled post: %w", err)
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return Post{}, err
	}
	if len(posts) == 0 {
		return Post{}, ErrNotFound
	}
	return posts[0], nil
}

// List returns every post, latest schedule time first.
func (s *Store) List(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, selectPosts+` ORDER BY scheduled_time DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled posts: %w", err)
	}
	return scanPosts(rows)
}

// Due returns pending posts whose time is at or before now, oldest first.
func (s *Store) Due(ctx context.Context, now time.Time) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, selectPosts+` WHERE status = ? AND scheduled_time <= ? ORDER BY scheduled_time ASC, id ASC`,
		api.StatusPending, ts(now))
	if err != nil {
		return nil, fmt.Errorf("query due posts: %w", err)
	}
	return scanPosts(rows)
}

// UpdateStatus sets a post's status.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) error {
	switch status {
	case api.StatusPending, api.StatusCompleted, api.StatusFailed:
	default:
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_posts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return expectOne(res)
}

// UpdateScheduledAt moves a post's delivery time. Status is left alone.
func (s *Store) UpdateScheduledAt(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_posts SET scheduled_time = ? WHERE id = ?`, ts(at), id)
	if err != nil {
		return fmt.Errorf("update scheduled time: %w", err)
	}
	return expectOne(res)
}

// Delete removes a post.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled post: %w", err)
	}
	return expectOne(res)
}

const selectPosts = `SELECT id, content, platforms, scheduled_time, status, created_at, media_paths, post_mode FROM scheduled_posts`

func scanPosts(rows *sql.Rows) ([]Post, error) {
	defer rows.Close() //nolint:errcheck
	var out []Post
	for rows.Next() {
		var (
			p                Post
			platforms, sched string
			created, mode    string
			media            sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Content, &platforms, &sched, &p.Status, &created, &media, &mode); err != nil {
			return nil, fmt.Errorf("scan scheduled post: %w", err)
		}
		if err := json.Unmarshal([]byte(platforms), &p.Targets); err != nil {
			logutil.Warnf("scheduled post %d: bad platforms column: %v", p.ID, err)
			p.Targets = map[string]api.TargetContent{}
		}
		if media.Valid && media.String != "" {
			var mp api.MediaPaths
			if err := json.Unmarshal([]byte(media.String), &mp); err != nil {
				logutil.Warnf("scheduled post %d: bad media_paths column: %v", p.ID, err)
			}
			p.MediaFiles = mp.Files
		}
		p.ScheduledAt, _ = parseTS(sched)
		p.CreatedAt, _ = parseTS(created)
		p.PostMode = api.PostMode(mode)
		out = append(out, p)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
