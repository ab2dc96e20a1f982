package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/scheduler"
	"github.com/blacktop/snspost/internal/store"
	"github.com/blacktop/snspost/internal/xpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPoster struct {
	name string
	err  error
	got  []xpost.Request
}

func (p *stubPoster) Name() string { return p.name }

func (p *stubPoster) Post(_ context.Context, req xpost.Request) error {
	p.got = append(p.got, req)
	return p.err
}

type stubChecker struct {
	rep   scheduler.Report
	calls int
}

func (c *stubChecker) RunOnce(context.Context) (scheduler.Report, error) {
	c.calls++
	return c.rep, nil
}

var testNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ts      *httptest.Server
	store   *store.Store
	uploads UploadDir
	x       *stubPoster
	bsky    *stubPoster
	checker *stubChecker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "snspost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	f := &fixture{
		store:   st,
		uploads: UploadDir(filepath.Join(dir, "uploads")),
		x:       &stubPoster{name: xpost.X},
		bsky:    &stubPoster{name: xpost.Bluesky, err: errors.New("rate limited")},
		checker: &stubChecker{rep: scheduler.Report{Due: 2, Completed: 1, Failed: 1}},
	}
	srv := New(Deps{
		Store:    st,
		Registry: xpost.NewRegistry(f.x, f.bsky),
		Checker:  f.checker,
		Uploads:  f.uploads,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func strPtr(s string) *string { return &s }

func TestPlatformsAndLimits(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, api.PathPlatforms, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var platforms api.Platforms
	require.NoError(t, json.Unmarshal(body, &platforms))
	assert.Equal(t, api.PlatformInfo{Enabled: true, Limit: 280}, platforms[xpost.X])
	assert.False(t, platforms[xpost.Threads].Enabled)

	resp, body = f.do(t, http.MethodGet, api.PathCharacterLimits, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var limits api.CharacterLimits
	require.NoError(t, json.Unmarshal(body, &limits))
	assert.Equal(t, 3000, limits[xpost.Misskey])

	resp, _ = f.do(t, http.MethodPost, api.PathPlatforms, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPostReportsPerTargetResults(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, api.PathPost, api.PostRequest{
		PostMode: api.ModeUnified,
		Content:  strPtr("hello"),
		Targets: map[string]api.TargetContent{
			xpost.X:       {Selected: true},
			xpost.Bluesky: {Selected: true},
			xpost.Threads: {Selected: true},
			xpost.Misskey: {Selected: false},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.PostResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Success)
	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[xpost.X].Success)
	assert.Equal(t, "rate limited", out.Results[xpost.Bluesky].Error)
	assert.False(t, out.Results[xpost.Threads].Success)

	require.Len(t, f.x.got, 1)
	assert.Equal(t, "hello", f.x.got[0].Message)
}

func TestPostIndividualUsesPerTargetText(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, api.PathPost, api.PostRequest{
		PostMode: api.ModeIndividual,
		Targets:  map[string]api.TargetContent{xpost.X: {Selected: true, Content: "short one"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out api.PostResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Success)
	assert.Equal(t, "short one", f.x.got[0].Message)
}

func TestPostRejectsEmptySelection(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, api.PathPost, api.PostRequest{
		PostMode: api.ModeUnified,
		Content:  strPtr("hi"),
		Targets:  map[string]api.TargetContent{xpost.X: {Selected: false}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out api.StatusResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
	assert.Empty(t, f.x.got)
}

func upload(t *testing.T, f *fixture, names ...string) (*http.Response, api.UploadResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range names {
		part, err := mw.CreateFormFile(api.UploadField, name)
		require.NoError(t, err)
		_, err = part.Write([]byte("data-" + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.ts.URL+api.PathUpload, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out api.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestUploadStoresAllowedFiles(t *testing.T) {
	f := newFixture(t)

	resp, out := upload(t, f, "cat pic.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	require.Len(t, out.Files, 1)

	got := out.Files[0]
	assert.Equal(t, "cat_pic.png", got.Name)
	assert.Equal(t, "image/png", got.Type)
	assert.True(t, strings.HasPrefix(got.Path, api.PathUploads))
	assert.True(t, strings.HasSuffix(got.Path, "_cat_pic.png"))

	local, ok := f.uploads.Resolve(got.Path)
	require.True(t, ok)
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "data-cat pic.png", string(data))

	served, err := http.Get(f.ts.URL + got.Path)
	require.NoError(t, err)
	served.Body.Close()
	assert.Equal(t, http.StatusOK, served.StatusCode)
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t)

	resp, out := upload(t, f, "a.pdf")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, out.Success)

	resp, _ = upload(t, f, "1.png", "2.png", "3.png", "4.png", "5.png")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadRejectsWholeBatchOnDisallowedFile(t *testing.T) {
	f := newFixture(t)

	resp, out := upload(t, f, "a.png", "b.bmp")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, out.Success)
	assert.Empty(t, out.Files)
	assert.Contains(t, out.Error, "b.bmp")

	entries, err := os.ReadDir(string(f.uploads))
	if err == nil {
		assert.Empty(t, entries, "nothing from a rejected batch is kept")
	} else {
		assert.True(t, os.IsNotExist(err))
	}
}

func TestPostWithMediaResolvesUploads(t *testing.T) {
	f := newFixture(t)
	_, up := upload(t, f, "a.jpg")
	require.Len(t, up.Files, 1)

	resp, body := f.do(t, http.MethodPost, api.PathPostWithMedia, api.PostRequest{
		PostMode:   api.ModeUnified,
		Content:    strPtr("with pic"),
		MediaFiles: []string{up.Files[0].Path},
		Targets:    map[string]api.TargetContent{xpost.X: {Selected: true}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Len(t, f.x.got, 1)
	require.Len(t, f.x.got[0].MediaPaths, 1)
	assert.Equal(t, filepath.Dir(f.x.got[0].MediaPaths[0]), string(f.uploads))
	assert.Equal(t, xpost.DefaultAltText, f.x.got[0].MediaAlt)

	resp, _ = f.do(t, http.MethodPost, api.PathPostWithMedia, api.PostRequest{
		PostMode:   api.ModeUnified,
		Content:    strPtr("missing"),
		MediaFiles: []string{"/uploads/nope.png"},
		Targets:    map[string]api.TargetContent{xpost.X: {Selected: true}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScheduleListDelete(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, api.PathSchedule, api.PostRequest{
		PostMode:      api.ModeUnified,
		Content:       strPtr("later"),
		ScheduledTime: "2026-10-16T18:30",
		MediaFiles:    []string{"/uploads/x_a.png"},
		Targets: map[string]api.TargetContent{
			xpost.X:       {Selected: true},
			xpost.Misskey: {Selected: false},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var sched api.ScheduleResponse
	require.NoError(t, json.Unmarshal(body, &sched))
	assert.True(t, sched.Success)
	assert.Positive(t, sched.PostID)
	assert.Equal(t, "2026-10-16T18:30:00Z", sched.ScheduledTime)

	resp, body = f.do(t, http.MethodGet, api.PathScheduledPosts, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list api.ScheduledPostsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Posts, 1)
	p := list.Posts[0]
	assert.Equal(t, sched.PostID, p.ID)
	assert.Equal(t, api.StatusPending, p.Status)
	assert.JSONEq(t, `"later"`, string(p.Content))
	assert.JSONEq(t, `{"x":{"selected":true,"content":""}}`, string(p.Platforms))
	assert.JSONEq(t, `{"files":["/uploads/x_a.png"]}`, string(p.MediaPaths))

	resp, _ = f.do(t, http.MethodDelete, api.DeleteScheduledPostPath(sched.PostID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, api.DeleteScheduledPostPath(sched.PostID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, api.PathDeleteScheduledPost+"abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetPostNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Add(ctx, store.Post{Content: "tomorrow", ScheduledAt: testNow.Add(24 * time.Hour)})
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, api.SetPostNowPath(id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	due, err := f.store.Due(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)

	resp, _ = f.do(t, http.MethodPost, api.SetPostNowPath(id+100), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, api.PathSetPostNow+"abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, api.SetPostNowPath(id), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestScheduleRejections(t *testing.T) {
	f := newFixture(t)
	targets := map[string]api.TargetContent{xpost.X: {Selected: true}}

	cases := map[string]api.PostRequest{
		"missing time": {PostMode: api.ModeUnified, Content: strPtr("a"), Targets: targets},
		"bad time":     {PostMode: api.ModeUnified, Content: strPtr("a"), Targets: targets, ScheduledTime: "tomorrow"},
		"past time":    {PostMode: api.ModeUnified, Content: strPtr("a"), Targets: targets, ScheduledTime: "2026-10-16T08:00"},
		"no targets": {
			PostMode: api.ModeUnified, Content: strPtr("a"), ScheduledTime: "2026-10-17T08:00",
			Targets: map[string]api.TargetContent{xpost.X: {Selected: false}},
		},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, api.PathSchedule, req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	posts, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestForceCheck(t *testing.T) {
	f := newFixture(t)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		resp, body := f.do(t, method, api.PathForceCheckScheduled, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out api.StatusResponse
		require.NoError(t, json.Unmarshal(body, &out))
		assert.True(t, out.Success)
		assert.Contains(t, out.Message, "1 completed")
	}
	assert.Equal(t, 2, f.checker.calls)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "passwd", safeName("../../etc/passwd"))
	assert.Equal(t, "my_photo.jpg", safeName("my photo.jpg"))
	assert.Equal(t, "upload", safeName("日本."))
	assert.Equal(t, "a.png", safeName(`C:\tmp\a.png`))
}
