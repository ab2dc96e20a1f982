package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blacktop/snspost/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformsAndLimits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathPlatforms, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, `{"x":{"enabled":true,"limit":280},"misskey":{"enabled":false,"limit":3000}}`)
	})
	mux.HandleFunc(api.PathCharacterLimits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"x":280,"misskey":3000}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewWithClient(srv.URL, srv.Client())
	platforms, err := c.Platforms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.PlatformInfo{Enabled: true, Limit: 280}, platforms["x"])
	assert.False(t, platforms["misskey"].Enabled)

	limits, err := c.CharacterLimits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3000, limits["misskey"])
}

func TestPostSendsFlattenedBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, api.PathPost, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success":false,"results":{"x":{"success":true},"bluesky":{"success":false,"error":"boom"}}}`)
	}))
	defer srv.Close()

	content := "hello"
	resp, err := NewWithClient(srv.URL, srv.Client()).Post(context.Background(), api.PostRequest{
		PostMode: api.ModeUnified,
		Content:  &content,
		Targets: map[string]api.TargetContent{
			"x":       {Selected: true, Content: "hello"},
			"bluesky": {Selected: true, Content: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "unified", got["post_mode"])
	assert.Equal(t, "hello", got["content"])
	assert.Equal(t, map[string]any{"selected": true, "content": "hello"}, got["x"])
	assert.NotContains(t, got, "media_files")
	assert.True(t, resp.Results["x"].Success)
	assert.Equal(t, "boom", resp.Results["bluesky"].Error)
}

func TestNon2xxIsRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"success":false,"error":"no targets"}`)
	}))
	defer srv.Close()

	_, err := NewWithClient(srv.URL, srv.Client()).Schedule(context.Background(), api.PostRequest{PostMode: api.ModeUnified})
	require.Error(t, err)
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Equal(t, "no targets", reqErr.Message)
	assert.Contains(t, err.Error(), api.PathSchedule)
}

func TestUploadMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File[api.UploadField]
		require.Len(t, files, 2)
		assert.Equal(t, "a.png", files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))
		assert.Equal(t, "b.mp4", files[1].Filename)
		_ = json.NewEncoder(w).Encode(api.UploadResponse{
			Success: true,
			Files: []api.UploadedFile{
				{Path: "/u/1_a.png", Type: "image/png", Name: "a.png"},
				{Path: "/u/2_b.mp4", Type: "video/mp4", Name: "b.mp4"},
			},
		})
	}))
	defer srv.Close()

	resp, err := NewWithClient(srv.URL, srv.Client()).Upload(context.Background(), []UploadFile{
		{Name: "a.png", ContentType: "image/png", Body: strings.NewReader("png")},
		{Name: "b.mp4", ContentType: "video/mp4", Body: strings.NewReader("mp4")},
	})
	require.NoError(t, err)
	require.Len(t, resp.Files, 2)
	assert.Equal(t, "/u/2_b.mp4", resp.Files[1].Path)
}

func TestUploadUnsuccessfulBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"disk full","files":[]}`)
	}))
	defer srv.Close()

	_, err := NewWithClient(srv.URL, srv.Client()).Upload(context.Background(), []UploadFile{
		{Name: "a.png", ContentType: "image/png", Body: strings.NewReader("png")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestDeleteScheduledPost(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	require.NoError(t, NewWithClient(srv.URL, srv.Client()).DeleteScheduledPost(context.Background(), 42))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/api/delete-scheduled-post/42", path)
}

func TestSetPostNow(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	defer srv.Close()

	require.NoError(t, NewWithClient(srv.URL, srv.Client()).SetPostNow(context.Background(), 7))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/debug/set-post-now/7", path)
}

func TestScheduledPostsIsolatesBadEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, api.PathScheduledPosts, r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true,"posts":[
			{"id":1,"content":"\"hi\"","platforms":"{}","scheduled_time":"2026-10-16T18:30:00","status":"pending"},
			{"id":2,"scheduled_time":1760000000,"status":7,"post_mode":null},
			{"id":"3","scheduled_time":"2026-10-17T09:00:00","status":"failed"},
			{"id":{"nested":true},"status":"pending"},
			"not an object",
			{"scheduled_time":"2026-10-18T09:00:00"}
		]}`)
	}))
	defer srv.Close()

	posts, err := NewWithClient(srv.URL, srv.Client()).ScheduledPosts(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 3)

	assert.Equal(t, int64(1), posts[0].ID)
	assert.Equal(t, "2026-10-16T18:30:00", posts[0].ScheduledTime)
	assert.JSONEq(t, `"\"hi\""`, string(posts[0].Content))

	assert.Equal(t, int64(2), posts[1].ID)
	assert.Equal(t, "2025-10-09T08:53:20Z", posts[1].ScheduledTime)
	assert.Empty(t, posts[1].Status)
	assert.Empty(t, posts[1].PostMode)

	assert.Equal(t, int64(3), posts[2].ID)
	assert.Equal(t, api.StatusFailed, posts[2].Status)
}
