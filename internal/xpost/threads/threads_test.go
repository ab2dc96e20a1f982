package threads

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blacktop/snspost/internal/xpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostTwoStep(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok", r.PostForm.Get("access_token"))
		calls = append(calls, r.URL.Path)
		switch r.URL.Path {
		case "/u1/threads":
			assert.Equal(t, "TEXT", r.PostForm.Get("media_type"))
			assert.Equal(t, "hi threads", r.PostForm.Get("text"))
			_, _ = w.Write([]byte(`{"id":"c1"}`))
		case "/u1/threads_publish":
			assert.Equal(t, "c1", r.PostForm.Get("creation_id"))
			_, _ = w.Write([]byte(`{"id":"p1"}`))
		}
	}))
	defer srv.Close()

	c := NewWithConfig(Config{UserID: "u1", AccessToken: "tok", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, c.Post(context.Background(), xpost.Request{Message: "hi threads"}))
	assert.Equal(t, []string{"/u1/threads", "/u1/threads_publish"}, calls)
}

func TestPostRejectsMedia(t *testing.T) {
	c := NewWithConfig(Config{UserID: "u1", AccessToken: "tok"}, nil)
	err := c.Post(context.Background(), xpost.Request{Message: "x", MediaPaths: []string{"a.png"}})
	var verr xpost.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, xpost.Threads, verr.Provider)
}

func TestPostGraphError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","code":190}}`))
	}))
	defer srv.Close()

	c := NewWithConfig(Config{UserID: "u1", AccessToken: "tok", BaseURL: srv.URL}, srv.Client())
	err := c.Post(context.Background(), xpost.Request{Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid OAuth access token")
}
