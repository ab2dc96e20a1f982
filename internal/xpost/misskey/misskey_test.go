package misskey

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/blacktop/snspost/internal/xpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostWithFiles(t *testing.T) {
	var note map[string]any
	var uploads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/drive/files/create":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "tok", r.FormValue("i"))
			_, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			assert.Equal(t, "a.png", hdr.Filename)
			uploads++
			_, _ = w.Write([]byte(`{"id":"file1"}`))
		case "/api/notes/create":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&note))
			_, _ = w.Write([]byte(`{"createdNote":{"id":"n1"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))

	c := NewWithConfig(Config{Host: srv.URL, Token: "tok"}, srv.Client())
	require.NoError(t, c.Post(context.Background(), xpost.Request{Message: "hello", MediaPaths: []string{path}}))
	assert.Equal(t, 1, uploads)
	assert.Equal(t, "hello", note["text"])
	assert.Equal(t, []any{"file1"}, note["fileIds"])
}

func TestPostAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid param.","code":"INVALID_PARAM"}}`))
	}))
	defer srv.Close()

	c := NewWithConfig(Config{Host: srv.URL, Token: "tok"}, srv.Client())
	err := c.Post(context.Background(), xpost.Request{Message: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid param.")
}

func TestHostGetsScheme(t *testing.T) {
	c := NewWithConfig(Config{Host: "misskey.io/", Token: "tok"}, nil)
	assert.Equal(t, "https://misskey.io", c.host)
}
