package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/snspost/internal/logutil"
	"github.com/blacktop/snspost/internal/xpost"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	envHost  = "SNSPOST_MISSKEY_HOST"
	envToken = "SNSPOST_MISSKEY_TOKEN"

	providerName   = xpost.Misskey
	requestTimeout = 30 * time.Second
	maxFiles       = 16
)

// Config names the instance and the API token.
type Config struct {
	Host  string
	Token string
}

// Client posts notes to a Misskey instance.
type Client struct {
	host  string
	token string
	http  *http.Client
}

// New constructs a Misskey poster from the environment.
func New(ctx context.Context) (xpost.Poster, error) {
	cfg := Config{
		Host:  strings.TrimSpace(os.Getenv(envHost)),
		Token: strings.TrimSpace(os.Getenv(envToken)),
	}
	if err := xpost.RequireEnv(providerName, [2]string{envHost, cfg.Host}, [2]string{envToken, cfg.Token}); err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, nil), nil
}

// NewWithConfig builds a poster from explicit settings. A nil hc gets a
// pooled client.
func NewWithConfig(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
		hc.Timeout = requestTimeout
	}
	host := strings.TrimRight(cfg.Host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return &Client{host: host, token: cfg.Token, http: hc}
}

func (c *Client) Name() string { return providerName }

// Post uploads every file to the drive, then creates one note.
func (c *Client) Post(ctx context.Context, req xpost.Request) error {
	if len(req.MediaPaths) > maxFiles {
		return xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("at most %d files per note", maxFiles)}
	}
	fileIDs := make([]string, 0, len(req.MediaPaths))
	for _, path := range req.MediaPaths {
		id, err := c.uploadFile(ctx, path, req.MediaAlt)
		if err != nil {
			return err
		}
		fileIDs = append(fileIDs, id)
	}

	body := map[string]any{
		"i":          c.token,
		"text":       req.Message,
		"visibility": "public",
	}
	if len(fileIDs) > 0 {
		body["fileIds"] = fileIDs
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var out struct {
		CreatedNote struct {
			ID string `json:"id"`
		} `json:"createdNote"`
	}
	if err := c.call(ctx, "/api/notes/create", "application/json", bytes.NewReader(buf), &out); err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	logutil.Debugf("misskey note created: id=%s files=%d", out.CreatedNote.ID, len(fileIDs))
	return nil
}

func (c *Client) uploadFile(ctx context.Context, path, alt string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("media %q not found", filepath.Base(path))}
		}
		return "", fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("i", c.token); err != nil {
		return "", err
	}
	if alt != "" {
		if err := mw.WriteField("comment", alt); err != nil {
			return "", err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "/api/drive/files/create", mw.FormDataContentType(), &buf, &out); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload media: empty file id")
	}
	return out.ID, nil
}

func (c *Client) call(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	logutil.Debugf("misskey POST %s -> %d", path, resp.StatusCode)
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("misskey %d: %s (%s)", resp.StatusCode, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("misskey %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
