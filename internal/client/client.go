// Package client talks to the snspost backend over HTTP/JSON.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/logutil"
	"github.com/hashicorp/go-cleanhttp"
)

const defaultTimeout = 30 * time.Second

// Client issues requests against one backend base URL.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// New returns a client using a pooled transport.
func New(baseURL string) *Client {
	return NewWithClient(baseURL, cleanhttp.DefaultPooledClient())
}

// NewWithClient returns a client that sends through hc.
func NewWithClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = cleanhttp.DefaultClient()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  hc,
		timeout: defaultTimeout,
	}
}

// WithTimeout returns a copy whose unary requests are bounded by timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.timeout = timeout
	return &clone
}

// BaseURL reports the backend the client points at.
func (c *Client) BaseURL() string { return c.baseURL }

// RequestError is returned for any non-2xx response.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// Platforms fetches the available targets.
func (c *Client) Platforms(ctx context.Context) (api.Platforms, error) {
	var out api.Platforms
	if err := c.doJSON(ctx, http.MethodGet, api.PathPlatforms, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CharacterLimits fetches the per-target character limits.
func (c *Client) CharacterLimits(ctx context.Context) (api.CharacterLimits, error) {
	var out api.CharacterLimits
	if err := c.doJSON(ctx, http.MethodGet, api.PathCharacterLimits, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Post publishes immediately without media.
func (c *Client) Post(ctx context.Context, req api.PostRequest) (*api.PostResponse, error) {
	var out api.PostResponse
	if err := c.doJSON(ctx, http.MethodPost, api.PathPost, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostWithMedia publishes immediately with previously uploaded media.
func (c *Client) PostWithMedia(ctx context.Context, req api.PostRequest) (*api.PostResponse, error) {
	var out api.PostResponse
	if err := c.doJSON(ctx, http.MethodPost, api.PathPostWithMedia, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Schedule asks the backend to deliver req at req.ScheduledTime.
func (c *Client) Schedule(ctx context.Context, req api.PostRequest) (*api.ScheduleResponse, error) {
	var out api.ScheduleResponse
	if err := c.doJSON(ctx, http.MethodPost, api.PathSchedule, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ScheduledPosts lists every scheduled post the backend knows about. Each
// entry is decoded on its own; an entry that cannot be decoded is logged and
// left out instead of failing the whole list.
func (c *Client) ScheduledPosts(ctx context.Context) ([]api.ScheduledPost, error) {
	var out struct {
		Posts []json.RawMessage `json:"posts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, api.PathScheduledPosts, nil, &out); err != nil {
		return nil, err
	}
	posts := make([]api.ScheduledPost, 0, len(out.Posts))
	for i, raw := range out.Posts {
		var p api.ScheduledPost
		if err := json.Unmarshal(raw, &p); err != nil {
			logutil.Warnf("scheduled post entry %d skipped: %v", i, err)
			continue
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// DeleteScheduledPost cancels one scheduled post.
func (c *Client) DeleteScheduledPost(ctx context.Context, id int64) error {
	var out api.StatusResponse
	return c.doJSON(ctx, http.MethodDelete, api.DeleteScheduledPostPath(id), nil, &out)
}

// SetPostNow makes one scheduled post due immediately.
func (c *Client) SetPostNow(ctx context.Context, id int64) error {
	var out api.StatusResponse
	return c.doJSON(ctx, http.MethodPost, api.SetPostNowPath(id), nil, &out)
}

// ForceCheckScheduled runs one scheduler pass on the backend.
func (c *Client) ForceCheckScheduled(ctx context.Context) error {
	var out api.StatusResponse
	return c.doJSON(ctx, http.MethodPost, api.PathForceCheckScheduled, nil, &out)
}

// UploadFile is one file handed to Upload.
type UploadFile struct {
	Name        string
	ContentType string
	Body        io.Reader
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Upload sends every file in one multipart request under the files[] field.
func (c *Client) Upload(ctx context.Context, files []UploadFile) (*api.UploadResponse, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(api.UploadField), quoteEscaper.Replace(f.Name)))
		if f.ContentType != "" {
			h.Set("Content-Type", f.ContentType)
		} else {
			h.Set("Content-Type", "application/octet-stream")
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create part %s: %w", f.Name, err)
		}
		if _, err := io.Copy(part, f.Body); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	payload, err := c.send(ctx, http.MethodPost, api.PathUpload, buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var out api.UploadResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "upload rejected"
		}
		return nil, &RequestError{Method: http.MethodPost, Path: api.PathUpload, StatusCode: http.StatusOK, Message: msg}
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = buf
		contentType = "application/json"
	}
	payload, err := c.send(ctx, method, path, reader, contentType)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	reqCtx := ctx
	if c.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.timeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	logutil.Debugf("request: %s %s", method, path)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	logutil.Debugf("response: %s %s status=%d bytes=%d", method, path, resp.StatusCode, len(payload))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var er api.StatusResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error != "" {
			reqErr.Message = er.Error
		} else {
			reqErr.Message = strings.TrimSpace(string(payload))
		}
		return nil, reqErr
	}
	return payload, nil
}
