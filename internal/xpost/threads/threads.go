package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/blacktop/snspost/internal/logutil"
	"github.com/blacktop/snspost/internal/xpost"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	envUserID      = "SNSPOST_THREADS_USER_ID"
	envAccessToken = "SNSPOST_THREADS_ACCESS_TOKEN"

	// DefaultBaseURL is the Threads Graph API root.
	DefaultBaseURL = "https://graph.threads.net/v1.0"

	providerName   = xpost.Threads
	requestTimeout = 30 * time.Second
)

// Config holds the Threads user and its long-lived token.
type Config struct {
	UserID      string
	AccessToken string
	BaseURL     string
}

// Client publishes text posts through the two-step container flow.
type Client struct {
	cfg  Config
	http *http.Client
}

// New constructs a Threads poster from the environment.
func New(ctx context.Context) (xpost.Poster, error) {
	cfg := Config{
		UserID:      strings.TrimSpace(os.Getenv(envUserID)),
		AccessToken: strings.TrimSpace(os.Getenv(envAccessToken)),
	}
	if err := xpost.RequireEnv(providerName, [2]string{envUserID, cfg.UserID}, [2]string{envAccessToken, cfg.AccessToken}); err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, nil), nil
}

// NewWithConfig builds a poster from explicit settings.
func NewWithConfig(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
		hc.Timeout = requestTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: hc}
}

func (c *Client) Name() string { return providerName }

// Post creates a text container and publishes it. Threads only accepts
// media by public URL, which uploads on this server are not, so media is
// rejected.
func (c *Client) Post(ctx context.Context, req xpost.Request) error {
	if len(req.MediaPaths) > 0 {
		return xpost.ValidationError{Provider: providerName, Reason: "media posts need a publicly reachable URL"}
	}

	creationID, err := c.call(ctx, "threads", url.Values{
		"media_type": {"TEXT"},
		"text":       {req.Message},
	})
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	postID, err := c.call(ctx, "threads_publish", url.Values{"creation_id": {creationID}})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	logutil.Debugf("threads post published: id=%s", postID)
	return nil
}

func (c *Client) call(ctx context.Context, edge string, form url.Values) (string, error) {
	form.Set("access_token", c.cfg.AccessToken)
	endpoint := fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.UserID), edge)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	logutil.Debugf("threads POST %s -> %d", edge, resp.StatusCode)

	var out struct {
		ID    string `json:"id"`
		Error *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("threads %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out.Error != nil {
		return "", fmt.Errorf("threads %d: %s (code %d)", resp.StatusCode, out.Error.Message, out.Error.Code)
	}
	if resp.StatusCode >= 300 || out.ID == "" {
		return "", fmt.Errorf("threads %d: no id in response", resp.StatusCode)
	}
	return out.ID, nil
}
