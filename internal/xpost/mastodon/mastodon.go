package mastodon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/snspost/internal/logutil"
	"github.com/blacktop/snspost/internal/xpost"
	mastodonapi "github.com/mattn/go-mastodon"
)

const (
	envServer       = "SNSPOST_MASTODON_SERVER"
	envAccessToken  = "SNSPOST_MASTODON_ACCESS_TOKEN"
	envClientID     = "SNSPOST_MASTODON_CLIENT_ID"
	envClientSecret = "SNSPOST_MASTODON_CLIENT_SECRET"

	providerName   = xpost.Mastodon
	requestTimeout = 30 * time.Second
)

// Config contains the settings needed to reach a Mastodon server.
type Config struct {
	Server       string
	AccessToken  string
	ClientID     string
	ClientSecret string
}

// Client posts statuses to one Mastodon instance.
type Client struct {
	client *mastodonapi.Client
}

// New constructs a Mastodon poster based on environment configuration.
func New(ctx context.Context) (xpost.Poster, error) {
	cfg, err := loadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg), nil
}

// NewWithConfig builds a poster from explicit settings.
func NewWithConfig(cfg Config) *Client {
	mastodonClient := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       cfg.Server,
		AccessToken:  cfg.AccessToken,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	mastodonClient.Timeout = requestTimeout
	return &Client{client: mastodonClient}
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Post publishes a status with every attached file as media.
func (c *Client) Post(ctx context.Context, req xpost.Request) error {
	mediaIDs := make([]mastodonapi.ID, 0, len(req.MediaPaths))
	for _, path := range req.MediaPaths {
		attachment, err := c.uploadMedia(ctx, path, req.MediaAlt)
		if err != nil {
			return err
		}
		mediaIDs = append(mediaIDs, attachment.ID)
	}

	status, err := c.client.PostStatus(ctx, &mastodonapi.Toot{
		Status:   req.Message,
		MediaIDs: mediaIDs,
	})
	if err != nil {
		return fmt.Errorf("post status: %w", err)
	}
	logutil.Debugf("mastodon status posted: id=%s media=%d", status.ID, len(mediaIDs))
	return nil
}

func (c *Client) uploadMedia(ctx context.Context, path, alt string) (*mastodonapi.Attachment, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("media %q not found", filepath.Base(path))}
		}
		return nil, fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	attachment, err := c.client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
		File:        file,
		Description: alt,
	})
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	return attachment, nil
}

func loadConfigFromEnv() (Config, error) {
	cfg := Config{
		Server:       strings.TrimSpace(os.Getenv(envServer)),
		AccessToken:  strings.TrimSpace(os.Getenv(envAccessToken)),
		ClientID:     strings.TrimSpace(os.Getenv(envClientID)),
		ClientSecret: strings.TrimSpace(os.Getenv(envClientSecret)),
	}

	err := xpost.RequireEnv(providerName,
		[2]string{envServer, cfg.Server},
		[2]string{envAccessToken, cfg.AccessToken},
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}
