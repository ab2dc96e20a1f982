package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/snspost/internal/logutil"
	"github.com/blacktop/snspost/internal/xpost"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	envHandle      = "SNSPOST_BLUESKY_HANDLE"
	envAppPassword = "SNSPOST_BLUESKY_APP_PASSWORD"
	envPDSURL      = "SNSPOST_BLUESKY_PDS_URL"

	// DefaultPDSURL is used when no PDS is configured.
	DefaultPDSURL = "https://bsky.social"

	providerName   = xpost.Bluesky
	requestTimeout = 30 * time.Second
	maxImages      = 4
)

// Config allows the caller to supply defaults prior to reading environment variables.
type Config struct {
	PDSURL string
}

// Client implements the xpost.Poster interface for Bluesky.
type Client struct {
	client *xrpc.Client
}

// New constructs a Bluesky poster.
func New(ctx context.Context, base Config) (xpost.Poster, error) {
	cfg, err := loadConfig(base)
	if err != nil {
		return nil, err
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = requestTimeout
	userAgent := "snspost/1"
	xrpcClient := &xrpc.Client{
		Client:    httpClient,
		Host:      cfg.PDSURL,
		UserAgent: &userAgent,
	}

	session, err := atproto.ServerCreateSession(ctx, xrpcClient, &atproto.ServerCreateSession_Input{
		Identifier: cfg.Handle,
		Password:   cfg.AppPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("bluesky login: %w", err)
	}

	xrpcClient.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}

	return &Client{client: xrpcClient}, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Post creates a Bluesky post embedding up to four images.
func (c *Client) Post(ctx context.Context, req xpost.Request) error {
	if err := checkMedia(req.MediaPaths); err != nil {
		return err
	}

	post := &bsky.FeedPost{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Text:      req.Message,
	}

	if len(req.MediaPaths) > 0 {
		images := make([]*bsky.EmbedImages_Image, 0, len(req.MediaPaths))
		for _, path := range req.MediaPaths {
			blob, err := c.uploadImage(ctx, path)
			if err != nil {
				return err
			}
			images = append(images, &bsky.EmbedImages_Image{Alt: req.MediaAlt, Image: blob})
		}
		post.Embed = &bsky.FeedPost_Embed{EmbedImages: &bsky.EmbedImages{Images: images}}
	}

	_, err := atproto.RepoCreateRecord(ctx, c.client, &atproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       c.client.Auth.Did,
		Record: &util.LexiconTypeDecoder{
			Val: post,
		},
	})
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	logutil.Debugf("bluesky record created: images=%d", len(req.MediaPaths))
	return nil
}

func checkMedia(paths []string) error {
	if len(paths) > maxImages {
		return xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("at most %d images per post, got %d", maxImages, len(paths))}
	}
	for _, p := range paths {
		if xpost.IsVideo(p) {
			return xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("video %q is not supported", filepath.Base(p))}
		}
	}
	return nil
}

func (c *Client) uploadImage(ctx context.Context, path string) (*util.LexBlob, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("image %q not found", path)}
		}
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, file); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	resp, err := atproto.RepoUploadBlob(ctx, c.client, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	if resp.Blob == nil {
		return nil, fmt.Errorf("upload blob: empty response")
	}

	return resp.Blob, nil
}

// ProviderConfig merges defaults with environment-defined values.
type ProviderConfig struct {
	Handle      string
	AppPassword string
	PDSURL      string
}

func loadConfig(base Config) (ProviderConfig, error) {
	cfg := ProviderConfig{
		Handle:      strings.TrimSpace(os.Getenv(envHandle)),
		AppPassword: strings.TrimSpace(os.Getenv(envAppPassword)),
		PDSURL:      strings.TrimSpace(os.Getenv(envPDSURL)),
	}

	if cfg.PDSURL == "" {
		cfg.PDSURL = strings.TrimSpace(base.PDSURL)
	}
	if cfg.PDSURL == "" {
		cfg.PDSURL = DefaultPDSURL
	}

	err := xpost.RequireEnv(providerName,
		[2]string{envHandle, cfg.Handle},
		[2]string{envAppPassword, cfg.AppPassword},
	)
	if err != nil {
		return ProviderConfig{}, err
	}
	return cfg, nil
}
