package xpost

import (
	"context"
	"path/filepath"
	"strings"
)

// Request is one delivery to one network.
type Request struct {
	Message string
	// MediaPaths are local files, already screened by the caller.
	MediaPaths []string
	MediaAlt   string
}

// Poster abstracts a social network that can publish content.
type Poster interface {
	Name() string
	Post(ctx context.Context, req Request) error
}

// Target ids.
const (
	Bluesky  = "bluesky"
	Mastodon = "mastodon"
	Misskey  = "misskey"
	Threads  = "threads"
	X        = "x"
)

// DefaultLimits are the per-network character limits.
var DefaultLimits = map[string]int{
	Bluesky:  300,
	X:        280,
	Threads:  500,
	Misskey:  3000,
	Mastodon: 500,
}

// DefaultAltText describes media posted without its own description.
const DefaultAltText = "Image attached via snspost"

var mediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// MediaType returns the MIME type for an allowed media file name, or "".
func MediaType(name string) string {
	return mediaTypes[strings.ToLower(filepath.Ext(name))]
}

// AllowedMedia reports whether name has an uploadable extension.
func AllowedMedia(name string) bool {
	return MediaType(name) != ""
}

// IsVideo reports whether name is an allowed video file.
func IsVideo(name string) bool {
	return strings.HasPrefix(MediaType(name), "video/")
}
