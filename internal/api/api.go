// Package api holds the JSON shapes and endpoint paths spoken between the
// snspost client and its backend.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Endpoint paths. These are part of the wire contract and must not change.
const (
	PathPlatforms           = "/api/platforms"
	PathCharacterLimits     = "/api/character_limits"
	PathPost                = "/api/post"
	PathUpload              = "/api/upload"
	PathPostWithMedia       = "/api/post-with-media"
	PathSchedule            = "/api/schedule"
	PathScheduledPosts      = "/api/scheduled-posts"
	PathDeleteScheduledPost = "/api/delete-scheduled-post/"
	PathForceCheckScheduled = "/api/debug/force-check-scheduled"
	PathSetPostNow          = "/api/debug/set-post-now/"
	PathUploads             = "/uploads/"

	// UploadField is the multipart field carrying every uploaded file.
	UploadField = "files[]"
)

// DeleteScheduledPostPath returns the delete endpoint for one scheduled post.
func DeleteScheduledPostPath(id int64) string {
	return PathDeleteScheduledPost + strconv.FormatInt(id, 10)
}

// SetPostNowPath returns the endpoint that makes one scheduled post due.
func SetPostNowPath(id int64) string {
	return PathSetPostNow + strconv.FormatInt(id, 10)
}

// PostMode is the value of the post_mode field.
type PostMode string

const (
	ModeUnified    PostMode = "unified"
	ModeIndividual PostMode = "individual"
)

// Valid reports whether m is one of the known modes.
func (m PostMode) Valid() bool {
	return m == ModeUnified || m == ModeIndividual
}

// PlatformInfo is one entry of the /api/platforms response.
type PlatformInfo struct {
	Enabled bool `json:"enabled"`
	Limit   int  `json:"limit"`
}

// Platforms is the /api/platforms response keyed by target id.
type Platforms map[string]PlatformInfo

// CharacterLimits is the /api/character_limits response keyed by target id.
type CharacterLimits map[string]int

// TargetContent is the per-target object carried in post and schedule bodies.
type TargetContent struct {
	Selected bool   `json:"selected"`
	Content  string `json:"content"`
}

// PostRequest is the body of /api/post, /api/post-with-media and /api/schedule.
//
// Targets are flattened into the top-level object under their id, next to the
// fixed fields, so the type carries its own JSON codec.
type PostRequest struct {
	PostMode      PostMode
	Content       *string
	MediaFiles    []string
	ScheduledTime string
	Targets       map[string]TargetContent
}

var reservedKeys = map[string]struct{}{
	"post_mode":      {},
	"content":        {},
	"media_files":    {},
	"scheduled_time": {},
}

// MarshalJSON implements json.Marshaler.
func (r PostRequest) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Targets)+4)
	for id, tc := range r.Targets {
		if _, ok := reservedKeys[id]; ok {
			return nil, fmt.Errorf("target id %q collides with a request field", id)
		}
		out[id] = tc
	}
	out["post_mode"] = r.PostMode
	if r.Content != nil {
		out["content"] = *r.Content
	}
	if len(r.MediaFiles) > 0 {
		out["media_files"] = r.MediaFiles
	}
	if r.ScheduledTime != "" {
		out["scheduled_time"] = r.ScheduledTime
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Unknown keys that do not look
// like a target object are ignored.
func (r *PostRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = PostRequest{Targets: map[string]TargetContent{}}
	for key, val := range raw {
		switch key {
		case "post_mode":
			if err := json.Unmarshal(val, &r.PostMode); err != nil {
				return fmt.Errorf("post_mode: %w", err)
			}
		case "content":
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				return fmt.Errorf("content: %w", err)
			}
			r.Content = &s
		case "media_files":
			if err := json.Unmarshal(val, &r.MediaFiles); err != nil {
				return fmt.Errorf("media_files: %w", err)
			}
		case "scheduled_time":
			if err := json.Unmarshal(val, &r.ScheduledTime); err != nil {
				return fmt.Errorf("scheduled_time: %w", err)
			}
		default:
			trimmed := bytes.TrimSpace(val)
			if len(trimmed) == 0 || trimmed[0] != '{' {
				continue
			}
			var tc TargetContent
			if err := json.Unmarshal(trimmed, &tc); err != nil {
				continue
			}
			r.Targets[key] = tc
		}
	}
	return nil
}

// SelectedTargets returns the ids whose entry has selected=true.
func (r PostRequest) SelectedTargets() map[string]string {
	out := make(map[string]string, len(r.Targets))
	for id, tc := range r.Targets {
		if tc.Selected {
			out[id] = tc.Content
		}
	}
	return out
}

// UploadedFile describes one stored upload.
type UploadedFile struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

// UploadResponse is the /api/upload response.
type UploadResponse struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Message string         `json:"message,omitempty"`
	Files   []UploadedFile `json:"files"`
}

// TargetResult is one target's outcome in a post response.
type TargetResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Response string `json:"response,omitempty"`
}

// PostResponse is the /api/post and /api/post-with-media response.
type PostResponse struct {
	Success bool                    `json:"success"`
	Results map[string]TargetResult `json:"results"`
}

// ScheduleResponse is the /api/schedule response.
type ScheduleResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	PostID        int64  `json:"post_id"`
	ScheduledTime string `json:"scheduled_time"`
}

// Status values of a scheduled post.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ScheduledPost is one entry of the scheduled list exactly as the server
// stored it. Content, Platforms and MediaPaths may each be structured JSON or
// a JSON string holding encoded JSON, so they stay raw here.
type ScheduledPost struct {
	ID            int64           `json:"id"`
	Content       json.RawMessage `json:"content,omitempty"`
	Platforms     json.RawMessage `json:"platforms,omitempty"`
	ScheduledTime string          `json:"scheduled_time"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at,omitempty"`
	MediaPaths    json.RawMessage `json:"media_paths,omitempty"`
	PostMode      PostMode        `json:"post_mode,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler. Only a usable id is required;
// the time, status and mode fields take whatever scalar the backend sent.
func (p *ScheduledPost) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            json.RawMessage `json:"id"`
		Content       json.RawMessage `json:"content"`
		Platforms     json.RawMessage `json:"platforms"`
		ScheduledTime json.RawMessage `json:"scheduled_time"`
		Status        json.RawMessage `json:"status"`
		CreatedAt     json.RawMessage `json:"created_at"`
		MediaPaths    json.RawMessage `json:"media_paths"`
		PostMode      json.RawMessage `json:"post_mode"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := looseID(raw.ID)
	if err != nil {
		return err
	}
	*p = ScheduledPost{
		ID:            id,
		Content:       raw.Content,
		Platforms:     raw.Platforms,
		ScheduledTime: looseTime(raw.ScheduledTime),
		Status:        looseString(raw.Status),
		CreatedAt:     looseTime(raw.CreatedAt),
		MediaPaths:    raw.MediaPaths,
		PostMode:      PostMode(looseString(raw.PostMode)),
	}
	return nil
}

func looseID(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if id, err := n.Int64(); err == nil && id > 0 {
			return id, nil
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, fmt.Errorf("invalid id %s", strings.TrimSpace(string(raw)))
}

// looseTime keeps strings as sent and renders unix seconds as RFC 3339.
func looseTime(raw json.RawMessage) string {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if secs, err := n.Float64(); err == nil {
			return time.Unix(int64(secs), 0).UTC().Format(time.RFC3339)
		}
	}
	return looseString(raw)
}

func looseString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// ScheduledPostsResponse is the /api/scheduled-posts response.
type ScheduledPostsResponse struct {
	Success bool            `json:"success"`
	Posts   []ScheduledPost `json:"posts"`
}

// MediaPaths is the stored shape of a scheduled post's media.
type MediaPaths struct {
	Files []string `json:"files"`
}

// StatusResponse is the generic {success, message|error} body.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
