package xpost

import (
	"context"
	"sort"
	"strings"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/logutil"
)

// Deliver posts each target's text with the shared media, one target at a
// time in id order. wait, when set, runs before every call and can pace or
// abort the run. A failing target never stops the others.
func (r *Registry) Deliver(ctx context.Context, targets map[string]string, media []string, wait func(context.Context) error) map[string]api.TargetResult {
	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make(map[string]api.TargetResult, len(ids))
	for _, id := range ids {
		p, ok := r.Poster(id)
		if !ok {
			results[id] = api.TargetResult{Error: r.Err(id).Error()}
			continue
		}
		if wait != nil {
			if err := wait(ctx); err != nil {
				results[id] = api.TargetResult{Error: err.Error()}
				continue
			}
		}
		text := targets[id]
		if strings.TrimSpace(text) == "" {
			results[id] = api.TargetResult{Error: "content is empty"}
			continue
		}
		if limit := r.Limit(id); limit > 0 && len([]rune(text)) > limit {
			results[id] = api.TargetResult{Error: ValidationError{Provider: id, Reason: "content exceeds character limit"}.Error()}
			continue
		}
		req := Request{Message: text, MediaPaths: media}
		if len(media) > 0 {
			req.MediaAlt = DefaultAltText
		}
		if err := p.Post(ctx, req); err != nil {
			logutil.Warnf("%s: post failed: %v", id, err)
			results[id] = api.TargetResult{Error: err.Error()}
			continue
		}
		logutil.Infof("%s: posted (media=%d)", id, len(media))
		results[id] = api.TargetResult{Success: true, Response: "posted"}
	}
	return results
}

// AllSucceeded reports whether results is non-empty and every entry succeeded.
func AllSucceeded(results map[string]api.TargetResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}
