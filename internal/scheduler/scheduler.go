// Package scheduler delivers scheduled posts once they fall due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/logutil"
	"github.com/blacktop/snspost/internal/store"
	"github.com/blacktop/snspost/internal/xpost"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// Store is the part of the post store the scheduler needs.
type Store interface {
	Due(ctx context.Context, now time.Time) ([]store.Post, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
}

// Deliverer posts to targets; *xpost.Registry implements it.
type Deliverer interface {
	Deliver(ctx context.Context, targets map[string]string, media []string, wait func(context.Context) error) map[string]api.TargetResult
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	Interval   time.Duration
	RatePerSec float64
	Location   *time.Location
	// ResolveMedia maps a stored media path to a readable local file.
	ResolveMedia func(stored string) (string, bool)
	Now          func() time.Time
}

// Report summarizes one pass.
type Report struct {
	Due       int
	Completed int
	Failed    int
}

type Service struct {
	st      Store
	deliver Deliverer
	opts    Options
	limiter *rate.Limiter

	mu sync.Mutex
	c  *cron.Cron

	runMu sync.Mutex
}

func New(st Store, d Deliverer, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Service{
		st:      st,
		deliver: d,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
	}
}

// Start registers the periodic pass. Passes never overlap.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.c = cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	spec := fmt.Sprintf("@every %s", s.opts.Interval)
	if _, err := s.c.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			logutil.Errorf("scheduled pass failed: %v", err)
		}
	}); err != nil {
		s.c = nil
		return fmt.Errorf("register scheduled pass: %w", err)
	}
	s.c.Start()
	logutil.Infof("scheduler started: every=%s tz=%s", s.opts.Interval, s.opts.Location)
	return nil
}

// Stop waits for a running pass to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	logutil.Infof("scheduler stopped")
}

// RunOnce delivers every due pending post. A post is completed only when
// every selected target succeeded; otherwise it is failed, including when
// nothing was selected or none of its media could be found.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.opts.Now()
	due, err := s.st.Due(ctx, now)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Due: len(due)}
	if len(due) > 0 {
		logutil.Infof("scheduled pass: %d due", len(due))
	}

	var errs []error
	for _, p := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		status := s.deliverPost(ctx, p)
		if err := s.st.UpdateStatus(ctx, p.ID, status); err != nil {
			errs = append(errs, fmt.Errorf("post %d: %w", p.ID, err))
			continue
		}
		if status == api.StatusCompleted {
			rep.Completed++
		} else {
			rep.Failed++
		}
	}
	return rep, errors.Join(errs...)
}

func (s *Service) deliverPost(ctx context.Context, p store.Post) string {
	targets := p.Selected()
	if len(targets) == 0 {
		logutil.Warnf("scheduled post %d: no targets selected", p.ID)
		return api.StatusFailed
	}
	if p.PostMode != api.ModeIndividual {
		for id := range targets {
			targets[id] = p.Content
		}
	}

	media := make([]string, 0, len(p.MediaFiles))
	for _, stored := range p.MediaFiles {
		local, ok := stored, true
		if s.opts.ResolveMedia != nil {
			local, ok = s.opts.ResolveMedia(stored)
		}
		if !ok {
			logutil.Warnf("scheduled post %d: media %s not found", p.ID, stored)
			continue
		}
		media = append(media, local)
	}
	if len(p.MediaFiles) > 0 && len(media) == 0 {
		logutil.Warnf("scheduled post %d: none of its media could be found", p.ID)
		return api.StatusFailed
	}

	results := s.deliver.Deliver(ctx, targets, media, s.limiter.Wait)
	if xpost.AllSucceeded(results) {
		logutil.Infof("scheduled post %d completed", p.ID)
		return api.StatusCompleted
	}
	logutil.Warnf("scheduled post %d failed", p.ID)
	return api.StatusFailed
}
