package compose

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/blacktop/snspost/internal/api"
	"github.com/blacktop/snspost/internal/logutil"
)

// Endpoint is one of the three outbound requests a dispatch can become.
type Endpoint int

const (
	EndpointPost Endpoint = iota
	EndpointPostWithMedia
	EndpointSchedule
)

// Path returns the endpoint's URL path.
func (e Endpoint) Path() string {
	switch e {
	case EndpointPostWithMedia:
		return api.PathPostWithMedia
	case EndpointSchedule:
		return api.PathSchedule
	default:
		return api.PathPost
	}
}

// Action names the endpoint for error reporting.
func (e Endpoint) Action() string {
	switch e {
	case EndpointPostWithMedia:
		return "post with media"
	case EndpointSchedule:
		return "schedule"
	default:
		return "post"
	}
}

// SelectEndpoint picks the request kind. Scheduling wins regardless of media.
func SelectEndpoint(scheduled bool, mediaCount int) Endpoint {
	switch {
	case scheduled:
		return EndpointSchedule
	case mediaCount > 0:
		return EndpointPostWithMedia
	default:
		return EndpointPost
	}
}

// Phase is where a dispatch attempt currently is.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseUploading
	PhaseDispatching
)

func (p Phase) String() string {
	switch p {
	case PhaseValidating:
		return "validating"
	case PhaseUploading:
		return "uploading"
	case PhaseDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

// Transport is the slice of the backend client the dispatcher needs.
type Transport interface {
	Post(ctx context.Context, req api.PostRequest) (*api.PostResponse, error)
	PostWithMedia(ctx context.Context, req api.PostRequest) (*api.PostResponse, error)
	Schedule(ctx context.Context, req api.PostRequest) (*api.ScheduleResponse, error)
}

// Refresher reloads the scheduled-post list.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// PostResult is one target's outcome of an immediate dispatch.
type PostResult struct {
	Target  string
	Success bool
	Error   string
}

// Outcome is what a successful dispatch produced.
type Outcome struct {
	Endpoint Endpoint
	// Results is empty for scheduled dispatches: acceptance is all the
	// backend can report at that point.
	Results      []PostResult
	AllSucceeded bool
	Schedule     *api.ScheduleResponse
}

// Dispatcher turns a validated draft into exactly one outbound request.
type Dispatcher struct {
	state     *State
	transport Transport
	attacher  *Attacher
	refresher Refresher
	now       func() time.Time
	onPhase   func(Phase)

	busy  atomic.Bool
	phase atomic.Int32
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAttacher lets Submit upload pending files before dispatching.
func WithAttacher(a *Attacher) Option { return func(d *Dispatcher) { d.attacher = a } }

// WithRefresher reloads the scheduled list after a successful schedule.
func WithRefresher(r Refresher) Option { return func(d *Dispatcher) { d.refresher = r } }

// WithClock overrides time.Now for schedule checks.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// WithPhaseHook is called on every phase transition.
func WithPhaseHook(fn func(Phase)) Option { return func(d *Dispatcher) { d.onPhase = fn } }

// NewDispatcher builds a dispatcher over state.
func NewDispatcher(state *State, transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{state: state, transport: transport, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Phase reports the current phase.
func (d *Dispatcher) Phase() Phase { return Phase(d.phase.Load()) }

// Busy reports whether a dispatch is outstanding.
func (d *Dispatcher) Busy() bool { return d.busy.Load() }

func (d *Dispatcher) enter(p Phase) {
	d.phase.Store(int32(p))
	if d.onPhase != nil {
		d.onPhase(p)
	}
}

// Submit validates the draft, uploads pending files if any, and sends the
// request. On failure the draft is left as it was; on success it is reset.
// A second call while one is outstanding fails with ErrDispatchInProgress.
func (d *Dispatcher) Submit(ctx context.Context, pending ...Candidate) (*Outcome, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return nil, ErrDispatchInProgress
	}
	defer d.busy.Store(false)
	defer d.enter(PhaseIdle)

	d.enter(PhaseValidating)
	draft := d.state.Snapshot()
	if err := Validate(d.state.Capabilities(), draft, d.now()); err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		if d.attacher == nil {
			return nil, errors.New("media upload is not configured")
		}
		if err := Screen(len(draft.Media), pending); err != nil {
			return nil, err
		}
		d.enter(PhaseUploading)
		if _, err := d.attacher.Attach(ctx, pending); err != nil {
			return nil, err
		}
		draft = d.state.Snapshot()
	}

	d.enter(PhaseDispatching)
	endpoint := SelectEndpoint(draft.Scheduled, len(draft.Media))
	req := BuildRequest(draft)
	logutil.Debugf("dispatching: endpoint=%s targets=%d media=%d", endpoint.Path(), len(draft.Selected), len(draft.Media))

	outcome := &Outcome{Endpoint: endpoint}
	switch endpoint {
	case EndpointSchedule:
		resp, err := d.transport.Schedule(ctx, req)
		if err != nil {
			return nil, &ActionError{Action: endpoint.Action(), Err: err}
		}
		outcome.Schedule = resp
		outcome.AllSucceeded = true
	default:
		send := d.transport.Post
		if endpoint == EndpointPostWithMedia {
			send = d.transport.PostWithMedia
		}
		resp, err := send(ctx, req)
		if err != nil {
			return nil, &ActionError{Action: endpoint.Action(), Err: err}
		}
		outcome.Results = collectResults(draft.Selected, resp.Results)
		outcome.AllSucceeded = allSucceeded(outcome.Results)
	}

	d.state.Reset()
	logutil.Infof("dispatch accepted: endpoint=%s all_succeeded=%t", endpoint.Path(), outcome.AllSucceeded)

	if endpoint == EndpointSchedule && d.refresher != nil {
		if err := d.refresher.Refresh(ctx); err != nil {
			logutil.Warnf("refresh scheduled posts: %v", err)
		}
	}
	return outcome, nil
}

// BuildRequest renders a draft as the wire request.
func BuildRequest(d Draft) api.PostRequest {
	req := api.PostRequest{
		PostMode: d.Mode,
		Targets:  make(map[string]api.TargetContent, len(d.Selected)),
	}
	if d.Mode == Unified {
		content := d.Unified
		req.Content = &content
	}
	for _, id := range d.Selected {
		req.Targets[id] = api.TargetContent{Selected: true, Content: d.Content(id)}
	}
	for _, m := range d.Media {
		req.MediaFiles = append(req.MediaFiles, m.Path)
	}
	if d.Scheduled && !d.ScheduledAt.IsZero() {
		req.ScheduledTime = d.ScheduledAt.Format(time.RFC3339)
	}
	return req
}

// collectResults orders results by the draft's selection, then any extra
// targets the backend reported, by id.
func collectResults(selected []string, results map[string]api.TargetResult) []PostResult {
	out := make([]PostResult, 0, max(len(results), len(selected)))
	seen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		seen[id] = struct{}{}
		r, ok := results[id]
		if !ok {
			out = append(out, PostResult{Target: id, Error: "no result reported"})
			continue
		}
		out = append(out, PostResult{Target: id, Success: r.Success, Error: r.Error})
	}
	extra := make([]string, 0)
	for id := range results {
		if _, ok := seen[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		r := results[id]
		out = append(out, PostResult{Target: id, Success: r.Success, Error: r.Error})
	}
	return out
}

func allSucceeded(results []PostResult) bool {
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
