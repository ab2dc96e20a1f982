/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/blacktop/snspost/internal/banner"
	"github.com/blacktop/snspost/internal/compose"
	"github.com/blacktop/snspost/internal/logutil"
	"github.com/blacktop/snspost/internal/render"
	"github.com/blacktop/snspost/internal/scheduled"
	"github.com/spf13/cobra"
)

type postOptions struct {
	root *rootOptions

	message  string
	targets  []string
	mode     string
	texts    []string
	media    []string
	schedule string
	dryRun   bool
}

func newPostCommand(root *rootOptions) *cobra.Command {
	opts := &postOptions{root: root}
	cmd := &cobra.Command{
		Use:   "post [message]",
		Short: "Post now or schedule an update",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd, args, opts)
		},
	}
	addPostFlags(cmd, opts)
	cmd.Flags().SortFlags = false
	return cmd
}

func addPostFlags(cmd *cobra.Command, opts *postOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.message, "message", "m", "", "Message text (unified mode)")
	f.StringSliceVarP(&opts.targets, "target", "t", nil, "Targets to post to (bluesky, x, threads, misskey, mastodon, or all)")
	f.StringVar(&opts.mode, "mode", string(compose.Unified), "Post mode: unified or individual")
	f.StringArrayVar(&opts.texts, "text", nil, "Per-target text as target=content (individual mode)")
	f.StringSliceVar(&opts.media, "media", nil, fmt.Sprintf("Image or video files to attach (max %d)", compose.MaxMedia))
	f.StringVar(&opts.schedule, "schedule", "", "Deliver later at this time (RFC 3339 or YYYY-MM-DDTHH:MM, local time)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Validate and print the draft without sending anything")
}

func runPost(cmd *cobra.Command, args []string, opts *postOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	printer := render.New(out)

	mode := compose.Mode(strings.ToLower(strings.TrimSpace(opts.mode)))
	if !mode.Valid() {
		return fmt.Errorf("invalid --mode %q (want unified or individual)", opts.mode)
	}
	texts, err := parseTexts(opts.texts)
	if err != nil {
		return err
	}
	message, err := resolveMessage(cmd, args, opts.message, mode == compose.Individual && len(texts) > 0)
	if err != nil {
		return err
	}

	c, err := opts.root.newClient()
	if err != nil {
		return err
	}
	caps, err := compose.LoadCapabilities(ctx, c)
	if err != nil {
		return err
	}

	targets, err := normalizeTargets(opts.targets, caps)
	if err != nil {
		return err
	}
	state, err := buildDraft(caps, mode, message, targets, texts)
	if err != nil {
		return err
	}
	if opts.schedule != "" {
		at, ok := scheduled.ParseTime(opts.schedule, time.Local)
		if !ok {
			return fmt.Errorf("invalid --schedule %q", opts.schedule)
		}
		state.SetScheduled(true)
		state.SetScheduleTime(at)
	}

	candidates, closeAll, err := openMedia(opts.media)
	if err != nil {
		return err
	}
	defer closeAll()

	if opts.dryRun {
		draft := state.Snapshot()
		if err := compose.Validate(caps, draft, time.Now()); err != nil {
			return err
		}
		if err := compose.Screen(0, candidates); err != nil {
			return err
		}
		printer.Draft(draft, caps)
		for _, cand := range candidates {
			fmt.Fprintf(out, "  media %s (%s)\n", cand.Name, cand.MimeType)
		}
		endpoint := compose.SelectEndpoint(draft.Scheduled, len(candidates))
		fmt.Fprintf(out, "[dry-run] would send %s to %s\n", endpoint.Action(), endpoint.Path())
		return nil
	}

	board := banner.New(banner.OnChange(func(b banner.Banner) {
		if b.Visibility == banner.Shown {
			printer.Banner(b)
		}
	}))
	dispatcher := compose.NewDispatcher(state, c,
		compose.WithAttacher(compose.NewAttacher(state, c)),
		compose.WithRefresher(scheduled.New(c)),
		compose.WithPhaseHook(func(p compose.Phase) { logutil.Debugf("dispatch phase: %s", p) }),
	)

	outcome, err := dispatcher.Submit(ctx, candidates...)
	if err != nil {
		board.Error(err.Error())
		return errReported
	}
	printer.Outcome(outcome)
	switch {
	case outcome.Schedule != nil:
		board.Success("Post scheduled")
	case outcome.AllSucceeded:
		board.Success("Posted to every selected target")
	default:
		board.Error("Some targets failed")
		return errReported
	}
	return nil
}

// buildDraft replays the flags as editor commands. Text that the editor
// would cut at a limit is an error here, since nobody sees it being cut.
// In individual mode the message seeds every target without its own
// --text and is held to that target's limit only.
func buildDraft(caps compose.Capabilities, mode compose.Mode, message string, targets []string, texts map[string]string) (*compose.State, error) {
	state := compose.NewState(caps)
	if mode == compose.Unified {
		if len(texts) > 0 {
			return nil, errors.New("--text needs --mode individual")
		}
		if accepted := state.EditUnified(message); accepted != message {
			return nil, &compose.ContentTooLongError{Target: "unified", Length: compose.Length(message), Limit: caps.MinLimit()}
		}
	}
	for _, id := range targets {
		if err := state.SelectTarget(id); err != nil {
			return nil, err
		}
	}
	if err := state.SetMode(mode); err != nil {
		return nil, err
	}
	if mode == compose.Unified {
		return state, nil
	}

	per := make(map[string]string, len(targets)+len(texts))
	if message != "" {
		for _, id := range targets {
			per[id] = message
		}
	}
	for id, text := range texts {
		per[id] = text
	}
	ids := make([]string, 0, len(per))
	for id := range per {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		accepted, err := state.EditTarget(id, per[id])
		if err != nil {
			return nil, err
		}
		if accepted != per[id] {
			return nil, &compose.ContentTooLongError{Target: id, Length: compose.Length(per[id]), Limit: caps.Limit(id)}
		}
	}
	return state, nil
}

func parseTexts(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, raw := range values {
		id, text, ok := strings.Cut(raw, "=")
		id = strings.ToLower(strings.TrimSpace(id))
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --text %q (want target=content)", raw)
		}
		out[id] = text
	}
	return out, nil
}

func resolveMessage(cmd *cobra.Command, args []string, flag string, optional bool) (string, error) {
	message := flag

	if len(args) > 0 {
		if message != "" {
			return "", errors.New("provide the message either as an argument or with --message, not both")
		}
		message = strings.Join(args, " ")
	}

	if message != "" {
		return strings.TrimSpace(message), nil
	}

	stdin := cmd.InOrStdin()
	if file, ok := stdin.(*os.File); ok {
		info, err := file.Stat()
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		if (info.Mode() & os.ModeCharDevice) == 0 {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return "", fmt.Errorf("read stdin: %w", err)
			}
			message = strings.TrimSpace(string(data))
		}
	}

	if message == "" && !optional {
		return "", errors.New("message is required")
	}

	return message, nil
}

// normalizeTargets resolves --target values against the backend's list.
// "all" (or no value) means every connected target.
func normalizeTargets(values []string, caps compose.Capabilities) ([]string, error) {
	enabled := func() []string {
		var ids []string
		for _, t := range caps.Targets() {
			if t.Enabled {
				ids = append(ids, t.ID)
			}
		}
		return ids
	}

	result := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			result = enabled()
			break
		}
		if raw == "twitter" {
			raw = "x"
		}
		if _, ok := caps.Lookup(raw); !ok {
			return nil, fmt.Errorf("unsupported target %q", raw)
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		result = append(result, raw)
	}
	if len(values) == 0 {
		result = enabled()
	}

	if len(result) == 0 {
		return nil, compose.ErrNoTargetSelected
	}
	return result, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() {
	for _, c := range m {
		c.Close() //nolint:errcheck
	}
}

// openMedia opens every file and guesses its type from the extension, then
// from the leading bytes.
func openMedia(paths []string) ([]compose.Candidate, func(), error) {
	var closers multiCloser
	candidates := make([]compose.Candidate, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closers.Close()
			return nil, func() {}, fmt.Errorf("open media: %w", err)
		}
		closers = append(closers, f)

		br := bufio.NewReader(f)
		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
		if mimeType == "" {
			head, _ := br.Peek(512)
			mimeType = http.DetectContentType(head)
		}
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = strings.TrimSpace(mimeType[:i])
		}
		candidates = append(candidates, compose.Candidate{
			Name:     filepath.Base(p),
			MimeType: mimeType,
			Body:     br,
		})
	}
	return candidates, closers.Close, nil
}
