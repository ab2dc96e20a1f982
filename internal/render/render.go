// Package render turns snspost's view models into terminal text.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/blacktop/snspost/internal/banner"
	"github.com/blacktop/snspost/internal/compose"
	"github.com/blacktop/snspost/internal/scheduled"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Printer writes styled output to one writer.
type Printer struct {
	w io.Writer
	r *lipgloss.Renderer

	title     lipgloss.Style
	muted     lipgloss.Style
	ok        lipgloss.Style
	bad       lipgloss.Style
	warn      lipgloss.Style
	emphasis  lipgloss.Style
	pending   lipgloss.Style
	completed lipgloss.Style
	failed    lipgloss.Style
}

// New returns a printer whose color profile is detected from w.
func New(w io.Writer) *Printer {
	return newPrinter(w, lipgloss.NewRenderer(w))
}

// Plain returns a printer that never emits escape sequences.
func Plain(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.Ascii)
	return newPrinter(w, r)
}

func newPrinter(w io.Writer, r *lipgloss.Renderer) *Printer {
	return &Printer{
		w:         w,
		r:         r,
		title:     r.NewStyle().Bold(true),
		muted:     r.NewStyle().Foreground(lipgloss.Color("8")),
		ok:        r.NewStyle().Foreground(lipgloss.Color("2")),
		bad:       r.NewStyle().Foreground(lipgloss.Color("1")),
		warn:      r.NewStyle().Foreground(lipgloss.Color("3")),
		emphasis:  r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		pending:   r.NewStyle().Foreground(lipgloss.Color("3")),
		completed: r.NewStyle().Foreground(lipgloss.Color("2")),
		failed:    r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// Targets prints the capability table.
func (p *Printer) Targets(caps compose.Capabilities) {
	fmt.Fprintln(p.w, p.title.Render("Targets"))
	for _, t := range caps.Targets() {
		state := p.ok.Render("connected")
		if !t.Enabled {
			state = p.muted.Render("not connected")
		}
		fmt.Fprintf(p.w, "  %-10s %5d  %s\n", t.ID, t.Limit, state)
	}
}

// Counter renders a "<n> / <limit>" readout, highlighted near the limit.
func (p *Printer) Counter(c compose.Counter) string {
	if c.Emphasized() {
		return p.emphasis.Render(c.String())
	}
	return p.muted.Render(c.String())
}

// Draft prints what is about to be sent.
func (p *Printer) Draft(d compose.Draft, caps compose.Capabilities) {
	fmt.Fprintf(p.w, "%s %s\n", p.title.Render("Mode:"), d.Mode)
	for _, id := range d.Selected {
		text := d.Content(id)
		c := compose.Counter{Length: compose.Length(text), Limit: caps.Limit(id)}
		fmt.Fprintf(p.w, "  %-10s %s  %q\n", id, p.Counter(c), text)
	}
	for _, m := range d.Media {
		fmt.Fprintf(p.w, "  %s %s (%s)\n", p.muted.Render("media"), m.DisplayName, m.MimeType)
	}
	if d.Scheduled {
		fmt.Fprintf(p.w, "  %s %s\n", p.muted.Render("at"), d.ScheduledAt.Local().Format(scheduled.DisplayLayout))
	}
}

// Outcome prints a dispatch outcome.
func (p *Printer) Outcome(o *compose.Outcome) {
	if o == nil {
		return
	}
	if o.Schedule != nil {
		fmt.Fprintf(p.w, "%s id=%d at %s\n", p.ok.Render("scheduled"), o.Schedule.PostID, o.Schedule.ScheduledTime)
		return
	}
	for _, r := range o.Results {
		if r.Success {
			fmt.Fprintf(p.w, "  %s %s\n", p.ok.Render("✓"), scheduled.DisplayName(r.Target))
			continue
		}
		fmt.Fprintf(p.w, "  %s %s: %s\n", p.bad.Render("✗"), scheduled.DisplayName(r.Target), r.Error)
	}
}

// Scheduled prints the scheduled list.
func (p *Printer) Scheduled(entries []scheduled.Entry, loc *time.Location) {
	if len(entries) == 0 {
		fmt.Fprintln(p.w, p.muted.Render("No scheduled posts"))
		return
	}
	for _, e := range entries {
		targets := strings.Join(e.TargetNames, ", ")
		if targets == "" {
			targets = "-"
		}
		media := ""
		if e.HasMedia {
			media = " " + p.muted.Render(fmt.Sprintf("[%d media]", len(e.MediaPaths)))
		}
		fmt.Fprintf(p.w, "%s %s  %s  %s%s\n",
			p.title.Render(fmt.Sprintf("#%d", e.ID)),
			e.DisplayTime(loc),
			p.status(e.Status),
			targets,
			media,
		)
		if e.Preview != "" {
			fmt.Fprintf(p.w, "    %s\n", e.Preview)
		}
	}
}

func (p *Printer) status(s scheduled.Status) string {
	switch s.Class() {
	case scheduled.StatusCompleted.Class():
		return p.completed.Render(s.Label())
	case scheduled.StatusFailed.Class():
		return p.failed.Render(s.Label())
	default:
		return p.pending.Render(s.Label())
	}
}

// Banner prints b unless it is hidden.
func (p *Printer) Banner(b banner.Banner) {
	switch b.Visibility {
	case banner.Hidden:
		return
	case banner.Fading:
		fmt.Fprintln(p.w, p.muted.Render(b.Message))
		return
	}
	if b.Kind == banner.Error {
		fmt.Fprintln(p.w, p.bad.Render("Error: "+b.Message))
		return
	}
	fmt.Fprintln(p.w, p.ok.Render(b.Message))
}

// Warn prints a one-line warning.
func (p *Printer) Warn(msg string) {
	fmt.Fprintln(p.w, p.warn.Render(msg))
}
