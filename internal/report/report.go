// Package report prints plans and apply results for humans.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
)

// Kind mirrors the action kinds of a plan
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindRemove Kind = "remove"
)

// Change describes one planned action for display
type Change struct {
	Kind    Kind
	Unit    string
	Old     string
	New     string
	Drifted bool
}

// Outcome describes one executed action for display
type Outcome struct {
	Kind Kind
	Unit string
	Err  error
}

// Printer writes reports to an output stream
type Printer struct {
	out   io.Writer
	diffs bool

	add    *color.Color
	del    *color.Color
	warn   *color.Color
	header *color.Color
	dim    *color.Color
}

// NewPrinter creates a printer. Colors are disabled when noColor is set or
// when fatih/color detects that output is not a terminal.
func NewPrinter(out io.Writer, noColor, diffs bool) *Printer {
	p := &Printer{
		out:    out,
		diffs:  diffs,
		add:    color.New(color.FgGreen),
		del:    color.New(color.FgRed),
		warn:   color.New(color.FgYellow, color.Bold),
		header: color.New(color.FgBlue, color.Bold),
		dim:    color.New(color.FgHiBlack),
	}
	if noColor {
		for _, c := range []*color.Color{p.add, p.del, p.warn, p.header, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

// Plan prints the planned changes with a diff per created or updated unit
func (p *Printer) Plan(changes []Change) {
	if len(changes) == 0 {
		p.println("No changes. Managed units are up to date.")
		return
	}

	_, _ = p.header.Fprintln(p.out, "Planned changes:")
	for _, c := range changes {
		p.change(c)
	}
	p.println("")

	create, update, remove := 0, 0, 0
	for _, c := range changes {
		switch c.Kind {
		case KindCreate:
			create++
		case KindUpdate:
			update++
		case KindRemove:
			remove++
		}
	}
	p.printf("Plan: %d to create, %d to update, %d to remove.\n", create, update, remove)
}

func (p *Printer) change(c Change) {
	switch c.Kind {
	case KindCreate:
		_, _ = p.add.Fprintf(p.out, "  + %s", c.Unit)
	case KindUpdate:
		_, _ = p.warn.Fprintf(p.out, "  ~ %s", c.Unit)
	case KindRemove:
		_, _ = p.del.Fprintf(p.out, "  - %s", c.Unit)
	}
	if c.Kind != KindRemove {
		_, _ = p.dim.Fprintf(p.out, " (%s)", humanize.Bytes(uint64(len(c.New))))
	}
	p.println("")

	if c.Drifted {
		_, _ = p.warn.Fprintf(p.out, "    ! %s was modified outside of unitsync; local changes will be lost\n", c.Unit)
	}

	if p.diffs && c.Kind != KindRemove {
		p.diff(c)
	}
}

// diff prints a unified diff between the on-disk and the rendered content
func (p *Printer) diff(c Change) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(c.Old),
		B:        difflib.SplitLines(c.New),
		FromFile: c.Unit + " (current)",
		ToFile:   c.Unit + " (rendered)",
		Context:  3,
	})
	if err != nil || text == "" {
		return
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			_, _ = p.dim.Fprint(p.out, "    "+line)
		case strings.HasPrefix(line, "+"):
			_, _ = p.add.Fprint(p.out, "    "+line)
		case strings.HasPrefix(line, "-"):
			_, _ = p.del.Fprint(p.out, "    "+line)
		default:
			p.printf("    %s", line)
		}
	}
}

// Results prints one line per executed action and a closing summary
func (p *Printer) Results(outcomes []Outcome) {
	if len(outcomes) == 0 {
		return
	}

	_, _ = p.header.Fprintln(p.out, "Results:")
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			_, _ = p.del.Fprintf(p.out, "  ✗ %s %s: %v\n", o.Kind, o.Unit, o.Err)
			continue
		}
		_, _ = p.add.Fprintf(p.out, "  ✓ %s %s\n", o.Kind, o.Unit)
	}
	p.println("")

	if failed == 0 {
		p.printf("Apply complete: %d %s applied.\n", len(outcomes), plural(len(outcomes), "action", "actions"))
		return
	}
	_, _ = p.warn.Fprintf(p.out, "Apply incomplete: %d of %d %s failed.\n", failed, len(outcomes), plural(len(outcomes), "action", "actions"))
}

func (p *Printer) println(s string) {
	_, _ = fmt.Fprintln(p.out, s)
}

func (p *Printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
