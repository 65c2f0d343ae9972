// Package diag prints results and diagnostics for the find command,
// coloring entries by type when the output is a terminal.
package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/openwalk/bfind/internal/traverse"
)

// Entry is the view of a matched traversal entry the printer needs.
// *traverse.Visit satisfies it.
type Entry interface {
	Path() string
	Depth() int
	Type() traverse.Type
	Stat(follow bool) (*traverse.Status, error)
}

// ColorMode controls when output is colored.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// ParseColorMode parses the --color flag value.
func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "auto", "":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("invalid color mode: %s (want auto|always|never)", s)
	}
}

// Printer writes results to out and diagnostics to errOut, and remembers
// whether any diagnostic was emitted so the command can exit nonzero.
type Printer struct {
	out     io.Writer
	errOut  io.Writer
	colored bool
	json    bool

	dirColor  *color.Color
	linkColor *color.Color
	errColor  *color.Color

	failed bool
}

// Option configures a Printer.
type Option func(*Printer)

// WithJSON switches result output to one JSON object per line.
func WithJSON() Option {
	return func(p *Printer) { p.json = true }
}

// NewPrinter builds a printer for the given streams and color mode.
func NewPrinter(out, errOut io.Writer, mode ColorMode, opts ...Option) *Printer {
	p := &Printer{
		out:       out,
		errOut:    errOut,
		dirColor:  color.New(color.FgBlue, color.Bold),
		linkColor: color.New(color.FgCyan),
		errColor:  color.New(color.FgRed),
	}
	switch mode {
	case ColorAlways:
		p.colored = true
		p.dirColor.EnableColor()
		p.linkColor.EnableColor()
		p.errColor.EnableColor()
	case ColorNever:
		p.colored = false
	default:
		if f, ok := out.(*os.File); ok {
			p.colored = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Print writes one matched traversal entry.
func (p *Printer) Print(v Entry) {
	if p.json {
		p.jsonEntry(v)
		return
	}
	if !p.colored {
		fmt.Fprintln(p.out, v.Path())
		return
	}
	switch v.Type() {
	case traverse.TypeDir:
		p.dirColor.Fprintln(p.out, v.Path())
	case traverse.TypeSymlink:
		p.linkColor.Fprintln(p.out, v.Path())
	default:
		fmt.Fprintln(p.out, v.Path())
	}
}

func (p *Printer) jsonEntry(v Entry) {
	rec := map[string]interface{}{
		"path":  v.Path(),
		"depth": v.Depth(),
		"type":  v.Type().String(),
	}
	if st, err := v.Stat(false); err == nil {
		rec["size"] = st.Size
		rec["mode"] = st.Mode.String()
		rec["last_modified"] = st.ModTime.Format(time.RFC3339)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		p.Error(err)
		return
	}
	fmt.Fprintln(p.out, string(line))
}

// Error prints one diagnostic line and marks the run as failed.
func (p *Printer) Error(err error) {
	p.failed = true
	msg := fmt.Sprintf("bfind: %v", err)
	if p.colored {
		p.errColor.Fprintln(p.errOut, msg)
		return
	}
	fmt.Fprintln(p.errOut, msg)
}

// Failed reports whether any diagnostic was emitted.
func (p *Printer) Failed() bool {
	return p.failed
}
