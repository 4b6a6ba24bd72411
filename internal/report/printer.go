package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/bigbio/sdrf-validate/internal/schema"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorMode selects when status lines are colored.
type ColorMode string

const (
	ColorAuto ColorMode = "auto"
	ColorOn   ColorMode = "on"
	ColorOff  ColorMode = "off"
)

// ParseColorMode accepts auto, on/always and off/never.
func ParseColorMode(raw string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return ColorAuto, nil
	case "on", "always", "true":
		return ColorOn, nil
	case "off", "never", "false":
		return ColorOff, nil
	}
	return "", fmt.Errorf("unknown color mode %q (want auto, on or off)", raw)
}

// Printer writes program output: diagnostics, project status lines and the summary.
// It is safe for concurrent use.
type Printer struct {
	mu        sync.Mutex
	w         io.Writer
	verbosity int

	ok   *color.Color
	warn *color.Color
	fail *color.Color
	dim  *color.Color
}

// NewPrinter returns a printer writing to w. In ColorAuto mode colors are used
// only when w is a terminal and NO_COLOR is unset.
func NewPrinter(w io.Writer, verbosity int, mode ColorMode) *Printer {
	p := &Printer{
		w:         w,
		verbosity: verbosity,
		ok:        color.New(color.FgGreen),
		warn:      color.New(color.FgYellow),
		fail:      color.New(color.FgRed, color.Bold),
		dim:       color.New(color.Faint),
	}
	enable := false
	switch mode {
	case ColorOn:
		enable = true
	case ColorAuto:
		enable = isTerminal(w) && os.Getenv("NO_COLOR") == ""
	}
	for _, c := range []*color.Color{p.ok, p.warn, p.fail, p.dim} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Verbosity returns the diagnostic verbosity of the printer.
func (p *Printer) Verbosity() int { return p.verbosity }

// File prints the diagnostics of r according to the printer verbosity.
func (p *Printer) File(r FileResult) {
	lines := Lines(r, p.verbosity)
	if len(lines) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range lines {
		c := p.warn
		if strings.HasPrefix(line, schema.Error.String()) {
			c = p.fail
		}
		_, _ = fmt.Fprintln(p.w, c.Sprint(line))
	}
}

// Project prints "<project>\t<status>".
func (p *Printer) Project(s ProjectStatus) {
	c := p.ok
	switch {
	case s.Outcome == NotFound:
		c = p.dim
	case s.Failed() || s.Severity == schema.Error:
		c = p.fail
	case s.Severity == schema.Warning:
		c = p.warn
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "%s\t%s\n", s.Project, c.Sprint(s.Text()))
}

// Summary prints the final results block.
func (p *Printer) Summary(s Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, "Final results:")
	_, _ = fmt.Fprintln(p.w, s.Line())
}

// Line prints a free-form line, e.g. template check findings.
func (p *Printer) Line(sev schema.Severity, text string) {
	c := p.ok
	switch sev {
	case schema.Error:
		c = p.fail
	case schema.Warning:
		c = p.warn
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, c.Sprint(text))
}
