// Package render prints command results as tables, JSON, YAML or terminal markdown.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Output formats understood by Printer.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Printer writes command output in the configured format.
type Printer struct {
	out    io.Writer
	format string
	theme  string
	tty    bool
}

// NewPrinter creates a printer for out. Markdown is styled only when out is a terminal.
func NewPrinter(out io.Writer, format, theme string) *Printer {
	if format == "" {
		format = FormatText
	}
	if theme == "" {
		theme = "auto"
	}

	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}

	return &Printer{out: out, format: format, theme: theme, tty: tty}
}

// WithTTY overrides terminal detection.
func (p *Printer) WithTTY(tty bool) *Printer {
	p.tty = tty
	return p
}

// Writer returns the underlying output writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Format returns the output format.
func (p *Printer) Format() string {
	return p.format
}

// Structured reports whether output is machine-readable.
func (p *Printer) Structured() bool {
	return p.format == FormatJSON || p.format == FormatYAML
}

// Print encodes v for json/yaml output, or calls text for the human-readable form.
func (p *Printer) Print(v any, text func(w io.Writer) error) error {
	switch p.format {
	case FormatJSON:
		return p.JSON(v)
	case FormatYAML:
		return p.YAML(v)
	default:
		return text(p.out)
	}
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	encoder := json.NewEncoder(p.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// YAML writes v as YAML.
func (p *Printer) YAML(v any) error {
	encoder := yaml.NewEncoder(p.out)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return encoder.Close()
}

// Table writes an aligned table with a dashed separator under the headers.
func (p *Printer) Table(headers []string, rows [][]string) error {
	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(dashes, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	return w.Flush()
}

// Fields writes label/value pairs aligned on the labels.
func (p *Printer) Fields(pairs ...[2]string) error {
	w := tabwriter.NewWriter(p.out, 0, 0, 1, ' ', 0)
	for _, pair := range pairs {
		fmt.Fprintf(w, "%s:\t%s\n", pair[0], pair[1])
	}
	return w.Flush()
}

// Markdown renders markdown with glamour on a terminal and writes it as-is otherwise.
func (p *Printer) Markdown(markdown string) error {
	out := markdown
	if p.tty {
		if rendered, err := glamour.Render(markdown, p.theme); err == nil {
			out = rendered
		}
	}

	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	_, err := io.WriteString(p.out, out)
	return err
}

// OrDash returns s, or "-" when s is empty.
func OrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
