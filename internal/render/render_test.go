package render

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type sample struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func TestPrinter_Print(t *testing.T) {
	v := sample{ID: "k1", Name: "ci"}
	text := func(w io.Writer) error {
		_, err := io.WriteString(w, "human\n")
		return err
	}

	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{format: FormatJSON, check: func(t *testing.T, out string) {
			var got sample
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, v, got)
			assert.Contains(t, out, "\n  \"id\"")
		}},
		{format: FormatYAML, check: func(t *testing.T, out string) {
			var got sample
			require.NoError(t, yaml.Unmarshal([]byte(out), &got))
			assert.Equal(t, v, got)
		}},
		{format: FormatText, check: func(t *testing.T, out string) {
			assert.Equal(t, "human\n", out)
		}},
		{format: "", check: func(t *testing.T, out string) {
			assert.Equal(t, "human\n", out)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			p := NewPrinter(&buf, tt.format, "")
			require.NoError(t, p.Print(v, text))
			tt.check(t, buf.String())
		})
	}
}

func TestPrinter_Table(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatText, "")

	require.NoError(t, p.Table([]string{"ID", "NAME"}, [][]string{
		{"k1", "ci"},
		{"k22", "deploy"},
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ID   NAME", lines[0])
	assert.Equal(t, "--   ----", lines[1])
	assert.Equal(t, "k1   ci", lines[2])
	assert.Equal(t, "k22  deploy", lines[3])
}

func TestPrinter_Fields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, "").Fields(
		[2]string{"ID", "abc"},
		[2]string{"Status", "valid"},
	))
	assert.Equal(t, "ID:     abc\nStatus: valid\n", buf.String())
}

func TestPrinter_MarkdownPlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatText, "dark")

	require.NoError(t, p.Markdown("# Title\n\n**bold**"))
	assert.Equal(t, "# Title\n\n**bold**\n", buf.String())
}

func TestPrinter_MarkdownStyledOnTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatText, "dark").WithTTY(true)

	require.NoError(t, p.Markdown("Some **bold** text"))
	out := buf.String()
	assert.Contains(t, out, "\x1b[")
	assert.NotContains(t, out, "**")
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", OrDash(""))
	assert.Equal(t, "x", OrDash("x"))
}
