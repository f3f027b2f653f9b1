// Package output provides output formatters for the persisted state.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/folio/internal/settings"
)

// Formatter formats a persisted state for output. A nil state means nothing
// is stored.
type Formatter interface {
	Format(w io.Writer, state *settings.PersistentState) error
}

// FormatType represents an output format type.
type FormatType string

const (
	FormatJSON  FormatType = "json"
	FormatYAML  FormatType = "yaml"
	FormatPlain FormatType = "plain"
)

// NewFormatter creates a formatter for the specified format type.
func NewFormatter(format FormatType) Formatter {
	switch format {
	case FormatYAML:
		return YAMLFormatter{}
	case FormatPlain:
		return PlainFormatter{}
	case FormatJSON:
		fallthrough
	default:
		return JSONFormatter{}
	}
}

// JSONFormatter writes indented JSON, or null when nothing is stored.
type JSONFormatter struct{}

func (JSONFormatter) Format(w io.Writer, state *settings.PersistentState) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(state)
}

// YAMLFormatter writes YAML, or null when nothing is stored.
type YAMLFormatter struct{}

func (YAMLFormatter) Format(w io.Writer, state *settings.PersistentState) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(state); err != nil {
		return err
	}
	return encoder.Close()
}

// PlainFormatter writes one key=value line per setting and nothing when
// nothing is stored.
type PlainFormatter struct{}

func (PlainFormatter) Format(w io.Writer, state *settings.PersistentState) error {
	if state == nil {
		return nil
	}
	_, err := fmt.Fprintf(w, "theme=%s\n", state.Settings.Theme)
	return err
}
