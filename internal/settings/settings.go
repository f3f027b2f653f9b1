// Package settings defines the persisted user settings and their validation.
package settings

import (
	"encoding/json"
	"fmt"
)

// Theme is the visual theme preference.
type Theme string

const (
	ThemeSystem Theme = "system"
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
)

// Themes lists every accepted theme, in display order.
var Themes = []Theme{ThemeSystem, ThemeLight, ThemeDark}

// Valid reports whether t is one of the accepted themes.
func (t Theme) Valid() bool {
	switch t {
	case ThemeSystem, ThemeLight, ThemeDark:
		return true
	}
	return false
}

// ParseTheme converts a string into a Theme.
func ParseTheme(s string) (Theme, error) {
	t := Theme(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown theme %q (want system, light or dark)", s)
	}
	return t, nil
}

// ColorScheme is a concrete color scheme. The empty value means no preference.
type ColorScheme string

const (
	SchemeNone  ColorScheme = ""
	SchemeLight ColorScheme = "light"
	SchemeDark  ColorScheme = "dark"
)

// Resolve returns the color scheme to render with. ThemeSystem follows the
// device preference and falls back to light when the device has none.
func (t Theme) Resolve(prefers ColorScheme) ColorScheme {
	switch t {
	case ThemeLight:
		return SchemeLight
	case ThemeDark:
		return SchemeDark
	}
	if prefers == SchemeDark {
		return SchemeDark
	}
	return SchemeLight
}

// Settings holds the user-configurable preferences.
type Settings struct {
	Theme Theme `json:"theme" yaml:"theme"`
}

// PersistentState is the record stored under the state key.
type PersistentState struct {
	Settings Settings `json:"settings" yaml:"settings"`
}

// New returns a PersistentState with the given theme.
func New(theme Theme) *PersistentState {
	return &PersistentState{Settings: Settings{Theme: theme}}
}

// Validate checks the state before it is written.
func (s *PersistentState) Validate() error {
	if s == nil {
		return &ValidationError{Msg: "persistent state is nil"}
	}
	if !s.Settings.Theme.Valid() {
		return &ValidationError{Msg: "invalid persistent state", Value: s}
	}
	return nil
}

// Marshal serializes the state as compact JSON.
func (s *PersistentState) Marshal() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
