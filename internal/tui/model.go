// Package tui provides the BubbleTea-based theme picker.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jmylchreest/folio/internal/settings"
	"github.com/jmylchreest/folio/internal/state"
)

// Model is the theme picker model.
type Model struct {
	store *state.Store

	// State
	current *settings.PersistentState
	prefers settings.ColorScheme
	cursor  int
	width   int

	// Components
	keys KeyMap
	help help.Model

	// Status message
	statusMsg string

	// Cross-context changes, fed by the store's change listener
	changes chan *settings.PersistentState
	cancel  func()
}

// DeviceChangedMsg reports a new device color scheme preference.
type DeviceChangedMsg struct {
	Prefers settings.ColorScheme
}

type stateChangedMsg struct {
	state *settings.PersistentState
}

type loadStateMsg struct{}

type statusMsg string

type clearStatusMsg struct{}

// New creates a new TUI model. prefers is the device color scheme used to
// resolve the system theme.
func New(s *state.Store, prefers settings.ColorScheme) Model {
	m := Model{
		store:   s,
		prefers: prefers,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		changes: make(chan *settings.PersistentState, 1),
	}
	changes := m.changes
	m.cancel = s.OnStateChange(func(st *settings.PersistentState) {
		offer(changes, st)
	})
	return m
}

// offer delivers st, replacing an undelivered older value so the latest
// state always gets through.
func offer(ch chan *settings.PersistentState, st *settings.PersistentState) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Close unregisters the change listener.
func (m Model) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Init initializes the TUI.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return loadStateMsg{} },
		m.watchForChanges,
	)
}

// watchForChanges waits for the next cross-context change.
func (m Model) watchForChanges() tea.Msg {
	return stateChangedMsg{state: <-m.changes}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case loadStateMsg:
		m.setCurrent(m.store.GetState())
		return m, nil

	case stateChangedMsg:
		m.setCurrent(msg.state)
		return m, tea.Batch(m.status("Updated from another session"), m.watchForChanges)

	case DeviceChangedMsg:
		m.prefers = msg.Prefers
		return m, nil

	case statusMsg:
		m.statusMsg = string(msg)
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return clearStatusMsg{}
		})

	case clearStatusMsg:
		m.statusMsg = ""
		return m, nil
	}

	return m, nil
}

func (m Model) status(text string) tea.Cmd {
	return func() tea.Msg { return statusMsg(text) }
}

// setCurrent records st and moves the cursor onto its theme.
func (m *Model) setCurrent(st *settings.PersistentState) {
	m.current = st
	if st == nil {
		return
	}
	for i, t := range settings.Themes {
		if t == st.Settings.Theme {
			m.cursor = i
		}
	}
}

// handleKey handles key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(settings.Themes)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Select):
		st := settings.New(settings.Themes[m.cursor])
		m.store.SetState(st)
		m.current = m.store.GetState()
		if m.current == nil {
			return m, m.status("Could not save theme (see log)")
		}
		return m, m.status(fmt.Sprintf("Saved theme %s", st.Settings.Theme))

	case key.Matches(msg, m.keys.Clear):
		m.store.Clear()
		m.current = nil
		return m, m.status("Cleared stored state")

	case key.Matches(msg, m.keys.Reload):
		m.setCurrent(m.store.GetState())
		return m, nil
	}

	return m, nil
}

// Theme returns the stored theme, or ThemeSystem when nothing is stored.
func (m Model) Theme() settings.Theme {
	if m.current == nil {
		return settings.ThemeSystem
	}
	return m.current.Settings.Theme
}

// Cursor returns the highlighted row.
func (m Model) Cursor() int { return m.cursor }

// palette returns foreground colors for the resolved scheme.
func palette(scheme settings.ColorScheme) (accent, muted lipgloss.Color) {
	if scheme == settings.SchemeDark {
		return lipgloss.Color("213"), lipgloss.Color("245")
	}
	return lipgloss.Color("57"), lipgloss.Color("240")
}

// View renders the TUI.
func (m Model) View() string {
	scheme := m.Theme().Resolve(m.prefers)
	accent, muted := palette(scheme)

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(accent)
	mutedStyle := lipgloss.NewStyle().Foreground(muted)
	selectedStyle := lipgloss.NewStyle().Foreground(accent)

	var b strings.Builder
	b.WriteString(titleStyle.Render("Theme"))
	b.WriteString("\n\n")

	for i, t := range settings.Themes {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		mark := "○"
		if m.current != nil && m.current.Settings.Theme == t {
			mark = "●"
		}
		line := fmt.Sprintf("%s%s %s", cursor, mark, t)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	stored := "nothing stored"
	if m.current != nil {
		stored = "stored: " + string(m.current.Settings.Theme)
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%s, rendering %s", stored, scheme)))
	b.WriteString("\n")

	if m.statusMsg != "" {
		b.WriteString(m.statusMsg + "\n")
	}

	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}
