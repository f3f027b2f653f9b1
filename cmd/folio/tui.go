package main

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/folio/internal/device"
	"github.com/jmylchreest/folio/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive theme picker",
	Long: `Launch the interactive theme picker.

Changes saved from another session or process show up immediately, and the
preview follows the desktop color scheme while the theme is "system".

Key bindings:
  j/k, ↑/↓    Move between themes
  enter       Save the highlighted theme
  x           Clear the stored state
  r           Reload from storage
  ?           Show help
  q           Quit`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	provider := device.Detect(logger)
	info, err := provider.Info(ctx)
	if err != nil {
		logger.Debug("device info unavailable", "error", err)
	}

	m := tui.New(stateStore, info.PrefersColorScheme)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		err := provider.OnInfoChange(ctx, func(info device.Info) {
			p.Send(tui.DeviceChangedMsg{Prefers: info.PrefersColorScheme})
		})
		if err != nil && ctx.Err() == nil {
			logger.Debug("device watch stopped", "error", err)
		}
	}()

	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
