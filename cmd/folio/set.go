package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/folio/internal/settings"
)

var setOpts struct {
	theme string
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Persist new settings",
	Long: `Persist new settings.

Examples:
  # Follow the device preference
  folio set --theme system

  # Force dark mode
  folio set --theme dark`,
	Args: cobra.NoArgs,
	RunE: runSet,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the persisted state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stateStore.Clear()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(clearCmd)

	setCmd.Flags().StringVarP(&setOpts.theme, "theme", "t", "",
		"Theme to store (system, light, dark)")
	_ = setCmd.MarkFlagRequired("theme")
}

func runSet(cmd *cobra.Command, args []string) error {
	theme, err := settings.ParseTheme(setOpts.theme)
	if err != nil {
		return err
	}

	stateStore.SetState(settings.New(theme))

	// SetState never fails loudly; read back to tell the user.
	if got := stateStore.GetState(); got == nil || got.Settings.Theme != theme {
		return fmt.Errorf("theme %s was not persisted (see log)", theme)
	}
	return nil
}
