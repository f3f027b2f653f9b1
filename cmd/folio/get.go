package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/folio/internal/output"
	"github.com/jmylchreest/folio/internal/settings"
)

var getOpts struct {
	format  string
	resolve bool
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the persisted state",
	Long: `Print the persisted state.

Nothing is printed in plain format (and null in JSON) when no valid state is
stored. An invalid stored value is reported on stderr and treated as absent.

Examples:
  # Print the state as JSON
  folio get

  # Print just the theme
  folio get --format plain

  # Print the scheme the theme renders as on this device
  folio get --resolve`,
	Args: cobra.NoArgs,
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&getOpts.format, "format", "f", "",
		"Output format (json, yaml, plain; default from config)")
	getCmd.Flags().BoolVar(&getOpts.resolve, "resolve", false,
		"Print the effective color scheme instead of the stored state")
}

func runGet(cmd *cobra.Command, args []string) error {
	st := stateStore.GetState()

	if getOpts.resolve {
		theme := settings.ThemeSystem
		if st != nil {
			theme = st.Settings.Theme
		}
		info, err := deviceInfo(cmd.Context())
		if err != nil {
			logger.Debug("device info unavailable", "error", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), theme.Resolve(info.PrefersColorScheme))
		return err
	}

	format := getOpts.format
	if format == "" {
		format = cfg.Output.Format
	}
	switch ft := output.FormatType(format); ft {
	case output.FormatJSON, output.FormatYAML, output.FormatPlain:
		return output.NewFormatter(ft).Format(cmd.OutOrStdout(), st)
	}
	return fmt.Errorf("unknown format %q (want json, yaml or plain)", format)
}
