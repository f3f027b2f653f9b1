package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/folio/internal/storage"
)

var statusOpts struct {
	json bool
}

// Status summarises the configured store.
type Status struct {
	Backend   string     `json:"backend"`
	Key       string     `json:"key"`
	Local     bool       `json:"local_available"`
	Session   bool       `json:"session_available"`
	Theme     string     `json:"theme,omitempty"`
	Size      int64      `json:"size,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storage availability and the stored item",
	Long: `Show the configured backend, whether local and session storage are
usable, and what is stored under the state key.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var probeCmd = &cobra.Command{
	Use:   "probe [local|session]",
	Short: "Check whether a storage area is usable",
	Long: `Check whether a storage area is usable by writing and removing a
probe key. Exits non-zero when the area is unavailable.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"local", "session", "localStorage", "sessionStorage"},
	RunE:      runProbe,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(probeCmd)

	statusCmd.Flags().BoolVar(&statusOpts.json, "json", false,
		"Output status as JSON")
}

func runProbe(cmd *cobra.Command, args []string) error {
	kind := storage.KindLocal
	if len(args) == 1 {
		k, ok := storage.ParseKind(args[0])
		if !ok {
			return fmt.Errorf("unknown storage kind %q", args[0])
		}
		kind = k
	}

	if !stateStore.IsAvailable(kind) {
		return fmt.Errorf("%s storage is unavailable", kind)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s storage is available\n", kind)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	st := Status{
		Backend: cfg.Storage.Backend,
		Key:     stateStore.Key(),
		Local:   stateStore.IsAvailable(storage.KindLocal),
		Session: stateStore.IsAvailable(storage.KindSession),
	}
	if ps := stateStore.GetState(); ps != nil {
		st.Theme = string(ps.Settings.Theme)
	}
	if s, ok := stateStore.Area().(storage.Statter); ok {
		info, err := s.Stat(stateStore.Key())
		switch {
		case err == nil:
			st.Size = info.Size
			st.UpdatedAt = &info.ModTime
		case !errors.Is(err, os.ErrNotExist):
			logger.Debug("stat failed", "key", stateStore.Key(), "error", err)
		}
	}

	w := cmd.OutOrStdout()
	if statusOpts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(w, "backend:  %s\n", st.Backend)
	fmt.Fprintf(w, "key:      %s\n", st.Key)
	fmt.Fprintf(w, "local:    %s\n", availability(st.Local))
	fmt.Fprintf(w, "session:  %s\n", availability(st.Session))
	if st.Theme == "" {
		fmt.Fprintln(w, "theme:    (none stored)")
		return nil
	}
	fmt.Fprintf(w, "theme:    %s\n", st.Theme)
	if st.UpdatedAt != nil {
		fmt.Fprintf(w, "size:     %s\n", humanize.Bytes(uint64(st.Size)))
		fmt.Fprintf(w, "updated:  %s\n", humanize.Time(*st.UpdatedAt))
	}
	return nil
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}
