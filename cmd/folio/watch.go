package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/folio/internal/device"
	"github.com/jmylchreest/folio/internal/settings"
)

var watchOpts struct {
	device bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream state changes made by other sessions",
	Long: `Stream state changes made by other sessions as JSON lines.

Each line carries the new state. When the state was removed or an invalid
value was written, "state" is null and "cleared" is true. With --device, changes to the desktop color scheme
preference are streamed as well.

Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchOpts.device, "device", false,
		"Also stream desktop color scheme changes")
}

// stateLine reports a change to the persisted state.
type stateLine struct {
	Time    time.Time                 `json:"time"`
	State   *settings.PersistentState `json:"state"`
	Cleared bool                      `json:"cleared,omitempty"`
}

// deviceLine reports a change to the device preferences.
type deviceLine struct {
	Time   time.Time   `json:"time"`
	Device device.Info `json:"device"`
}

// lineWriter writes one JSON document per line from concurrent watchers.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w)}
}

func (l *lineWriter) state(st *settings.PersistentState) {
	l.write(stateLine{Time: time.Now(), State: st, Cleared: st == nil})
}

func (l *lineWriter) device(info device.Info) {
	l.write(deviceLine{Time: time.Now(), Device: info})
}

func (l *lineWriter) write(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(v); err != nil {
		logger.Warn("failed to write change", "error", err)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newLineWriter(cmd.OutOrStdout())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cancel := stateStore.OnStateChange(out.state)
		defer cancel()
		<-ctx.Done()
		return nil
	})

	if watchOpts.device {
		g.Go(func() error {
			return device.Detect(logger).OnInfoChange(ctx, out.device)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// deviceInfo queries the desktop color scheme preference.
func deviceInfo(ctx context.Context) (device.Info, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return device.Detect(logger).Info(ctx)
}
