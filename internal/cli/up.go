package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cohort-run/cohort/internal/cliutil"
	"github.com/cohort-run/cohort/internal/config"
	"github.com/cohort-run/cohort/internal/logmux"
	"github.com/cohort-run/cohort/internal/metrics"
	"github.com/cohort-run/cohort/internal/runtime"
	"github.com/cohort-run/cohort/internal/supervise"
	"github.com/cohort-run/cohort/internal/tui"
)

const eventBuffer = 256

func newUpCmd(ctx *context) *cobra.Command {
	var (
		useTUI      bool
		jsonLogs    bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Launch the job group and supervise it until the first exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			if useTUI && !supportsInteractiveOutput(cmd) {
				return fmt.Errorf("--tui requires an interactive terminal")
			}
			return runUp(cmd, ctx, manifest, upOptions{
				tui:         useTUI,
				jsonLogs:    jsonLogs,
				metricsAddr: metricsAddr,
			})
		},
	}

	cmd.Flags().BoolVar(&useTUI, "tui", false, "Render a live status interface instead of streaming logs")
	cmd.Flags().BoolVar(&jsonLogs, "json", false, "Force JSON log output even on a terminal")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address while the group runs")
	return cmd
}

type upOptions struct {
	tui         bool
	jsonLogs    bool
	metricsAddr string
}

type startedWorker struct {
	name   string
	handle runtime.Handle
}

func runUp(cmd *cobra.Command, cliCtx *context, manifest *config.Manifest, opts upOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = stdcontext.Background()
	}

	started, err := launchWorkers(ctx, cliCtx.getLaunchers(), manifest)
	if err != nil {
		return err
	}

	events := make(chan supervise.Event, eventBuffer)
	mux := logmux.New(eventBuffer)
	mux.Add(events)

	workers := make([]supervise.Worker, len(started))
	for i, sw := range started {
		workers[i] = supervise.Worker{Name: sw.name, Proc: sw.handle}
		if logs := sw.handle.Logs(); logs != nil {
			mux.AddWorkerLogs(sw.name, i, logs)
		}
		metrics.SetWorkerRunning(sw.name, true)
	}

	sup, err := supervise.New(supervise.Config{
		Workers:      workers,
		PollInterval: manifest.Supervise.PollInterval.Duration,
		GracePeriod:  manifest.Supervise.GracePeriod.Duration,
		Events:       events,
	})
	if err != nil {
		stopAll(started)
		close(events)
		mux.Close()
		return err
	}

	if opts.metricsAddr != "" {
		srv := metrics.NewServer(metrics.ServerConfig{Addr: opts.metricsAddr})
		go func() {
			if err := srv.Run(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "metrics server: %v\n", err)
			}
		}()
	}

	var ui *tui.UI
	uiDone := make(chan error, 1)
	consumerDone := make(chan struct{})
	if opts.tui {
		ui = tui.New()
		go func() {
			defer close(consumerDone)
			for evt := range mux.Output() {
				applyEventMetrics(evt)
				ui.EventSink() <- evt
			}
			ui.CloseEvents()
		}()
		go func() {
			uiDone <- ui.Run(ctx)
		}()
	} else {
		out := cmd.OutOrStdout()
		pretty := !opts.jsonLogs && supportsInteractiveOutput(cmd)
		var enc *json.Encoder
		if !pretty {
			enc = json.NewEncoder(out)
		}
		stderr := cmd.ErrOrStderr()
		go func() {
			defer close(consumerDone)
			for evt := range mux.Output() {
				applyEventMetrics(evt)
				if pretty {
					printEvent(out, evt)
				} else {
					cliutil.EncodeLogEvent(enc, stderr, evt)
				}
			}
		}()
	}

	start := time.Now()
	result, runErr := sup.Run(ctx)
	close(events)
	mux.Close()
	<-consumerDone

	metrics.ObserveSupervisionDuration(time.Since(start))
	if result != nil {
		for _, ws := range result.Workers {
			metrics.SetWorkerRunning(ws.Name, false)
			metrics.IncrementWorkerExit(ws.Name, string(ws.Outcome))
		}
	}

	if ui != nil {
		ui.Stop()
		if err := <-uiDone; err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "tui: %v\n", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Summary())
	}

	if runErr != nil {
		return runErr
	}
	if code := result.ExitCode(); code != 0 {
		return &exitCodeError{
			code:    code,
			message: fmt.Sprintf("job group failed: %s", result.Summary()),
		}
	}
	return nil
}

// launchWorkers starts every worker in manifest order. A failure part way
// through tears down whatever was already launched.
func launchWorkers(ctx stdcontext.Context, launchers runtime.Registry, manifest *config.Manifest) ([]startedWorker, error) {
	started := make([]startedWorker, 0, len(manifest.Workers))
	for _, w := range manifest.Workers {
		launcher, ok := launchers[w.Runtime]
		if !ok {
			stopAll(started)
			return nil, fmt.Errorf("worker %s: unknown runtime %q", w.Name, w.Runtime)
		}
		handle, err := launcher.Start(ctx, runtime.StartSpec{
			Name:    w.Name,
			Command: w.Command,
			Env:     w.Env,
			Workdir: w.ResolvedWorkdir,
			Image:   w.Image,
			Mounts:  w.Mounts,
			Ports:   w.Ports,
		})
		if err != nil {
			stopAll(started)
			return nil, fmt.Errorf("start worker %s: %w", w.Name, err)
		}
		started = append(started, startedWorker{name: w.Name, handle: handle})
	}
	return started, nil
}

func stopAll(started []startedWorker) {
	for _, sw := range started {
		_ = sw.handle.Kill()
	}
}

func applyEventMetrics(evt supervise.Event) {
	switch evt.Type {
	case supervise.EventTypeExited:
		metrics.SetWorkerRunning(evt.Worker, false)
	case supervise.EventTypeTerminating:
		metrics.IncrementStopSignal(evt.Worker, "terminate")
	case supervise.EventTypeKilling:
		metrics.IncrementStopSignal(evt.Worker, "kill")
	}
}

func printEvent(out io.Writer, evt supervise.Event) {
	record := cliutil.NewLogRecord(evt)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	message := record.Message
	if evt.Err != nil {
		message = fmt.Sprintf("%s: %v", message, evt.Err)
	}
	ts := record.Timestamp.Format(time.RFC3339)
	if evt.Worker == "" {
		fmt.Fprintf(out, "%s [%s] %s\n", ts, record.Level, message)
		return
	}
	fmt.Fprintf(out, "%s [%s] %s[%d] %s\n", ts, record.Level, evt.Worker, evt.Slot, message)
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	file, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
