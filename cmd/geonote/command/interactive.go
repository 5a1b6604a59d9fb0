// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wneessen/geonote/internal/logger"
	"github.com/wneessen/geonote/internal/presenter"
	"github.com/wneessen/geonote/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interactive screen (default)",
	RunE:  runInteractive,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

const interactiveHelp = `keys: [f]etch  [s]ave  [l]ist/reload  [w]atch on/off  [p]ermission  [h]elp  [q]uit`

// stateRenderer prints the state block whenever a new address is ready.
type stateRenderer struct {
	app    *app
	output io.Writer
	mu     sync.Mutex
	last   uint64
}

func newStateRenderer(a *app, output io.Writer) *stateRenderer {
	return &stateRenderer{app: a, output: output}
}

func (r *stateRenderer) onChange(state service.State) {
	if state.Phase != service.PhaseReady || !state.Coordinate.IsSet() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if state.CoordinateSeq == r.last {
		return
	}
	r.last = state.CoordinateSeq
	if err := r.app.pres.RenderState(r.output, state); err != nil {
		r.app.log.Error("failed to render state", logger.Err(err))
	}
}

func runInteractive(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	unsubscribe := a.serv.OnChange(newStateRenderer(a, out).onChange)
	defer unsubscribe()

	if err = a.serv.Initialize(ctx); err != nil {
		a.log.Warn("failed to load saved locations on start", logger.Err(err))
	}
	if err = a.pres.RenderState(out, a.serv.Snapshot()); err != nil {
		return err
	}
	if err = a.pres.RenderList(out, a.serv.Snapshot()); err != nil {
		return err
	}

	// SIGUSR1 triggers a fetch, so window manager key bindings can refresh the location
	signals := service.StdLibSignalSource{}
	sigChan := make(chan os.Signal, 1)
	signals.Notify(sigChan, syscall.SIGUSR1)
	defer signals.Stop(sigChan)
	go a.serv.HandleFetchSignal(ctx, sigChan)
	go a.serv.MonitorResume(ctx)

	lines := make(chan string)
	go readLines(ctx, cmd.InOrStdin(), lines)

	_, _ = fmt.Fprintln(out, interactiveHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleKey(ctx, a, out, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handleKey runs the action bound to key and reports whether the screen should close.
// Failures are shown as notices by the service.
func handleKey(ctx context.Context, a *app, out io.Writer, key string) bool {
	switch strings.ToLower(key) {
	case "f", "fetch":
		if err := a.serv.FetchCurrentLocation(ctx); errors.Is(err, service.ErrBusy) {
			_, _ = fmt.Fprintln(out, a.pres.Text(presenter.FetchRunning))
		}
	case "s", "save":
		if err := a.serv.SaveCurrentLocation(ctx); err == nil {
			renderList(a, out)
		}
	case "l", "list":
		if err := a.serv.ReloadSavedLocations(ctx); err == nil {
			renderList(a, out)
		}
	case "w", "watch":
		if a.serv.Snapshot().Watching {
			a.serv.StopWatch()
			_, _ = fmt.Fprintln(out, a.pres.Text(presenter.WatchStopped))
			return false
		}
		if _, err := a.serv.WatchLocation(ctx); err == nil {
			_, _ = fmt.Fprintln(out, a.pres.Text(presenter.WatchStarted))
		}
	case "p", "permission":
		_, _ = a.serv.RequestPermission(ctx)
		if err := a.pres.RenderState(out, a.serv.Snapshot()); err != nil {
			a.log.Error("failed to render state", logger.Err(err))
		}
	case "q", "quit", "exit":
		return true
	case "":
	default:
		_, _ = fmt.Fprintln(out, interactiveHelp)
	}
	return false
}

func renderList(a *app, out io.Writer) {
	if err := a.pres.RenderList(out, a.serv.Snapshot()); err != nil {
		a.log.Error("failed to render saved locations", logger.Err(err))
	}
}

func readLines(ctx context.Context, input io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}
