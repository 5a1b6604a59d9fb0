// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/wneessen/geonote/internal/logger"
)

// SignalSource abstracts os/signal so signal handling can be tested.
type SignalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

// StdLibSignalSource is the production SignalSource.
type StdLibSignalSource struct{}

func (StdLibSignalSource) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

func (StdLibSignalSource) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// HandleFetchSignal triggers a location fetch for every signal received on sigChan, so that
// window manager key bindings can refresh the location of a running screen.
func (s *Service) HandleFetchSignal(ctx context.Context, sigChan chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigChan:
			if err := s.FetchCurrentLocation(ctx); err != nil && !errors.Is(err, ErrBusy) {
				s.logger.Debug("signal triggered fetch failed", logger.Err(err))
			}
		}
	}
}
