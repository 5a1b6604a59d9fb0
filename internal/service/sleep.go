// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geonote/internal/logger"
)

const (
	dbusInterface   = "org.freedesktop.login1.Manager"
	dbusWatchMember = "PrepareForSleep"

	debounceWindow   = 2 * time.Second
	signalBufferSize = 8

	busReconnectDelay   = 5 * time.Second
	networkWakeupDelay  = 10 * time.Second
	reconnectDelay      = 2 * time.Second
	subscribeRetryDelay = 10 * time.Second
)

// MonitorResume reloads the saved locations whenever the system resumes from sleep, since the
// store may have changed while the screen was suspended. It returns when ctx is done.
func (s *Service) MonitorResume(ctx context.Context) {
	var lastResume atomic.Int64

	for {
		conn := s.connectToSystemBus(ctx)
		if conn == nil {
			return
		}

		if !s.setupSleepMonitoring(ctx, conn) {
			continue
		}

		sigCh := make(chan *dbus.Signal, signalBufferSize)
		conn.Signal(sigCh)
		s.logger.Debug("subscribed to dbus signal", slog.String("interface", dbusInterface),
			slog.String("member", dbusWatchMember))

		s.handleSleepSignals(ctx, sigCh, &lastResume)

		conn.RemoveSignal(sigCh)
		if err := conn.Close(); err != nil {
			s.logger.Error("failed to close system bus connection", logger.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(reconnectDelay):
		}
	}
}

// connectToSystemBus retries connecting to the system bus until it succeeds or ctx is done.
func (s *Service) connectToSystemBus(ctx context.Context) *dbus.Conn {
	for {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			select {
			case <-s.clock.After(busReconnectDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()

		return conn
	}
}

func (s *Service) setupSleepMonitoring(ctx context.Context, conn *dbus.Conn) bool {
	if err := conn.AddMatchSignal(dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember(dbusWatchMember),
	); err != nil {
		s.logger.Error("failed to subscribe to dbus signal", slog.String("interface", dbusInterface),
			slog.String("member", dbusWatchMember), logger.Err(err))
		if err = conn.Close(); err != nil {
			s.logger.Error("failed to close system bus connection", logger.Err(err))
		}
		select {
		case <-s.clock.After(subscribeRetryDelay):
		case <-ctx.Done():
		}
		return false
	}
	return true
}

func (s *Service) handleSleepSignals(ctx context.Context, sigCh chan *dbus.Signal, lastResume *atomic.Int64) {
	for {
		select {
		case <-ctx.Done():
			return
		case sgn, ok := <-sigCh:
			if !ok {
				return
			}
			s.processSleepSignal(ctx, sgn, lastResume)
		}
	}
}

// processSleepSignal handles PrepareForSleep(false), which logind emits on resume.
func (s *Service) processSleepSignal(ctx context.Context, sgn *dbus.Signal, lastResume *atomic.Int64) {
	if sgn == nil || len(sgn.Body) != 1 {
		return
	}
	sleeping, ok := sgn.Body[0].(bool)
	if !ok || sleeping {
		return
	}
	s.handleResumeEvent(ctx, lastResume)
}

func (s *Service) handleResumeEvent(ctx context.Context, lastResume *atomic.Int64) {
	now := s.clock.Now().UnixNano()
	if now-lastResume.Load() < int64(debounceWindow) {
		return
	}
	lastResume.Store(now)

	// Give the network time to come back up
	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(networkWakeupDelay):
	}

	s.logger.Debug("resumed from sleep, reloading saved locations")
	_ = s.ReloadSavedLocations(ctx)
}
