// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpsd implements a location provider backed by a local gpsd daemon.
package gpsd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/geonote/internal/gpspoll"
	"github.com/wneessen/geonote/internal/location"
	"github.com/wneessen/geonote/internal/logger"
)

const name = "gpsd"

type Provider struct {
	addr   string
	poller *gpspoll.Client
	logger *logger.Logger
}

func New(host, port string, log *logger.Logger) *Provider {
	return &Provider{
		addr:   net.JoinHostPort(host, port),
		poller: gpspoll.New(host, port),
		logger: log,
	}
}

func (p *Provider) Name() string {
	return name
}

// PermissionStatus always reports Granted, gpsd does not restrict local clients.
func (p *Provider) PermissionStatus(context.Context) (location.Permission, error) {
	return location.PermissionGranted, nil
}

func (p *Provider) RequestPermission(ctx context.Context) (location.Permission, error) {
	return p.PermissionStatus(ctx)
}

// CurrentPosition waits for the first 2D fix reported by gpsd.
func (p *Provider) CurrentPosition(ctx context.Context, _ location.Accuracy) (location.Coordinate, error) {
	fix, err := p.poller.Poll(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return location.Coordinate{}, err
	case err != nil:
		return location.Coordinate{}, fmt.Errorf("%w: %w", location.ErrPositionUnavailable, err)
	}
	return location.Coordinate{
		Lat: location.Truncate(fix.Lat, location.TruncPrecision),
		Lon: location.Truncate(fix.Lon, location.TruncPrecision),
		Acc: fix.Acc,
	}, nil
}

// Stream watches gpsd for TPV reports and emits every report with at least a 2D fix. The
// channel is closed when ctx is done or the gpsd connection ends.
func (p *Provider) Stream(ctx context.Context, _ location.Accuracy) (<-chan location.Coordinate, error) {
	session, err := gpsd.Dial(p.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gpsd at %q: %w", p.addr, err)
	}

	out := make(chan location.Coordinate)
	var mu sync.Mutex
	closed := false

	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok || tpv.Mode < gpsd.Mode2D {
			return
		}
		coord := location.Coordinate{
			Lat: location.Truncate(tpv.Lat, location.TruncPrecision),
			Lon: location.Truncate(tpv.Lon, location.TruncPrecision),
			Acc: tpvAccuracy(tpv),
		}

		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case <-ctx.Done():
		case out <- coord:
		}
	})

	// go-gpsd offers no way to stop a watch, the session ends with the process or the
	// connection.
	done := session.Watch()
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			p.logger.Warn("gpsd connection ended", logger.Provider(name))
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}

func tpvAccuracy(tpv *gpsd.TPVReport) float64 {
	if tpv.Epx > 0 && tpv.Epy > 0 {
		return math.Hypot(tpv.Epx, tpv.Epy)
	}
	if tpv.Mode >= gpsd.Mode3D {
		return 10
	}
	return 25
}
