// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoclue implements a location provider backed by the GeoClue2 D-Bus service.
package geoclue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/geonote/internal/location"
	"github.com/wneessen/geonote/internal/logger"
)

const (
	name = "geoclue"

	busName       = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = "org.freedesktop.GeoClue2.Manager"
	clientIface   = "org.freedesktop.GeoClue2.Client"
	locationIface = "org.freedesktop.GeoClue2.Location"
	accessDenied  = "org.freedesktop.DBus.Error.AccessDenied"

	DefaultDesktopID = "geonote"
)

// GClue accuracy levels as defined by the GeoClue2 interface
const (
	accuracyLevelCity         uint32 = 4
	accuracyLevelNeighborhood uint32 = 5
	accuracyLevelExact        uint32 = 8
)

// bus is the subset of a D-Bus connection used by the provider.
type bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

type Provider struct {
	desktopID string
	connect   func() (bus, error)
	logger    *logger.Logger

	mu   sync.RWMutex
	perm location.Permission
}

// session is a started GeoClue2 client together with its signal subscription.
type session struct {
	conn    bus
	client  dbus.BusObject
	path    dbus.ObjectPath
	signals chan *dbus.Signal
	match   []dbus.MatchOption
}

// New returns a GeoClue2 Provider that connects to the system bus on demand.
func New(desktopID string, log *logger.Logger) *Provider {
	if desktopID == "" {
		desktopID = DefaultDesktopID
	}
	return &Provider{
		desktopID: desktopID,
		connect: func() (bus, error) {
			return dbus.ConnectSystemBus()
		},
		logger: log,
	}
}

func (p *Provider) Name() string {
	return name
}

// PermissionStatus returns the outcome of the last authorization attempt. GeoClue2 offers no
// way to query the agent without starting a client, so this never prompts.
func (p *Provider) PermissionStatus(context.Context) (location.Permission, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.perm, nil
}

// RequestPermission starts and immediately stops a GeoClue2 client, which makes the
// authorization agent ask the user if needed.
func (p *Provider) RequestPermission(ctx context.Context) (location.Permission, error) {
	s, err := p.start(ctx, location.AccuracyBest)
	if err != nil {
		if errors.Is(err, location.ErrPermissionDenied) {
			return location.PermissionDenied, nil
		}
		return location.PermissionUndetermined, err
	}
	p.stop(s)
	return location.PermissionGranted, nil
}

// CurrentPosition starts a client and waits for its first location update.
func (p *Provider) CurrentPosition(ctx context.Context, acc location.Accuracy) (location.Coordinate, error) {
	s, err := p.start(ctx, acc)
	if err != nil {
		return location.Coordinate{}, err
	}
	defer p.stop(s)

	for {
		select {
		case <-ctx.Done():
			return location.Coordinate{}, ctx.Err()
		case sig, ok := <-s.signals:
			if !ok {
				return location.Coordinate{}, fmt.Errorf("%w: geoclue signal channel closed",
					location.ErrPositionUnavailable)
			}
			path, ok := s.locationPath(sig)
			if !ok {
				continue
			}
			return p.readLocation(s.conn, path)
		}
	}
}

// Stream emits every location update of a started client until ctx is done.
func (p *Provider) Stream(ctx context.Context, acc location.Accuracy) (<-chan location.Coordinate, error) {
	s, err := p.start(ctx, acc)
	if err != nil {
		return nil, err
	}

	out := make(chan location.Coordinate)
	go func() {
		defer close(out)
		defer p.stop(s)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-s.signals:
				if !ok {
					return
				}
				path, ok := s.locationPath(sig)
				if !ok {
					continue
				}
				coord, err := p.readLocation(s.conn, path)
				if err != nil {
					p.logger.Error("failed to read geoclue location update", logger.Err(err))
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- coord:
				}
			}
		}
	}()
	return out, nil
}

func (p *Provider) start(ctx context.Context, acc location.Accuracy) (*session, error) {
	conn, err := p.connect()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to system bus: %w", location.ErrPositionUnavailable, err)
	}

	s := &session{conn: conn, signals: make(chan *dbus.Signal, 10)}
	manager := conn.Object(busName, managerPath)
	if err = manager.CallWithContext(ctx, managerIface+".GetClient", 0).Store(&s.path); err != nil {
		p.closeConn(conn)
		return nil, p.callError("failed to get geoclue client", err)
	}
	s.client = conn.Object(busName, s.path)
	if err = s.client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(p.desktopID)); err != nil {
		p.closeConn(conn)
		return nil, p.callError("failed to set desktop id", err)
	}
	if err = s.client.SetProperty(clientIface+".RequestedAccuracyLevel",
		dbus.MakeVariant(accuracyLevel(acc))); err != nil {
		p.closeConn(conn)
		return nil, p.callError("failed to set requested accuracy level", err)
	}

	s.match = []dbus.MatchOption{
		dbus.WithMatchObjectPath(s.path),
		dbus.WithMatchInterface(clientIface),
		dbus.WithMatchMember("LocationUpdated"),
	}
	if err = conn.AddMatchSignal(s.match...); err != nil {
		p.closeConn(conn)
		return nil, fmt.Errorf("failed to subscribe to geoclue location updates: %w", err)
	}
	conn.Signal(s.signals)

	if err = s.client.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		p.release(s)
		return nil, p.callError("failed to start geoclue client", err)
	}
	p.setPermission(location.PermissionGranted)
	return s, nil
}

func (p *Provider) stop(s *session) {
	if err := s.client.Call(clientIface+".Stop", 0).Err; err != nil {
		p.logger.Warn("failed to stop geoclue client", logger.Err(err))
	}
	p.release(s)
}

func (p *Provider) release(s *session) {
	s.conn.RemoveSignal(s.signals)
	if err := s.conn.RemoveMatchSignal(s.match...); err != nil {
		p.logger.Warn("failed to remove geoclue signal match", logger.Err(err))
	}
	p.closeConn(s.conn)
}

func (p *Provider) closeConn(conn bus) {
	if err := conn.Close(); err != nil {
		p.logger.Warn("failed to close system bus connection", logger.Err(err))
	}
}

// callError maps a D-Bus call error onto the location error classes. An AccessDenied reply
// records the denial for PermissionStatus.
func (p *Provider) callError(msg string, err error) error {
	if isAccessDenied(err) {
		p.setPermission(location.PermissionDenied)
		return fmt.Errorf("%s: %w: %w", msg, location.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, location.ErrPositionUnavailable, err)
}

func isAccessDenied(err error) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == accessDenied
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) {
		return dbusErrPtr.Name == accessDenied
	}
	return false
}

func (p *Provider) setPermission(perm location.Permission) {
	p.mu.Lock()
	p.perm = perm
	p.mu.Unlock()
}

func (p *Provider) readLocation(conn bus, path dbus.ObjectPath) (location.Coordinate, error) {
	obj := conn.Object(busName, path)
	var coord location.Coordinate
	props := []struct {
		name   string
		target *float64
	}{
		{"Latitude", &coord.Lat},
		{"Longitude", &coord.Lon},
		{"Accuracy", &coord.Acc},
	}
	for _, prop := range props {
		if err := obj.StoreProperty(locationIface+"."+prop.name, prop.target); err != nil {
			return location.Coordinate{}, fmt.Errorf("%w: failed to read geoclue location %s: %w",
				location.ErrPositionUnavailable, prop.name, err)
		}
	}
	if !coord.Valid() {
		return location.Coordinate{}, fmt.Errorf("%w: geoclue reported invalid coordinates",
			location.ErrPositionUnavailable)
	}
	coord.Lat = location.Truncate(coord.Lat, location.TruncPrecision)
	coord.Lon = location.Truncate(coord.Lon, location.TruncPrecision)
	return coord, nil
}

// locationPath returns the new location object path of a LocationUpdated signal for this
// session's client.
func (s *session) locationPath(sig *dbus.Signal) (dbus.ObjectPath, bool) {
	if sig == nil || sig.Path != s.path || sig.Name != clientIface+".LocationUpdated" || len(sig.Body) != 2 {
		return "", false
	}
	path, ok := sig.Body[1].(dbus.ObjectPath)
	return path, ok
}

func accuracyLevel(acc location.Accuracy) uint32 {
	switch acc {
	case location.AccuracyLow:
		return accuracyLevelCity
	case location.AccuracyBalanced:
		return accuracyLevelNeighborhood
	default:
		return accuracyLevelExact
	}
}
