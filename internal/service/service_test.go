// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wneessen/geonote/internal/config"
	"github.com/wneessen/geonote/internal/geocode"
	"github.com/wneessen/geonote/internal/location"
	"github.com/wneessen/geonote/internal/logger"
	"github.com/wneessen/geonote/internal/observability"
	"github.com/wneessen/geonote/internal/store"
)

var (
	saoPaulo    = location.Coordinate{Lat: -23.55, Lon: -46.63, Acc: 10}
	berlin      = location.Coordinate{Lat: 52.5129, Lon: 13.391, Acc: 10}
	saoPauloAdr = geocode.Address{Kind: geocode.KindComponents, Components: geocode.Components{
		Road: "Av. Paulista", City: "São Paulo", Country: "Brasil",
	}}
	testNow = time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC)
)

func TestNewWithDependencies(t *testing.T) {
	conf := testConfig(t)
	t.Run("new service succeeds", func(t *testing.T) {
		serv, err := NewWithDependencies(conf, Dependencies{
			Locator:  &fakeLocator{},
			Geocoder: &fakeGeocoder{},
			Store:    &fakeStore{},
			Logger:   logger.Discard(),
		})
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		snap := serv.Snapshot()
		if snap.Saved == nil || len(snap.Saved) != 0 {
			t.Errorf("expected empty saved list, got %#v", snap.Saved)
		}
		if snap.Coordinate.IsSet() {
			t.Error("expected no coordinate")
		}
		if serv.timeout != conf.Location.Timeout {
			t.Errorf("expected timeout %s, got %s", conf.Location.Timeout, serv.timeout)
		}
	})
	tests := []struct {
		name string
		conf *config.Config
		deps Dependencies
	}{
		{"nil config", nil, Dependencies{Locator: &fakeLocator{}, Geocoder: &fakeGeocoder{}, Store: &fakeStore{}, Logger: logger.Discard()}},
		{"missing locator", conf, Dependencies{Geocoder: &fakeGeocoder{}, Store: &fakeStore{}, Logger: logger.Discard()}},
		{"missing geocoder", conf, Dependencies{Locator: &fakeLocator{}, Store: &fakeStore{}, Logger: logger.Discard()}},
		{"missing store", conf, Dependencies{Locator: &fakeLocator{}, Geocoder: &fakeGeocoder{}, Logger: logger.Discard()}},
		{"missing logger", conf, Dependencies{Locator: &fakeLocator{}, Geocoder: &fakeGeocoder{}, Store: &fakeStore{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name+" fails", func(t *testing.T) {
			if _, err := NewWithDependencies(tc.conf, tc.deps); err == nil {
				t.Fatal("expected service creation to fail")
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("new service from configuration succeeds", func(t *testing.T) {
		conf := testConfig(t)
		conf.Location.Provider = "file"
		conf.Store.URL = "https://example.supabase.co/rest/v1"
		serv, err := New(t.Context(), conf, logger.Discard(), nil, nil)
		if err != nil {
			t.Fatalf("failed to create service: %s", err)
		}
		if serv.locator.Name() != "file" {
			t.Errorf("expected file provider, got %s", serv.locator.Name())
		}
		if serv.store.Name() != "rest" {
			t.Errorf("expected rest store, got %s", serv.store.Name())
		}
	})
	t.Run("new service without store URL fails", func(t *testing.T) {
		if _, err := New(t.Context(), testConfig(t), logger.Discard(), nil, nil); err == nil {
			t.Fatal("expected service creation to fail")
		}
	})
	t.Run("new service without logger fails", func(t *testing.T) {
		if _, err := New(t.Context(), testConfig(t), nil, nil, nil); err == nil {
			t.Fatal("expected service creation to fail")
		}
	})
}

func TestService_selectProvider(t *testing.T) {
	t.Run("location providers", func(t *testing.T) {
		for _, name := range []string{"geoclue", "gpsd", "ichnaea", "geoip", "file"} {
			t.Run(name, func(t *testing.T) {
				conf := testConfig(t)
				conf.Location.Provider = name
				provider, err := selectLocationProvider(conf, logger.Discard())
				if err != nil {
					t.Fatalf("failed to select provider: %s", err)
				}
				if provider.Name() != name {
					t.Errorf("expected provider %s, got %s", name, provider.Name())
				}
			})
		}
		conf := testConfig(t)
		conf.Location.Provider = "carrier-pigeon"
		if _, err := selectLocationProvider(conf, logger.Discard()); err == nil {
			t.Error("expected unknown provider to fail")
		}
	})
	t.Run("geocoders", func(t *testing.T) {
		tests := []struct {
			provider string
			apikey   string
			wantName string
			wantFail bool
		}{
			{"nominatim", "", "osm-nominatim", false},
			{"opencage", "", "", true},
			{"opencage", "abc", "opencage", false},
			{"geocode-earth", "", "", true},
			{"geocode-earth", "abc", "geocode-earth", false},
			{"atlas", "", "", true},
		}
		for _, tc := range tests {
			t.Run(tc.provider, func(t *testing.T) {
				conf := testConfig(t)
				conf.GeoCoder.Provider = tc.provider
				conf.GeoCoder.APIKey = tc.apikey
				coder, err := selectGeocoder(conf, logger.Discard())
				if tc.wantFail {
					if err == nil {
						t.Fatal("expected geocoder selection to fail")
					}
					return
				}
				if err != nil {
					t.Fatalf("failed to select geocoder: %s", err)
				}
				if !strings.HasSuffix(coder.Name(), tc.wantName) {
					t.Errorf("expected geocoder %s, got %s", tc.wantName, coder.Name())
				}
			})
		}
	})
	t.Run("stores", func(t *testing.T) {
		conf := testConfig(t)
		conf.Store.URL = "https://example.supabase.co/rest/v1"
		s, err := selectStore(t.Context(), conf, logger.Discard())
		if err != nil {
			t.Fatalf("failed to select store: %s", err)
		}
		if s.Name() != "rest" {
			t.Errorf("expected rest store, got %s", s.Name())
		}
		conf.Store.Backend = "postgres"
		if _, err = selectStore(t.Context(), conf, logger.Discard()); err == nil {
			t.Error("expected postgres store without DSN to fail")
		}
		conf.Store.Backend = "floppy"
		if _, err = selectStore(t.Context(), conf, logger.Discard()); err == nil {
			t.Error("expected unknown store to fail")
		}
	})
	t.Run("geocoder language", func(t *testing.T) {
		if geocoderLanguage("").String() != "en" {
			t.Error("expected english for empty locale")
		}
		if geocoderLanguage("de-DE").String() != "de-DE" {
			t.Errorf("expected de-DE, got %s", geocoderLanguage("de-DE"))
		}
		if geocoderLanguage("pt_BR.UTF-8").String() != "pt-BR" {
			t.Errorf("expected pt-BR, got %s", geocoderLanguage("pt_BR.UTF-8"))
		}
		if geocoderLanguage("!!").String() != "en" {
			t.Error("expected english for invalid locale")
		}
	})
}

func TestService_Initialize(t *testing.T) {
	t.Run("permission status and saved locations are loaded", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.status = location.PermissionGranted
		env.store.rows = testRows(2)
		if err := env.serv.Initialize(t.Context()); err != nil {
			t.Fatalf("failed to initialize: %s", err)
		}
		snap := env.serv.Snapshot()
		if !snap.HasPermission() {
			t.Error("expected permission to be granted")
		}
		if len(snap.Saved) != 2 {
			t.Errorf("expected 2 saved locations, got %d", len(snap.Saved))
		}
		if env.locator.requests.Load() != 0 {
			t.Error("expected no permission prompt")
		}
		if env.locator.fixes.Load() != 0 {
			t.Error("expected no location fetch")
		}
	})
	t.Run("permission status failure still reloads", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.statusErr = errors.New("bus unavailable")
		env.store.rows = testRows(1)
		if err := env.serv.Initialize(t.Context()); err != nil {
			t.Fatalf("failed to initialize: %s", err)
		}
		snap := env.serv.Snapshot()
		if snap.Permission != location.PermissionUndetermined {
			t.Errorf("expected undetermined permission, got %s", snap.Permission)
		}
		if len(snap.Saved) != 1 {
			t.Errorf("expected 1 saved location, got %d", len(snap.Saved))
		}
	})
}

func TestService_RequestPermission(t *testing.T) {
	t.Run("granted permission", func(t *testing.T) {
		env := newTestEnv(t)
		perm, err := env.serv.RequestPermission(t.Context())
		if err != nil {
			t.Fatalf("failed to request permission: %s", err)
		}
		if perm != location.PermissionGranted || !env.serv.Snapshot().HasPermission() {
			t.Errorf("expected granted permission, got %s", perm)
		}
		if env.serv.Snapshot().Phase != PhaseIdle {
			t.Errorf("expected idle phase, got %s", env.serv.Snapshot().Phase)
		}
	})
	t.Run("denied permission offers the settings", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.grant = location.PermissionDenied
		_, err := env.serv.RequestPermission(t.Context())
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected permission denied, got %v", err)
		}
		notices := env.notifier.all()
		if len(notices) != 1 || notices[0].Kind != NoticePermissionDenied || !notices[0].OpenSettings {
			t.Errorf("unexpected notices: %+v", notices)
		}
	})
	t.Run("provider failure is reported as unknown", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.grantErr = errors.New("no bus")
		_, err := env.serv.RequestPermission(t.Context())
		if !errors.Is(err, ErrLocationUnknown) {
			t.Fatalf("expected unknown location error, got %v", err)
		}
		if env.serv.Snapshot().Permission != location.PermissionUndetermined {
			t.Error("expected permission to stay undetermined")
		}
	})
}

func TestService_FetchCurrentLocation(t *testing.T) {
	t.Run("permission denied aborts without network calls", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.grant = location.PermissionDenied

		err := env.serv.FetchCurrentLocation(t.Context())
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected permission denied, got %v", err)
		}
		snap := env.serv.Snapshot()
		if snap.HasPermission() {
			t.Error("expected permission to be denied")
		}
		if snap.Coordinate.IsSet() {
			t.Error("expected coordinate to stay unset")
		}
		if snap.Busy {
			t.Error("expected busy to be cleared")
		}
		if n := len(env.notifier.all()); n != 1 {
			t.Errorf("expected exactly one notice, got %d", n)
		}
		if env.locator.fixes.Load() != 0 || env.geocoder.calls.Load() != 0 || env.store.calls() != 0 {
			t.Error("expected no location, geocode or persistence calls")
		}
	})
	t.Run("components are assembled into the address", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = saoPaulo
		env.geocoder.addr = saoPauloAdr

		if err := env.serv.FetchCurrentLocation(t.Context()); err != nil {
			t.Fatalf("failed to fetch location: %s", err)
		}
		snap := env.serv.Snapshot()
		if snap.Address != "Av. Paulista, São Paulo, Brasil" {
			t.Errorf("unexpected address: %q", snap.Address)
		}
		coord, ok := snap.Coordinate.Get()
		if !ok || coord != saoPaulo {
			t.Errorf("expected coordinate %+v, got %+v", saoPaulo, coord)
		}
		if snap.Phase != PhaseReady {
			t.Errorf("expected ready phase, got %s", snap.Phase)
		}
		if snap.Busy {
			t.Error("expected busy to be cleared")
		}
		if env.locator.lastAcc != location.AccuracyBest {
			t.Errorf("expected best accuracy, got %d", env.locator.lastAcc)
		}
		if got := testutil.ToFloat64(env.metrics.LocationFixes.WithLabelValues("fetch", "success")); got != 1 {
			t.Errorf("expected 1 successful fix metric, got %f", got)
		}
	})
	t.Run("display name is used verbatim", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = berlin
		env.geocoder.addr = geocode.Address{Kind: geocode.KindDisplayName, DisplayName: "123 Main St"}
		if err := env.serv.FetchCurrentLocation(t.Context()); err != nil {
			t.Fatalf("failed to fetch location: %s", err)
		}
		if got := env.serv.Snapshot().Address; got != "123 Main St" {
			t.Errorf("expected display name, got %q", got)
		}
	})
	t.Run("location failures are classified", func(t *testing.T) {
		tests := []struct {
			name       string
			err        error
			wantErr    error
			wantNotice NoticeKind
		}{
			{"permission denied", location.ErrPermissionDenied, ErrPermissionDenied, NoticePermissionDenied},
			{"position unavailable", location.ErrPositionUnavailable, ErrPositionUnavailable, NoticePositionUnavailable},
			{"timeout", location.ErrTimeout, ErrLocationTimeout, NoticeLocationTimeout},
			{"deadline", context.DeadlineExceeded, ErrLocationTimeout, NoticeLocationTimeout},
			{"unknown", errors.New("satellite fell off"), ErrLocationUnknown, NoticeLocationUnknown},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				env := newTestEnv(t)
				env.locator.fixErr = tc.err
				err := env.serv.FetchCurrentLocation(t.Context())
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				notices := env.notifier.all()
				if len(notices) != 1 || notices[0].Kind != tc.wantNotice {
					t.Errorf("expected one %s notice, got %+v", tc.wantNotice, notices)
				}
				snap := env.serv.Snapshot()
				if snap.Coordinate.IsSet() || snap.Busy || snap.Phase != PhaseIdle {
					t.Errorf("unexpected state after failure: %+v", snap)
				}
				if env.geocoder.calls.Load() != 0 {
					t.Error("expected no geocode call")
				}
			})
		}
	})
	t.Run("failure keeps the previous coordinate", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = berlin
		if err := env.serv.FetchCurrentLocation(t.Context()); err != nil {
			t.Fatalf("failed to fetch location: %s", err)
		}
		env.locator.setFixErr(location.ErrPositionUnavailable)
		if err := env.serv.FetchCurrentLocation(t.Context()); err == nil {
			t.Fatal("expected second fetch to fail")
		}
		coord, _ := env.serv.Snapshot().Coordinate.Get()
		if coord != berlin {
			t.Errorf("expected previous coordinate, got %+v", coord)
		}
	})
	t.Run("invalid coordinates are unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = location.Coordinate{Lat: 91, Lon: 0}
		if err := env.serv.FetchCurrentLocation(t.Context()); !errors.Is(err, ErrPositionUnavailable) {
			t.Fatalf("expected position unavailable, got %v", err)
		}
	})
	t.Run("the location wait is bounded", func(t *testing.T) {
		env := newTestEnv(t)
		env.serv.timeout = 20 * time.Millisecond
		env.locator.block = make(chan struct{})
		err := env.serv.FetchCurrentLocation(t.Context())
		if !errors.Is(err, ErrLocationTimeout) {
			t.Fatalf("expected location timeout, got %v", err)
		}
	})
	t.Run("concurrent fetch is rejected while busy", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = berlin
		env.locator.block = make(chan struct{})
		env.locator.entered = make(chan struct{}, 1)

		done := make(chan error, 1)
		go func() { done <- env.serv.FetchCurrentLocation(t.Context()) }()
		<-env.locator.entered

		if !env.serv.Snapshot().Busy {
			t.Error("expected service to be busy")
		}
		if got := testutil.ToFloat64(env.metrics.Busy); got != 1 {
			t.Errorf("expected busy gauge 1, got %f", got)
		}
		if err := env.serv.FetchCurrentLocation(t.Context()); !errors.Is(err, ErrBusy) {
			t.Errorf("expected busy error, got %v", err)
		}
		close(env.locator.block)
		if err := <-done; err != nil {
			t.Fatalf("first fetch failed: %s", err)
		}
		if env.serv.Snapshot().Busy {
			t.Error("expected busy to be cleared")
		}
		if env.locator.fixes.Load() != 1 {
			t.Errorf("expected exactly one location request, got %d", env.locator.fixes.Load())
		}
	})
	t.Run("geocode failure degrades to the lookup failed sentinel", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = berlin
		env.geocoder.err = errors.New("intentionally failing")
		if err := env.serv.FetchCurrentLocation(t.Context()); err != nil {
			t.Fatalf("expected fetch to succeed, got %s", err)
		}
		if got := env.serv.Snapshot().Address; got != geocode.AddressLookupFailed {
			t.Errorf("expected %q, got %q", geocode.AddressLookupFailed, got)
		}
		if len(env.notifier.all()) != 0 {
			t.Error("expected no notice for geocode failure")
		}
	})
	t.Run("geocoder panic degrades to the lookup failed sentinel", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = berlin
		env.geocoder.panics = true
		if err := env.serv.FetchCurrentLocation(t.Context()); err != nil {
			t.Fatalf("expected fetch to succeed, got %s", err)
		}
		if got := env.serv.Snapshot().Address; got != geocode.AddressLookupFailed {
			t.Errorf("expected %q, got %q", geocode.AddressLookupFailed, got)
		}
	})
	t.Run("empty geocode result yields the no address sentinel", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = berlin
		env.geocoder.addr = geocode.Address{Kind: geocode.KindNone}
		if err := env.serv.FetchCurrentLocation(t.Context()); err != nil {
			t.Fatalf("expected fetch to succeed, got %s", err)
		}
		if got := env.serv.Snapshot().Address; got != geocode.NoAddressAvailable {
			t.Errorf("expected %q, got %q", geocode.NoAddressAvailable, got)
		}
	})
	t.Run("stale fetch result does not overwrite a newer watch update", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = saoPaulo
		env.locator.block = make(chan struct{})
		env.locator.entered = make(chan struct{}, 1)

		done := make(chan error, 1)
		go func() { done <- env.serv.FetchCurrentLocation(t.Context()) }()
		<-env.locator.entered

		// A watch update arrives while the fetch is still waiting for its fix
		env.serv.applyCoordinate(t.Context(), "watch", berlin, env.serv.seq.Add(1))
		close(env.locator.block)
		if err := <-done; err != nil {
			t.Fatalf("fetch failed: %s", err)
		}

		coord, _ := env.serv.Snapshot().Coordinate.Get()
		if coord != berlin {
			t.Errorf("expected newer watch coordinate to be kept, got %+v", coord)
		}
		if got := testutil.ToFloat64(env.metrics.LocationFixes.WithLabelValues("fetch", "stale")); got != 1 {
			t.Errorf("expected 1 stale fix, got %f", got)
		}
	})
}

func TestService_SaveCurrentLocation(t *testing.T) {
	t.Run("nothing to save performs no network call", func(t *testing.T) {
		env := newTestEnv(t)
		err := env.serv.SaveCurrentLocation(t.Context())
		if !errors.Is(err, ErrNoCurrentLocation) {
			t.Fatalf("expected no current location error, got %v", err)
		}
		if env.store.calls() != 0 || env.geocoder.calls.Load() != 0 || env.locator.fixes.Load() != 0 {
			t.Error("expected zero network calls")
		}
		notices := env.notifier.all()
		if len(notices) != 1 || notices[0].Kind != NoticeNothingToSave {
			t.Errorf("expected one nothing-to-save notice, got %+v", notices)
		}
	})
	t.Run("saved list reflects the store after insert", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.coord = saoPaulo
		env.geocoder.addr = saoPauloAdr
		env.store.rows = testRows(1)
		if err := env.serv.ReloadSavedLocations(t.Context()); err != nil {
			t.Fatal(err)
		}
		if err := env.serv.FetchCurrentLocation(t.Context()); err != nil {
			t.Fatal(err)
		}

		env.store.setRows(testRows(5))
		if err := env.serv.SaveCurrentLocation(t.Context()); err != nil {
			t.Fatalf("failed to save location: %s", err)
		}
		if n := len(env.serv.Snapshot().Saved); n != 5 {
			t.Errorf("expected 5 saved locations from the store, got %d", n)
		}
		record := env.store.lastRecord()
		want := store.Record{
			Latitude:  saoPaulo.Lat,
			Longitude: saoPaulo.Lon,
			Address:   "Av. Paulista, São Paulo, Brasil",
			CreatedAt: "2026-10-18T09:15:00.000Z",
		}
		if record != want {
			t.Errorf("expected record %+v, got %+v", want, record)
		}
		notices := env.notifier.all()
		if len(notices) != 1 || notices[0].Kind != NoticeSaved || notices[0].Address != want.Address {
			t.Errorf("expected one saved notice, got %+v", notices)
		}
		if env.serv.Snapshot().Phase != PhaseReady {
			t.Errorf("expected ready phase, got %s", env.serv.Snapshot().Phase)
		}
	})
	t.Run("empty address is saved as unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		env.serv.dispatch(SetCoordinate{Coordinate: berlin, Seq: env.serv.seq.Add(1)})
		if err := env.serv.SaveCurrentLocation(t.Context()); err != nil {
			t.Fatalf("failed to save location: %s", err)
		}
		if got := env.store.lastRecord().Address; got != geocode.AddressUnavailable {
			t.Errorf("expected %q, got %q", geocode.AddressUnavailable, got)
		}
	})
	t.Run("insert failure leaves the state unchanged", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.rows = testRows(2)
		if err := env.serv.ReloadSavedLocations(t.Context()); err != nil {
			t.Fatal(err)
		}
		env.serv.dispatch(SetCoordinate{Coordinate: berlin, Seq: env.serv.seq.Add(1)})
		env.store.insertErr = errors.New("connection refused")
		before := env.serv.Snapshot()

		err := env.serv.SaveCurrentLocation(t.Context())
		if !errors.Is(err, ErrPersistenceInsert) {
			t.Fatalf("expected insert failure, got %v", err)
		}
		after := env.serv.Snapshot()
		if !reflect.DeepEqual(before.Saved, after.Saved) {
			t.Error("expected saved list to be unchanged")
		}
		if env.store.listCalls.Load() != 1 {
			t.Errorf("expected no reload after failed insert, got %d list calls", env.store.listCalls.Load())
		}
		notices := env.notifier.all()
		if len(notices) != 1 || notices[0].Kind != NoticeSaveFailed {
			t.Errorf("expected one save-failed notice, got %+v", notices)
		}
	})
	t.Run("reload failure after save still counts as saved", func(t *testing.T) {
		env := newTestEnv(t)
		env.serv.dispatch(SetCoordinate{Coordinate: berlin, Seq: env.serv.seq.Add(1)})
		env.store.listErr = errors.New("timeout")
		if err := env.serv.SaveCurrentLocation(t.Context()); err != nil {
			t.Fatalf("expected save to succeed, got %s", err)
		}
		notices := env.notifier.all()
		if len(notices) != 2 || notices[0].Kind != NoticeSaved || notices[1].Kind != NoticeReloadFailed {
			t.Errorf("expected saved and reload-failed notices, got %+v", notices)
		}
	})
}

func TestService_ReloadSavedLocations(t *testing.T) {
	t.Run("failure leaves the saved list unchanged", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.rows = testRows(3)
		if err := env.serv.ReloadSavedLocations(t.Context()); err != nil {
			t.Fatal(err)
		}
		before := env.serv.Snapshot().Saved

		env.store.listErr = errors.New("relation does not exist")
		err := env.serv.ReloadSavedLocations(t.Context())
		if !errors.Is(err, ErrPersistenceQuery) {
			t.Fatalf("expected query failure, got %v", err)
		}
		if !reflect.DeepEqual(before, env.serv.Snapshot().Saved) {
			t.Error("expected saved list to be unchanged")
		}
		notices := env.notifier.all()
		if len(notices) != 1 || notices[0].Kind != NoticeReloadFailed {
			t.Errorf("expected one reload-failed notice, got %+v", notices)
		}
		if got := testutil.ToFloat64(env.metrics.StoreOperations.WithLabelValues("list", "error")); got != 1 {
			t.Errorf("expected 1 failed list metric, got %f", got)
		}
	})
	t.Run("no rows yield an empty list", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.rows = testRows(2)
		if err := env.serv.ReloadSavedLocations(t.Context()); err != nil {
			t.Fatal(err)
		}
		env.store.setRows(nil)
		if err := env.serv.ReloadSavedLocations(t.Context()); err != nil {
			t.Fatal(err)
		}
		saved := env.serv.Snapshot().Saved
		if saved == nil || len(saved) != 0 {
			t.Errorf("expected empty list, got %#v", saved)
		}
	})
}

func TestService_WatchLocation(t *testing.T) {
	t.Run("updates replace the coordinate without toggling busy", func(t *testing.T) {
		env := newTestEnv(t)
		streamer := &streamLocator{fakeLocator: env.locator, coords: []location.Coordinate{saoPaulo}}
		env.serv.locator = streamer
		env.geocoder.addr = saoPauloAdr

		var busySeen atomic.Bool
		unsubscribe := env.serv.OnChange(func(s State) {
			if s.Busy {
				busySeen.Store(true)
			}
		})
		defer unsubscribe()

		stop, err := env.serv.WatchLocation(t.Context())
		if err != nil {
			t.Fatalf("failed to start watch: %s", err)
		}
		waitFor(t, func() bool { return env.serv.Snapshot().Address != "" })

		snap := env.serv.Snapshot()
		if snap.Address != "Av. Paulista, São Paulo, Brasil" {
			t.Errorf("unexpected address: %q", snap.Address)
		}
		if !snap.Watching {
			t.Error("expected watching state")
		}
		if busySeen.Load() {
			t.Error("expected watch updates to leave busy unset")
		}
		if _, err = env.serv.WatchLocation(t.Context()); !errors.Is(err, ErrAlreadyWatching) {
			t.Errorf("expected already watching error, got %v", err)
		}

		stop()
		if env.serv.Snapshot().Watching {
			t.Error("expected watching to be cleared")
		}
		env.serv.StopWatch()
	})
	t.Run("cancelled context ends the watch", func(t *testing.T) {
		env := newTestEnv(t)
		env.serv.locator = &streamLocator{fakeLocator: env.locator}
		ctx, cancel := context.WithCancel(t.Context())
		if _, err := env.serv.WatchLocation(ctx); err != nil {
			t.Fatalf("failed to start watch: %s", err)
		}
		cancel()
		waitFor(t, func() bool { return !env.serv.Snapshot().Watching })

		stop, err := env.serv.WatchLocation(t.Context())
		if err != nil {
			t.Fatalf("expected a new watch to start, got %s", err)
		}
		stop()
	})
	t.Run("stop cancels a running address lookup", func(t *testing.T) {
		env := newTestEnv(t)
		env.serv.locator = &streamLocator{fakeLocator: env.locator, coords: []location.Coordinate{saoPaulo}}
		env.geocoder.entered = make(chan struct{})
		if _, err := env.serv.WatchLocation(t.Context()); err != nil {
			t.Fatalf("failed to start watch: %s", err)
		}
		select {
		case <-env.geocoder.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("expected an address lookup")
		}

		stopped := make(chan struct{})
		go func() {
			env.serv.StopWatch()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Fatal("expected stop not to wait for the address lookup")
		}
		if env.serv.Snapshot().Watching {
			t.Error("expected watching to be cleared")
		}
	})
	t.Run("watch start failure raises a notice", func(t *testing.T) {
		env := newTestEnv(t)
		env.serv.watchOpts.MinDistance = -1
		_, err := env.serv.WatchLocation(t.Context())
		if !errors.Is(err, ErrLocationUnknown) {
			t.Fatalf("expected unknown location error, got %v", err)
		}
		notices := env.notifier.all()
		if len(notices) != 1 || notices[0].Kind != NoticeLocationUnknown {
			t.Errorf("expected location unknown notice, got %+v", notices)
		}
		if env.serv.Snapshot().Watching {
			t.Error("expected no active watch")
		}
	})
	t.Run("watch requires permission", func(t *testing.T) {
		env := newTestEnv(t)
		env.locator.grant = location.PermissionDenied
		if _, err := env.serv.WatchLocation(t.Context()); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected permission denied, got %v", err)
		}
		if env.serv.Snapshot().Watching {
			t.Error("expected no active watch")
		}
	})
}

func TestService_OnChange(t *testing.T) {
	env := newTestEnv(t)
	var mu sync.Mutex
	var phases []Phase
	unsubscribe := env.serv.OnChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, s.Phase)
	})

	env.locator.coord = berlin
	if err := env.serv.FetchCurrentLocation(t.Context()); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	if err := env.serv.ReloadSavedLocations(t.Context()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Phase{PhaseIdle, PhaseRequestingPermission, PhaseRequestingPermission, PhaseFetchingLocation,
		PhaseResolvingAddress, PhaseReady, PhaseReady}
	if !reflect.DeepEqual(phases, want) {
		t.Errorf("expected phases %v, got %v", want, phases)
	}
}

func TestService_Close(t *testing.T) {
	env := newTestEnv(t)
	env.serv.Close()
	if !env.store.closed.Load() {
		t.Error("expected store to be closed")
	}
}

func TestService_InitStore(t *testing.T) {
	env := newTestEnv(t)
	if err := env.serv.InitStore(t.Context()); err == nil {
		t.Error("expected schema initialization to fail for a store without schema support")
	}
}

func TestService_HandleFetchSignal(t *testing.T) {
	env := newTestEnv(t)
	env.locator.coord = berlin
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.serv.HandleFetchSignal(ctx, sigChan)
	}()

	sigChan <- syscall.SIGUSR1
	waitFor(t, func() bool { return env.serv.Snapshot().Coordinate.IsSet() })
	cancel()
	<-done
}

func TestService_handleResumeEvent(t *testing.T) {
	t.Run("resume reloads the saved locations", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.rows = testRows(4)
		var lastResume atomic.Int64

		done := make(chan struct{})
		go func() {
			defer close(done)
			env.serv.processSleepSignal(t.Context(), &dbus.Signal{Body: []any{false}}, &lastResume)
		}()
		if err := env.clock.BlockUntilContext(t.Context(), 1); err != nil {
			t.Fatal(err)
		}

		// A second resume within the debounce window returns immediately
		env.serv.handleResumeEvent(t.Context(), &lastResume)

		env.clock.Advance(networkWakeupDelay)
		<-done

		if len(env.serv.Snapshot().Saved) != 4 {
			t.Errorf("expected saved locations to be reloaded")
		}
		if env.store.listCalls.Load() != 1 {
			t.Errorf("expected 1 list call, got %d", env.store.listCalls.Load())
		}
	})
	t.Run("sleep and malformed signals are ignored", func(t *testing.T) {
		env := newTestEnv(t)
		var lastResume atomic.Int64
		for _, sgn := range []*dbus.Signal{nil, {Body: []any{true}}, {Body: []any{"false"}}, {Body: []any{}}} {
			env.serv.processSleepSignal(t.Context(), sgn, &lastResume)
		}
		if env.store.listCalls.Load() != 0 {
			t.Error("expected no reload")
		}
	})
}

func TestService_logsStaleCoordinate(t *testing.T) {
	env := newTestEnv(t)
	buf := &syncBuffer{buf: bytes.NewBuffer(nil)}
	env.serv.logger = logger.NewLogger(slog.LevelDebug, buf)

	first := env.serv.seq.Add(1)
	env.serv.dispatch(SetCoordinate{Coordinate: berlin, Seq: first})
	env.serv.dispatch(SetCoordinate{Coordinate: saoPaulo, Seq: env.serv.seq.Add(1)})
	env.serv.applyCoordinate(t.Context(), "fetch", berlin, first)

	if !strings.Contains(buf.String(), "discarding stale coordinate") {
		t.Errorf("expected stale coordinate to be logged, got %q", buf.String())
	}
}

type testEnv struct {
	serv     *Service
	locator  *fakeLocator
	geocoder *fakeGeocoder
	store    *fakeStore
	notifier *recordingNotifier
	metrics  *observability.Metrics
	clock    *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		locator:  &fakeLocator{grant: location.PermissionGranted},
		geocoder: &fakeGeocoder{addr: geocode.Address{Kind: geocode.KindDisplayName, DisplayName: "Somewhere"}},
		store:    &fakeStore{},
		notifier: &recordingNotifier{},
		metrics:  observability.NewMetrics(nil),
		clock:    clockwork.NewFakeClockAt(testNow),
	}
	serv, err := NewWithDependencies(testConfig(t), Dependencies{
		Locator:  env.locator,
		Geocoder: env.geocoder,
		Store:    env.store,
		Notifier: env.notifier,
		Metrics:  env.metrics,
		Clock:    env.clock,
		Logger:   logger.NewLogger(slog.LevelDebug, io.Discard),
	})
	if err != nil {
		t.Fatalf("failed to create service: %s", err)
	}
	env.serv = serv
	return env
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	conf, err := config.New()
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}
	return conf
}

func testRows(n int) []store.SavedLocation {
	rows := make([]store.SavedLocation, 0, n)
	for i := n; i > 0; i-- {
		rows = append(rows, store.SavedLocation{
			ID:        store.ID(fmt.Sprint(i)),
			Latitude:  52.5,
			Longitude: 13.4,
			Address:   fmt.Sprintf("Location %d", i),
			CreatedAt: testNow.Add(time.Duration(i) * time.Minute).Format(store.TimeLayout),
		})
	}
	return rows
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeLocator struct {
	mu        sync.Mutex
	status    location.Permission
	statusErr error
	grant     location.Permission
	grantErr  error
	coord     location.Coordinate
	fixErr    error
	lastAcc   location.Accuracy
	block     chan struct{}
	entered   chan struct{}

	requests atomic.Int32
	fixes    atomic.Int32
}

func (f *fakeLocator) Name() string { return "fake" }

func (f *fakeLocator) PermissionStatus(context.Context) (location.Permission, error) {
	return f.status, f.statusErr
}

func (f *fakeLocator) RequestPermission(context.Context) (location.Permission, error) {
	f.requests.Add(1)
	return f.grant, f.grantErr
}

func (f *fakeLocator) CurrentPosition(ctx context.Context, acc location.Accuracy) (location.Coordinate, error) {
	f.fixes.Add(1)
	f.mu.Lock()
	f.lastAcc = acc
	coord, err, block := f.coord, f.fixErr, f.block
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return location.Coordinate{}, ctx.Err()
		}
	}
	return coord, err
}

func (f *fakeLocator) setFixErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixErr = err
}

type streamLocator struct {
	*fakeLocator
	coords []location.Coordinate
}

func (s *streamLocator) Stream(ctx context.Context, _ location.Accuracy) (<-chan location.Coordinate, error) {
	ch := make(chan location.Coordinate)
	go func() {
		defer close(ch)
		for _, c := range s.coords {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type fakeGeocoder struct {
	addr   geocode.Address
	err    error
	panics bool
	calls  atomic.Int32
	// entered is closed on the first lookup. If set, lookups block until ctx is done.
	entered chan struct{}
	once    sync.Once
}

func (f *fakeGeocoder) Name() string { return "fake geocoder" }

func (f *fakeGeocoder) Reverse(ctx context.Context, _ location.Coordinate) (geocode.Address, error) {
	f.calls.Add(1)
	if f.panics {
		panic("intentionally panicking")
	}
	if f.entered != nil {
		f.once.Do(func() { close(f.entered) })
		<-ctx.Done()
		return geocode.Address{}, ctx.Err()
	}
	return f.addr, f.err
}

type fakeStore struct {
	mu        sync.Mutex
	rows      []store.SavedLocation
	records   []store.Record
	insertErr error
	listErr   error

	insertCalls atomic.Int32
	listCalls   atomic.Int32
	closed      atomic.Bool
}

func (f *fakeStore) Name() string { return "fake store" }

func (f *fakeStore) Insert(_ context.Context, record store.Record) (store.SavedLocation, error) {
	f.insertCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return store.SavedLocation{}, f.insertErr
	}
	f.records = append(f.records, record)
	return store.SavedLocation{
		ID:        store.ID(fmt.Sprint(len(f.records))),
		Latitude:  record.Latitude,
		Longitude: record.Longitude,
		Address:   record.Address,
		CreatedAt: record.CreatedAt,
	}, nil
}

func (f *fakeStore) List(context.Context) ([]store.SavedLocation, error) {
	f.listCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rows, nil
}

func (f *fakeStore) Close() {
	f.closed.Store(true)
}

func (f *fakeStore) calls() int32 {
	return f.insertCalls.Load() + f.listCalls.Load()
}

func (f *fakeStore) setRows(rows []store.SavedLocation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

func (f *fakeStore) lastRecord() store.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		return store.Record{}
	}
	return f.records[len(f.records)-1]
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
