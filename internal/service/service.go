// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package service implements the application controller: it acquires the device location,
// resolves its address, persists it and keeps the list of saved locations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geonote/internal/config"
	"github.com/wneessen/geonote/internal/geocode"
	"github.com/wneessen/geonote/internal/location"
	"github.com/wneessen/geonote/internal/logger"
	"github.com/wneessen/geonote/internal/observability"
	"github.com/wneessen/geonote/internal/store"
)

// DefaultLocationTimeout bounds a single location fetch if the configuration does not.
const DefaultLocationTimeout = 15 * time.Second

// Dependencies are the collaborators of the Service.
type Dependencies struct {
	Locator  location.Provider
	Geocoder geocode.Geocoder
	Store    store.Store
	Notifier Notifier
	Metrics  *observability.Metrics
	Clock    clockwork.Clock
	Logger   *logger.Logger
}

type Service struct {
	locator   location.Provider
	geocoder  geocode.Geocoder
	formatter geocode.Formatter
	store     store.Store
	notifier  Notifier
	metrics   *observability.Metrics
	clock     clockwork.Clock
	logger    *logger.Logger
	timeout   time.Duration
	watchOpts location.WatchOptions

	// emitLock serializes state changes together with their delivery to subscribers.
	emitLock    sync.Mutex
	stateLock   sync.RWMutex
	state       State
	subscribers map[int]func(State)
	nextSubID   int

	seq      atomic.Uint64
	fetching atomic.Bool

	watchLock sync.Mutex
	stopWatch func()
}

// New creates a Service with the location provider, geocoder and store selected by conf.
func New(ctx context.Context, conf *config.Config, log *logger.Logger, notifier Notifier,
	metrics *observability.Metrics,
) (*Service, error) {
	if conf == nil {
		return nil, errors.New("config must not be nil")
	}
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	locator, err := selectLocationProvider(conf, log)
	if err != nil {
		return nil, err
	}
	geocoder, err := selectGeocoder(conf, log)
	if err != nil {
		return nil, err
	}
	persistence, err := selectStore(ctx, conf, log)
	if err != nil {
		return nil, err
	}

	return NewWithDependencies(conf, Dependencies{
		Locator:  locator,
		Geocoder: geocoder,
		Store:    persistence,
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   log,
	})
}

// NewWithDependencies creates a Service from explicit collaborators. Notifier, Metrics and
// Clock are optional.
func NewWithDependencies(conf *config.Config, deps Dependencies) (*Service, error) {
	if conf == nil {
		return nil, errors.New("config must not be nil")
	}
	if deps.Locator == nil || deps.Geocoder == nil || deps.Store == nil {
		return nil, errors.New("location provider, geocoder and store are required")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger must not be nil")
	}
	if deps.Notifier == nil {
		deps.Notifier = discardNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics(nil)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	timeout := conf.Location.Timeout
	if timeout <= 0 {
		timeout = DefaultLocationTimeout
	}

	return &Service{
		locator:   deps.Locator,
		geocoder:  deps.Geocoder,
		formatter: geocode.Formatter{HouseNumberPrefix: conf.GeoCoder.HouseNumberPrefix},
		store:     deps.Store,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		logger:    deps.Logger,
		timeout:   timeout,
		watchOpts: location.WatchOptions{
			Accuracy:    location.AccuracyBest,
			MinInterval: conf.Location.WatchInterval,
			MinDistance: conf.Location.WatchDistance,
			Clock:       deps.Clock,
		},
		state:       State{Saved: make([]store.SavedLocation, 0)},
		subscribers: make(map[int]func(State)),
	}, nil
}

// Snapshot returns the current state.
func (s *Service) Snapshot() State {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	snap := s.state
	snap.Saved = slices.Clone(s.state.Saved)
	return snap
}

// OnChange registers fn to receive every new state snapshot. Snapshots are delivered in order.
// fn may call Snapshot but must not call any operation that changes the state. The returned
// function unsubscribes fn.
func (s *Service) OnChange(fn func(State)) func() {
	s.emitLock.Lock()
	defer s.emitLock.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.emitLock.Lock()
		defer s.emitLock.Unlock()
		delete(s.subscribers, id)
	}
}

// Initialize reads the permission status without prompting and loads the saved locations.
func (s *Service) Initialize(ctx context.Context) error {
	perm, err := s.locator.PermissionStatus(ctx)
	if err != nil {
		s.logger.Warn("failed to read location permission status", logger.Err(err),
			logger.Provider(s.locator.Name()))
		perm = location.PermissionUndetermined
	}
	s.dispatch(SetPermission{Permission: perm})
	return s.ReloadSavedLocations(ctx)
}

// RequestPermission asks the location provider for foreground access.
func (s *Service) RequestPermission(ctx context.Context) (location.Permission, error) {
	perm, err := s.requestPermission(ctx)
	s.dispatch(SetPhase{Phase: PhaseIdle})
	return perm, err
}

func (s *Service) requestPermission(ctx context.Context) (location.Permission, error) {
	s.dispatch(SetPhase{Phase: PhaseRequestingPermission})
	perm, err := s.locator.RequestPermission(ctx)
	if err != nil && location.Classify(err) != location.ErrorKindPermissionDenied {
		s.logger.Error("failed to request location permission", logger.Err(err),
			logger.Provider(s.locator.Name()))
		s.notifier.Notify(Notice{Kind: NoticeLocationUnknown, Err: err})
		return perm, fmt.Errorf("%w: %w", ErrLocationUnknown, err)
	}
	if err != nil {
		perm = location.PermissionDenied
	}
	s.dispatch(SetPermission{Permission: perm})
	if perm != location.PermissionGranted {
		s.notifier.Notify(Notice{Kind: NoticePermissionDenied, Err: err, OpenSettings: true})
		return perm, ErrPermissionDenied
	}
	return perm, nil
}

// FetchCurrentLocation reads one fix with the best accuracy, replaces the current coordinate
// and resolves its address. It fails with ErrBusy while another fetch is running.
func (s *Service) FetchCurrentLocation(ctx context.Context) error {
	if !s.fetching.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.fetching.Store(false)

	seq := s.seq.Add(1)
	s.setBusy(true)
	defer s.setBusy(false)

	if !s.Snapshot().HasPermission() {
		if _, err := s.requestPermission(ctx); err != nil {
			s.dispatch(SetPhase{Phase: PhaseIdle})
			return err
		}
	}

	s.dispatch(SetPhase{Phase: PhaseFetchingLocation})
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	coord, err := s.locator.CurrentPosition(fetchCtx, location.AccuracyBest)
	cancel()
	if err == nil && !coord.Valid() {
		err = fmt.Errorf("%w: invalid coordinate %f,%f", location.ErrPositionUnavailable, coord.Lat, coord.Lon)
	}
	if err != nil {
		s.metrics.LocationFixes.WithLabelValues("fetch", "error").Inc()
		s.dispatch(SetPhase{Phase: PhaseIdle})
		return s.locationFailure(err)
	}

	s.metrics.LocationFixes.WithLabelValues("fetch", "success").Inc()
	s.applyCoordinate(ctx, "fetch", coord, seq)
	return nil
}

func (s *Service) locationFailure(err error) error {
	s.logger.Warn("failed to fetch current location", logger.Err(err), logger.Provider(s.locator.Name()))
	switch location.Classify(err) {
	case location.ErrorKindPermissionDenied:
		s.dispatch(SetPermission{Permission: location.PermissionDenied})
		s.notifier.Notify(Notice{Kind: NoticePermissionDenied, Err: err, OpenSettings: true})
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case location.ErrorKindPositionUnavailable:
		s.notifier.Notify(Notice{Kind: NoticePositionUnavailable, Err: err})
		return fmt.Errorf("%w: %w", ErrPositionUnavailable, err)
	case location.ErrorKindTimeout:
		s.notifier.Notify(Notice{Kind: NoticeLocationTimeout, Err: err})
		return fmt.Errorf("%w: %w", ErrLocationTimeout, err)
	default:
		s.notifier.Notify(Notice{Kind: NoticeLocationUnknown, Err: err})
		return fmt.Errorf("%w: %w", ErrLocationUnknown, err)
	}
}

// applyCoordinate displays coord unless a newer coordinate is already shown, then resolves and
// applies its address.
func (s *Service) applyCoordinate(ctx context.Context, source string, coord location.Coordinate, seq uint64) {
	if _, ok := s.dispatch(SetCoordinate{Coordinate: coord, Seq: seq}); !ok {
		s.metrics.LocationFixes.WithLabelValues(source, "stale").Inc()
		s.logger.Debug("discarding stale coordinate", slog.String("source", source),
			slog.Uint64("seq", seq), slog.Float64("lat", coord.Lat), slog.Float64("lon", coord.Lon))
		return
	}

	address := s.resolveAddress(ctx, coord)
	if _, ok := s.dispatch(SetAddress{Address: address, Seq: seq}); !ok {
		s.logger.Debug("discarding address of superseded coordinate", slog.String("source", source),
			slog.Uint64("seq", seq), slog.String("address", address))
	}
}

// resolveAddress never fails. Lookup errors and panics yield geocode.AddressLookupFailed.
func (s *Service) resolveAddress(ctx context.Context, coord location.Coordinate) (address string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("geocoder panicked", slog.Any("panic", r), logger.Provider(s.geocoder.Name()))
			s.metrics.GeocodeRequests.WithLabelValues("error").Inc()
			address = geocode.AddressLookupFailed
		}
	}()

	addr, err := s.geocoder.Reverse(ctx, coord)
	if err != nil {
		s.logger.Warn("failed to resolve address", logger.Err(err), logger.Provider(s.geocoder.Name()),
			slog.Float64("lat", coord.Lat), slog.Float64("lon", coord.Lon))
		s.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return geocode.AddressLookupFailed
	}
	if addr.CacheHit {
		s.metrics.GeocodeCache.WithLabelValues("hit").Inc()
	} else {
		s.metrics.GeocodeCache.WithLabelValues("miss").Inc()
	}
	if addr.Found() {
		s.metrics.GeocodeRequests.WithLabelValues("found").Inc()
	} else {
		s.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
	}
	return s.formatter.Format(addr)
}

// SaveCurrentLocation persists the current coordinate and address and reloads the saved
// locations from the store.
func (s *Service) SaveCurrentLocation(ctx context.Context) error {
	snap := s.Snapshot()
	coord, ok := snap.Coordinate.Get()
	if !ok {
		s.notifier.Notify(Notice{Kind: NoticeNothingToSave})
		return ErrNoCurrentLocation
	}
	address := snap.Address
	if strings.TrimSpace(address) == "" {
		address = geocode.AddressUnavailable
	}

	record, err := store.NewRecord(coord.Lat, coord.Lon, address, s.clock.Now())
	if err != nil {
		s.logger.Error("failed to build location record", logger.Err(err))
		s.notifier.Notify(Notice{Kind: NoticeSaveFailed, Err: err})
		return fmt.Errorf("%w: %w", ErrPersistenceInsert, err)
	}

	s.dispatch(SetPhase{Phase: PhaseSaving})
	saved, err := s.store.Insert(ctx, record)
	s.metrics.StoreOperations.WithLabelValues("insert", observability.Outcome(err)).Inc()
	s.dispatch(SetPhase{Phase: PhaseReady})
	if err != nil {
		s.logger.Error("failed to save location", logger.Err(err), slog.String("store", s.store.Name()),
			slog.Float64("lat", coord.Lat), slog.Float64("lon", coord.Lon))
		s.notifier.Notify(Notice{Kind: NoticeSaveFailed, Err: err})
		return fmt.Errorf("%w: %w", ErrPersistenceInsert, err)
	}
	s.logger.Debug("location saved", slog.String("id", saved.ID.String()), slog.String("address", saved.Address))
	s.notifier.Notify(Notice{Kind: NoticeSaved, Address: record.Address})

	// The save counts as successful even if the list cannot be refreshed. The reload reports
	// its own failure.
	_ = s.ReloadSavedLocations(ctx)
	return nil
}

// ReloadSavedLocations replaces the saved locations with the store's list, newest first. On
// failure the current list is kept.
func (s *Service) ReloadSavedLocations(ctx context.Context) error {
	saved, err := s.store.List(ctx)
	s.metrics.StoreOperations.WithLabelValues("list", observability.Outcome(err)).Inc()
	if err != nil {
		s.logger.Error("failed to load saved locations", logger.Err(err), slog.String("store", s.store.Name()))
		s.notifier.Notify(Notice{Kind: NoticeReloadFailed, Err: err})
		return fmt.Errorf("%w: %w", ErrPersistenceQuery, err)
	}
	s.dispatch(SetSaved{Saved: saved})
	return nil
}

// WatchLocation subscribes to continuous location updates. Every update replaces the current
// coordinate and resolves its address like a fetch does, without marking the Service busy.
// Manual fetches may run at the same time; the newer coordinate wins. The watch ends when the
// returned function is called or ctx is done.
func (s *Service) WatchLocation(ctx context.Context) (func(), error) {
	s.watchLock.Lock()
	defer s.watchLock.Unlock()
	if s.stopWatch != nil {
		return nil, ErrAlreadyWatching
	}

	if !s.Snapshot().HasPermission() {
		if _, err := s.RequestPermission(ctx); err != nil {
			return nil, err
		}
	}

	onUpdate := func(watchCtx context.Context, coord location.Coordinate) {
		seq := s.seq.Add(1)
		s.metrics.LocationFixes.WithLabelValues("watch", "success").Inc()
		s.applyCoordinate(watchCtx, "watch", coord, seq)
	}
	stop, err := location.Watch(ctx, s.locator, s.watchOpts, onUpdate, s.logger)
	if err != nil {
		s.logger.Error("failed to start location watch", logger.Err(err), logger.Provider(s.locator.Name()))
		s.notifier.Notify(Notice{Kind: NoticeLocationUnknown, Err: err})
		return nil, fmt.Errorf("%w: failed to start location watch: %w", ErrLocationUnknown, err)
	}
	s.dispatch(SetWatching{Watching: true})

	var once sync.Once
	var stopOnDone func() bool
	stopWatch := func() {
		once.Do(func() {
			stop()
			s.watchLock.Lock()
			s.stopWatch = nil
			release := stopOnDone
			s.watchLock.Unlock()
			if release != nil {
				release()
			}
			s.dispatch(SetWatching{Watching: false})
		})
	}
	s.stopWatch = stopWatch
	stopOnDone = context.AfterFunc(ctx, stopWatch)
	return stopWatch, nil
}

// StopWatch ends an active location watch. It is a no-op if no watch is running.
func (s *Service) StopWatch() {
	s.watchLock.Lock()
	stop := s.stopWatch
	s.watchLock.Unlock()
	if stop != nil {
		stop()
	}
}

// Close stops an active watch and releases the store.
func (s *Service) Close() {
	s.StopWatch()
	if closer, ok := s.store.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (s *Service) setBusy(busy bool) {
	if busy {
		s.metrics.Busy.Set(1)
	} else {
		s.metrics.Busy.Set(0)
	}
	s.dispatch(SetBusy{Busy: busy})
}

// dispatch reduces action into the current state and delivers the new snapshot to all
// subscribers. Discarded actions are not delivered.
func (s *Service) dispatch(action Action) (State, bool) {
	s.emitLock.Lock()
	defer s.emitLock.Unlock()

	s.stateLock.Lock()
	next, ok := Reduce(s.state, action)
	if ok {
		s.state = next
	}
	s.stateLock.Unlock()
	if !ok {
		return next, false
	}

	for _, fn := range s.subscribers {
		snap := next
		snap.Saved = slices.Clone(next.Saved)
		fn(snap)
	}
	return next, true
}
