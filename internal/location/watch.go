// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geonote/internal/logger"
)

const (
	DefaultPollInterval = 10 * time.Second
	initialBackoff      = time.Second
	maxBackoff          = 30 * time.Second
)

// WatchOptions bounds the update rate of a continuous location watch.
type WatchOptions struct {
	Accuracy    Accuracy
	MinInterval time.Duration
	MinDistance float64
	// Clock is used for throttling and polling. Defaults to the real clock.
	Clock clockwork.Clock
}

// Watch starts delivering coordinates from provider to onUpdate until the returned stop function
// is called or ctx is done. Providers implementing Streamer are subscribed to, all others are
// polled at MinInterval. Updates are throttled by WatchOptions. onUpdate receives a context that
// is cancelled once the watch ends. stop blocks until no further onUpdate call can happen.
func Watch(ctx context.Context, provider Provider, opts WatchOptions,
	onUpdate func(context.Context, Coordinate), log *logger.Logger,
) (func(), error) {
	if provider == nil || onUpdate == nil {
		return nil, errors.New("location watch requires a provider and an update handler")
	}
	if opts.MinInterval < 0 || opts.MinDistance < 0 {
		return nil, fmt.Errorf("location watch bounds must not be negative (interval: %s, distance: %g)",
			opts.MinInterval, opts.MinDistance)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	streamer, streaming := provider.(Streamer)

	ctx, cancel := context.WithCancel(ctx)
	filter := newWatchFilter(opts, streaming)
	var mu sync.Mutex
	emit := func(c Coordinate) {
		if !c.Valid() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if filter.allow(c, opts.Clock.Now()) {
			onUpdate(ctx, c)
		}
	}

	if streaming {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			followStream(ctx, streamer, opts, emit, log.With(logger.Provider(provider.Name())))
		}()
		return func() {
			cancel()
			wg.Wait()
			mu.Lock()
			mu.Unlock()
		}, nil
	}

	interval := opts.MinInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	scheduler, err := gocron.NewScheduler(gocron.WithClock(opts.Clock))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create location poll scheduler: %w", err)
	}
	_, err = scheduler.NewJob(gocron.DurationJob(interval),
		gocron.NewTask(func(jobCtx context.Context) {
			coord, err := provider.CurrentPosition(jobCtx, opts.Accuracy)
			if err != nil {
				log.Warn("location poll failed", logger.Provider(provider.Name()), logger.Err(err))
				return
			}
			emit(coord)
		}),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithName("location_poll_job"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create location poll job: %w", err)
	}
	scheduler.Start()

	return func() {
		cancel()
		if err := scheduler.Shutdown(); err != nil {
			log.Error("failed to shut down location poll scheduler", logger.Err(err))
		}
		mu.Lock()
		mu.Unlock()
	}, nil
}

// newWatchFilter returns the throttle for a watch. Polls are spaced by the scheduler at their
// start, so a polled watch only filters by distance.
func newWatchFilter(opts WatchOptions, streaming bool) *throttle {
	if !streaming {
		return newThrottle(0, opts.MinDistance)
	}
	return newThrottle(opts.MinInterval, opts.MinDistance)
}

// followStream subscribes to a streaming provider and resubscribes with backoff whenever the
// stream ends before ctx is done.
func followStream(ctx context.Context, s Streamer, opts WatchOptions, emit func(Coordinate), log *logger.Logger) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := safeStream(ctx, s, opts.Accuracy)
		if err != nil || updates == nil {
			if err != nil {
				log.Warn("location stream failed", logger.Err(err))
			}
			if !sleepOrDone(ctx, opts.Clock, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		for coord := range updates {
			emit(coord)
			backoff = initialBackoff
		}
		if !sleepOrDone(ctx, opts.Clock, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func safeStream(ctx context.Context, s Streamer, acc Accuracy) (ch <-chan Coordinate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("location stream panicked: %v", r)
		}
	}()
	return s.Stream(ctx, acc)
}

func sleepOrDone(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
