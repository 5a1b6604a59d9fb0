// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package location defines the device location contract used by geonote and the helpers shared
// by all location providers.
package location

import (
	"context"
	"errors"
	"io/fs"
)

// Permission reflects whether the application may read the device location.
type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

// Accuracy is a hint for how precise a requested fix should be.
type Accuracy int

const (
	AccuracyBest Accuracy = iota
	AccuracyBalanced
	AccuracyLow
)

// ErrorKind classifies location failures for user-facing reporting.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindPermissionDenied
	ErrorKindPositionUnavailable
	ErrorKindTimeout
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

// Provider is a source of device coordinates.
type Provider interface {
	Name() string
	// PermissionStatus reports the current permission without prompting the user.
	PermissionStatus(ctx context.Context) (Permission, error)
	// RequestPermission asks for foreground location access.
	RequestPermission(ctx context.Context) (Permission, error)
	// CurrentPosition returns a single fresh fix. The caller bounds the wait through ctx.
	CurrentPosition(ctx context.Context, acc Accuracy) (Coordinate, error)
}

// Streamer is implemented by providers that can push continuous updates. The returned channel
// is closed when ctx is done or the underlying source ends.
type Streamer interface {
	Stream(ctx context.Context, acc Accuracy) (<-chan Coordinate, error)
}

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindPermissionDenied:
		return "permission-denied"
	case ErrorKindPositionUnavailable:
		return "position-unavailable"
	case ErrorKindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classify maps a location error onto one of the ErrorKind classes.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindUnknown
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, fs.ErrPermission):
		return ErrorKindPermissionDenied
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrPositionUnavailable):
		return ErrorKindPositionUnavailable
	default:
		return ErrorKindUnknown
	}
}
