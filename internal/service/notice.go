// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"errors"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrLocationTimeout     = errors.New("location request timed out")
	ErrLocationUnknown     = errors.New("unknown location error")
	ErrPersistenceInsert   = errors.New("failed to save location")
	ErrPersistenceQuery    = errors.New("failed to load saved locations")
	ErrNoCurrentLocation   = errors.New("no current location to save")
	ErrBusy                = errors.New("a location fetch is already running")
	ErrAlreadyWatching     = errors.New("location watch is already active")
)

// NoticeKind identifies a user-facing notice.
type NoticeKind int

const (
	NoticePermissionDenied NoticeKind = iota
	NoticePositionUnavailable
	NoticeLocationTimeout
	NoticeLocationUnknown
	NoticeNothingToSave
	NoticeSaved
	NoticeSaveFailed
	NoticeReloadFailed
)

func (k NoticeKind) String() string {
	switch k {
	case NoticePermissionDenied:
		return "permission-denied"
	case NoticePositionUnavailable:
		return "position-unavailable"
	case NoticeLocationTimeout:
		return "location-timeout"
	case NoticeLocationUnknown:
		return "location-unknown"
	case NoticeNothingToSave:
		return "nothing-to-save"
	case NoticeSaved:
		return "saved"
	case NoticeSaveFailed:
		return "save-failed"
	case NoticeReloadFailed:
		return "reload-failed"
	default:
		return "unknown"
	}
}

// Notice is a message for the user. Err carries the cause for failure notices.
type Notice struct {
	Kind NoticeKind
	Err  error
	// OpenSettings is set if the user should be offered to open the location settings.
	OpenSettings bool
	// Address is the address of a saved location.
	Address string
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) {
	f(n)
}

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}
