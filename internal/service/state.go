// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"slices"

	"github.com/wneessen/geonote/internal/location"
	"github.com/wneessen/geonote/internal/store"
	"github.com/wneessen/geonote/internal/vartype"
)

// Phase is the step of the fetch-and-save cycle the controller is in.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRequestingPermission
	PhaseFetchingLocation
	PhaseResolvingAddress
	PhaseReady
	PhaseSaving
)

func (p Phase) String() string {
	switch p {
	case PhaseRequestingPermission:
		return "requesting-permission"
	case PhaseFetchingLocation:
		return "fetching-location"
	case PhaseResolvingAddress:
		return "resolving-address"
	case PhaseReady:
		return "ready"
	case PhaseSaving:
		return "saving"
	default:
		return "idle"
	}
}

// State is an immutable snapshot of the controller's view state. A new snapshot is produced by
// Reduce for every change.
type State struct {
	Coordinate vartype.Variable[location.Coordinate]
	// CoordinateSeq is the sequence number of the displayed coordinate.
	CoordinateSeq uint64
	Address       string
	Saved         []store.SavedLocation
	Busy          bool
	Permission    location.Permission
	Phase         Phase
	Watching      bool
}

// HasPermission reports whether location access is granted.
func (s State) HasPermission() bool {
	return s.Permission == location.PermissionGranted
}

// Action is a state change requested by the controller.
type Action interface {
	isAction()
}

type (
	SetPermission struct{ Permission location.Permission }
	SetBusy       struct{ Busy bool }
	SetPhase      struct{ Phase Phase }
	SetWatching   struct{ Watching bool }
	// SetCoordinate replaces the displayed coordinate unless Seq is not newer than the
	// displayed one.
	SetCoordinate struct {
		Coordinate location.Coordinate
		Seq        uint64
	}
	// SetAddress sets the address of the coordinate with the given Seq.
	SetAddress struct {
		Address string
		Seq     uint64
	}
	// SetSaved replaces the saved locations wholesale.
	SetSaved struct{ Saved []store.SavedLocation }
)

func (SetPermission) isAction() {}
func (SetBusy) isAction()       {}
func (SetPhase) isAction()      {}
func (SetWatching) isAction()   {}
func (SetCoordinate) isAction() {}
func (SetAddress) isAction()    {}
func (SetSaved) isAction()      {}

// Reduce applies action to state and returns the resulting snapshot. The boolean is false if
// the action was discarded as stale.
func Reduce(state State, action Action) (State, bool) {
	switch a := action.(type) {
	case SetPermission:
		state.Permission = a.Permission
	case SetBusy:
		state.Busy = a.Busy
	case SetPhase:
		state.Phase = a.Phase
	case SetWatching:
		state.Watching = a.Watching
	case SetCoordinate:
		if a.Seq <= state.CoordinateSeq {
			return state, false
		}
		state.Coordinate = vartype.NewVariable(a.Coordinate)
		state.CoordinateSeq = a.Seq
		state.Address = ""
		state.Phase = PhaseResolvingAddress
	case SetAddress:
		if a.Seq != state.CoordinateSeq || !state.Coordinate.IsSet() {
			return state, false
		}
		state.Address = a.Address
		state.Phase = PhaseReady
	case SetSaved:
		if a.Saved == nil {
			state.Saved = make([]store.SavedLocation, 0)
			break
		}
		state.Saved = slices.Clone(a.Saved)
	default:
		return state, false
	}
	return state, true
}
