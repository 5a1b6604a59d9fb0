// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geocode resolves coordinates into human-readable addresses.
package geocode

import (
	"context"

	"github.com/wneessen/geonote/internal/location"
)

const (
	// NoAddressAvailable is shown if the geocoder knows nothing about a coordinate.
	NoAddressAvailable = "No address available"
	// AddressLookupFailed is shown if the geocoder could not be reached or answered garbage.
	AddressLookupFailed = "Address lookup failed"
	// AddressUnavailable is persisted if a location is saved without a resolved address.
	AddressUnavailable = "Address unavailable"
)

// Kind tells which variant of an Address is populated.
type Kind int

const (
	KindNone Kind = iota
	KindDisplayName
	KindComponents
)

// Components holds the structured parts of an address. Every field is optional.
type Components struct {
	Road        string
	HouseNumber string
	Suburb      string
	City        string
	Town        string
	Village     string
	State       string
	Country     string
}

// Address is the result of a reverse lookup. Only DisplayName is meaningful for
// KindDisplayName and only Components for KindComponents.
type Address struct {
	Kind        Kind
	DisplayName string
	Components  Components
	CacheHit    bool
}

type Geocoder interface {
	Name() string
	Reverse(ctx context.Context, coords location.Coordinate) (Address, error)
}

// Found reports whether the address carries any usable data.
func (a Address) Found() bool {
	return a.Kind != KindNone
}

// IsEmpty reports whether none of the components is set.
func (c Components) IsEmpty() bool {
	return c == Components{}
}

func (k Kind) String() string {
	switch k {
	case KindDisplayName:
		return "display-name"
	case KindComponents:
		return "components"
	default:
		return "none"
	}
}
