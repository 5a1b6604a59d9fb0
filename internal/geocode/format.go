// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import "strings"

// DefaultHouseNumberPrefix is put in front of the house number when formatting components.
const DefaultHouseNumberPrefix = "nº"

// Formatter turns an Address into a single display line.
type Formatter struct {
	HouseNumberPrefix string
}

// Format returns the display name verbatim if present. Otherwise it joins road, house number,
// suburb, the first of city/town/village, state and country with ", ", skipping empty parts.
// Addresses without data yield NoAddressAvailable.
func (f Formatter) Format(addr Address) string {
	if addr.Kind == KindDisplayName && addr.DisplayName != "" {
		return addr.DisplayName
	}
	if addr.Kind != KindNone {
		if line := f.joinComponents(addr.Components); line != "" {
			return line
		}
	}
	return NoAddressAvailable
}

func (f Formatter) joinComponents(c Components) string {
	parts := make([]string, 0, 6)
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(c.Road)
	if number := strings.TrimSpace(c.HouseNumber); number != "" {
		if f.HouseNumberPrefix != "" {
			number = f.HouseNumberPrefix + " " + number
		}
		add(number)
	}
	add(c.Suburb)
	add(firstOf(c.City, c.Town, c.Village))
	add(c.State)
	add(c.Country)

	return strings.Join(parts, ", ")
}

func firstOf(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
