// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package file implements a location provider that reads a static "lat,lon" pair from a local
// file. Lines starting with "#" are ignored.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/wneessen/geonote/internal/location"
)

const (
	name = "file"
	// Accuracy is reported for every file based fix.
	Accuracy = location.AccuracyZip
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// Provider reads the device location from a file.
type Provider struct {
	path string
}

// New returns a file Provider for the given path.
func New(path string) *Provider {
	return &Provider{path: path}
}

// Name returns the name of the provider.
func (p *Provider) Name() string {
	return name
}

// PermissionStatus reports Denied if the file exists but cannot be read and Granted otherwise.
func (p *Provider) PermissionStatus(context.Context) (location.Permission, error) {
	f, err := os.Open(p.path)
	switch {
	case err == nil:
		_ = f.Close()
		return location.PermissionGranted, nil
	case errors.Is(err, fs.ErrPermission):
		return location.PermissionDenied, nil
	default:
		return location.PermissionGranted, nil
	}
}

// RequestPermission cannot prompt and therefore reports the current status.
func (p *Provider) RequestPermission(ctx context.Context) (location.Permission, error) {
	return p.PermissionStatus(ctx)
}

// CurrentPosition returns the first valid coordinate found in the file.
func (p *Provider) CurrentPosition(ctx context.Context, _ location.Accuracy) (location.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return location.Coordinate{}, err
	}
	lat, lon, err := p.readFile()
	switch {
	case errors.Is(err, fs.ErrPermission):
		return location.Coordinate{}, fmt.Errorf("%w: %w", location.ErrPermissionDenied, err)
	case err != nil:
		return location.Coordinate{}, fmt.Errorf("%w: %w", location.ErrPositionUnavailable, err)
	}
	coord := location.Coordinate{Lat: lat, Lon: lon, Acc: Accuracy}
	if !coord.Valid() {
		return location.Coordinate{}, fmt.Errorf("%w: coordinates out of range in %q",
			location.ErrPositionUnavailable, p.path)
	}
	return coord, nil
}

// readFile reads geolocation data from the file at the configured path.
func (p *Provider) readFile() (lat, lon float64, err error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		coords := strings.Split(line, ",")
		if len(coords) != 2 {
			continue
		}
		lat, err = strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
		if err != nil {
			continue
		}
		lon, err = strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		if err != nil {
			continue
		}
		return lat, lon, nil
	}
	return 0, 0, ErrNoCoordinates
}
