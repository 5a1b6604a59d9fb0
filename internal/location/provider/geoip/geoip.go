// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geoip implements a coarse location provider based on the public IP address.
package geoip

import (
	"context"
	"fmt"

	"github.com/wneessen/geonote/internal/http"
	"github.com/wneessen/geonote/internal/location"
)

const (
	APIEndpoint = "https://reallyfreegeoip.org/json/"
	name        = "geoip"
)

type Provider struct {
	http     *http.Client
	endpoint string
}

type APIResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country_name"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	TimeZone    string  `json:"time_zone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	MetroCode   int     `json:"metro_code"`
}

func New(client *http.Client) *Provider {
	return &Provider{http: client, endpoint: APIEndpoint}
}

func (p *Provider) Name() string {
	return name
}

// PermissionStatus always reports Granted, the lookup does not touch device sensors.
func (p *Provider) PermissionStatus(context.Context) (location.Permission, error) {
	return location.PermissionGranted, nil
}

func (p *Provider) RequestPermission(ctx context.Context) (location.Permission, error) {
	return p.PermissionStatus(ctx)
}

// CurrentPosition looks up the position of the public IP address. The reported accuracy
// depends on how detailed the lookup result is.
func (p *Provider) CurrentPosition(ctx context.Context, _ location.Accuracy) (location.Coordinate, error) {
	result := new(APIResult)
	code, err := p.http.Get(ctx, p.endpoint, result, nil, nil)
	if err != nil {
		return location.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if code < 200 || code > 299 {
		return location.Coordinate{}, fmt.Errorf("%w: geoip API returned status %d",
			location.ErrPositionUnavailable, code)
	}
	if result.CountryCode == "" {
		return location.Coordinate{}, fmt.Errorf("%w: geoip API returned no location for %s",
			location.ErrPositionUnavailable, result.IP)
	}

	acc := location.AccuracyCountry
	if result.RegionCode != "" {
		acc = location.AccuracyRegion
	}
	if result.City != "" {
		acc = location.AccuracyCity
	}
	if result.ZipCode != "" {
		acc = location.AccuracyZip
	}

	return location.Coordinate{
		Lat: location.Truncate(result.Latitude, location.TruncPrecision),
		Lon: location.Truncate(result.Longitude, location.TruncPrecision),
		Acc: float64(acc),
	}, nil
}
