// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ichnaea implements a location provider that resolves nearby WiFi access points
// through an Ichnaea compatible geolocation API such as beaconDB.
package ichnaea

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/geonote/internal/http"
	"github.com/wneessen/geonote/internal/location"
	"github.com/wneessen/geonote/internal/logger"
)

const (
	apiEndpoint = "https://api.beacondb.net/v1/geolocate"
	name        = "ichnaea"
)

// scanner lists wireless interfaces and the access points visible to them.
type scanner interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(ifi *wifi.Interface) ([]*wifi.BSS, error)
}

type Provider struct {
	http     *http.Client
	wlan     scanner
	logger   *logger.Logger
	endpoint string
}

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

// New returns an Ichnaea Provider. If no WiFi interface can be opened, lookups fall back to
// the public IP address.
func New(client *http.Client, log *logger.Logger) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	provider := &Provider{http: client, logger: log, endpoint: apiEndpoint}
	wlan, err := wifi.New()
	if err != nil {
		log.Warn("failed to create wifi client, falling back to IP based lookups", logger.Err(err))
		return provider, nil
	}
	provider.wlan = wlan
	return provider, nil
}

func (p *Provider) Name() string {
	return name
}

// PermissionStatus always reports Granted, scanning does not require elevated access.
func (p *Provider) PermissionStatus(context.Context) (location.Permission, error) {
	return location.PermissionGranted, nil
}

func (p *Provider) RequestPermission(ctx context.Context) (location.Permission, error) {
	return p.PermissionStatus(ctx)
}

// CurrentPosition scans for access points and resolves them through the geolocation API.
func (p *Provider) CurrentPosition(ctx context.Context, _ location.Accuracy) (location.Coordinate, error) {
	aps, err := p.wifiAccessPoints()
	if err != nil {
		p.logger.Warn("failed to scan wifi access points", logger.Err(err))
	}
	return p.locate(ctx, aps)
}

func (p *Provider) wifiAccessPoints() ([]WirelessNetwork, error) {
	if p.wlan == nil {
		return nil, nil
	}
	var checkIfaces []*wifi.Interface
	var list []WirelessNetwork

	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		checkIfaces = append(checkIfaces, iface)
	}

	for _, iface := range checkIfaces {
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}

	return list, nil
}

func (p *Provider) locate(ctx context.Context, aps []WirelessNetwork) (location.Coordinate, error) {
	type request struct {
		ConsiderIP   bool              `json:"considerIp"`
		Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
	}
	req := request{
		ConsiderIP:   true,
		Accesspoints: aps,
	}
	bodyBuffer := bytes.NewBuffer(nil)
	if err := json.NewEncoder(bodyBuffer).Encode(req); err != nil {
		return location.Coordinate{}, fmt.Errorf("failed to encode wifi list to JSON: %w", err)
	}

	result := new(APIResult)
	code, err := p.http.Post(ctx, p.endpoint, result, bodyBuffer,
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return location.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if code == 404 || result.Error != nil {
		return location.Coordinate{}, fmt.Errorf("%w: no location found for %d access points",
			location.ErrPositionUnavailable, len(aps))
	}
	if code < 200 || code > 299 {
		return location.Coordinate{}, fmt.Errorf("%w: geolocation API returned status %d",
			location.ErrPositionUnavailable, code)
	}

	return location.Coordinate{
		Lat: location.Truncate(result.Location.Latitude, location.TruncPrecision),
		Lon: location.Truncate(result.Location.Longitude, location.TruncPrecision),
		Acc: location.Truncate(result.Accuracy, location.TruncPrecision),
	}, nil
}
