// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package nominatim

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/wneessen/geonote/internal/geocode"
	"github.com/wneessen/geonote/internal/http"
	"github.com/wneessen/geonote/internal/location"
)

const (
	APIReverseEndpoint = "https://nominatim.openstreetmap.org/reverse"
	APITimeout         = time.Second * 10
	name               = "osm-nominatim"
)

type Nominatim struct {
	http     *http.Client
	lang     language.Tag
	endpoint string
}

type ReverseResult struct {
	Error       string  `json:"error,omitempty"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
}

type Address struct {
	HouseNumber  string `json:"house_number"`
	Road         string `json:"road"`
	Suburb       string `json:"suburb"`
	Municipality string `json:"municipality"`
	CityDistrict string `json:"city_district"`
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	State        string `json:"state"`
	ISO31662Lvl4 string `json:"ISO3166-2-lvl4"`
	Postcode     string `json:"postcode"`
	Country      string `json:"country"`
}

// New returns a Nominatim reverse geocoder. An empty endpoint selects the public OSM instance.
func New(client *http.Client, lang language.Tag, endpoint string) *Nominatim {
	if endpoint == "" {
		endpoint = APIReverseEndpoint
	}
	return &Nominatim{
		http:     client,
		lang:     lang,
		endpoint: endpoint,
	}
}

func (n *Nominatim) Name() string {
	return name
}

// Reverse looks up the address of the given coordinate. An error body from Nominatim, e.g. for
// coordinates in the ocean, yields an address of KindNone.
func (n *Nominatim) Reverse(ctx context.Context, coords location.Coordinate) (geocode.Address, error) {
	var result ReverseResult

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	query.Set("addressdetails", "1")
	query.Set("accept-language", n.lang.String())

	code, err := n.http.GetWithTimeout(ctx, n.endpoint, &result, query, nil, APITimeout)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to fetch reverse address details from Nominatim API: %w", err)
	}
	if code >= 500 || code == 429 || code == 403 {
		return geocode.Address{}, fmt.Errorf("nominatim API returned status %d", code)
	}
	if result.Error != "" {
		return geocode.Address{Kind: geocode.KindNone}, nil
	}

	if result.DisplayName != "" {
		return geocode.Address{Kind: geocode.KindDisplayName, DisplayName: result.DisplayName}, nil
	}

	components := geocode.Components{
		Road:        result.Address.Road,
		HouseNumber: result.Address.HouseNumber,
		Suburb:      result.Address.Suburb,
		City:        result.Address.City,
		Town:        result.Address.Town,
		Village:     result.Address.Village,
		State:       result.Address.State,
		Country:     result.Address.Country,
	}
	if components.IsEmpty() {
		return geocode.Address{Kind: geocode.KindNone}, nil
	}
	return geocode.Address{Kind: geocode.KindComponents, Components: components}, nil
}
