// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocodeearth

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
	APIEndpoint = "https://api.geocode.earth/v1/reverse"
	APITimeout  = time.Second * 10
	name        = "geocode-earth"
)

type GeocodeEarth struct {
	apikey   string
	http     *http.Client
	lang     language.Tag
	endpoint string
}

type Response struct {
	Features  []Feature `json:"features"`
	Type      string    `json:"type"`
	Geocoding struct {
		Errors []string `json:"errors"`
	} `json:"geocoding"`
}

type Feature struct {
	Properties Properties `json:"properties"`
	Type       string     `json:"type"`
}

type Properties struct {
	Label         string `json:"label"`
	Locality      string `json:"locality"`
	Country       string `json:"country"`
	HouseNumber   string `json:"housenumber"`
	Neighbourhood string `json:"neighbourhood"`
	Street        string `json:"street"`
	Region        string `json:"region"`
}

// New returns a geocode.earth reverse geocoder. An empty endpoint selects the public API.
func New(client *http.Client, lang language.Tag, apikey, endpoint string) *GeocodeEarth {
	if endpoint == "" {
		endpoint = APIEndpoint
	}
	return &GeocodeEarth{
		apikey:   apikey,
		lang:     lang,
		http:     client,
		endpoint: endpoint,
	}
}

func (g *GeocodeEarth) Name() string {
	return name
}

func (g *GeocodeEarth) Reverse(ctx context.Context, coords location.Coordinate) (geocode.Address, error) {
	var response Response

	query := url.Values{}
	query.Set("api_key", g.apikey)
	query.Set("point.lat", strconv.FormatFloat(coords.Lat, 'f', -1, 64))
	query.Set("point.lon", strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	query.Set("size", "1")
	query.Set("lang", g.lang.String())

	code, err := g.http.GetWithTimeout(ctx, g.endpoint, &response, query, nil, APITimeout)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to retrieve address details from geocode.earth API: %w", err)
	}
	if code != 200 {
		return geocode.Address{}, fmt.Errorf("received non-positive response code from geocode.earth API: %d", code)
	}
	if len(response.Features) < 1 {
		return geocode.Address{Kind: geocode.KindNone}, nil
	}

	result := response.Features[0].Properties
	if result.Label != "" {
		return geocode.Address{Kind: geocode.KindDisplayName, DisplayName: result.Label}, nil
	}
	components := geocode.Components{
		Road:        result.Street,
		HouseNumber: result.HouseNumber,
		Suburb:      result.Neighbourhood,
		City:        result.Locality,
		State:       result.Region,
		Country:     result.Country,
	}
	if components.IsEmpty() {
		return geocode.Address{Kind: geocode.KindNone}, nil
	}
	return geocode.Address{Kind: geocode.KindComponents, Components: components}, nil
}
