// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package opencage

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
	APIEndpoint = "https://api.opencagedata.com/geocode/v1/json"
	APITimeout  = time.Second * 10
	name        = "opencage"
)

type OpenCage struct {
	apikey   string
	http     *http.Client
	lang     language.Tag
	endpoint string
}

type Response struct {
	Results      []Result `json:"results"`
	Status       Status   `json:"status"`
	TotalResults int      `json:"total_results"`
}

type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Result struct {
	Components Components `json:"components"`
	Formatted  string     `json:"formatted"`
}

type Components struct {
	NormalizedCity string `json:"_normalized_city"`
	City           string `json:"city"`
	Country        string `json:"country"`
	HouseNumber    string `json:"house_number"`
	Road           string `json:"road"`
	State          string `json:"state"`
	Suburb         string `json:"suburb"`
	Town           string `json:"town"`
	Village        string `json:"village"`
}

// New returns an OpenCage reverse geocoder. An empty endpoint selects the public API.
func New(client *http.Client, lang language.Tag, apikey, endpoint string) *OpenCage {
	if endpoint == "" {
		endpoint = APIEndpoint
	}
	return &OpenCage{
		apikey:   apikey,
		lang:     lang,
		http:     client,
		endpoint: endpoint,
	}
}

func (o *OpenCage) Name() string {
	return name
}

func (o *OpenCage) Reverse(ctx context.Context, coords location.Coordinate) (geocode.Address, error) {
	var response Response

	query := url.Values{}
	query.Set("key", o.apikey)
	query.Set("q", strconv.FormatFloat(coords.Lat, 'f', -1, 64)+","+
		strconv.FormatFloat(coords.Lon, 'f', -1, 64))
	query.Set("no_annotations", "1")
	query.Set("no_record", "1")
	query.Set("language", o.lang.String())

	code, err := o.http.GetWithTimeout(ctx, o.endpoint, &response, query, nil, APITimeout)
	if err != nil {
		return geocode.Address{}, fmt.Errorf("failed to retrieve address details from OpenCage API: %w", err)
	}
	if code < 200 || code > 299 {
		return geocode.Address{}, fmt.Errorf("OpenCage API returned status %d: %s", code, response.Status.Message)
	}
	if len(response.Results) == 0 {
		return geocode.Address{Kind: geocode.KindNone}, nil
	}

	result := response.Results[0]
	if result.Formatted != "" {
		return geocode.Address{Kind: geocode.KindDisplayName, DisplayName: result.Formatted}, nil
	}

	city := result.Components.City
	if city == "" && result.Components.Town == "" && result.Components.Village == "" {
		city = result.Components.NormalizedCity
	}
	components := geocode.Components{
		Road:        result.Components.Road,
		HouseNumber: result.Components.HouseNumber,
		Suburb:      result.Components.Suburb,
		City:        city,
		Town:        result.Components.Town,
		Village:     result.Components.Village,
		State:       result.Components.State,
		Country:     result.Components.Country,
	}
	if components.IsEmpty() {
		return geocode.Address{Kind: geocode.KindNone}, nil
	}
	return geocode.Address{Kind: geocode.KindComponents, Components: components}, nil
}
