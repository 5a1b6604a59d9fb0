// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/wneessen/geonote/internal/config"
	"github.com/wneessen/geonote/internal/geocode"
	geocodeearth "github.com/wneessen/geonote/internal/geocode/provider/geocode-earth"
	"github.com/wneessen/geonote/internal/geocode/provider/opencage"
	nominatim "github.com/wneessen/geonote/internal/geocode/provider/osm-nominatim"
	"github.com/wneessen/geonote/internal/http"
	"github.com/wneessen/geonote/internal/i18n"
	"github.com/wneessen/geonote/internal/location"
	"github.com/wneessen/geonote/internal/location/provider/file"
	"github.com/wneessen/geonote/internal/location/provider/geoclue"
	"github.com/wneessen/geonote/internal/location/provider/geoip"
	"github.com/wneessen/geonote/internal/location/provider/gpsd"
	"github.com/wneessen/geonote/internal/location/provider/ichnaea"
	"github.com/wneessen/geonote/internal/logger"
	"github.com/wneessen/geonote/internal/store"
	"github.com/wneessen/geonote/internal/store/postgres"
	"github.com/wneessen/geonote/internal/store/rest"
)

func selectLocationProvider(conf *config.Config, log *logger.Logger) (provider location.Provider, err error) {
	switch strings.ToLower(conf.Location.Provider) {
	case "geoclue":
		provider = geoclue.New(geoclue.DefaultDesktopID, log)
	case "gpsd":
		provider = gpsd.New(conf.Location.GPSDHost, conf.Location.GPSDPort, log)
	case "ichnaea":
		provider, err = ichnaea.New(http.New(log), log)
		if err != nil {
			return nil, fmt.Errorf("failed to create ICHNAEA provider: %w", err)
		}
	case "geoip":
		provider = geoip.New(http.New(log))
	case "file":
		provider = file.New(conf.Location.File)
	default:
		return nil, fmt.Errorf("unsupported location provider: %s", conf.Location.Provider)
	}
	return provider, nil
}

func selectGeocoder(conf *config.Config, log *logger.Logger) (geocode.Geocoder, error) {
	var coder geocode.Geocoder
	lang := geocoderLanguage(conf.Locale)

	switch strings.ToLower(conf.GeoCoder.Provider) {
	case "nominatim", "":
		coder = nominatim.New(http.New(log), lang, conf.GeoCoder.Endpoint)
	case "opencage":
		if conf.GeoCoder.APIKey == "" {
			return nil, fmt.Errorf("opencage geocoder requires an API key")
		}
		coder = opencage.New(http.New(log), lang, conf.GeoCoder.APIKey, conf.GeoCoder.Endpoint)
	case "geocode-earth":
		if conf.GeoCoder.APIKey == "" {
			return nil, fmt.Errorf("geocode-earth geocoder requires an API key")
		}
		coder = geocodeearth.New(http.New(log), lang, conf.GeoCoder.APIKey, conf.GeoCoder.Endpoint)
	default:
		return nil, fmt.Errorf("unsupported geocoder type: %s", conf.GeoCoder.Provider)
	}

	return geocode.NewCachedGeocoder(coder, conf.GeoCoder.CacheHitTTL, conf.GeoCoder.CacheMissTTL), nil
}

func selectStore(ctx context.Context, conf *config.Config, log *logger.Logger) (store.Store, error) {
	switch strings.ToLower(conf.Store.Backend) {
	case "rest":
		s, err := rest.New(http.New(log), conf.Store.URL, conf.Store.Table, conf.Store.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create REST store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, conf.Store.DSN, conf.Store.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", conf.Store.Backend)
	}
}

// InitStore creates the schema of stores that support it.
func (s *Service) InitStore(ctx context.Context) error {
	initializer, ok := s.store.(interface {
		InitSchema(context.Context) error
	})
	if !ok {
		return fmt.Errorf("store backend %s does not support schema initialization", s.store.Name())
	}
	return initializer.InitSchema(ctx)
}

func geocoderLanguage(locale string) language.Tag {
	if locale == "" {
		return language.English
	}
	return i18n.Tag(locale)
}
