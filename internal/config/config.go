// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

const (
	configEnv = "GEONOTE"

	DefaultStateTpl = "{{loc \"location\"}}: {{if .HasCoordinate}}{{floatFormat .Latitude 6}}, " +
		"{{floatFormat .Longitude 6}}{{else}}-{{end}}\n{{loc \"address\"}}: {{if .Address}}{{.Address}}{{else}}-{{end}}\n" +
		"{{loc \"permission\"}}: {{loc .Permission}}{{if .Busy}} ({{loc \"busy\"}}){{end}}"
	DefaultListTpl = "{{range .Saved}}{{pad .ID 6}} {{floatFormat .Latitude 5}}, {{floatFormat .Longitude 5}}  " +
		"{{.Address}} ({{ago .CreatedAt}})\n{{else}}{{loc \"nosaved\"}}\n{{end}}"
)

var (
	locationProviders = []string{"geoclue", "gpsd", "ichnaea", "geoip", "file"}
	storeBackends     = []string{"rest", "postgres"}
	geocoders         = []string{"nominatim", "opencage", "geocode-earth"}
)

// Config represents the application's configuration structure.
type Config struct {
	Locale   string     `fig:"locale"`
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Location struct {
		// Allowed values: geoclue, gpsd, ichnaea, geoip, file
		Provider string        `fig:"provider" default:"geoclue"`
		File     string        `fig:"file"`
		GPSDHost string        `fig:"gpsd_host" default:"localhost"`
		GPSDPort string        `fig:"gpsd_port" default:"2947"`
		Timeout  time.Duration `fig:"timeout" default:"15s"`
		// WatchInterval and WatchDistance bound the rate of continuous updates
		WatchInterval time.Duration `fig:"watch_interval" default:"10s"`
		WatchDistance float64       `fig:"watch_distance" default:"10"`
	} `fig:"location"`

	GeoCoder struct {
		// Allowed values: nominatim, opencage, geocode-earth
		Provider          string        `fig:"provider" default:"nominatim"`
		APIKey            string        `fig:"apikey"`
		Endpoint          string        `fig:"endpoint"`
		HouseNumberPrefix string        `fig:"house_number_prefix" default:"nº"`
		CacheHitTTL       time.Duration `fig:"cache_hit_ttl" default:"1h"`
		CacheMissTTL      time.Duration `fig:"cache_miss_ttl" default:"5m"`
	} `fig:"geocoder"`

	Store struct {
		// Allowed values: rest, postgres
		Backend string `fig:"backend" default:"rest"`
		URL     string `fig:"url"`
		APIKey  string `fig:"apikey"`
		Table   string `fig:"table" default:"locations"`
		DSN     string `fig:"dsn"`
	} `fig:"store"`

	Metrics struct {
		Listen string `fig:"listen"`
	} `fig:"metrics"`

	Templates struct {
		State string `fig:"state"`
		List  string `fig:"list"`
	} `fig:"templates"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	c.Location.Provider = strings.ToLower(c.Location.Provider)
	if !oneOf(c.Location.Provider, locationProviders) {
		return fmt.Errorf("invalid location provider: %s", c.Location.Provider)
	}
	if c.Location.Timeout <= 0 {
		return fmt.Errorf("invalid location timeout: %s", c.Location.Timeout)
	}
	if c.Location.WatchInterval <= 0 {
		return fmt.Errorf("invalid watch interval: %s", c.Location.WatchInterval)
	}
	if c.Location.WatchDistance < 0 {
		return fmt.Errorf("invalid watch distance: %f", c.Location.WatchDistance)
	}
	if c.Location.File == "" {
		home, _ := os.UserHomeDir()
		c.Location.File = filepath.Join(home, ".config", "geonote", "geolocation")
	}
	c.GeoCoder.Provider = strings.ToLower(c.GeoCoder.Provider)
	if !oneOf(c.GeoCoder.Provider, geocoders) {
		return fmt.Errorf("invalid geocoder: %s", c.GeoCoder.Provider)
	}
	if c.GeoCoder.Provider != "nominatim" && c.GeoCoder.APIKey == "" {
		return fmt.Errorf("geocoder %s requires an API key", c.GeoCoder.Provider)
	}
	if c.GeoCoder.CacheHitTTL < 0 || c.GeoCoder.CacheMissTTL < 0 {
		return fmt.Errorf("invalid geocoder cache TTLs: hit=%s miss=%s", c.GeoCoder.CacheHitTTL,
			c.GeoCoder.CacheMissTTL)
	}
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	if !oneOf(c.Store.Backend, storeBackends) {
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}
	if strings.TrimSpace(c.Store.Table) == "" {
		return fmt.Errorf("store table name must not be empty")
	}
	if c.Locale == "" {
		c.Locale = getLocale()
	}
	if c.Templates.State == "" {
		c.Templates.State = DefaultStateTpl
	}
	if c.Templates.List == "" {
		c.Templates.List = DefaultListTpl
	}

	return nil
}

func oneOf(val string, allowed []string) bool {
	for _, a := range allowed {
		if val == a {
			return true
		}
	}
	return false
}

func getLocale() string {
	locale := os.Getenv("LC_MESSAGES")
	if idx := strings.Index(locale, "."); idx != -1 {
		lang := locale[:idx]
		return strings.ReplaceAll(lang, "_", "-")
	}
	return locale
}
