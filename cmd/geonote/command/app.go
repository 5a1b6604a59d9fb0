// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wneessen/geonote/internal/config"
	"github.com/wneessen/geonote/internal/i18n"
	"github.com/wneessen/geonote/internal/logger"
	"github.com/wneessen/geonote/internal/observability"
	"github.com/wneessen/geonote/internal/presenter"
	"github.com/wneessen/geonote/internal/service"
)

// app bundles everything a command needs.
type app struct {
	conf    *config.Config
	log     *logger.Logger
	pres    *presenter.Presenter
	metrics *observability.Metrics
	serv    *service.Service
}

func newApp(ctx context.Context) (*app, error) {
	log := logger.New(slog.LevelError)

	conf, err := loadConfig()
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		return nil, err
	}
	log = logger.New(conf.LogLevel)

	loc, err := i18n.New(conf.Locale)
	if err != nil {
		log.Error("failed to initialize localizer", logger.Err(err))
		return nil, err
	}
	pres, err := presenter.New(conf, loc)
	if err != nil {
		log.Error("failed to initialize presenter", logger.Err(err))
		return nil, err
	}

	metrics := observability.NewMetrics(nil)
	if conf.Metrics.Listen != "" {
		server := observability.NewServer(conf.Metrics.Listen, metrics.Gatherer(), log)
		go func() {
			if err := server.Serve(ctx); err != nil {
				log.Error("metrics server failed", logger.Err(err))
			}
		}()
	}

	serv, err := service.New(ctx, conf, log, pres.NewNotifier(os.Stderr, log), metrics)
	if err != nil {
		log.Error("failed to initialize geonote service", logger.Err(err))
		return nil, err
	}
	log.Debug("geonote initialized", slog.String("version", build.Version),
		slog.String("commit", build.Commit), slog.String("date", build.Date))

	return &app{conf: conf, log: log, pres: pres, metrics: metrics, serv: serv}, nil
}

func (a *app) Close() {
	a.serv.Close()
}

// loadConfig reads the file given with --config, or the first config file found in the user's
// config directory, or the defaults.
func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.NewFromFile(filepath.Dir(cfgPath), filepath.Base(cfgPath))
	}
	if path, file := findConfigFile(); path != "" && file != "" {
		return config.NewFromFile(path, file)
	}
	return config.New()
}

func findConfigFile() (string, string) {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	exts := []string{"toml", "yaml", "yml", "json"}
	for _, ext := range exts {
		path := filepath.Join(homedir, ".config", "geonote", "config."+ext)
		if _, err = os.Stat(path); err == nil {
			return filepath.Dir(path), filepath.Base(path)
		}
	}
	return "", ""
}

// errQuiet marks failures that already reached the user as a notice.
var errQuiet = errors.New("command failed")

func quietErr(err error) error {
	if err == nil || errors.Is(err, service.ErrBusy) || errors.Is(err, service.ErrAlreadyWatching) {
		return err
	}
	return fmt.Errorf("%w: %w", errQuiet, err)
}
