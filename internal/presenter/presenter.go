// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package presenter renders the controller state for the terminal and turns notices into
// localized messages.
package presenter

import (
	"bytes"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/vorlif/humanize"
	"github.com/vorlif/humanize/locale/de"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"

	"github.com/wneessen/geonote/internal/config"
	"github.com/wneessen/geonote/internal/service"
)

// SavedView is the template representation of a saved location.
type SavedView struct {
	ID        string
	Latitude  float64
	Longitude float64
	Address   string
	CreatedAt time.Time
}

// StateView is the template context of the state and list templates.
type StateView struct {
	HasCoordinate bool
	Latitude      float64
	Longitude     float64
	Accuracy      float64
	Address       string
	Permission    string
	Busy          bool
	Watching      bool
	Phase         string
	Saved         []SavedView
}

type Presenter struct {
	state     *template.Template
	list      *template.Template
	localizer *spreak.Localizer
	humanizer *humanize.Humanizer
}

// New parses the configured templates and verifies that they render an empty state.
func New(conf *config.Config, loc *spreak.Localizer) (*Presenter, error) {
	if conf == nil || loc == nil {
		return nil, fmt.Errorf("config and localizer are required")
	}
	collection, err := humanize.New(humanize.WithLocale(de.New()))
	if err != nil {
		return nil, fmt.Errorf("failed to create humanizer: %w", err)
	}
	pres := &Presenter{
		localizer: loc,
		humanizer: collection.CreateHumanizer(loc.Language()),
	}

	tpls := []struct {
		name   string
		source string
		target **template.Template
	}{
		{"state", conf.Templates.State, &pres.state},
		{"list", conf.Templates.List, &pres.list},
	}
	for _, tpl := range tpls {
		parsed, err := template.New(tpl.name).Funcs(pres.templateFuncMap()).Parse(tpl.source)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", tpl.name, err)
		}
		if err = parsed.Execute(io.Discard, StateView{}); err != nil {
			return nil, fmt.Errorf("failed to render %s template: %w", tpl.name, err)
		}
		*tpl.target = parsed
	}

	return pres, nil
}

// BuildView converts a controller snapshot into the template context.
func (p *Presenter) BuildView(state service.State) StateView {
	view := StateView{
		Address:    p.localizeAddress(state.Address),
		Permission: state.Permission.String(),
		Busy:       state.Busy,
		Watching:   state.Watching,
		Phase:      state.Phase.String(),
		Saved:      make([]SavedView, 0, len(state.Saved)),
	}
	if coord, ok := state.Coordinate.Get(); ok {
		view.HasCoordinate = true
		view.Latitude = coord.Lat
		view.Longitude = coord.Lon
		view.Accuracy = coord.Acc
	}
	for _, saved := range state.Saved {
		view.Saved = append(view.Saved, SavedView{
			ID:        saved.ID.String(),
			Latitude:  saved.Latitude,
			Longitude: saved.Longitude,
			Address:   saved.Address,
			CreatedAt: saved.Created(),
		})
	}
	return view
}

// RenderState writes the current location block.
func (p *Presenter) RenderState(w io.Writer, state service.State) error {
	return p.render(w, p.state, state)
}

// RenderList writes the saved locations, newest first.
func (p *Presenter) RenderList(w io.Writer, state service.State) error {
	return p.render(w, p.list, state)
}

func (p *Presenter) render(w io.Writer, tpl *template.Template, state service.State) error {
	buf := bytes.NewBuffer(nil)
	if err := tpl.Execute(buf, p.BuildView(state)); err != nil {
		return fmt.Errorf("failed to render %s template: %w", tpl.Name(), err)
	}
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Language returns the language the presenter localizes into.
func (p *Presenter) Language() language.Tag {
	return p.localizer.Language()
}
