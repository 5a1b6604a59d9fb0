// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package i18n provides the message catalogs of geonote.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/Xuanwo/go-locale"
	"github.com/vorlif/spreak"
	"golang.org/x/text/language"
)

//go:embed locale/*.po
var locales embed.FS

// Tag resolves a configured locale like "de_DE.UTF-8", "pt-BR" or "en". An empty locale is
// detected from the environment. Unparsable locales fall back to English.
func Tag(loc string) language.Tag {
	if loc == "" {
		tag, err := locale.Detect()
		if err != nil {
			return language.English
		}
		return tag
	}
	loc, _, _ = strings.Cut(loc, ".")
	tag, err := language.Parse(strings.ReplaceAll(loc, "_", "-"))
	if err != nil {
		return language.English
	}
	return tag
}

// New returns a localizer for loc. Messages without a translation are returned as given.
func New(loc string) (*spreak.Localizer, error) {
	tag := Tag(loc)
	localeFS, err := fs.Sub(locales, "locale")
	if err != nil {
		return nil, fmt.Errorf("failed to load locales: %w", err)
	}

	bundle, err := spreak.NewBundle(
		spreak.WithSourceLanguage(language.English),
		spreak.WithFallbackLanguage(language.English),
		spreak.WithDomainFs("", localeFS),
		spreak.WithLanguage(tag),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create i18n bundle for %s: %w", tag, err)
	}
	return spreak.NewLocalizer(bundle, tag), nil
}
