// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package i18n

import (
	"testing"

	"golang.org/x/text/language"
)

func TestTag(t *testing.T) {
	tests := []struct {
		name   string
		locale string
		want   language.Tag
	}{
		{"plain language", "de", language.German},
		{"posix locale with encoding", "de_DE.UTF-8", language.MustParse("de-DE")},
		{"bcp47 region", "pt-BR", language.BrazilianPortuguese},
		{"garbage falls back to english", "!!", language.English},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Tag(tc.locale); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("new i18n provider with empty locale string succeeds", func(t *testing.T) {
		provider, err := New("")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if provider == nil {
			t.Fatal("expected i18n provider to be non-nil")
		}
	})
	t.Run("german messages are translated", func(t *testing.T) {
		provider, err := New("de_DE.UTF-8")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if got := provider.Get("Location"); got != "Standort" {
			t.Errorf("expected Standort, got %q", got)
		}
		if got := provider.Get("not in the catalog"); got != "not in the catalog" {
			t.Errorf("expected untranslated message, got %q", got)
		}
	})
	t.Run("english messages are returned as given", func(t *testing.T) {
		provider, err := New("en")
		if err != nil {
			t.Fatalf("failed to create i18n provider: %s", err)
		}
		if got := provider.Get("Location"); got != "Location" {
			t.Errorf("expected Location, got %q", got)
		}
	})
}
