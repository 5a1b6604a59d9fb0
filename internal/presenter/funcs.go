// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/vorlif/humanize"
	"github.com/vorlif/spreak/localize"
)

// i18nVars maps the keys usable with the loc template function to their message IDs.
var i18nVars = map[string]localize.MsgID{
	"location":     "Location",
	"address":      "Address",
	"permission":   "Permission",
	"busy":         "Busy",
	"watching":     "Watching",
	"nosaved":      "No saved locations",
	"saved":        "Saved locations",
	"granted":      "granted",
	"denied":       "denied",
	"undetermined": "undetermined",
}

func (p *Presenter) templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"timeFormat":    p.timeFormat,
		"localizedTime": p.localizedTime,
		"floatFormat":   p.floatFormat,
		"ago":           p.ago,
		"pad":           pad,
		"loc":           p.loc,
		"lc":            strings.ToLower,
		"uc":            strings.ToUpper,
	}
}

func (p *Presenter) loc(val string) string {
	val = strings.ToLower(val)
	if raw, ok := i18nVars[val]; ok {
		return p.localizer.Get(raw)
	}
	return val
}

func (p *Presenter) localizedTime(val time.Time) string {
	return p.humanizer.FormatTime(val, humanize.DateTimeFormat)
}

func (p *Presenter) timeFormat(val time.Time, fmt string) string {
	return val.Format(fmt)
}

// ago renders val relative to now. Unknown times render as "-".
func (p *Presenter) ago(val time.Time) string {
	if val.IsZero() {
		return "-"
	}
	return p.humanizer.NaturalTime(val)
}

func (p *Presenter) floatFormat(val float64, precision int) string {
	pow := math.Pow(10, float64(precision))
	return fmt.Sprintf("%.*f", precision, math.Trunc(val*pow)/pow)
}

// pad right-fills val with spaces to the given display width.
func pad(val string, width int) string {
	return runewidth.FillRight(val, width)
}
