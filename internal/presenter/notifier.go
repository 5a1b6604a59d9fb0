// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package presenter

import (
	"fmt"
	"io"
	"sync"

	"github.com/vorlif/spreak/localize"

	"github.com/wneessen/geonote/internal/geocode"
	"github.com/wneessen/geonote/internal/logger"
	"github.com/wneessen/geonote/internal/service"
)

var noticeMessages = map[service.NoticeKind]localize.MsgID{
	service.NoticePermissionDenied:    "Location access was denied",
	service.NoticePositionUnavailable: "Your current position is unavailable",
	service.NoticeLocationTimeout:     "The location request timed out",
	service.NoticeLocationUnknown:     "Unable to determine your location",
	service.NoticeNothingToSave:       "There is no current location to save",
	service.NoticeSaved:               "Location saved: %s",
	service.NoticeSaveFailed:          "Failed to save the location",
	service.NoticeReloadFailed:        "Failed to load the saved locations",
}

const openSettingsHint localize.MsgID = "Allow location access in the system settings to fetch your position"

// Status lines of the interactive screen.
const (
	FetchRunning localize.MsgID = "A location fetch is already running"
	WatchStarted localize.MsgID = "Watching the location"
	WatchStopped localize.MsgID = "Location watch stopped"
)

var addressSentinels = map[string]localize.MsgID{
	geocode.NoAddressAvailable:  geocode.NoAddressAvailable,
	geocode.AddressLookupFailed: geocode.AddressLookupFailed,
	geocode.AddressUnavailable:  geocode.AddressUnavailable,
}

// Message returns the localized text for n. Notices that offer the settings get a second line
// with a hint.
func (p *Presenter) Message(n service.Notice) string {
	msgID, ok := noticeMessages[n.Kind]
	if !ok {
		return n.Kind.String()
	}
	var msg string
	if n.Kind == service.NoticeSaved {
		msg = p.localizer.Getf(msgID, p.localizeAddress(n.Address))
	} else {
		msg = p.localizer.Get(msgID)
	}
	if n.OpenSettings {
		msg += "\n" + p.localizer.Get(openSettingsHint)
	}
	return msg
}

// Text returns the localized text of msgID.
func (p *Presenter) Text(msgID localize.MsgID) string {
	return p.localizer.Get(msgID)
}

func (p *Presenter) localizeAddress(address string) string {
	if msgID, ok := addressSentinels[address]; ok {
		return p.localizer.Get(msgID)
	}
	return address
}

// Notifier writes localized notices to a writer. Error details are logged, not shown.
type Notifier struct {
	presenter *Presenter
	output    io.Writer
	logger    *logger.Logger
	mu        sync.Mutex
}

// NewNotifier returns a service.Notifier that writes to output.
func (p *Presenter) NewNotifier(output io.Writer, log *logger.Logger) *Notifier {
	return &Notifier{presenter: p, output: output, logger: log}
}

func (n *Notifier) Notify(notice service.Notice) {
	if notice.Err != nil {
		n.logger.Debug("notice raised", "kind", notice.Kind.String(), logger.Err(notice.Err))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprintf(n.output, "! %s\n", n.presenter.Message(notice)); err != nil {
		n.logger.Error("failed to write notice", logger.Err(err))
	}
}
