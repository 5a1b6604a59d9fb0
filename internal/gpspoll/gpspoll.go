// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpspoll implements a one-shot gpsd client that waits for the first usable fix.
package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"time"
)

const (
	fallbackAccuracy3DFix = 10 // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25 // worse than 3D, but still accurate enough
	watchTimeout          = time.Second * 15
)

var (
	// ErrNoFix is returned if gpsd reported positions but none with at least a 2D fix.
	ErrNoFix = errors.New("gpsd has no 2D fix")
	// ErrNoTPV is returned if gpsd did not report any position before the connection ended.
	ErrNoTPV = errors.New("no TPV response received from gpsd")
)

// Client is a minimal gpsd client
type Client struct {
	Addr string
}

// Fix represents a single GPS fix from gpsd.
type Fix struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Acc  float64
	Mode int
}

// tpvReport matches the subset of gpsd's TPV report we care about.
type tpvReport struct {
	Class string  `json:"class"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	Mode  int     `json:"mode"`
	Epx   float64 `json:"epx"`
	Epy   float64 `json:"epy"`
	Eph   float64 `json:"eph"`
	Epv   float64 `json:"epv"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Poll connects to gpsd, enables watch mode and returns the first TPV report that carries at
// least a 2D fix. Reports without a fix are skipped until ctx is done or, if ctx has no
// deadline, a default timeout passes. The connection is closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return zero, fmt.Errorf("gpspoll: dial gpsd: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(watchTimeout))
	}

	if _, err = fmt.Fprint(conn, `?WATCH={"enable":true,"json":true}`+"\n"); err != nil {
		return zero, fmt.Errorf("gpspoll: write WATCH: %w", err)
	}

	sawNoFix := false
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var resp tpvReport
		if err = json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Class != "TPV" {
			continue
		}
		fix := Fix{
			Lat:  resp.Lat,
			Lon:  resp.Lon,
			Alt:  resp.Alt,
			Acc:  horizontalAccuracyMeters(resp),
			Mode: resp.Mode,
		}
		if !fix.Has2DFix() {
			sawNoFix = true
			continue
		}
		_, _ = fmt.Fprint(conn, `?WATCH={"enable":false}`+"\n")
		return fix, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, ctxErr
	}
	err = scanner.Err()
	if sawNoFix {
		return zero, ErrNoFix
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return zero, fmt.Errorf("gpspoll: waiting for TPV report: %w", context.DeadlineExceeded)
	}
	if err != nil {
		return zero, fmt.Errorf("failed to scan gpsd response: %w", err)
	}
	return zero, ErrNoTPV
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= 2
}

func horizontalAccuracyMeters(tpv tpvReport) float64 {
	switch {
	case tpv.Eph > 0:
		return tpv.Eph
	case tpv.Epx > 0 && tpv.Epy > 0:
		// sqrt(epx² + epy²)
		return math.Hypot(tpv.Epx, tpv.Epy)
	case tpv.Mode >= 3:
		return fallbackAccuracy3DFix
	default:
		return fallbackAccuracy2DFix
	}
}
