// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package testhelper provides shared fakes and switches for the geonote test suites.
package testhelper

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"testing"
)

const (
	// TestOnlineAPIURL is a reachable endpoint used by the integration tests
	TestOnlineAPIURL = "https://nominatim.openstreetmap.org/status?format=json"

	integrationEnv = "GEONOTE_INTEGRATION"
)

// MockRoundTripper is a http.RoundTripper that delegates every request to Fn.
type MockRoundTripper struct {
	Fn func(req *http.Request) (*http.Response, error)
}

func (m MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Fn(req)
}

// JSONResponse returns a round-trip function answering every request with the given status
// and body.
func JSONResponse(status int, body string) func(req *http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		header := make(http.Header)
		header.Set("Content-Type", "application/json")
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
			Header:     header,
			Request:    req,
		}, nil
	}
}

// FileResponse returns a round-trip function answering every request with the content of
// the given fixture file.
func FileResponse(t *testing.T, status int, path string) func(req *http.Request) (*http.Response, error) {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		data, err := os.Open(path)
		if err != nil {
			t.Fatalf("failed to open JSON response file: %s", err)
		}
		return &http.Response{
			StatusCode: status,
			Body:       data,
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}
}

// PerformIntegrationTests skips the calling test unless integration tests are enabled.
func PerformIntegrationTests(t *testing.T) {
	t.Helper()
	if os.Getenv(integrationEnv) == "" {
		t.Skipf("skipping integration test, set %s to enable", integrationEnv)
	}
}
