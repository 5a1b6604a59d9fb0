// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package rest implements the store for PostgREST compatible table APIs (e.g. Supabase).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/wneessen/geonote/internal/http"
	"github.com/wneessen/geonote/internal/store"
)

const name = "rest"

var ErrEmptyResponse = errors.New("store returned no rows for the inserted record")

// StatusError is returned for responses with a status code of 300 and above.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store returned status %d", e.Code)
	}
	return fmt.Sprintf("store returned status %d: %s", e.Code, e.Message)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

type Store struct {
	http     *http.Client
	endpoint string
	apikey   string
}

// New returns a REST store for the given base URL and table.
func New(client *http.Client, baseURL, table, apikey string) (*Store, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if baseURL == "" {
		return nil, errors.New("store URL must not be empty")
	}
	endpoint, err := url.JoinPath(baseURL, url.PathEscape(table))
	if err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}
	return &Store{http: client, endpoint: endpoint, apikey: apikey}, nil
}

func (s *Store) Name() string {
	return name
}

func (s *Store) Insert(ctx context.Context, record store.Record) (store.SavedLocation, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return store.SavedLocation{}, fmt.Errorf("failed to encode record: %w", err)
	}

	headers := s.headers()
	headers["Content-Type"] = "application/json"
	headers["Prefer"] = "return=representation"

	var raw json.RawMessage
	code, err := s.http.Post(ctx, s.endpoint, &raw, bytes.NewReader(body), headers)
	if err = checkResponse(code, raw, err); err != nil {
		return store.SavedLocation{}, fmt.Errorf("failed to insert location: %w", err)
	}

	var rows []store.SavedLocation
	if err = json.Unmarshal(raw, &rows); err != nil {
		return store.SavedLocation{}, fmt.Errorf("failed to decode inserted location: %w", err)
	}
	if len(rows) == 0 {
		return store.SavedLocation{}, ErrEmptyResponse
	}
	return rows[0], nil
}

func (s *Store) List(ctx context.Context) ([]store.SavedLocation, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("order", "created_at.desc")

	var raw json.RawMessage
	code, err := s.http.Get(ctx, s.endpoint, &raw, query, s.headers())
	if err = checkResponse(code, raw, err); err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}

	rows := make([]store.SavedLocation, 0)
	if err = json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode saved locations: %w", err)
	}
	if rows == nil {
		rows = make([]store.SavedLocation, 0)
	}
	return rows, nil
}

func (s *Store) headers() map[string]string {
	headers := map[string]string{}
	if s.apikey != "" {
		headers["apikey"] = s.apikey
		headers["Authorization"] = "Bearer " + s.apikey
	}
	return headers
}

func checkResponse(code int, raw json.RawMessage, err error) error {
	if code >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		return &StatusError{Code: code, Message: strings.TrimSpace(apiErr.Message + " " + apiErr.Hint)}
	}
	if err != nil {
		return err
	}
	if code < 200 {
		return &StatusError{Code: code}
	}
	return nil
}
