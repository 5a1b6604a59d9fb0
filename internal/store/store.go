// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package store persists saved locations in a remote table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// TimeLayout is the ISO-8601 layout used for the created_at column.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Store is the persistence client for saved locations.
type Store interface {
	Name() string
	// Insert stores the record and returns it with the store-assigned ID.
	Insert(ctx context.Context, record Record) (SavedLocation, error)
	// List returns all saved locations, newest first.
	List(ctx context.Context) ([]SavedLocation, error)
}

// Record is a location that has not been stored yet.
type Record struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
	Address   string  `json:"address" validate:"required"`
	CreatedAt string  `json:"created_at" validate:"required,datetime=2006-01-02T15:04:05.000Z07:00"`
}

// NewRecord builds and validates a Record. The creation time is stored in UTC with
// millisecond precision.
func NewRecord(lat, lon float64, address string, createdAt time.Time) (Record, error) {
	record := Record{
		Latitude:  lat,
		Longitude: lon,
		Address:   address,
		CreatedAt: createdAt.UTC().Format(TimeLayout),
	}
	if err := validate.Struct(record); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return record, fmt.Errorf("invalid record field %s: failed on %q", verrs[0].Field(), verrs[0].Tag())
		}
		return record, fmt.Errorf("invalid record: %w", err)
	}
	return record, nil
}

// SavedLocation is a location as returned by the store.
type SavedLocation struct {
	ID        ID      `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
	CreatedAt string  `json:"created_at"`
}

// Created parses CreatedAt. Unparsable values yield the zero time.
func (s SavedLocation) Created() time.Time {
	created, err := time.Parse(time.RFC3339Nano, s.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return created
}

// ID is the opaque identifier assigned by the store. Stores may encode it as JSON number or
// string.
type ID string

func (i *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid ID: %w", err)
	}
	*i = ID(n.String())
	return nil
}

func (i ID) String() string {
	return string(i)
}

// Int returns the ID as integer, if it is numeric.
func (i ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(i), 10, 64)
	return n, err == nil
}
