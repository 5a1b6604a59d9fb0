// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package postgres implements the store on a PostgreSQL table using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wneessen/geonote/internal/store"
)

const name = "postgres"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type Store struct {
	db       querier
	table    string
	rawTable string
}

// New connects a pgx pool to the database at dsn.
func New(ctx context.Context, dsn, table string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return newWithQuerier(pool, table), nil
}

func newWithQuerier(db querier, table string) *Store {
	return &Store{
		db:       db,
		table:    pgx.Identifier{table}.Sanitize(),
		rawTable: table,
	}
}

func (s *Store) Name() string {
	return name
}

// InitSchema creates the locations table and its created_at index if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	index := pgx.Identifier{"idx_" + s.rawTable + "_created_at"}.Sanitize()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			latitude   DOUBLE PRECISION NOT NULL,
			longitude  DOUBLE PRECISION NOT NULL,
			address    TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + s.table + ` (created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, record store.Record) (store.SavedLocation, error) {
	var (
		saved store.SavedLocation
		id    string
	)
	err := s.db.QueryRow(ctx, `INSERT INTO `+s.table+` (latitude, longitude, address, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id::text, latitude, longitude, address, created_at`,
		record.Latitude, record.Longitude, record.Address, record.CreatedAt,
	).Scan(&id, &saved.Latitude, &saved.Longitude, &saved.Address, &saved.CreatedAt)
	if err != nil {
		return store.SavedLocation{}, fmt.Errorf("failed to insert location: %w", err)
	}
	saved.ID = store.ID(id)
	return saved, nil
}

func (s *Store) List(ctx context.Context) ([]store.SavedLocation, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, latitude, longitude, address, created_at FROM `+
		s.table+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	saved, err := pgx.CollectRows(rows, scanLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to read saved locations: %w", err)
	}
	if saved == nil {
		saved = make([]store.SavedLocation, 0)
	}
	return saved, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func scanLocation(row pgx.CollectableRow) (store.SavedLocation, error) {
	var (
		loc store.SavedLocation
		id  string
	)
	if err := row.Scan(&id, &loc.Latitude, &loc.Longitude, &loc.Address, &loc.CreatedAt); err != nil {
		return loc, err
	}
	loc.ID = store.ID(id)
	return loc, nil
}
