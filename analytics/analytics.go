/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package analytics persists the inference-to-pull-request linkage so the
// feedback phase can recover which model call produced a follow-up PR
// after that PR is merged or rejected. Analytics writes are best effort:
// callers log failures and continue, since losing a training signal must
// never block the user-visible fix.
package analytics

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Record links one inference to the follow-up PR it produced.
type Record struct {
	InferenceID            string    `ch:"inference_id"`
	EpisodeID              string    `ch:"episode_id"`
	PullRequestID          int64     `ch:"pull_request_id"`
	CreatedAt              time.Time `ch:"created_at"`
	OriginalPullRequestURL string    `ch:"original_pull_request_url"`
}

// tableNamePattern admits dotted identifiers only. Table names are
// interpolated into query text, so anything outside this set (semicolons,
// whitespace, quotes) is rejected before a query is ever built.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// ValidateTableName rejects table names that are unsafe to interpolate.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q: must match %s", name, tableNamePattern)
	}
	return nil
}

// Store reads and writes inference records in a ClickHouse table.
type Store struct {
	conn  driver.Conn
	table string
}

// New validates the table name and wraps the connection. The table name is
// checked here once so every query builder below can interpolate it.
func New(conn driver.Conn, table string) (*Store, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	return &Store{conn: conn, table: table}, nil
}

// Open dials ClickHouse and returns a Store over the connection.
func Open(ctx context.Context, addr, database, username, password, table string) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}
	return New(conn, table)
}

// Insert writes one inference record. Callers treat failures as
// non-fatal: log and continue.
func (s *Store) Insert(ctx context.Context, r Record) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", s.table))
	if err != nil {
		return fmt.Errorf("preparing insert into %s: %w", s.table, err)
	}
	if err := batch.AppendStruct(&r); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending insert into %s: %w", s.table, err)
	}
	return nil
}

// QueryByPullRequestID returns every inference record linked to the given
// GitHub pull request ID. Zero rows is a valid outcome the caller must
// handle; multiple rows means multiple inferences fed the same PR and each
// deserves its own feedback signal.
func (s *Store) QueryByPullRequestID(ctx context.Context, prID int64) ([]Record, error) {
	query := fmt.Sprintf(
		"SELECT inference_id, episode_id, pull_request_id, created_at, original_pull_request_url FROM %s WHERE pull_request_id = ?",
		s.table)
	rows, err := s.conn.Query(ctx, query, prID)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.table, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.ScanStruct(&r); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
