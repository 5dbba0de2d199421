// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sink

import (
	"database/sql"
	"fmt"

	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	ts      INTEGER NOT NULL,
	client  TEXT    NOT NULL,
	port    INTEGER NOT NULL,
	call_id INTEGER NOT NULL,
	server  TEXT,
	method  TEXT,
	"table" TEXT,
	region  TEXT,
	row     TEXT,
	cells   INTEGER,
	scanner INTEGER,
	batch   INTEGER,
	size    INTEGER
);
CREATE TABLE IF NOT EXISTS responses (
	ts         INTEGER NOT NULL,
	client     TEXT    NOT NULL,
	port       INTEGER NOT NULL,
	call_id    INTEGER NOT NULL,
	server     TEXT,
	method     TEXT,
	"table"    TEXT,
	region     TEXT,
	row        TEXT,
	cells      INTEGER,
	scanner    INTEGER,
	batch      INTEGER,
	error      TEXT,
	elapsed_ms INTEGER,
	size       INTEGER
);
CREATE TABLE IF NOT EXISTS actions (
	ts      INTEGER NOT NULL,
	client  TEXT    NOT NULL,
	port    INTEGER NOT NULL,
	call_id INTEGER NOT NULL,
	method  TEXT,
	"table" TEXT,
	region  TEXT,
	row     TEXT
);
CREATE TABLE IF NOT EXISTS results (
	ts      INTEGER NOT NULL,
	client  TEXT    NOT NULL,
	port    INTEGER NOT NULL,
	call_id INTEGER NOT NULL,
	method  TEXT,
	"table" TEXT,
	region  TEXT,
	row     TEXT,
	cells   INTEGER,
	error   TEXT
);
`

// DB is the in-process tabular store. Events land as rows in the requests,
// responses, actions and results tables.
type DB struct {
	db     *sql.DB
	logger *zap.Logger

	insRequest  *sql.Stmt
	insResponse *sql.Stmt
	insAction   *sql.Stmt
	insResult   *sql.Stmt
}

// NewDB opens (or creates) the SQLite store at path. Use ":memory:" for a
// store that lives only for the capture run.
func NewDB(path string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// The manager serializes writes; a second connection would only
	// contend on the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	d := &DB{db: db, logger: logger}
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&d.insRequest, `INSERT INTO requests (ts, client, port, call_id, server, method, "table", region, row, cells, scanner, batch, size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&d.insResponse, `INSERT INTO responses (ts, client, port, call_id, server, method, "table", region, row, cells, scanner, batch, error, elapsed_ms, size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&d.insAction, `INSERT INTO actions (ts, client, port, call_id, method, "table", region, row)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`},
		{&d.insResult, `INSERT INTO results (ts, client, port, call_id, method, "table", region, row, cells, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
	}
	for _, s := range stmts {
		st, err := db.Prepare(s.query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare insert: %w", err)
		}
		*s.dst = st
	}

	logger.Info("tabular store ready", zap.String("path", path))
	return d, nil
}

// Emit inserts the event into requests or responses.
func (d *DB) Emit(ev *hbase.Event) error {
	if ev.Inbound {
		_, err := d.insRequest.Exec(
			ev.TS, ev.Client, ev.Port, ev.CallID, ev.Server, ev.Method,
			nullStr(ev.Table), nullStr(ev.Region), nullStr(ev.Row),
			nullInt(ev.HasCells, ev.Cells), nullUint(ev.HasScanner, ev.Scanner),
			nullCount(ev.Batch), ev.Size,
		)
		return err
	}
	_, err := d.insResponse.Exec(
		ev.TS, ev.Client, ev.Port, ev.CallID, ev.Server, ev.Method,
		nullStr(ev.Table), nullStr(ev.Region), nullStr(ev.Row),
		nullInt(ev.HasCells, ev.Cells), nullUint(ev.HasScanner, ev.Scanner),
		nullCount(ev.Batch), nullStr(ev.Error),
		nullInt(ev.HasElapsed, int(ev.Elapsed)), ev.Size,
	)
	return err
}

// EmitSub inserts a per-action row into actions or results.
func (d *DB) EmitSub(kind string, ev *hbase.Event) error {
	if kind == KindActions {
		_, err := d.insAction.Exec(
			ev.TS, ev.Client, ev.Port, ev.CallID, ev.Method,
			nullStr(ev.Table), nullStr(ev.Region), nullStr(ev.Row),
		)
		return err
	}
	_, err := d.insResult.Exec(
		ev.TS, ev.Client, ev.Port, ev.CallID, ev.Method,
		nullStr(ev.Table), nullStr(ev.Region), nullStr(ev.Row),
		nullInt(ev.HasCells, ev.Cells), nullStr(ev.Error),
	)
	return err
}

// Close closes the prepared statements and the database.
func (d *DB) Close() error {
	for _, st := range []*sql.Stmt{d.insRequest, d.insResponse, d.insAction, d.insResult} {
		if st != nil {
			st.Close()
		}
	}
	return d.db.Close()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(has bool, v int) any {
	if !has {
		return nil
	}
	return v
}

func nullUint(has bool, v uint64) any {
	if !has {
		return nil
	}
	return int64(v)
}

func nullCount(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
