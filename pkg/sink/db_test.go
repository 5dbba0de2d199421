// Copyright 2025-2026 CERN. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package sink

import (
	"testing"

	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *DB, table string) int {
	t.Helper()
	var n int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestDB_RequestAndResponseRows(t *testing.T) {
	db := newTestDB(t)

	req := &hbase.Event{
		Method: hbase.MethodGet, CallID: 1, Inbound: true,
		TS: 1000, Server: "10.0.0.2", Client: "10.0.0.1", Port: 5555, Size: 36,
		Table: "T1", Region: "T1,,1.x.", Row: "k",
	}
	resp := &hbase.Event{
		Method: hbase.MethodGet, CallID: 1, Inbound: false,
		TS: 1005, Server: "10.0.0.2", Client: "10.0.0.1", Port: 5555, Size: 20,
		Table: "T1", Cells: 3, HasCells: true, Elapsed: 5, HasElapsed: true,
	}

	if err := db.Emit(req); err != nil {
		t.Fatalf("Emit request: %v", err)
	}
	if err := db.Emit(resp); err != nil {
		t.Fatalf("Emit response: %v", err)
	}

	if n := countRows(t, db, "requests"); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
	if n := countRows(t, db, "responses"); n != 1 {
		t.Errorf("responses = %d, want 1", n)
	}

	var elapsed int64
	err := db.db.QueryRow("SELECT elapsed_ms FROM responses WHERE call_id = 1").Scan(&elapsed)
	if err != nil {
		t.Fatalf("select elapsed: %v", err)
	}
	if elapsed != 5 {
		t.Errorf("elapsed_ms = %d, want 5", elapsed)
	}
}

func TestDB_SubRows(t *testing.T) {
	db := newTestDB(t)

	sub := &hbase.Event{
		Method: "get", CallID: 9, Inbound: false,
		TS: 5001, Client: "10.0.0.1", Port: 5555,
		Table: "T1", Row: "a", Cells: 4, HasCells: true,
	}
	if err := db.EmitSub(KindResults, sub); err != nil {
		t.Fatalf("EmitSub results: %v", err)
	}
	if err := db.EmitSub(KindActions, sub); err != nil {
		t.Fatalf("EmitSub actions: %v", err)
	}

	if n := countRows(t, db, "results"); n != 1 {
		t.Errorf("results = %d, want 1", n)
	}
	if n := countRows(t, db, "actions"); n != 1 {
		t.Errorf("actions = %d, want 1", n)
	}
}

func TestDB_NullableColumns(t *testing.T) {
	db := newTestDB(t)

	ev := &hbase.Event{
		Method: hbase.MethodUnknown, CallID: 3, Inbound: false,
		TS: 2000, Server: "10.0.0.2", Client: "10.0.0.1", Port: 5555, Size: 8,
	}
	if err := db.Emit(ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM responses WHERE "table" IS NULL AND cells IS NULL AND elapsed_ms IS NULL`).Scan(&n)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if n != 1 {
		t.Errorf("nullable row count = %d, want 1", n)
	}
}
