package godb

import (
	"path/filepath"
	"testing"
)

func TestRecoverRedoesCommittedAndUndoesLosers(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")
	desc := &TupleDesc{Fields: []FieldType{
		{Fname: "id", Ftype: IntType},
		{Fname: "name", Ftype: StringType},
	}}

	// First "process": commit one row, leave a second transaction's insert
	// unresolved to simulate a crash before its commit/abort record.
	bp1, err := NewBufferPool(10)
	if err != nil {
		t.Fatal(err)
	}
	cat1, err := NewCatalog("", bp1, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := cat1.AddTable("t", desc); err != nil {
		t.Fatal(err)
	}
	info, err := cat1.GetTableInfoName("t")
	if err != nil {
		t.Fatal(err)
	}
	lf1, err := NewLogFile(walPath, bp1, cat1)
	if err != nil {
		t.Fatal(err)
	}
	bp1.AttachLog(lf1, cat1)

	winner := bp1.Begin()
	winnerTup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "winner"}}}
	if err := bp1.InsertTuple(winner, info.ID(), winnerTup); err != nil {
		t.Fatal(err)
	}
	if err := bp1.CommitTransaction(winner); err != nil {
		t.Fatal(err)
	}

	loser := bp1.Begin()
	loserTup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 2}, StringField{Value: "loser"}}}
	if err := bp1.InsertTuple(loser, info.ID(), loserTup); err != nil {
		t.Fatal(err)
	}
	// Force the loser's page to disk with a direct flush (what eviction
	// does), simulating STEAL before the crash, without ever writing its
	// Commit record.
	hf := info.File().(*HeapFile)
	pid := hf.pageID(0)
	if err := bp1.flushPage(pid); err != nil {
		t.Fatal(err)
	}
	if err := lf1.Force(); err != nil {
		t.Fatal(err)
	}
	// Crash: no transactionComplete call for loser.

	// Second "process": fresh buffer pool and catalog, same on-disk files
	// and WAL, running recovery.
	bp2, err := NewBufferPool(10)
	if err != nil {
		t.Fatal(err)
	}
	cat2, err := NewCatalog("", bp2, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := cat2.AddTable("t", desc); err != nil {
		t.Fatal(err)
	}
	lf2, err := NewLogFile(walPath, bp2, cat2)
	if err != nil {
		t.Fatal(err)
	}
	if err := bp2.Recover(lf2); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	info2, err := cat2.GetTableInfoName("t")
	if err != nil {
		t.Fatal(err)
	}
	hf2 := info2.File().(*HeapFile)

	tid := bp2.Begin()
	next, err := hf2.Iterator(tid)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for {
		tup, err := next()
		if err != nil {
			t.Fatal(err)
		}
		if tup == nil {
			break
		}
		names = append(names, tup.Fields[1].(StringField).Value)
	}

	if len(names) != 1 || names[0] != "winner" {
		t.Fatalf("after recovery, rows = %v; want exactly [\"winner\"]", names)
	}
}

func TestRecoverOnEmptyLogIsNoop(t *testing.T) {
	dir := t.TempDir()
	desc := &TupleDesc{Fields: []FieldType{{Fname: "id", Ftype: IntType}}}

	bp, err := NewBufferPool(4)
	if err != nil {
		t.Fatal(err)
	}
	cat, err := NewCatalog("", bp, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := cat.AddTable("t", desc); err != nil {
		t.Fatal(err)
	}
	lf, err := NewLogFile(filepath.Join(dir, "wal.log"), bp, cat)
	if err != nil {
		t.Fatal(err)
	}
	if err := bp.Recover(lf); err != nil {
		t.Fatalf("Recover on an empty log should succeed, got %v", err)
	}
}
