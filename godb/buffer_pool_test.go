package godb

import (
	"os"
	"path/filepath"
	"testing"
)

// newTestEngine wires a BufferPool, Catalog, and LogFile the way config.go
// does, without going through viper, for tests that need the full stack.
func newTestEngine(t *testing.T, poolSize int) (*BufferPool, *Catalog, *LogFile, *TupleDesc) {
	t.Helper()
	dir := t.TempDir()
	desc := &TupleDesc{Fields: []FieldType{
		{Fname: "id", Ftype: IntType},
		{Fname: "name", Ftype: StringType},
	}}

	bp, err := NewBufferPool(poolSize)
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
	bp.AttachLog(lf, cat)
	return bp, cat, lf, desc
}

func TestTransactionCompleteCommitForcesLog(t *testing.T) {
	bp, cat, lf, desc := newTestEngine(t, 10)
	info, err := cat.GetTableInfoName("t")
	if err != nil {
		t.Fatal(err)
	}

	tid := bp.Begin()
	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "a"}}}
	if err := bp.InsertTuple(tid, info.ID(), tup); err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	if err := bp.CommitTransaction(tid); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}

	ckpt, err := lf.LastCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	if ckpt != 0 {
		t.Fatalf("no checkpoint should have been written yet, got offset %d", ckpt)
	}

	fi, err := os.Stat(lf.file.Name())
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() <= headerSize {
		t.Fatal("commit should have forced UPDATE/COMMIT records to the log file")
	}
}

func TestEvictionFlushesAndDiscards(t *testing.T) {
	bp, cat, _, desc := newTestEngine(t, 1) // capacity 1 forces eviction on the second page
	info, err := cat.GetTableInfoName("t")
	if err != nil {
		t.Fatal(err)
	}
	hf := info.File().(*HeapFile)

	slotsPerPage := slotCountFor(PageSize, desc.bytesPerTuple())

	tid := bp.Begin()
	for i := 0; i < slotsPerPage+1; i++ {
		tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: int64(i)}, StringField{Value: "x"}}}
		if err := hf.insertTuple(tid, tup); err != nil {
			t.Fatalf("insertTuple %d: %v", i, err)
		}
	}
	if err := bp.CommitTransaction(tid); err != nil {
		t.Fatal(err)
	}

	bp.mu.Lock()
	cached := len(bp.cache)
	bp.mu.Unlock()
	if cached > 1 {
		t.Fatalf("buffer pool holds %d pages with capacity 1", cached)
	}
	if hf.NumPages() != 2 {
		t.Fatalf("NumPages() = %d, want 2", hf.NumPages())
	}
}

func TestGetPageAndHoldsLock(t *testing.T) {
	bp, cat, _, desc := newTestEngine(t, 10)
	info, _ := cat.GetTableInfoName("t")
	hf := info.File().(*HeapFile)

	tid := bp.Begin()
	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "a"}}}
	if err := hf.insertTuple(tid, tup); err != nil {
		t.Fatal(err)
	}

	pid := hf.pageID(0)
	if !bp.holdsLock(tid, pid) {
		t.Fatal("tid should hold a lock on the page it just wrote")
	}

	pg, err := bp.GetPage(tid, pid, ReadPerm)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if pg.ID() != pid {
		t.Fatalf("GetPage returned page %v, want %v", pg.ID(), pid)
	}

	if err := bp.CommitTransaction(tid); err != nil {
		t.Fatal(err)
	}
	if bp.holdsLock(tid, pid) {
		t.Fatal("lock should be released after commit")
	}
}

func TestDeleteTupleViaBufferPool(t *testing.T) {
	bp, cat, _, desc := newTestEngine(t, 10)
	info, _ := cat.GetTableInfoName("t")

	tid := bp.Begin()
	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "a"}}}
	if err := bp.InsertTuple(tid, info.ID(), tup); err != nil {
		t.Fatal(err)
	}
	if err := bp.DeleteTuple(tid, info.ID(), tup); err != nil {
		t.Fatalf("DeleteTuple: %v", err)
	}
	if err := bp.CommitTransaction(tid); err != nil {
		t.Fatal(err)
	}

	hf := info.File().(*HeapFile)
	tid2 := bp.Begin()
	next, err := hf.Iterator(tid2)
	if err != nil {
		t.Fatal(err)
	}
	tup2, err := next()
	if err != nil {
		t.Fatal(err)
	}
	if tup2 != nil {
		t.Fatalf("expected no tuples after delete, got %v", tup2)
	}
}

func TestAbortTransactionRestoresBeforeImage(t *testing.T) {
	bp, cat, _, desc := newTestEngine(t, 10)
	info, _ := cat.GetTableInfoName("t")

	tid := bp.Begin()
	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "a"}}}
	if err := bp.InsertTuple(tid, info.ID(), tup); err != nil {
		t.Fatal(err)
	}
	if err := bp.CommitTransaction(tid); err != nil {
		t.Fatal(err)
	}

	hf := info.File().(*HeapFile)
	tid2 := bp.Begin()
	tup2 := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 2}, StringField{Value: "b"}}}
	if err := hf.insertTuple(tid2, tup2); err != nil {
		t.Fatal(err)
	}
	if err := bp.AbortTransaction(tid2); err != nil {
		t.Fatalf("AbortTransaction: %v", err)
	}

	tid3 := bp.Begin()
	next, err := hf.Iterator(tid3)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for {
		tup, err := next()
		if err != nil {
			t.Fatal(err)
		}
		if tup == nil {
			break
		}
		n++
	}
	if n != 1 {
		t.Fatalf("expected the aborted insert to be rolled back, found %d tuples", n)
	}
}
