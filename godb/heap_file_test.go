package godb

import (
	"path/filepath"
	"testing"
)

func newTestHeapFile(t *testing.T) (*HeapFile, *TupleDesc, *BufferPool) {
	t.Helper()
	desc := &TupleDesc{Fields: []FieldType{
		{Fname: "id", Ftype: IntType},
		{Fname: "name", Ftype: StringType},
	}}
	bp, err := NewBufferPool(10)
	if err != nil {
		t.Fatalf("NewBufferPool: %v", err)
	}
	hf, err := NewHeapFile(filepath.Join(t.TempDir(), "t.dat"), desc, bp)
	if err != nil {
		t.Fatalf("NewHeapFile: %v", err)
	}
	return hf, desc, bp
}

func TestHeapFileInsertGrowsPages(t *testing.T) {
	hf, desc, bp := newTestHeapFile(t)
	tid := bp.Begin()

	slotsPerPage := slotCountFor(PageSize, desc.bytesPerTuple())
	total := slotsPerPage + 1 // force a second page

	for i := 0; i < total; i++ {
		tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: int64(i)}, StringField{Value: "row"}}}
		if err := hf.insertTuple(tid, tup); err != nil {
			t.Fatalf("insertTuple %d: %v", i, err)
		}
	}
	if hf.NumPages() != 2 {
		t.Fatalf("NumPages() = %d, want 2", hf.NumPages())
	}

	if err := bp.transactionComplete(tid, true); err != nil {
		t.Fatalf("transactionComplete: %v", err)
	}

	tid2 := bp.Begin()
	next, err := hf.Iterator(tid2)
	if err != nil {
		t.Fatalf("Iterator: %v", err)
	}
	n := 0
	for {
		tup, err := next()
		if err != nil {
			t.Fatalf("iterating: %v", err)
		}
		if tup == nil {
			break
		}
		n++
	}
	if n != total {
		t.Fatalf("iterator yielded %d tuples, want %d", n, total)
	}
}

func TestHeapFileDeleteFreesSlot(t *testing.T) {
	hf, desc, bp := newTestHeapFile(t)
	tid := bp.Begin()

	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 1}, StringField{Value: "a"}}}
	if err := hf.insertTuple(tid, tup); err != nil {
		t.Fatal(err)
	}
	rid := tup.Rid

	if err := hf.deleteTuple(tid, tup); err != nil {
		t.Fatalf("deleteTuple: %v", err)
	}

	tup2 := &Tuple{Desc: *desc, Fields: []DBValue{IntField{Value: 2}, StringField{Value: "b"}}, Rid: rid}
	if err := hf.deleteTuple(tid, tup2); err == nil {
		t.Fatal("deleting an already-freed slot twice should fail")
	}
}
