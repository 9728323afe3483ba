package godb

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// HeapFile is an unordered collection of fixed-size pages backing one
// table: the page store of spec.md §4.1. Its tableID is a stable hash of
// the backing file's absolute path, so the same on-disk table always maps
// to the same PageID regardless of how many times it is reopened
// (spec.md §3, TableFile).
type HeapFile struct {
	mu sync.Mutex

	td          *TupleDesc
	backingFile string
	tableID     int32
	numPages    int
	lastEmpty   int // hint: lowest page number that may have a free slot

	bufPool *BufferPool
}

// heapFileRid is the record id HeapFile hands out: a page number and a
// slot index within that page.
type heapFileRid struct {
	pageNo int
	slotNo int
}

func stableTableID(absPath string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(absPath))
	return int32(h.Sum32())
}

// NewHeapFile opens (or creates) fromFile as a HeapFile for tuples matching
// td, mediated by bp.
func NewHeapFile(fromFile string, td *TupleDesc, bp *BufferPool) (*HeapFile, error) {
	f, err := os.OpenFile(fromFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, GoDBError{StorageFaultError, err.Error()}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, GoDBError{StorageFaultError, err.Error()}
	}
	abs, err := filepath.Abs(fromFile)
	if err != nil {
		return nil, GoDBError{StorageFaultError, err.Error()}
	}

	return &HeapFile{
		td:          td,
		backingFile: fromFile,
		tableID:     stableTableID(abs),
		numPages:    int(fi.Size()) / PageSize,
		lastEmpty:   0,
		bufPool:     bp,
	}, nil
}

func (f *HeapFile) BackingFile() string { return f.backingFile }

func (f *HeapFile) NumPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numPages
}

func (f *HeapFile) Descriptor() *TupleDesc { return f.td }

func (f *HeapFile) TableID() int32 { return f.tableID }

func (f *HeapFile) pageID(pageNo int) PageID {
	return PageID{TableID: f.tableID, PageNo: int32(pageNo)}
}

// readPage seeks to pageNo*PageSize and reads exactly PageSize bytes. It
// takes a bare page number, so no TableID check happens here.
func (f *HeapFile) readPage(pageNo int) (Page, error) {
	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, GoDBError{StorageFaultError, err.Error()}
	}
	defer file.Close()

	buf := make([]byte, PageSize)
	n, err := file.ReadAt(buf, int64(pageNo)*int64(PageSize))
	if err != nil {
		return nil, GoDBError{StorageFaultError, fmt.Sprintf("reading page %d: %v", pageNo, err)}
	}
	if n != PageSize {
		return nil, GoDBError{StorageFaultError, "short read"}
	}

	pg, err := newHeapPage(f.td, pageNo, f)
	if err != nil {
		return nil, err
	}
	if err := pg.initFromBuffer(bytes.NewBuffer(buf)); err != nil {
		return nil, err
	}
	return pg, nil
}

// flushPage writes p's current byte image to its slot on disk. Never
// called directly by operators: callers are the buffer pool, the log's
// rollback/redo paths, and insertTuple when it appends a fresh empty page.
func (f *HeapFile) flushPage(p Page) error {
	hp, ok := p.(*heapPage)
	if !ok {
		return GoDBError{InvalidRequestError, "flushPage: not a heapPage"}
	}

	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return GoDBError{StorageFaultError, err.Error()}
	}
	defer file.Close()

	buf, err := hp.toBuffer()
	if err != nil {
		return err
	}
	if _, err := file.WriteAt(buf.Bytes(), int64(hp.pageNo)*int64(PageSize)); err != nil {
		return GoDBError{StorageFaultError, err.Error()}
	}
	return nil
}

// insertTuple scans pages through the buffer pool looking for a free slot,
// taking a SHARED lock on each page it inspects and an EXCLUSIVE lock only
// on the page it inserts into; if none has room, a fresh empty page is
// appended to disk and acquired EXCLUSIVE. spec.md §4.1.
func (f *HeapFile) insertTuple(tid TransactionID, t *Tuple) error {
	f.mu.Lock()
	start := f.lastEmpty
	end := f.numPages
	f.mu.Unlock()

	for p := start; p < end; p++ {
		pg, err := f.bufPool.getPage(tid, f.pageID(p), f, ReadPerm)
		if err != nil {
			return err
		}
		hp := pg.(*heapPage)
		if hp.getNumEmptySlots() == 0 {
			continue
		}
		pg, err = f.bufPool.getPage(tid, f.pageID(p), f, ReadWritePerm)
		if err != nil {
			return err
		}
		hp = pg.(*heapPage)
		if _, err := hp.insertTuple(t); err != nil {
			if err == ErrPageFull {
				continue
			}
			return err
		}
		hp.setDirty(tid, true)
		f.mu.Lock()
		f.lastEmpty = p
		f.mu.Unlock()
		f.bufPool.noteDirty(tid, hp)
		return nil
	}

	// No existing page has room: append a fresh page to disk, then fetch
	// it through the buffer pool so it is correctly locked and cached.
	f.mu.Lock()
	newPageNo := f.numPages
	f.mu.Unlock()

	empty, err := newHeapPage(f.td, newPageNo, f)
	if err != nil {
		return err
	}
	if err := f.flushPage(empty); err != nil {
		return err
	}
	f.mu.Lock()
	f.numPages++
	f.lastEmpty = newPageNo
	f.mu.Unlock()

	pg, err := f.bufPool.getPage(tid, f.pageID(newPageNo), f, ReadWritePerm)
	if err != nil {
		return err
	}
	hp := pg.(*heapPage)
	if _, err := hp.insertTuple(t); err != nil {
		return err
	}
	hp.setDirty(tid, true)
	f.bufPool.noteDirty(tid, hp)
	return nil
}

// deleteTuple fetches t's page through the buffer pool EXCLUSIVE, clears
// the slot bit, and marks the page dirty. spec.md §4.1.
func (f *HeapFile) deleteTuple(tid TransactionID, t *Tuple) error {
	rid, ok := t.Rid.(heapFileRid)
	if !ok {
		return GoDBError{TupleNotFoundError, "tuple has no heap-file record id"}
	}
	if rid.pageNo < 0 || rid.pageNo >= f.NumPages() {
		return GoDBError{TupleNotFoundError, "record id names a page outside this file"}
	}

	pg, err := f.bufPool.getPage(tid, f.pageID(rid.pageNo), f, ReadWritePerm)
	if err != nil {
		return err
	}
	hp, ok := pg.(*heapPage)
	if !ok {
		return GoDBError{InvalidRequestError, "buffer pool returned non-heap page"}
	}
	if err := hp.deleteTuple(rid); err != nil {
		return err
	}
	hp.setDirty(tid, true)
	f.bufPool.noteDirty(tid, hp)

	f.mu.Lock()
	if rid.pageNo < f.lastEmpty {
		f.lastEmpty = rid.pageNo
	}
	f.mu.Unlock()
	return nil
}

// Iterator returns a function yielding every live tuple in the file, in
// page/slot order, reading pages through the buffer pool (so the
// transaction's SHARED locks are acquired as it scans).
func (f *HeapFile) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	pgNo := 0
	var pgIter func() (*Tuple, error)
	return func() (*Tuple, error) {
		for {
			if pgIter == nil {
				if pgNo >= f.NumPages() {
					return nil, nil
				}
				pg, err := f.bufPool.getPage(tid, f.pageID(pgNo), f, ReadPerm)
				if err != nil {
					return nil, err
				}
				pgIter = pg.(*heapPage).tupleIter()
				pgNo++
			}
			t, err := pgIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				pgIter = nil
				continue
			}
			return t, nil
		}
	}, nil
}

// LoadFromCSV bulk-loads file (fields split on sep) into the heap
// file, one committed transaction per row so the buffer pool never fills
// with uncommitted dirty pages mid-load.
func (f *HeapFile) LoadFromCSV(file *os.File, hasHeader bool, sep string, skipLastField bool) error {
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Split(scanner.Text(), sep)
		if skipLastField {
			fields = fields[:len(fields)-1]
		}
		if line == 1 && hasHeader {
			continue
		}
		if len(fields) != len(f.td.Fields) {
			return GoDBError{MalformedDataError, fmt.Sprintf("line %d: expected %d fields, got %d", line, len(f.td.Fields), len(fields))}
		}

		values := make([]DBValue, 0, len(fields))
		for i, raw := range fields {
			switch f.td.Fields[i].Ftype {
			case IntType:
				v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
				if err != nil {
					return GoDBError{TypeMismatchError, fmt.Sprintf("line %d: %v", line, err)}
				}
				values = append(values, IntField{Value: v})
			case StringType:
				s := raw
				if len(s) > StringLength {
					s = s[:StringLength]
				}
				values = append(values, StringField{Value: s})
			}
		}

		tid := f.bufPool.Begin()
		t := &Tuple{Desc: *f.td, Fields: values}
		if err := f.insertTuple(tid, t); err != nil {
			f.bufPool.transactionComplete(tid, false)
			return err
		}
		if err := f.bufPool.transactionComplete(tid, true); err != nil {
			return err
		}
	}
	return nil
}
