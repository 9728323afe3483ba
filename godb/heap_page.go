package godb

import (
	"bytes"
	"sync"
)

// heapPage implements Page for pages of a HeapFile.
//
// The on-disk layout is a slot bitmap followed by a body of fixed-stride
// tuple slots (spec.md §4.1/§6):
//
//	bytes [0, H)          bitmap; bit i set iff slot i is occupied
//	bytes [H, PageSize)    slotCount fixed-width tuple slots
//
// where slotCount = floor((PageSize*8) / (bytesPerTuple*8 + 1)) and
// H = ceil(slotCount/8). Bits in the bitmap's last byte beyond slotCount
// are always 0 and are preserved verbatim on every round trip (the
// round-trip law, spec.md §4.1).
type heapPage struct {
	mu sync.Mutex

	desc      TupleDesc
	pageNo    int
	file      *HeapFile
	slotCount int
	header    int // header length in bytes, ceil(slotCount/8)

	tuples []*Tuple // nil entry means the slot is empty

	dirty       bool
	dirtyBy     TransactionID
	beforeImage *heapPage // snapshot of last-committed (or last-read) bytes
}

func slotCountFor(pageSize, tupleBytes int) int {
	if tupleBytes <= 0 {
		return 0
	}
	return (pageSize * 8) / (tupleBytes*8 + 1)
}

func headerBytesFor(slotCount int) int {
	return (slotCount + 7) / 8
}

// newHeapPage constructs an empty page (all slots free).
func newHeapPage(desc *TupleDesc, pageNo int, f *HeapFile) (*heapPage, error) {
	slotCount := slotCountFor(PageSize, desc.bytesPerTuple())
	hp := &heapPage{
		desc:      *desc,
		pageNo:    pageNo,
		file:      f,
		slotCount: slotCount,
		header:    headerBytesFor(slotCount),
		tuples:    make([]*Tuple, slotCount),
	}
	hp.setBeforeImage()
	return hp, nil
}

func (h *heapPage) ID() PageID {
	return h.file.pageID(h.pageNo)
}

func (h *heapPage) PageNo() int {
	return h.pageNo
}

func (h *heapPage) getNumEmptySlots() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.tuples {
		if t == nil {
			n++
		}
	}
	return n
}

func (h *heapPage) getNumSlots() int {
	return h.slotCount
}

var ErrPageFull = GoDBError{PageFullError, "page is full"}

// insertTuple places t into the first free slot and stamps its record id.
// Per spec.md's open question on post-delete record ids, the RecordId of a
// previously-deleted tuple occupying this slot is never consulted here --
// once a slot is nil it is simply reused.
func (h *heapPage) insertTuple(t *Tuple) (recordID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < h.slotCount; i++ {
		if h.tuples[i] == nil {
			cp := *t
			h.tuples[i] = &cp
			rid := heapFileRid{pageNo: h.pageNo, slotNo: i}
			h.tuples[i].Rid = rid
			return rid, nil
		}
	}
	return nil, ErrPageFull
}

// deleteTuple clears the slot named by rid. The tuple's own Rid field (if
// the caller is holding a *Tuple from an earlier read) is left pointing at
// the now-empty slot, matching the documented GoDB behavior this
// implementation preserves (spec.md §9, "tuple record-id after deletion").
func (h *heapPage) deleteTuple(rid recordID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	hrid, ok := rid.(heapFileRid)
	if !ok {
		return GoDBError{TupleNotFoundError, "supplied rid is not a heapFileRid"}
	}
	if hrid.slotNo < 0 || hrid.slotNo >= h.slotCount {
		return GoDBError{TupleNotFoundError, "slot does not exist"}
	}
	if h.tuples[hrid.slotNo] == nil {
		return GoDBError{TupleNotFoundError, "slot already empty"}
	}
	h.tuples[hrid.slotNo] = nil
	return nil
}

func (h *heapPage) isDirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty
}

func (h *heapPage) dirtier() TransactionID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirtyBy
}

func (h *heapPage) setDirty(tid TransactionID, dirty bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirty = dirty
	if dirty {
		h.dirtyBy = tid
	}
}

func (h *heapPage) getFile() DBFile {
	return h.file
}

// setBeforeImage snapshots the page's current live bytes as a standalone
// heapPage, stored as this page's before-image.
func (h *heapPage) setBeforeImage() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setBeforeImageLocked()
}

func (h *heapPage) getBeforeImage() Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beforeImage
}

// toBuffer serializes the bitmap header followed by slotCount fixed-width
// tuple slots, padding empty slots and the unused tail after the last
// slot with zero bytes so every page is exactly PageSize bytes, and
// preserving the bitmap's trailing padding bits as zero (the round-trip
// law).
func (h *heapPage) toBuffer() (*bytes.Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b := new(bytes.Buffer)
	bitmap := make([]byte, h.header)
	for i, t := range h.tuples {
		if t != nil {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}
	b.Write(bitmap)

	tupleWidth := h.desc.bytesPerTuple()
	zero := make([]byte, tupleWidth)
	for i, t := range h.tuples {
		if t == nil {
			b.Write(zero)
			continue
		}
		if err := t.writeTo(b); err != nil {
			return nil, err
		}
	}
	// Zero-fill the slack after the last slot that the slot count leaves.
	if b.Len() < PageSize {
		b.Write(make([]byte, PageSize-b.Len()))
	}

	if b.Len() != PageSize {
		return nil, GoDBError{MalformedDataError, "serialized page is not PageSize bytes"}
	}
	return b, nil
}

// initFromBuffer decodes a page previously produced by toBuffer.
func (h *heapPage) initFromBuffer(buf *bytes.Buffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bitmap := make([]byte, h.header)
	if _, err := buf.Read(bitmap); err != nil {
		return GoDBError{StorageFaultError, "short read of page bitmap"}
	}

	tupleWidth := h.desc.bytesPerTuple()
	tuples := make([]*Tuple, h.slotCount)
	for i := 0; i < h.slotCount; i++ {
		occupied := bitmap[i/8]&(1<<uint(i%8)) != 0
		raw := make([]byte, tupleWidth)
		if _, err := buf.Read(raw); err != nil {
			return GoDBError{StorageFaultError, "short read of tuple slot"}
		}
		if !occupied {
			continue
		}
		t, err := readTupleFrom(bytes.NewBuffer(raw), &h.desc)
		if err != nil {
			return err
		}
		t.Rid = heapFileRid{pageNo: h.pageNo, slotNo: i}
		tuples[i] = t
	}
	h.tuples = tuples
	h.dirty = false
	h.setBeforeImageLocked()
	return nil
}

// setBeforeImageLocked is setBeforeImage's body for callers already
// holding h.mu.
func (h *heapPage) setBeforeImageLocked() {
	tuples := make([]*Tuple, len(h.tuples))
	for i, t := range h.tuples {
		if t != nil {
			cp := *t
			tuples[i] = &cp
		}
	}
	h.beforeImage = &heapPage{
		desc:      h.desc,
		pageNo:    h.pageNo,
		file:      h.file,
		slotCount: h.slotCount,
		header:    h.header,
		tuples:    tuples,
	}
}

// tupleIter returns a function that yields each live tuple on the page in
// slot order, nil when exhausted.
func (h *heapPage) tupleIter() func() (*Tuple, error) {
	i := 0
	return func() (*Tuple, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i < len(h.tuples) {
			t := h.tuples[i]
			i++
			if t != nil {
				return t, nil
			}
		}
		return nil, nil
	}
}
