package godb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

/*
log_file.go implements the write-ahead log: the durability mechanism
spec.md §4.4 describes. The functions in this file assist with reading and
writing log records to a log file, used to recover the database after a
crash under the STEAL/NO-FORCE policy spec.md §4.3 commits to.

It is the responsibility of the caller (buffer_pool.go) to ensure that
write-ahead-logging and strict two-phase-locking discipline are followed:
this file only knows how to frame and traverse records.

The log file begins with an 8-byte header holding the byte offset of the
most recent CHECKPOINT record (0 if none has been written yet), so
analysis can start there instead of at the beginning of a log that may
span many completed transactions (spec.md §4.5). After the header, the
log is a sequence of variable-length records:

+--------------------------------------------------------+
| Record type (1 byte)                                   |
+--------------------------------------------------------+
| Transaction ID (4 bytes)                                |
+--------------------------------------------------------+
| Record body (variable length)                           |
+--------------------------------------------------------+
| Offset of this record's own header (8 bytes)            |
+--------------------------------------------------------+

The trailing offset is this record's own starting position, so a reverse
scan can jump from record to record in O(1) per hop without an index
(spec.md §4.4). Begin, Commit, and Abort records carry no body. Update
records carry before and after page images, each framed as:

+--------------------------------------------------------+
| Table ID (4 bytes)                                       |
+--------------------------------------------------------+
| Page number (4 bytes)                                    |
+--------------------------------------------------------+
| Page contents (PageSize bytes)                           |
+--------------------------------------------------------+

A Checkpoint record's body is the list of (transaction ID, first-record
offset) pairs for every transaction still active (not yet committed or
aborted) at the moment the checkpoint was taken: analysis uses the offset
list to compute how far back redo must start, since an active txn may
have begun logging before the checkpoint. The checkpoint body is preceded
by a CHECKPOINT_BEGIN marker record with no body of its own, so a forward
scan that runs into a checkpoint write truncated by a crash (marker
present, body absent or short) reads a partial trailing record -- which
ForwardIterator treats the same as a clean end of log -- rather than a
checkpoint analysis can act on.
*/

const headerSize = 8

type LogFile struct {
	mu sync.Mutex // serializes the record-writing methods and Force:
	// transactions log concurrently from whichever goroutine happens to
	// dirty or evict a page. The read/seek helpers and iterators do not
	// take it (beyond the Force they call).

	file       *os.File
	buf        bytes.Buffer
	offset     int64
	bufferPool *BufferPool
	catalog    *Catalog
	log        logger

	// firstOffset tracks, for every transaction with an outstanding
	// BeginRecord (no Commit/Abort yet), the offset of that BeginRecord --
	// the "first-record offset" a CHECKPOINT entry must carry (spec.md
	// §4.4) so a future analysis pass can rewind redo far enough to cover
	// it even though the transaction wasn't done by checkpoint time.
	firstOffset map[TransactionID]int64
}

type LogRecordType int8

const (
	AbortRecord LogRecordType = iota
	CommitRecord
	UpdateRecord
	BeginRecord
	CheckpointRecord
	CheckpointBeginRecord
)

func (t LogRecordType) String() string {
	switch t {
	case AbortRecord:
		return "abort"
	case CommitRecord:
		return "commit"
	case UpdateRecord:
		return "update"
	case BeginRecord:
		return "begin"
	case CheckpointRecord:
		return "checkpoint"
	case CheckpointBeginRecord:
		return "checkpoint-begin"
	default:
		return "unknown"
	}
}

// NewLogFile opens (or creates) fileName as a write-ahead log backing
// bufferPool, resolving page tableIDs through catalog.
func NewLogFile(fileName string, bufferPool *BufferPool, catalog *Catalog) (*LogFile, error) {
	if bufferPool == nil || catalog == nil {
		return nil, fmt.Errorf("bufferPool and catalog must be non-nil")
	}
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	lf := &LogFile{
		file:        file,
		bufferPool:  bufferPool,
		catalog:     catalog,
		log:         newLogger("logfile"),
		firstOffset: make(map[TransactionID]int64),
	}

	fi, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		if _, err := file.WriteAt(make([]byte, headerSize), 0); err != nil {
			return nil, err
		}
		lf.offset = headerSize
		return lf, nil
	}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	end, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	lf.offset = end
	return lf, nil
}

// LastCheckpoint reads the header's checkpoint-offset pointer.
func (w *LogFile) LastCheckpoint() (int64, error) {
	buf := make([]byte, headerSize)
	if _, err := w.file.ReadAt(buf, 0); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func (w *LogFile) setLastCheckpoint(offset int64) error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf, uint64(offset))
	_, err := w.file.WriteAt(buf, 0)
	return err
}

func (w *LogFile) write(data any) {
	binary.Write(&w.buf, binary.LittleEndian, data)
	size := int64(binary.Size(data))
	w.offset += size
}

// Force flushes buffered writes to disk. Safe to call concurrently with
// LogBegin/LogUpdate/LogCommit/LogAbort/LogCheckpoint.
func (w *LogFile) Force() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.forceLocked()
}

// forceLocked is Force's body for callers that already hold w.mu (the
// record-writing methods, which force as their last step).
func (w *LogFile) forceLocked() error {
	if w.buf.Len() == 0 {
		return nil
	}
	if _, err := w.file.WriteAt(w.buf.Bytes(), w.offset-int64(w.buf.Len())); err != nil {
		return err
	}
	w.buf.Reset()
	return w.file.Sync()
}

// truncateTo discards everything at or after offset. Recovery's analysis
// pass calls this once it has found the true end of intact log records, so
// a crash that left trailing garbage after a torn write (e.g. a checkpoint
// that died mid-body) can't later fool ReverseIterator: its back-pointer
// hop trusts the literal end of file, which a forward scan's tolerant
// truncated-record handling otherwise never removes.
func (w *LogFile) truncateTo(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	newOffset, err := w.file.Seek(offset, io.SeekStart)
	if err != nil {
		return err
	}
	w.offset = newOffset
	return nil
}

func (f *LogFile) seek(offset int64, whence int) error {
	if err := f.Force(); err != nil {
		return err
	}
	newOffset, err := f.file.Seek(offset, whence)
	if err != nil {
		return fmt.Errorf("invalid seek (%d, %d): %w", offset, whence, err)
	}
	f.offset = newOffset
	return nil
}

func (f *LogFile) read(data any) error {
	if err := f.Force(); err != nil {
		return err
	}
	if err := binary.Read(f.file, binary.LittleEndian, data); err != nil {
		return err
	}
	f.offset += int64(binary.Size(data))
	return nil
}

func (w *LogFile) readTransactionID(tid *TransactionID) error {
	var v int32
	if err := w.read(&v); err != nil {
		return err
	}
	*tid = TransactionID(v)
	return nil
}

func (w *LogFile) writeHeader(typ LogRecordType, tid TransactionID) {
	w.write(int8(typ))
	w.write(int32(tid))
}

func (w *LogFile) writeFooter(offset int64) {
	w.write(offset)
}

// readPage decodes one page image: tableID, page number, then PageSize
// raw bytes, resolving the owning HeapFile through the catalog so the
// bytes can be parsed against the right TupleDesc.
func (w *LogFile) readPage() (Page, error) {
	var tableID int32
	if err := w.read(&tableID); err != nil {
		return nil, err
	}
	var pageNo int32
	if err := w.read(&pageNo); err != nil {
		return nil, err
	}
	info, err := w.catalog.GetTableInfoId(int(tableID))
	if err != nil {
		return nil, err
	}
	hf, ok := info.File().(*HeapFile)
	if !ok {
		return nil, GoDBError{InvalidRequestError, "logged page does not belong to a heap file"}
	}
	pg, err := newHeapPage(hf.Descriptor(), int(pageNo), hf)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, PageSize)
	if err := w.read(buf); err != nil {
		return nil, err
	}
	if err := pg.initFromBuffer(bytes.NewBuffer(buf)); err != nil {
		return nil, err
	}
	return pg, nil
}

// writePage encodes a page image using its PageID: tableID, page number,
// then its current bytes (spec.md §6's on-the-wire PageID format).
func (w *LogFile) writePage(page Page) error {
	p, ok := page.(*heapPage)
	if !ok {
		return fmt.Errorf("unsupported page type: %T", page)
	}
	pid := p.ID()
	w.write(pid.TableID)
	w.write(pid.PageNo)
	buf, err := p.toBuffer()
	if err != nil {
		return err
	}
	w.write(buf.Bytes())
	return nil
}

func (w *LogFile) LogAbort(tid TransactionID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := w.offset
	w.writeHeader(AbortRecord, tid)
	w.write(offset)
	delete(w.firstOffset, tid)
}

func (w *LogFile) LogCommit(tid TransactionID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := w.offset
	w.writeHeader(CommitRecord, tid)
	w.write(offset)
	delete(w.firstOffset, tid)
}

// LogUpdate writes an Update record recording tid's before and after page
// images. Does not force the log to disk -- callers must Force before the
// corresponding page is allowed to reach disk (spec.md I4).
func (w *LogFile) LogUpdate(tid TransactionID, before Page, after Page) error {
	if before == nil || after == nil {
		return fmt.Errorf("before and after images must be non-nil")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := w.offset
	w.writeHeader(UpdateRecord, tid)
	if err := w.writePage(before); err != nil {
		return err
	}
	if err := w.writePage(after); err != nil {
		return err
	}
	w.write(offset)
	return nil
}

func (w *LogFile) LogBegin(tid TransactionID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	offset := w.offset
	w.writeHeader(BeginRecord, tid)
	w.writeFooter(offset)
	w.firstOffset[tid] = offset
}

// LogCheckpoint writes a Checkpoint record listing the transactions still
// active at this instant together with each one's first-record offset
// (spec.md §4.4's `CHECKPOINT(list of (tid, firstRecordOffset))`), then
// updates the header to point at it so a future analysis pass can start
// here -- rewound to the earliest of those offsets when computing
// redoStart -- instead of at the log's beginning (spec.md §4.5). The
// record body is preceded by a CHECKPOINT_BEGIN marker so a forward scan
// that hits a checkpoint write truncated by a crash reads a partial
// trailing record instead of a usable one.
func (w *LogFile) LogCheckpoint(active []TransactionID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	beginOffset := w.offset
	w.writeHeader(CheckpointBeginRecord, 0)
	w.writeFooter(beginOffset)

	offset := w.offset
	w.writeHeader(CheckpointRecord, 0)
	w.write(int32(len(active)))
	for _, tid := range active {
		firstOffset, ok := w.firstOffset[tid]
		if !ok {
			// Every active tid should already have a BeginRecord by the
			// time it can be reported as active; fall back to the
			// checkpoint's own offset so redoStart never rewinds past
			// data this tid could plausibly need.
			firstOffset = offset
		}
		w.write(int32(tid))
		w.write(firstOffset)
	}
	w.write(offset)
	if err := w.forceLocked(); err != nil {
		return err
	}
	return w.setLastCheckpoint(offset)
}

type LogRecord interface {
	Offset() int64
	Type() LogRecordType
	Tid() TransactionID
}

type GenericLogRecord struct {
	offset int64
	typ    LogRecordType
	tid    TransactionID
}

func (r GenericLogRecord) Offset() int64         { return r.offset }
func (r GenericLogRecord) Type() LogRecordType   { return r.typ }
func (r GenericLogRecord) Tid() TransactionID    { return r.tid }

type UpdateLogRecord struct {
	GenericLogRecord
	Before Page
	After  Page
}

// CheckpointEntry is one (tid, firstRecordOffset) pair in a checkpoint's
// active-transaction list (spec.md §4.4).
type CheckpointEntry struct {
	Tid         TransactionID
	FirstOffset int64
}

type CheckpointLogRecord struct {
	GenericLogRecord
	Active []CheckpointEntry
}

// ForwardIterator returns a function yielding each record from the
// current offset onward, or nil,nil at a clean end-of-file -- which
// includes a trailing record truncated mid-write by a crash (spec.md's
// CHECKPOINT_BEGIN marker exists precisely so a checkpoint write that
// crashes after the marker but before its body lands here instead of
// surfacing a hard error).
func (f *LogFile) ForwardIterator() func() (LogRecord, error) {
	partial := func(msg string, err error) (LogRecord, error) {
		f.log.Warnf("truncated %s at offset %d (likely a crash mid-write): %v", msg, f.offset, err)
		return nil, nil
	}

	return func() (LogRecord, error) {
		var record GenericLogRecord
		var ret LogRecord = &record
		record.offset = f.offset

		err := f.read(&record.typ)
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return partial("record type", err)
		}

		if err := f.readTransactionID(&record.tid); err != nil {
			return partial("transaction id", err)
		}

		switch record.Type() {
		case UpdateRecord:
			var update UpdateLogRecord
			update.GenericLogRecord = record
			var err error
			if update.Before, err = f.readPage(); err != nil {
				return partial("before page", err)
			}
			if update.After, err = f.readPage(); err != nil {
				return partial("after page", err)
			}
			ret = &update
		case CheckpointRecord:
			var ckpt CheckpointLogRecord
			ckpt.GenericLogRecord = record
			var n int32
			if err := f.read(&n); err != nil {
				return partial("checkpoint count", err)
			}
			for i := int32(0); i < n; i++ {
				var tid int32
				if err := f.read(&tid); err != nil {
					return partial("checkpoint tid", err)
				}
				var firstOffset int64
				if err := f.read(&firstOffset); err != nil {
					return partial("checkpoint offset", err)
				}
				ckpt.Active = append(ckpt.Active, CheckpointEntry{TransactionID(tid), firstOffset})
			}
			ret = &ckpt
		}

		var recordOffset int64
		if err := f.read(&recordOffset); err != nil || recordOffset != record.offset {
			return partial("offset", err)
		}
		return ret, nil
	}
}

// ReverseIterator yields records backward from the current end of the
// file, using each record's trailing self-offset to hop directly to its
// start (O(1) per hop, no index needed -- spec.md §4.4).
func (f *LogFile) ReverseIterator() (func() (LogRecord, error), error) {
	if err := f.seek(0, io.SeekEnd); err != nil {
		return nil, err
	}

	return func() (LogRecord, error) {
		if f.offset <= headerSize {
			return nil, nil
		}

		var offset int64
		if err := f.seek(-8, io.SeekCurrent); err != nil {
			return nil, err
		}
		if err := f.read(&offset); err != nil {
			return nil, err
		}
		if err := f.seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
		record, err := f.ForwardIterator()()
		if err != nil {
			return nil, err
		}
		if err := f.seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
		return record, nil
	}, nil
}

// OutputPrettyLog writes a human-readable trace of every record to the
// component logger, restoring the file's prior read/write position
// afterward.
func (f *LogFile) OutputPrettyLog() error {
	oldPos := f.offset
	defer f.seek(oldPos, io.SeekStart)

	if err := f.seek(headerSize, io.SeekStart); err != nil {
		return err
	}

	iter := f.ForwardIterator()
	for {
		pos := f.offset
		record, err := iter()
		if err != nil {
			return err
		}
		if record == nil {
			break
		}
		switch r := record.(type) {
		case *UpdateLogRecord:
			f.log.Infof("%d update tid=%d page=%v", pos, r.Tid(), r.Before.(*heapPage).ID())
		case *CheckpointLogRecord:
			f.log.Infof("%d checkpoint active=%v", pos, r.Active)
		default:
			f.log.Infof("%d %s tid=%d", pos, record.Type().String(), record.Tid())
		}
	}
	return nil
}
