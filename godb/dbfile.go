package godb

// DBFile is the page store's interface: an on-disk container of
// fixed-size pages for one table. HeapFile is the only implementation.
type DBFile interface {
	// readPage reads page pageNo from disk. Called by the buffer pool on
	// a cache miss; never called directly by operators.
	readPage(pageNo int) (Page, error)
	// flushPage writes p's current byte image back to its slot on disk.
	// Called by the buffer pool (directly, or via the log's rollback/redo
	// paths) and by HeapFile when it appends a fresh page, never by
	// operators.
	flushPage(p Page) error
	// NumPages reports how many pages the file currently holds.
	NumPages() int
	// Descriptor reports the TupleDesc tuples in this file conform to.
	Descriptor() *TupleDesc
	// pageID builds the PageID for page pageNo of this file.
	pageID(pageNo int) PageID
	// TableID reports this file's stable table identifier.
	TableID() int32
}
