package godb

import (
	"sync"

	boom "github.com/tylertreat/BoomFilters"
)

// BufferPool caches at most capacity pages in memory and mediates every
// page access: it acquires the right page lock, serves cache hits,
// fetches misses from the page store, evicts under STEAL/NO-FORCE when
// full, and drives transaction completion (spec.md §4.3).
type BufferPool struct {
	capacity int

	mu    sync.Mutex // guards cache + lru (they change together)
	cache map[PageID]Page
	lru   []PageID // usage queue; index 0 is the LRU victim

	locksMu sync.Mutex
	locks   map[PageID]*pageLock

	touchedMu sync.Mutex
	touched   map[TransactionID]map[PageID]struct{}

	// flushMu serializes flush/evict/discard against each other: spec.md
	// §4.3 requires these be "mutually exclusive with each other (single
	// critical section per call)".
	flushMu sync.Mutex

	logFile *LogFile
	catalog *Catalog

	log logger

	// thrashGuard is a probabilistic "was this page evicted very
	// recently" signal. It never changes WHICH page is evicted or
	// whether a lookup hits the real cache map (spec.md's LRU eviction is
	// unconditional head-of-queue); a hit only decides whether evictOne
	// frees one extra slot of headroom on top of the page it was already
	// evicting, per evictOne's doc comment.
	thrashGuard *boom.BloomFilter
}

// NewBufferPool creates a buffer pool holding at most capacity pages.
func NewBufferPool(capacity int) (*BufferPool, error) {
	if capacity <= 0 {
		return nil, GoDBError{InvalidRequestError, "buffer pool capacity must be positive"}
	}
	return &BufferPool{
		capacity:    capacity,
		cache:       make(map[PageID]Page),
		locks:       make(map[PageID]*pageLock),
		touched:     make(map[TransactionID]map[PageID]struct{}),
		log:         newLogger("bufferpool"),
		thrashGuard: boom.NewBloomFilter(10000, 0.01),
	}, nil
}

// AttachLog wires the write-ahead log and catalog this pool uses to force
// UPDATE records before flushing dirty pages, and to resolve tableIDs to
// DBFiles for the public InsertTuple/DeleteTuple entry points.
func (bp *BufferPool) AttachLog(lf *LogFile, cat *Catalog) {
	bp.logFile = lf
	bp.catalog = cat
}

// Begin allocates a new TransactionID. spec.md §6 external interface.
func (bp *BufferPool) Begin() TransactionID {
	return NewTID()
}

func (bp *BufferPool) ensureTouched(tid TransactionID) map[PageID]struct{} {
	bp.touchedMu.Lock()
	defer bp.touchedMu.Unlock()
	s, ok := bp.touched[tid]
	if !ok {
		s = make(map[PageID]struct{})
		bp.touched[tid] = s
		// First time this transaction touches a page: record it in the log
		// so an analysis pass started from scratch (no checkpoint to lean
		// on) can recognize it as a potential loser even before its first
		// UPDATE record (spec.md §4.5).
		if bp.logFile != nil {
			bp.logFile.LogBegin(tid)
		}
	}
	return s
}

func (bp *BufferPool) lockFor(pid PageID) *pageLock {
	bp.locksMu.Lock()
	defer bp.locksMu.Unlock()
	l, ok := bp.locks[pid]
	if !ok {
		l = newPageLock()
		bp.locks[pid] = l
	}
	return l
}

// holdsLock reports whether tid currently holds any lock on pid.
// spec.md §6 external interface.
func (bp *BufferPool) holdsLock(tid TransactionID, pid PageID) bool {
	bp.locksMu.Lock()
	l, ok := bp.locks[pid]
	bp.locksMu.Unlock()
	if !ok {
		return false
	}
	return l.holds(tid)
}

// getPage is the internal entry point used by DBFile implementations,
// which already know which file a page belongs to.
func (bp *BufferPool) getPage(tid TransactionID, pid PageID, file DBFile, perm RWPerm) (Page, error) {
	touched := bp.ensureTouched(tid)

	l := bp.lockFor(pid)
	if perm == ReadWritePerm {
		if err := l.acquireExclusive(tid); err != nil {
			return nil, err
		}
	} else {
		// Reentrancy: a shared acquire by a tid that already holds the
		// lock (in any mode) short-circuits, per spec.md §4.3 step 2.
		if !l.holds(tid) {
			if err := l.acquireShared(tid); err != nil {
				return nil, err
			}
		}
	}

	bp.touchedMu.Lock()
	touched[pid] = struct{}{}
	bp.touchedMu.Unlock()

	bp.mu.Lock()
	if pg, ok := bp.cache[pid]; ok {
		bp.touchLRULocked(pid)
		bp.mu.Unlock()
		return pg, nil
	}
	bp.mu.Unlock()

	pg, err := file.readPage(int(pid.PageNo))
	if err != nil {
		return nil, err
	}

	bp.mu.Lock()
	bp.cache[pid] = pg
	bp.touchLRULocked(pid)
	needEvict := len(bp.cache) > bp.capacity
	bp.mu.Unlock()

	if needEvict {
		if err := bp.evictOne(); err != nil {
			return nil, err
		}
	}
	return pg, nil
}

// GetPage is the public entry point named by spec.md §6: getPage(tid, pid,
// perm). It resolves pid's table through the attached catalog.
func (bp *BufferPool) GetPage(tid TransactionID, pid PageID, perm RWPerm) (Page, error) {
	if bp.catalog == nil {
		return nil, GoDBError{InvalidRequestError, "buffer pool has no catalog attached"}
	}
	info, err := bp.catalog.TableByID(pid.TableID)
	if err != nil {
		return nil, err
	}
	return bp.getPage(tid, pid, info.file, perm)
}

// InsertTuple resolves tableID through the catalog and delegates to the
// table's page store, then marks every page the store returns as dirtied
// by tid and re-homes it in the cache at the LRU tail.
func (bp *BufferPool) InsertTuple(tid TransactionID, tableID int32, t *Tuple) error {
	if bp.catalog == nil {
		return GoDBError{InvalidRequestError, "buffer pool has no catalog attached"}
	}
	info, err := bp.catalog.TableByID(tableID)
	if err != nil {
		return err
	}
	hf, ok := info.file.(*HeapFile)
	if !ok {
		return GoDBError{InvalidRequestError, "table is not a heap file"}
	}
	return hf.insertTuple(tid, t)
}

// DeleteTuple resolves tableID through the catalog and delegates to the
// table's page store. Mirrors InsertTuple's shape: the caller names the
// table explicitly rather than the pool inferring it from whatever
// happens to be cached.
func (bp *BufferPool) DeleteTuple(tid TransactionID, tableID int32, t *Tuple) error {
	if bp.catalog == nil {
		return GoDBError{InvalidRequestError, "buffer pool has no catalog attached"}
	}
	info, err := bp.catalog.TableByID(tableID)
	if err != nil {
		return err
	}
	hf, ok := info.file.(*HeapFile)
	if !ok {
		return GoDBError{InvalidRequestError, "table is not a heap file"}
	}
	return hf.deleteTuple(tid, t)
}

// noteDirty re-homes a page HeapFile has just dirtied: ensures it is
// cached under its PageID, refreshes its LRU position, and records it in
// tid's touched set. Called by HeapFile.insertTuple/deleteTuple after
// they mutate a page fetched through getPage.
func (bp *BufferPool) noteDirty(tid TransactionID, pg Page) {
	pid := pg.ID()
	bp.mu.Lock()
	bp.cache[pid] = pg
	bp.touchLRULocked(pid)
	bp.mu.Unlock()

	touched := bp.ensureTouched(tid)
	bp.touchedMu.Lock()
	touched[pid] = struct{}{}
	bp.touchedMu.Unlock()
}

// touchLRULocked moves pid to the tail of the usage queue. Caller holds bp.mu.
func (bp *BufferPool) touchLRULocked(pid PageID) {
	for i, p := range bp.lru {
		if p == pid {
			bp.lru = append(bp.lru[:i], bp.lru[i+1:]...)
			break
		}
	}
	bp.lru = append(bp.lru, pid)
}

// evictOne evicts the head of the LRU usage queue: flushes it (respecting
// WAL) then discards it (spec.md §4.3). Which page this picks is always
// exactly the head -- never reordered, never skipped -- regardless of
// thrashGuard. The one thing thrashGuard's signal changes: when the page
// it just evicted had also been evicted very recently (a thrash pattern --
// the pool is sized so tightly that a page is faulted back in almost as
// soon as it's pushed out), evictOne frees a second slot of headroom by
// evicting the new head too, provided the pool holds at least two pages so
// this never drains a pool down to empty. The extra eviction still picks
// strictly from the head; it only evicts one page more than the minimum.
func (bp *BufferPool) evictOne() error {
	bp.flushMu.Lock()
	defer bp.flushMu.Unlock()

	thrashing, err := bp.evictHeadLocked()
	if err != nil {
		return err
	}

	if thrashing && bp.capacity >= 2 {
		bp.mu.Lock()
		extraCandidate := len(bp.lru) >= 1
		bp.mu.Unlock()
		if extraCandidate {
			bp.log.Warnf("evicted a page shortly after its last eviction; freeing an extra slot of headroom")
			if _, err := bp.evictHeadLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

// evictHeadLocked evicts whatever page currently sits at the LRU head.
// Caller must hold flushMu. Reports whether that page's thrashGuard entry
// was already set, i.e. it had been evicted very recently before this call.
func (bp *BufferPool) evictHeadLocked() (bool, error) {
	bp.mu.Lock()
	if len(bp.lru) == 0 {
		bp.mu.Unlock()
		return false, GoDBError{InvalidRequestError, "evictPage called on an empty buffer pool"}
	}
	victim := bp.lru[0]
	bp.mu.Unlock()

	thrashing := bp.thrashGuard.Test(pageIDKey(victim))
	bp.thrashGuard.Add(pageIDKey(victim))

	if err := bp.flushPageLocked(victim); err != nil {
		return false, err
	}
	bp.discardPageLocked(victim)
	return thrashing, nil
}

func pageIDKey(pid PageID) []byte {
	return []byte{
		byte(pid.TableID), byte(pid.TableID >> 8), byte(pid.TableID >> 16), byte(pid.TableID >> 24),
		byte(pid.PageNo), byte(pid.PageNo >> 8), byte(pid.PageNo >> 16), byte(pid.PageNo >> 24),
	}
}

// flushPage writes a single cached page to disk, first forcing an UPDATE
// log record if the page is dirty and its dirtying transaction is still
// live (spec.md I4, WAL). A flush of a page dirtied by a transaction that
// is no longer live implies that transaction already committed (aborts
// discard pages rather than letting them reach flush), so the log already
// holds its UPDATE and COMMIT records and no new one is written.
func (bp *BufferPool) flushPage(pid PageID) error {
	bp.flushMu.Lock()
	defer bp.flushMu.Unlock()
	return bp.flushPageLocked(pid)
}

func (bp *BufferPool) flushPageLocked(pid PageID) error {
	bp.mu.Lock()
	pg, ok := bp.cache[pid]
	bp.mu.Unlock()
	if !ok || !pg.isDirty() {
		return nil
	}

	dirtyBy := pg.dirtier()
	if bp.logFile != nil && bp.isLiveLocked(dirtyBy) {
		if err := bp.logFile.LogUpdate(dirtyBy, pg.getBeforeImage(), pg); err != nil {
			return err
		}
		if err := bp.logFile.Force(); err != nil {
			return err
		}
	}

	if err := pg.getFile().flushPage(pg); err != nil {
		return err
	}
	pg.setDirty(0, false)
	return nil
}

// isLiveLocked reports whether tid still has an entry in the touched-set
// map, i.e. transactionComplete has not yet run for it.
func (bp *BufferPool) isLiveLocked(tid TransactionID) bool {
	bp.touchedMu.Lock()
	defer bp.touchedMu.Unlock()
	_, ok := bp.touched[tid]
	return ok
}

// discardPage removes pid from the cache and LRU queue without touching
// the lock map, so recovery/rollback can surgically evict a page without
// releasing anyone's locks (spec.md §4.3, Design Notes).
func (bp *BufferPool) discardPage(pid PageID) {
	bp.flushMu.Lock()
	defer bp.flushMu.Unlock()
	bp.discardPageLocked(pid)
}

func (bp *BufferPool) discardPageLocked(pid PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	delete(bp.cache, pid)
	for i, p := range bp.lru {
		if p == pid {
			bp.lru = append(bp.lru[:i], bp.lru[i+1:]...)
			break
		}
	}
}

// releasePage releases tid's lock on pid without completing the
// transaction. Documented as risky (spec.md §6): it breaks strict 2PL for
// that single page, and is intended only for operators that deliberately
// want to downgrade early.
func (bp *BufferPool) releasePage(tid TransactionID, pid PageID) {
	bp.locksMu.Lock()
	l, ok := bp.locks[pid]
	bp.locksMu.Unlock()
	if !ok {
		return
	}
	if emptied := l.release(tid); emptied {
		bp.locksMu.Lock()
		if l2, ok := bp.locks[pid]; ok && l2 == l {
			delete(bp.locks, pid)
		}
		bp.locksMu.Unlock()
	}
}

// flushPages flushes every page tid has touched.
func (bp *BufferPool) flushPages(tid TransactionID) error {
	for pid := range bp.touchedSnapshot(tid) {
		if err := bp.flushPage(pid); err != nil {
			return err
		}
	}
	return nil
}

// flushAllPages flushes every cached page, dirty or not (no-ops on clean
// pages). Primarily a testing/shutdown hook.
func (bp *BufferPool) flushAllPages() error {
	bp.mu.Lock()
	pids := make([]PageID, 0, len(bp.cache))
	for pid := range bp.cache {
		pids = append(pids, pid)
	}
	bp.mu.Unlock()

	for _, pid := range pids {
		if err := bp.flushPage(pid); err != nil {
			return err
		}
	}
	return nil
}

// ActiveTransactions returns every transaction the buffer pool currently
// considers live -- it has touched at least one page and transactionComplete
// has not yet run for it. A CHECKPOINT record must carry exactly this set
// (spec.md §4.4's "the set of currently live txns"); recording anything
// narrower risks a crash losing an in-flight transaction's writes, since
// analysis only treats tids named in the checkpoint (or discovered via a
// later BEGIN record) as losers to undo.
func (bp *BufferPool) ActiveTransactions() []TransactionID {
	bp.touchedMu.Lock()
	defer bp.touchedMu.Unlock()
	out := make([]TransactionID, 0, len(bp.touched))
	for tid := range bp.touched {
		out = append(out, tid)
	}
	return out
}

func (bp *BufferPool) touchedSnapshot(tid TransactionID) map[PageID]struct{} {
	bp.touchedMu.Lock()
	defer bp.touchedMu.Unlock()
	out := make(map[PageID]struct{})
	for pid := range bp.touched[tid] {
		out[pid] = struct{}{}
	}
	return out
}

// transactionComplete ends tid: on commit it forces UPDATE records for
// every page tid dirtied and resets their before-images (NO-FORCE: the
// pages themselves are not written here); on abort it relies on the log's
// rollback to restore before-images and discard pages. Either way every
// lock tid holds is released, with empty locks garbage-collected
// (spec.md I5, I6, P3, P4). Idempotent on repeated calls.
func (bp *BufferPool) transactionComplete(tid TransactionID, commit bool) error {
	pids := bp.touchedSnapshot(tid)

	for pid := range pids {
		bp.mu.Lock()
		pg, cached := bp.cache[pid]
		bp.mu.Unlock()

		if cached && commit {
			if pg.isDirty() && pg.dirtier() == tid {
				if bp.logFile != nil {
					if err := bp.logFile.LogUpdate(tid, pg.getBeforeImage(), pg); err != nil {
						return err
					}
					if err := bp.logFile.Force(); err != nil {
						return err
					}
				}
				pg.setBeforeImage()
			}
		}
		// On abort, nothing page-local is needed here: AbortTransaction
		// (before calling this) or recovery restores before-images to disk
		// and discards the pages.

		bp.releasePage(tid, pid)
	}

	if bp.logFile != nil {
		if commit {
			bp.logFile.LogCommit(tid)
		} else {
			bp.logFile.LogAbort(tid)
		}
		if err := bp.logFile.Force(); err != nil {
			return err
		}
	}

	bp.touchedMu.Lock()
	delete(bp.touched, tid)
	bp.touchedMu.Unlock()
	return nil
}

// AbortTransaction undoes tid's writes and completes it as an abort.
// Every page tid touched is dropped from the cache; a cached page tid
// dirtied first has its before-image written to disk, because under
// NO-FORCE that before-image may hold an earlier transaction's committed
// but not yet flushed changes, which would otherwise be lost with the
// cache entry. The before-image's own UPDATE and COMMIT records were
// forced at that earlier commit, so this write respects WAL. A page that
// WAS evicted mid-transaction has an UPDATE record on disk from the STEAL
// that forced it there, and the log-driven rollback below restores its
// before-image to disk. Either way, nothing of tid's writes is observable
// afterward, and the next reader re-fetches the page from disk.
func (bp *BufferPool) AbortTransaction(tid TransactionID) error {
	for pid := range bp.touchedSnapshot(tid) {
		bp.mu.Lock()
		pg, cached := bp.cache[pid]
		bp.mu.Unlock()
		if cached && pg.isDirty() && pg.dirtier() == tid {
			before := pg.getBeforeImage()
			if err := before.getFile().flushPage(before); err != nil {
				return err
			}
		}
		bp.discardPage(pid)
	}
	if bp.logFile != nil {
		if err := bp.logFile.rollback(map[TransactionID]struct{}{tid: {}}); err != nil {
			return err
		}
	}
	return bp.transactionComplete(tid, false)
}

// CommitTransaction is transactionComplete(tid, true) under the name
// spec.md's "Consumed from collaborators" examples use most often.
func (bp *BufferPool) CommitTransaction(tid TransactionID) error {
	return bp.transactionComplete(tid, true)
}
