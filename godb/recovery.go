package godb

import "io"

// recovery.go implements the three-pass ARIES-style recovery spec.md §4.5
// names: analysis, redo, undo. It replaces the teacher's single ad hoc
// BufferPool.Recover/Rollback pair with that explicit structure, while
// keeping the same reverse-scan rollback technique for undo.
//
// No compensation log records are written (spec.md §9's open question):
// redo is idempotent because it reapplies a page's exact after-image
// regardless of the page's current contents, and undo is idempotent
// because it reapplies a page's exact before-image the same way, so a
// crash during recovery itself is safe to recover from again from
// scratch.

// rollback undoes every Update record belonging to any transaction in
// tids, scanning backward from the end of the log so a transaction's most
// recent write is undone first. Stops descending past a transaction's own
// Begin record. Used both for a single explicit abort and, with a larger
// set, for crash-recovery's undo pass.
func (lf *LogFile) rollback(tids map[TransactionID]struct{}) error {
	if len(tids) == 0 {
		return lf.seek(0, io.SeekEnd)
	}

	iter, err := lf.ReverseIterator()
	if err != nil {
		return err
	}

	remaining := make(map[TransactionID]struct{}, len(tids))
	for tid := range tids {
		remaining[tid] = struct{}{}
	}

	for len(remaining) > 0 {
		record, err := iter()
		if err != nil {
			return err
		}
		if record == nil {
			break
		}
		if _, wanted := remaining[record.Tid()]; !wanted {
			continue
		}

		switch r := record.Type(); r {
		case BeginRecord:
			delete(remaining, record.Tid())
		case UpdateRecord:
			before := record.(*UpdateLogRecord).Before.(*heapPage)
			pid := before.ID()
			if lf.bufferPool != nil {
				lf.bufferPool.discardPage(pid)
			}
			if err := before.getFile().flushPage(before); err != nil {
				return err
			}
		}
	}

	return lf.seek(0, io.SeekEnd)
}

// Recover runs analysis, redo, and undo against lf and installs it as
// bp's write-ahead log. Safe to call on an empty log (a fresh database)
// and idempotent if called again after a recovery that itself crashed.
// Must be called once at startup, before any transaction begins.
func (bp *BufferPool) Recover(lf *LogFile) error {
	bp.logFile = lf

	ckptOffset, err := lf.LastCheckpoint()
	if err != nil {
		return err
	}
	startAt := int64(headerSize)
	if ckptOffset > 0 {
		startAt = ckptOffset
	}

	losers, committed, redoStart, cleanEnd, err := analysisPass(lf, startAt)
	if err != nil {
		return err
	}
	// Drop any trailing garbage a crash left past the last intact record
	// (e.g. a checkpoint torn mid-write) before undo's reverse scan trusts
	// the literal end of file for its first back-pointer hop.
	if err := lf.truncateTo(cleanEnd); err != nil {
		return err
	}
	if err := redoPass(lf, bp, committed, redoStart); err != nil {
		return err
	}
	if err := undoPass(lf, bp, losers); err != nil {
		return err
	}

	bp.log.Infof("recovery complete: %d loser transaction(s) rolled back", len(losers))
	return lf.LogCheckpoint(bp.ActiveTransactions())
}

// analysisPass scans forward from startAt -- the last checkpoint's offset,
// or just past the header if none exists -- tracking which transactions
// began but never reached a Commit or Abort record ("losers", spec.md's
// liveTxns) and which reached Commit ("committedTxns"). A checkpoint
// record encountered along the way seeds losers with its own active-tid
// list and folds each entry's first-record offset into redoStart, since an
// active transaction may have begun logging earlier than the checkpoint
// itself (spec.md §4.5). cleanEnd is the offset just past the last record
// analysis could fully decode -- everything from there to the physical end
// of file is either nothing, or a crash's torn trailing write, and Recover
// truncates it away before undo's reverse scan runs.
func analysisPass(lf *LogFile, startAt int64) (losers map[TransactionID]struct{}, committed map[TransactionID]struct{}, redoStart int64, cleanEnd int64, err error) {
	if err = lf.seek(startAt, io.SeekStart); err != nil {
		return nil, nil, 0, 0, err
	}

	losers = make(map[TransactionID]struct{})
	committed = make(map[TransactionID]struct{})
	redoStart = startAt
	cleanEnd = startAt

	iter := lf.ForwardIterator()
	for {
		before := lf.offset
		record, rerr := iter()
		if rerr != nil {
			return nil, nil, 0, 0, rerr
		}
		if record == nil {
			cleanEnd = before
			break
		}
		switch r := record.(type) {
		case *CheckpointLogRecord:
			for _, entry := range r.Active {
				losers[entry.Tid] = struct{}{}
				if entry.FirstOffset < redoStart {
					redoStart = entry.FirstOffset
				}
			}
		default:
			switch record.Type() {
			case BeginRecord:
				losers[record.Tid()] = struct{}{}
			case CommitRecord:
				delete(losers, record.Tid())
				committed[record.Tid()] = struct{}{}
			case AbortRecord:
				delete(losers, record.Tid())
			}
		}
	}
	return losers, committed, redoStart, cleanEnd, nil
}

// redoPass replays, forward from redoStart, the after-image of every
// Update record whose tid is in committedTxns (spec.md §4.5): an
// uncommitted transaction's writes are left for undoPass to handle via
// before-images instead, so redo never needs the loser set. Redo is
// idempotent regardless: STEAL may already have flushed a winner's page,
// and reapplying its final bytes is a no-op (spec.md I4, I7).
func redoPass(lf *LogFile, bp *BufferPool, committed map[TransactionID]struct{}, redoStart int64) error {
	if err := lf.seek(redoStart, io.SeekStart); err != nil {
		return err
	}
	iter := lf.ForwardIterator()
	for {
		record, err := iter()
		if err != nil {
			return err
		}
		if record == nil {
			break
		}
		update, ok := record.(*UpdateLogRecord)
		if !ok {
			continue
		}
		if _, ok := committed[update.Tid()]; !ok {
			continue
		}
		after := update.After.(*heapPage)
		bp.discardPage(after.ID())
		if err := after.getFile().flushPage(after); err != nil {
			return err
		}
	}
	return nil
}

// undoPass rolls back every loser transaction's writes, then writes an
// Abort record for each so a subsequent recovery never reconsiders it, and
// clears it from the buffer pool's touched-transaction bookkeeping so it
// no longer reads as "live" (bp.isLiveLocked, bp.ActiveTransactions) once
// recovery completes.
func undoPass(lf *LogFile, bp *BufferPool, losers map[TransactionID]struct{}) error {
	if err := lf.rollback(losers); err != nil {
		return err
	}
	for tid := range losers {
		lf.LogAbort(tid)
		bp.touchedMu.Lock()
		delete(bp.touched, tid)
		bp.touchedMu.Unlock()
	}
	return lf.Force()
}
