// Package wal groups block modifications into atomic, crash-recoverable
// transactions.
//
// The on-disk log is a header block holding the count and destination block
// numbers of the current transaction, followed by the logged block images:
//
//	header block, containing block #s for block A, B, C, ...
//	block A
//	block B
//	block C
//	...
//
// A caller brackets a multi-block mutation with Begin/End. End commits on
// behalf of every operation batched since the last commit (group commit):
// log body first, then the header write -- the durability boundary -- then
// installation to the home locations, then a zero header marking the log
// free. Recovery at mount replays a committed-but-not-installed transaction
// exactly once and is idempotent.
package wal

import (
	"sync"

	"github.com/tchajed/marshal"

	"github.com/tinykern/tinyfs/bcache"
	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/super"
	"github.com/tinykern/tinyfs/util"
)

type Log struct {
	mu   *sync.Mutex
	cond *sync.Cond
	bc   *bcache.Cache
	dev  common.Devnum
	sb   *super.FsSuper

	outstanding uint64 // operations between Begin and End
	committing  bool
	bnums       []common.Bnum // destinations of the active transaction
}

// MkLog recovers the log on dev and returns it ready for use. It must run
// before any other file-system operation at mount.
func MkLog(bc *bcache.Cache, sb *super.FsSuper, dev common.Devnum) *Log {
	mu := new(sync.Mutex)
	l := &Log{
		mu:    mu,
		cond:  sync.NewCond(mu),
		bc:    bc,
		dev:   dev,
		sb:    sb,
		bnums: make([]common.Bnum, 0, common.LOGBLOCKS),
	}
	l.recover()
	return l
}

// Op is one outstanding operation's handle on the active transaction.
type Op struct {
	l    *Log
	done bool
}

// Begin registers the caller as an outstanding operation. It blocks while a
// commit is in progress, or while admitting this operation's worst-case
// footprint would overcommit the log.
func (l *Log) Begin() *Op {
	l.mu.Lock()
	for {
		if l.committing {
			l.cond.Wait()
			continue
		}
		if uint64(len(l.bnums))+(l.outstanding+1)*common.MAXOPBLOCKS > common.LOGBLOCKS {
			l.cond.Wait()
			continue
		}
		l.outstanding++
		break
	}
	l.mu.Unlock()
	return &Op{l: l}
}

// Write records b's block in the active transaction and pins it in the
// cache until installed. Writing the same block twice logs it once, with
// the latest content (absorption). The caller must hold b and must be
// between Begin and End.
func (op *Op) Write(b *bcache.Buf) {
	l := op.l
	l.mu.Lock()
	if op.done {
		panic("wal: write after End")
	}
	if l.outstanding == 0 {
		panic("wal: write outside of operation")
	}
	if uint64(len(l.bnums)) >= common.LOGBLOCKS {
		panic("wal: transaction too big")
	}
	absorbed := false
	for _, bn := range l.bnums {
		if bn == b.Bnum {
			absorbed = true
			break
		}
	}
	if !absorbed {
		l.bnums = append(l.bnums, b.Bnum)
		l.bc.Pin(b)
	}
	util.DPrintf(5, "wal: write %d absorbed=%v n=%d\n", b.Bnum, absorbed, len(l.bnums))
	l.mu.Unlock()
}

// End retires the operation. The last outstanding operation commits the
// whole batch.
func (op *Op) End() {
	l := op.l
	var doCommit bool
	l.mu.Lock()
	if op.done {
		panic("wal: End twice")
	}
	op.done = true
	if l.committing {
		panic("wal: End during commit")
	}
	l.outstanding--
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		// Begin may be waiting for log space and this operation's
		// reservation has been returned.
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	if doCommit {
		// committing excludes all log access; no locks held across I/O
		l.commit()
		l.mu.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

func (l *Log) commit() {
	if len(l.bnums) == 0 {
		return
	}
	util.DPrintf(1, "wal: commit %d blocks\n", len(l.bnums))
	l.writeBody(l.bnums)
	l.writeHead(l.bnums) // the real commit point
	l.installTrans(l.bnums, false)
	l.bnums = l.bnums[:0]
	l.writeHead(l.bnums) // erase the transaction from the log
}

// writeBody copies each modified, absorbed block from the cache into the
// log's disk region.
func (l *Log) writeBody(bnums []common.Bnum) {
	for i, bn := range bnums {
		from := l.bc.Get(l.dev, bn)
		to := l.bc.Get(l.dev, l.sb.LogBody(uint64(i)))
		copy(to.Data, from.Data)
		l.bc.Write(to)
		l.bc.Release(to)
		l.bc.Release(from)
	}
	l.bc.Barrier(l.dev)
}

// writeHead writes the log header recording bnums. Once this lands the
// transaction is guaranteed recoverable.
func (l *Log) writeHead(bnums []common.Bnum) {
	addrs := make([]uint64, common.LOGBLOCKS)
	for i, bn := range bnums {
		addrs[i] = bn
	}
	enc := marshal.NewEnc(common.BlockSize)
	enc.PutInt(uint64(len(bnums)))
	enc.PutInts(addrs)

	b := l.bc.Get(l.dev, l.sb.LogHead())
	copy(b.Data, enc.Finish())
	l.bc.Write(b)
	l.bc.Release(b)
	l.bc.Barrier(l.dev)
}

func (l *Log) readHead() []common.Bnum {
	b := l.bc.Get(l.dev, l.sb.LogHead())
	dec := marshal.NewDec(b.Data)
	n := dec.GetInt()
	addrs := dec.GetInts(common.LOGBLOCKS)
	l.bc.Release(b)
	return addrs[:n]
}

// installTrans copies each logged block from the log region to its home
// location.
func (l *Log) installTrans(bnums []common.Bnum, recovering bool) {
	for i, bn := range bnums {
		from := l.bc.Get(l.dev, l.sb.LogBody(uint64(i)))
		to := l.bc.Get(l.dev, bn)
		copy(to.Data, from.Data)
		l.bc.Write(to)
		if !recovering {
			l.bc.Unpin(to)
		}
		l.bc.Release(to)
		l.bc.Release(from)
	}
	l.bc.Barrier(l.dev)
}

// recover installs a committed-but-not-installed transaction, if the header
// records one, then clears the header. Re-running it is a no-op.
func (l *Log) recover() {
	bnums := l.readHead()
	if len(bnums) == 0 {
		return
	}
	util.DPrintf(1, "wal: recover %d blocks\n", len(bnums))
	l.installTrans(bnums, true)
	l.writeHead(nil)
}
