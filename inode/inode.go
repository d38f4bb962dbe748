// Package inode implements the inode layer: on-disk inode records, the
// fixed in-memory inode table, block mapping, and byte-granular read,
// write, and truncate.
//
// An in-memory inode goes through a sequence of states:
//
//   - Allocation: an inode is allocated if its on-disk type is non-zero.
//     Alloc allocates; Put frees it once both the link count and the
//     reference count have fallen to zero.
//   - Referencing: a table entry is free if its reference count is zero.
//     Get finds or creates an entry and increments its count; Put
//     decrements it.
//   - Valid: the cached fields (Kind, Size, ...) are only correct after
//     Lock has loaded them from disk; they are authoritative only while
//     the lock is held.
//
// Lock is separate from Get so callers can hold a long-term reference (an
// open file) and lock only for short periods. The separation also avoids
// deadlock during pathname lookup.
package inode

import (
	"sync"

	"github.com/tchajed/marshal"

	"github.com/tinykern/tinyfs/alloc"
	"github.com/tinykern/tinyfs/bcache"
	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/sleeplock"
	"github.com/tinykern/tinyfs/super"
	"github.com/tinykern/tinyfs/util"
	"github.com/tinykern/tinyfs/wal"
)

// Itable is the fixed table of in-memory inodes.
type Itable struct {
	mu     *sync.Mutex
	bc     *bcache.Cache
	l      *wal.Log
	ba     *alloc.Alloc
	sb     *super.FsSuper
	inodes []*Inode
}

// Inode is one table entry: identity plus a cached copy of the on-disk
// record once loaded.
type Inode struct {
	tab    *Itable
	Dev    common.Devnum
	Inum   common.Inum
	refcnt uint64
	valid  bool
	lk     *sleeplock.Lock

	// on-disk fields, authoritative only while lk is held
	Kind  uint64
	Major uint64
	Minor uint64
	Nlink uint64
	Size  uint64
	Addrs []common.Bnum // NDIRECT direct + 1 indirect
}

func MkItable(bc *bcache.Cache, l *wal.Log, ba *alloc.Alloc, sb *super.FsSuper) *Itable {
	tab := &Itable{
		mu:     new(sync.Mutex),
		bc:     bc,
		l:      l,
		ba:     ba,
		sb:     sb,
		inodes: make([]*Inode, common.NINODE),
	}
	for i := range tab.inodes {
		tab.inodes[i] = &Inode{
			tab:   tab,
			lk:    sleeplock.New(),
			Addrs: make([]common.Bnum, common.NDIRECT+1),
		}
	}
	return tab
}

// Get returns the table entry for (dev, inum), incrementing its reference
// count. It does not read the inode from disk and does not lock it. A full
// table is a fatal resource-exhaustion condition.
func (tab *Itable) Get(dev common.Devnum, inum common.Inum) *Inode {
	tab.mu.Lock()
	defer tab.mu.Unlock()

	var empty *Inode
	for _, ip := range tab.inodes {
		if ip.refcnt > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.refcnt++
			return ip
		}
		if empty == nil && ip.refcnt == 0 {
			empty = ip
		}
	}
	if empty == nil {
		panic("itable: no free inode slots")
	}
	empty.Dev = dev
	empty.Inum = inum
	empty.refcnt = 1
	empty.valid = false
	return empty
}

// Alloc allocates a free on-disk inode on dev, marking it with kind and
// zeroing the rest of the record. It returns an unlocked handle with one
// reference, or ErrNoInodes if the inode region is full.
func (tab *Itable) Alloc(op *wal.Op, dev common.Devnum, kind uint64) (*Inode, error) {
	for inum := common.Inum(1); uint64(inum) < tab.sb.Ninodes; inum++ {
		b := tab.bc.Get(dev, tab.sb.InodeBlock(inum))
		off := tab.sb.InodeOffset(inum)
		dec := marshal.NewDec(b.Data[off : off+8])
		if dec.GetInt() != common.TFREE {
			tab.bc.Release(b)
			continue
		}
		// mark it allocated on disk
		enc := marshal.NewEnc(common.INODESZ)
		enc.PutInt(kind)
		copy(b.Data[off:off+common.INODESZ], enc.Finish())
		op.Write(b)
		tab.bc.Release(b)
		util.DPrintf(2, "inode: alloc %d kind %d\n", inum, kind)
		return tab.Get(dev, inum), nil
	}
	return nil, common.ErrNoInodes
}

// Lock acquires ip's lock, loading the on-disk record on first
// acquisition.
func (ip *Inode) Lock() {
	ip.lk.Acquire()
	if !ip.valid {
		b := ip.tab.bc.Get(ip.Dev, ip.tab.sb.InodeBlock(ip.Inum))
		ip.decode(b)
		ip.tab.bc.Release(b)
		ip.valid = true
		if ip.Kind == common.TFREE {
			panic("inode: lock of free inode")
		}
	}
}

func (ip *Inode) Unlock() {
	ip.lk.Release()
}

// Update copies the in-memory record to its on-disk slot through the log.
// It must be called after every change to a field that lives on disk.
func (ip *Inode) Update(op *wal.Op) {
	b := ip.tab.bc.Get(ip.Dev, ip.tab.sb.InodeBlock(ip.Inum))
	ip.encode(b)
	op.Write(b)
	ip.tab.bc.Release(b)
}

// Put drops one reference. If that was the last reference and the inode
// has no links, the inode is truncated and its disk record freed first.
// The deletion path mutates several blocks: it joins op if the caller is
// inside a transaction, and runs its own otherwise (op == nil).
func (ip *Inode) Put(op *wal.Op) {
	tab := ip.tab
	tab.mu.Lock()
	if ip.refcnt == 1 && ip.valid && ip.Nlink == 0 {
		// refcnt == 1 means no one else holds the lock, so this
		// acquire cannot block
		ip.lk.Acquire()
		tab.mu.Unlock()

		ownOp := op == nil
		if ownOp {
			op = tab.l.Begin()
		}
		ip.truncate(op)
		ip.Kind = common.TFREE
		ip.Update(op)
		ip.valid = false
		if ownOp {
			op.End()
		}
		ip.lk.Release()

		tab.mu.Lock()
	}
	if ip.refcnt == 0 {
		panic("inode: put of unreferenced inode")
	}
	ip.refcnt--
	tab.mu.Unlock()
}

// UnlockPut is the common unlock-then-release pair.
func (ip *Inode) UnlockPut(op *wal.Op) {
	ip.Unlock()
	ip.Put(op)
}

func (ip *Inode) decode(b *bcache.Buf) {
	off := ip.tab.sb.InodeOffset(ip.Inum)
	dec := marshal.NewDec(b.Data[off : off+common.INODESZ])
	ip.Kind = dec.GetInt()
	ip.Major = dec.GetInt()
	ip.Minor = dec.GetInt()
	ip.Nlink = dec.GetInt()
	ip.Size = dec.GetInt()
	ip.Addrs = dec.GetInts(common.NDIRECT + 1)
}

func (ip *Inode) encode(b *bcache.Buf) {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt(ip.Kind)
	enc.PutInt(ip.Major)
	enc.PutInt(ip.Minor)
	enc.PutInt(ip.Nlink)
	enc.PutInt(ip.Size)
	enc.PutInts(ip.Addrs)
	off := ip.tab.sb.InodeOffset(ip.Inum)
	copy(b.Data[off:off+common.INODESZ], enc.Finish())
}
