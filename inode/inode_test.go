package inode

import (
	"bytes"
	"testing"

	"github.com/boljen/go-bitmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/marshal"

	"github.com/tinykern/tinyfs/alloc"
	"github.com/tinykern/tinyfs/bcache"
	"github.com/tinykern/tinyfs/blkdev"
	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/disk"
	"github.com/tinykern/tinyfs/super"
	"github.com/tinykern/tinyfs/wal"
)

// 256 blocks leaves a data region big enough to exercise the indirect
// block.
const diskSize = 256

type inodeState struct {
	sb  *super.FsSuper
	bc  *bcache.Cache
	l   *wal.Log
	tab *Itable
}

func setup(t *testing.T) *inodeState {
	t.Helper()
	d := disk.NewMemDisk(diskSize)
	sb := super.MkFsSuper(diskSize, common.IPB)
	dv := blkdev.MkDevice(d)
	t.Cleanup(dv.Shutdown)
	bc := bcache.MkCache()
	bc.AddDevice(common.ROOTDEV, dv)
	l := wal.MkLog(bc, sb, common.ROOTDEV)
	ba := alloc.MkAlloc(bc, sb)
	tab := MkItable(bc, l, ba, sb)

	op := l.Begin()
	b := bc.Get(common.ROOTDEV, sb.BmapStart)
	bm := bitmap.Bitmap(b.Data)
	for bn := uint64(0); bn < sb.DataStart(); bn++ {
		bm.Set(int(bn), true)
	}
	op.Write(b)
	bc.Release(b)
	op.End()

	return &inodeState{sb: sb, bc: bc, l: l, tab: tab}
}

// allocInode allocates a fresh inode in its own transaction and returns
// it locked.
func allocInode(t *testing.T, s *inodeState, kind uint64) *Inode {
	t.Helper()
	op := s.l.Begin()
	ip, err := s.tab.Alloc(op, common.ROOTDEV, kind)
	require.NoError(t, err)
	ip.Lock()
	op.End()
	return ip
}

// writeAll writes data at off a few blocks per transaction so no single
// operation outgrows the log.
func writeAll(t *testing.T, s *inodeState, ip *Inode, data []byte, off uint64) {
	t.Helper()
	chunk := 3 * disk.BlockSize
	for len(data) > 0 {
		n := uint64(len(data))
		if n > chunk {
			n = chunk
		}
		op := s.l.Begin()
		cnt, err := ip.Write(op, data[:n], off)
		op.End()
		require.NoError(t, err)
		require.Equal(t, n, cnt)
		data = data[n:]
		off += n
	}
}

func onDiskKind(t *testing.T, s *inodeState, inum common.Inum) uint64 {
	t.Helper()
	b := s.bc.Get(common.ROOTDEV, s.sb.InodeBlock(inum))
	defer s.bc.Release(b)
	off := s.sb.InodeOffset(inum)
	dec := marshal.NewDec(b.Data[off : off+8])
	return dec.GetInt()
}

func TestAllocMarksOnDisk(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	defer ip.UnlockPut(nil)

	assert.Equal(t, common.Inum(1), ip.Inum)
	assert.Equal(t, common.TFILE, ip.Kind)
	assert.Equal(t, uint64(0), ip.Size)
	assert.Equal(t, common.TFILE, onDiskKind(t, s, ip.Inum))
}

func TestGetSharesEntries(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	ip.Unlock()

	ip2 := s.tab.Get(common.ROOTDEV, ip.Inum)
	assert.Same(t, ip, ip2)
	assert.Equal(t, uint64(2), ip.refcnt)
	ip2.Put(nil)
	assert.Equal(t, uint64(1), ip.refcnt)
	ip.Put(nil)
}

func TestReadWriteRoundtrip(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	defer ip.UnlockPut(nil)

	// spans three blocks at an unaligned offset
	data := make([]byte, 3000)
	for i := range data {
		data[i] = byte(i)
	}
	writeAll(t, s, ip, data[:100], 0)
	writeAll(t, s, ip, data[100:], 100)
	assert.Equal(t, uint64(3000), ip.Size)

	got := make([]byte, 3000)
	n := ip.Read(got, 0)
	assert.Equal(t, uint64(3000), n)
	assert.True(t, bytes.Equal(data, got))

	// unaligned interior read
	n = ip.Read(got[:1500], 700)
	assert.Equal(t, uint64(1500), n)
	assert.True(t, bytes.Equal(data[700:2200], got[:1500]))
}

func TestReadClipsAtSize(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	defer ip.UnlockPut(nil)

	writeAll(t, s, ip, []byte("hello"), 0)
	p := make([]byte, 100)
	assert.Equal(t, uint64(5), ip.Read(p, 0))
	assert.Equal(t, uint64(2), ip.Read(p, 3))
	assert.Equal(t, uint64(0), ip.Read(p, 5))
	assert.Equal(t, uint64(0), ip.Read(p, 1000))
}

func TestWriteGapRejected(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	defer ip.UnlockPut(nil)

	op := s.l.Begin()
	defer op.End()
	_, err := ip.Write(op, []byte("x"), 1)
	assert.ErrorIs(t, err, common.ErrBadOffset)
}

func TestIndirectBlocks(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	defer ip.UnlockPut(nil)

	// 13 blocks: the last three land in the indirect region
	data := make([]byte, 13*disk.BlockSize)
	for i := range data {
		data[i] = byte(i * 7)
	}
	writeAll(t, s, ip, data, 0)

	assert.NotEqual(t, common.NULLBNUM, ip.Addrs[common.NDIRECT])

	got := make([]byte, len(data))
	assert.Equal(t, uint64(len(data)), ip.Read(got, 0))
	assert.True(t, bytes.Equal(data, got))
}

func TestWriteClipsAtMaxFile(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	defer ip.UnlockPut(nil)

	// white-box: pretend the file is already at its maximum size; the
	// clipped write is a short write, not an error
	ip.Size = common.MAXFILE * disk.BlockSize
	op := s.l.Begin()
	n, err := ip.Write(op, []byte("x"), ip.Size)
	op.End()
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), n)
	ip.Size = 0

	// mapping an out-of-range block is still an error
	_, err = ip.bmap(nil, common.MAXFILE)
	assert.ErrorIs(t, err, common.ErrFileTooLarge)
}

func TestTruncateFreesBlocks(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	defer ip.UnlockPut(nil)

	data := make([]byte, 12*disk.BlockSize)
	writeAll(t, s, ip, data, 0)
	first := ip.Addrs[0]
	require.NotEqual(t, common.NULLBNUM, first)

	op := s.l.Begin()
	ip.Truncate(op)
	op.End()

	assert.Equal(t, uint64(0), ip.Size)
	for _, bn := range ip.Addrs {
		assert.Equal(t, common.NULLBNUM, bn)
	}

	// the freed blocks are allocatable again, starting from the lowest
	op = s.l.Begin()
	bn, err := s.tab.ba.AllocBlock(op, common.ROOTDEV)
	op.End()
	require.NoError(t, err)
	assert.Equal(t, first, bn)
}

func TestPutFreesUnlinkedInode(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	writeAll(t, s, ip, make([]byte, 2*disk.BlockSize), 0)
	inum := ip.Inum
	ip.Unlock()

	// last reference, no links: Put reclaims the disk inode
	ip.Put(nil)
	assert.Equal(t, common.TFREE, onDiskKind(t, s, inum))

	op := s.l.Begin()
	ip2, err := s.tab.Alloc(op, common.ROOTDEV, common.TDIR)
	op.End()
	require.NoError(t, err)
	assert.Equal(t, inum, ip2.Inum)
	ip2.Put(nil)
}

func TestLockLoadsOnce(t *testing.T) {
	s := setup(t)
	ip := allocInode(t, s, common.TFILE)
	writeAll(t, s, ip, []byte("abc"), 0)
	ip.Unlock()

	// a second Get sees the cached fields without a reload
	ip2 := s.tab.Get(common.ROOTDEV, ip.Inum)
	ip2.Lock()
	assert.Equal(t, uint64(3), ip2.Size)
	ip2.UnlockPut(nil)
	ip.Put(nil)
}
