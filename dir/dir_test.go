package dir

import (
	"testing"

	"github.com/boljen/go-bitmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykern/tinyfs/alloc"
	"github.com/tinykern/tinyfs/bcache"
	"github.com/tinykern/tinyfs/blkdev"
	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/disk"
	"github.com/tinykern/tinyfs/inode"
	"github.com/tinykern/tinyfs/super"
	"github.com/tinykern/tinyfs/wal"
)

const diskSize = 256

type dirState struct {
	sb  *super.FsSuper
	bc  *bcache.Cache
	l   *wal.Log
	tab *inode.Itable
}

// setup builds the stack and formats a root directory at ROOTINUM.
func setup(t *testing.T) *dirState {
	t.Helper()
	d := disk.NewMemDisk(diskSize)
	sb := super.MkFsSuper(diskSize, 2*common.IPB)
	dv := blkdev.MkDevice(d)
	t.Cleanup(dv.Shutdown)
	bc := bcache.MkCache()
	bc.AddDevice(common.ROOTDEV, dv)
	l := wal.MkLog(bc, sb, common.ROOTDEV)
	ba := alloc.MkAlloc(bc, sb)
	tab := inode.MkItable(bc, l, ba, sb)

	op := l.Begin()
	b := bc.Get(common.ROOTDEV, sb.BmapStart)
	bm := bitmap.Bitmap(b.Data)
	for bn := uint64(0); bn < sb.DataStart(); bn++ {
		bm.Set(int(bn), true)
	}
	op.Write(b)
	bc.Release(b)

	root, err := tab.Alloc(op, common.ROOTDEV, common.TDIR)
	require.NoError(t, err)
	require.Equal(t, common.ROOTINUM, root.Inum)
	root.Lock()
	root.Nlink = 2 // "." and the parent link, which for the root is itself
	require.NoError(t, Link(op, root, ".", root.Inum))
	require.NoError(t, Link(op, root, "..", root.Inum))
	root.Update(op)
	root.UnlockPut(op)
	op.End()

	return &dirState{sb: sb, bc: bc, l: l, tab: tab}
}

// mkDir creates a directory named name under the locked parent dp.
func mkDir(t *testing.T, s *dirState, op *wal.Op, dp *inode.Inode, name string) *inode.Inode {
	t.Helper()
	ip, err := s.tab.Alloc(op, common.ROOTDEV, common.TDIR)
	require.NoError(t, err)
	ip.Lock()
	ip.Nlink = 2
	require.NoError(t, Link(op, ip, ".", ip.Inum))
	require.NoError(t, Link(op, ip, "..", dp.Inum))
	ip.Update(op)
	require.NoError(t, Link(op, dp, name, ip.Inum))
	dp.Nlink++ // the child's ".."
	dp.Update(op)
	return ip
}

// mkFile creates an empty file named name under the locked parent dp and
// returns its inode number.
func mkFile(t *testing.T, s *dirState, op *wal.Op, dp *inode.Inode, name string) common.Inum {
	t.Helper()
	ip, err := s.tab.Alloc(op, common.ROOTDEV, common.TFILE)
	require.NoError(t, err)
	ip.Lock()
	ip.Nlink = 1
	ip.Update(op)
	require.NoError(t, Link(op, dp, name, ip.Inum))
	inum := ip.Inum
	ip.UnlockPut(op)
	return inum
}

func lockedRoot(s *dirState) *inode.Inode {
	root := s.tab.Get(common.ROOTDEV, common.ROOTINUM)
	root.Lock()
	return root
}

func TestLinkLookup(t *testing.T) {
	s := setup(t)
	op := s.l.Begin()
	root := lockedRoot(s)
	inum := mkFile(t, s, op, root, "hello")

	got, off, err := Lookup(root, "hello")
	require.NoError(t, err)
	assert.Equal(t, inum, got)
	assert.Equal(t, 2*common.DIRENTSZ, off)

	_, _, err = Lookup(root, "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)

	root.UnlockPut(op)
	op.End()
}

func TestLinkRejectsDuplicate(t *testing.T) {
	s := setup(t)
	op := s.l.Begin()
	root := lockedRoot(s)
	mkFile(t, s, op, root, "x")
	err := Link(op, root, "x", common.Inum(7))
	assert.ErrorIs(t, err, common.ErrExists)
	root.UnlockPut(op)
	op.End()
}

func TestLinkRejectsLongName(t *testing.T) {
	s := setup(t)
	op := s.l.Begin()
	root := lockedRoot(s)
	long := "abcdefghijklmnopqrstuvwxy" // DIRSIZ+1
	err := Link(op, root, long, common.Inum(7))
	assert.ErrorIs(t, err, common.ErrNameTooLong)
	root.UnlockPut(op)
	op.End()
}

func TestEraseReusesSlot(t *testing.T) {
	s := setup(t)
	op := s.l.Begin()
	root := lockedRoot(s)
	mkFile(t, s, op, root, "a")
	mkFile(t, s, op, root, "b")

	_, off, err := Lookup(root, "a")
	require.NoError(t, err)
	require.NoError(t, Erase(op, root, off))
	_, _, err = Lookup(root, "a")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// the freed slot is reused before the directory grows
	mkFile(t, s, op, root, "c")
	_, off2, err := Lookup(root, "c")
	require.NoError(t, err)
	assert.Equal(t, off, off2)

	root.UnlockPut(op)
	op.End()
}

func TestIsEmpty(t *testing.T) {
	s := setup(t)
	op := s.l.Begin()
	root := lockedRoot(s)
	assert.True(t, IsEmpty(root))
	mkFile(t, s, op, root, "f")
	assert.False(t, IsEmpty(root))
	_, off, err := Lookup(root, "f")
	require.NoError(t, err)
	require.NoError(t, Erase(op, root, off))
	assert.True(t, IsEmpty(root))
	root.UnlockPut(op)
	op.End()
}

func TestNameIWalksTree(t *testing.T) {
	s := setup(t)
	op := s.l.Begin()
	root := lockedRoot(s)
	a := mkDir(t, s, op, root, "a")
	finum := mkFile(t, s, op, a, "b")
	a.UnlockPut(op)
	root.UnlockPut(op)
	op.End()

	ip, err := NameI(s.tab, nil, "/a/b")
	require.NoError(t, err)
	assert.Equal(t, finum, ip.Inum)
	ip.Put(nil)

	// redundant slashes resolve the same way
	ip, err = NameI(s.tab, nil, "//a///b")
	require.NoError(t, err)
	assert.Equal(t, finum, ip.Inum)
	ip.Put(nil)

	ip, err = NameI(s.tab, nil, "/")
	require.NoError(t, err)
	assert.Equal(t, common.ROOTINUM, ip.Inum)
	ip.Put(nil)

	_, err = NameI(s.tab, nil, "/a/missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// a path component that is a file, not a directory
	_, err = NameI(s.tab, nil, "/a/b/c")
	assert.ErrorIs(t, err, common.ErrNotADirectory)
}

func TestNameIParent(t *testing.T) {
	s := setup(t)
	op := s.l.Begin()
	root := lockedRoot(s)
	a := mkDir(t, s, op, root, "a")
	a.UnlockPut(op)
	root.UnlockPut(op)
	op.End()

	dp, name, err := NameIParent(s.tab, nil, "/a/newfile")
	require.NoError(t, err)
	assert.Equal(t, "newfile", name)

	ip, err := NameI(s.tab, nil, "/a")
	require.NoError(t, err)
	assert.Equal(t, ip.Inum, dp.Inum)
	ip.Put(nil)
	dp.Put(nil)

	_, _, err = NameIParent(s.tab, nil, "/")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

// Resolving a full path and resolving its parent plus a final lookup
// must agree.
func TestResolutionEquivalence(t *testing.T) {
	s := setup(t)
	op := s.l.Begin()
	root := lockedRoot(s)
	a := mkDir(t, s, op, root, "a")
	b := mkDir(t, s, op, a, "b")
	mkFile(t, s, op, b, "f")
	b.UnlockPut(op)
	a.UnlockPut(op)
	root.UnlockPut(op)
	op.End()

	path := "/a/b/f"
	ip, err := NameI(s.tab, nil, path)
	require.NoError(t, err)

	dp, name, err := NameIParent(s.tab, nil, path)
	require.NoError(t, err)
	dp.Lock()
	inum, _, err := Lookup(dp, name)
	require.NoError(t, err)
	dp.UnlockPut(nil)

	assert.Equal(t, ip.Inum, inum)
	ip.Put(nil)
}
