package fs

import (
	"fmt"

	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/dir"
	"github.com/tinykern/tinyfs/disk"
	"github.com/tinykern/tinyfs/inode"
	"github.com/tinykern/tinyfs/util"
	"github.com/tinykern/tinyfs/wal"
)

// writeChunk bounds how much file content one transaction touches, so a
// single WriteFile cannot outgrow the log.
const writeChunk = 3 * disk.BlockSize

// Stat describes an inode.
type Stat struct {
	Inum  common.Inum
	Kind  uint64
	Nlink uint64
	Size  uint64
	Major uint64
	Minor uint64
}

// create makes a new inode of the given kind linked at path, returning
// it locked. Creating a file over an existing file (or device) returns
// the existing inode; any other collision is ErrExists.
func (fsys *FileSys) create(op *wal.Op, path string, kind, major, minor uint64) (*inode.Inode, error) {
	dp, name, err := dir.NameIParent(fsys.tab, op, path)
	if err != nil {
		return nil, err
	}
	dp.Lock()

	if inum, _, err := dir.Lookup(dp, name); err == nil {
		dp.UnlockPut(op)
		ip := fsys.tab.Get(common.ROOTDEV, inum)
		ip.Lock()
		if kind == common.TFILE && (ip.Kind == common.TFILE || ip.Kind == common.TDEV) {
			return ip, nil
		}
		ip.UnlockPut(op)
		return nil, common.ErrExists
	}

	ip, err := fsys.tab.Alloc(op, common.ROOTDEV, kind)
	if err != nil {
		dp.UnlockPut(op)
		return nil, err
	}
	ip.Lock()
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	ip.Update(op)

	// roll the new inode back on any link failure (a full directory
	// block or no free data block); its blocks are reclaimed on Put
	undo := func(err error) (*inode.Inode, error) {
		ip.Nlink = 0
		ip.Update(op)
		ip.UnlockPut(op)
		dp.UnlockPut(op)
		return nil, err
	}

	if kind == common.TDIR {
		// no Nlink++ for ".": avoids a cyclic count on the new dir
		if err := dir.Link(op, ip, ".", ip.Inum); err != nil {
			return undo(err)
		}
		if err := dir.Link(op, ip, "..", dp.Inum); err != nil {
			return undo(err)
		}
	}

	if err := dir.Link(op, dp, name, ip.Inum); err != nil {
		return undo(err)
	}
	if kind == common.TDIR {
		dp.Nlink++ // the child's ".."
		dp.Update(op)
	}
	dp.UnlockPut(op)
	util.DPrintf(1, "fs: create %q kind %d inum %d\n", path, kind, ip.Inum)
	return ip, nil
}

// Create makes an empty regular file at path. Creating over an existing
// regular file succeeds and leaves it unchanged.
func (fsys *FileSys) Create(path string) error {
	op := fsys.Begin()
	defer op.End()
	ip, err := fsys.create(op, path, common.TFILE, 0, 0)
	if err != nil {
		return err
	}
	ip.UnlockPut(op)
	return nil
}

// MkDir makes a directory at path, with "." and ".." entries.
func (fsys *FileSys) MkDir(path string) error {
	op := fsys.Begin()
	defer op.End()
	ip, err := fsys.create(op, path, common.TDIR, 0, 0)
	if err != nil {
		return err
	}
	ip.UnlockPut(op)
	return nil
}

// MkDev makes a device node at path with the given device numbers.
func (fsys *FileSys) MkDev(path string, major, minor uint64) error {
	op := fsys.Begin()
	defer op.End()
	ip, err := fsys.create(op, path, common.TDEV, major, minor)
	if err != nil {
		return err
	}
	ip.UnlockPut(op)
	return nil
}

// Link makes newpath a new name for the inode at oldpath. Directories
// cannot be linked.
func (fsys *FileSys) Link(oldpath, newpath string) error {
	op := fsys.Begin()
	defer op.End()

	ip, err := dir.NameI(fsys.tab, op, oldpath)
	if err != nil {
		return err
	}
	ip.Lock()
	if ip.Kind == common.TDIR {
		ip.UnlockPut(op)
		return common.ErrIsADirectory
	}
	ip.Nlink++
	ip.Update(op)
	ip.Unlock()

	dp, name, err := dir.NameIParent(fsys.tab, op, newpath)
	if err == nil {
		dp.Lock()
		err = dir.Link(op, dp, name, ip.Inum)
		dp.UnlockPut(op)
	}
	if err != nil {
		ip.Lock()
		ip.Nlink--
		ip.Update(op)
		ip.UnlockPut(op)
		return err
	}
	ip.Put(op)
	return nil
}

// Unlink removes the directory entry at path. The inode itself is freed
// once its last name and last reference are gone; a directory must be
// empty.
func (fsys *FileSys) Unlink(path string) error {
	op := fsys.Begin()
	defer op.End()

	dp, name, err := dir.NameIParent(fsys.tab, op, path)
	if err != nil {
		return err
	}
	dp.Lock()
	if name == "." || name == ".." {
		dp.UnlockPut(op)
		return fmt.Errorf("unlink: cannot unlink %q", name)
	}

	inum, off, err := dir.Lookup(dp, name)
	if err != nil {
		dp.UnlockPut(op)
		return err
	}
	ip := fsys.tab.Get(common.ROOTDEV, inum)
	ip.Lock()
	if ip.Nlink < 1 {
		panic("fs: unlink of inode with no links")
	}
	if ip.Kind == common.TDIR && !dir.IsEmpty(ip) {
		ip.UnlockPut(op)
		dp.UnlockPut(op)
		return common.ErrNotEmpty
	}

	if err := dir.Erase(op, dp, off); err != nil {
		panic("fs: erasing an entry never allocates")
	}
	if ip.Kind == common.TDIR {
		dp.Nlink-- // the child's ".." is gone
		dp.Update(op)
	}
	dp.UnlockPut(op)

	ip.Nlink--
	ip.Update(op)
	ip.UnlockPut(op)
	util.DPrintf(1, "fs: unlink %q inum %d\n", path, inum)
	return nil
}

// ReadFile reads up to n bytes at offset off from the file at path.
// Reads past end of file return a short (possibly empty) slice.
func (fsys *FileSys) ReadFile(path string, off, n uint64) ([]byte, error) {
	ip, err := dir.NameI(fsys.tab, nil, path)
	if err != nil {
		return nil, err
	}
	ip.Lock()
	if ip.Kind == common.TDIR {
		ip.UnlockPut(nil)
		return nil, common.ErrIsADirectory
	}
	p := make([]byte, n)
	cnt := ip.Read(p, off)
	ip.UnlockPut(nil)
	return p[:cnt], nil
}

// WriteFile writes data to the file at path starting at off, which must
// not exceed the file's current size. Each few blocks commit as their
// own transaction, so a crash mid-write can leave a prefix of the data
// but never a torn block.
func (fsys *FileSys) WriteFile(path string, data []byte, off uint64) (uint64, error) {
	ip, err := dir.NameI(fsys.tab, nil, path)
	if err != nil {
		return 0, err
	}

	// lock order: the op before the inode lock, every chunk. Parking in
	// Begin for log space while holding a sleep-lock would stall an
	// admitted operation that needs this inode, and with it the commit
	// that frees the space.
	written := uint64(0)
	for written < uint64(len(data)) {
		n := uint64(len(data)) - written
		if n > writeChunk {
			n = writeChunk
		}
		op := fsys.Begin()
		ip.Lock()
		if ip.Kind == common.TDIR {
			ip.Unlock()
			op.End()
			ip.Put(nil)
			return written, common.ErrIsADirectory
		}
		cnt, werr := ip.Write(op, data[written:written+n], off+written)
		ip.Unlock()
		op.End()
		written += cnt
		if werr != nil {
			ip.Put(nil)
			return written, werr
		}
		if cnt < n {
			// clipped at the maximum file size
			break
		}
	}
	ip.Put(nil)
	return written, nil
}

// Truncate discards the contents of the file at path.
func (fsys *FileSys) Truncate(path string) error {
	op := fsys.Begin()
	defer op.End()
	ip, err := dir.NameI(fsys.tab, op, path)
	if err != nil {
		return err
	}
	ip.Lock()
	if ip.Kind == common.TDIR {
		ip.UnlockPut(op)
		return common.ErrIsADirectory
	}
	ip.Truncate(op)
	ip.UnlockPut(op)
	return nil
}

// Stat reports metadata for the inode at path.
func (fsys *FileSys) Stat(path string) (Stat, error) {
	ip, err := dir.NameI(fsys.tab, nil, path)
	if err != nil {
		return Stat{}, err
	}
	ip.Lock()
	st := Stat{
		Inum:  ip.Inum,
		Kind:  ip.Kind,
		Nlink: ip.Nlink,
		Size:  ip.Size,
		Major: ip.Major,
		Minor: ip.Minor,
	}
	ip.UnlockPut(nil)
	return st, nil
}

// ReadDir lists the entries of the directory at path, including "." and
// "..".
func (fsys *FileSys) ReadDir(path string) ([]dir.Dirent, error) {
	ip, err := dir.NameI(fsys.tab, nil, path)
	if err != nil {
		return nil, err
	}
	ip.Lock()
	if ip.Kind != common.TDIR {
		ip.UnlockPut(nil)
		return nil, common.ErrNotADirectory
	}
	ents := dir.Entries(ip)
	ip.UnlockPut(nil)
	return ents, nil
}
