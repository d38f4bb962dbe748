// Package fs assembles the block device, buffer cache, write-ahead log,
// allocators, and inode table into a mountable file system, and exposes
// syscall-flavored operations over pathnames.
package fs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/tinykern/tinyfs/alloc"
	"github.com/tinykern/tinyfs/bcache"
	"github.com/tinykern/tinyfs/blkdev"
	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/disk"
	"github.com/tinykern/tinyfs/inode"
	"github.com/tinykern/tinyfs/super"
	"github.com/tinykern/tinyfs/util"
	"github.com/tinykern/tinyfs/wal"
)

// FileSys is a mounted file system.
type FileSys struct {
	d   disk.Disk
	dv  *blkdev.Device
	bc  *bcache.Cache
	sb  *super.FsSuper
	log *wal.Log
	ba  *alloc.Alloc
	tab *inode.Itable
}

// Mount reads and validates the superblock on d, replays any committed
// log records, and returns a ready file system. Mounting after a crash
// is the recovery path; it needs no separate mode.
func Mount(d disk.Disk) (*FileSys, error) {
	dv := blkdev.MkDevice(d)
	bc := bcache.MkCache()
	bc.AddDevice(common.ROOTDEV, dv)

	b := bc.Get(common.ROOTDEV, super.SUPERBLOCK)
	sb, err := super.Decode(b.Data)
	bc.Release(b)
	if err != nil {
		dv.Shutdown()
		return nil, fmt.Errorf("mount: %w", err)
	}
	if sz, err := d.Size(); err != nil {
		dv.Shutdown()
		return nil, fmt.Errorf("mount: %w", err)
	} else if sz < sb.Size {
		dv.Shutdown()
		return nil, fmt.Errorf("mount: volume has %d blocks, superblock wants %d", sz, sb.Size)
	}

	l := wal.MkLog(bc, sb, common.ROOTDEV)
	ba := alloc.MkAlloc(bc, sb)
	tab := inode.MkItable(bc, l, ba, sb)
	util.DPrintf(1, "fs: mounted %d blocks, %d inodes\n", sb.Size, sb.Ninodes)
	return &FileSys{d: d, dv: dv, bc: bc, sb: sb, log: l, ba: ba, tab: tab}, nil
}

// Close flushes the device and releases it. In-flight operations must
// have finished.
func (fsys *FileSys) Close() error {
	var errs error
	fsys.dv.Shutdown()
	if err := fsys.d.Barrier(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := fsys.d.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}

// Super returns the mounted superblock.
func (fsys *FileSys) Super() *super.FsSuper {
	return fsys.sb
}

// Begin opens a transaction on the mounted log.
func (fsys *FileSys) Begin() *wal.Op {
	return fsys.log.Begin()
}
