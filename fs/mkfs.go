package fs

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/tchajed/marshal"

	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/disk"
	"github.com/tinykern/tinyfs/super"
	"github.com/tinykern/tinyfs/util"
)

// DefaultNInodes is the inode count MkFs uses when none is given.
const DefaultNInodes = 8 * common.IPB

// MkFs formats d with an empty file system: a superblock, a cleared
// log, a free inode region with a root directory at ROOTINUM, and a
// block bitmap with the metadata region and the root's data block
// marked. It writes the disk directly, bypassing the cache and log, and
// ends with a barrier so the format is durable.
func MkFs(d disk.Disk, ninodes uint64) (*super.FsSuper, error) {
	size, err := d.Size()
	if err != nil {
		return nil, err
	}
	if ninodes == 0 {
		ninodes = DefaultNInodes
	}
	sb := super.MkFsSuper(size, ninodes)

	zero := make(disk.Block, disk.BlockSize)
	write := func(bn common.Bnum, b disk.Block) error {
		if err := d.Write(bn, b); err != nil {
			return fmt.Errorf("mkfs: block %d: %w", bn, err)
		}
		return nil
	}

	if err := write(super.SUPERBLOCK, sb.Encode()); err != nil {
		return nil, err
	}

	// empty log: a zero count in the header is all recovery needs
	if err := write(sb.LogHead(), zero); err != nil {
		return nil, err
	}

	// inode region: all records TFREE, except the root directory
	rootBn := sb.DataStart()
	for bn := sb.InodeStart; bn < sb.BmapStart; bn++ {
		if err := write(bn, zero); err != nil {
			return nil, err
		}
	}
	ib := make(disk.Block, disk.BlockSize)
	off := sb.InodeOffset(common.ROOTINUM)
	copy(ib[off:off+common.INODESZ], rootInodeRec(rootBn))
	if err := write(sb.InodeBlock(common.ROOTINUM), ib); err != nil {
		return nil, err
	}

	// bitmap: metadata plus the root directory's data block
	nbmap := sb.Size - sb.BmapStart - sb.Nblocks // bitmap block count
	for i := uint64(0); i < nbmap; i++ {
		b := make(disk.Block, disk.BlockSize)
		bm := bitmap.Bitmap(b)
		lo := i * disk.BlockSize * 8
		hi := lo + disk.BlockSize*8
		for bn := lo; bn < hi && bn <= rootBn; bn++ {
			bm.Set(int(bn-lo), true)
		}
		if err := write(sb.BmapStart+i, b); err != nil {
			return nil, err
		}
	}

	if err := write(rootBn, rootDirBlock()); err != nil {
		return nil, err
	}

	if err := d.Barrier(); err != nil {
		return nil, fmt.Errorf("mkfs: %w", err)
	}
	util.DPrintf(1, "mkfs: %d blocks, %d inodes, data at %d\n", sb.Size, sb.Ninodes, rootBn)
	return sb, nil
}

// rootInodeRec is the on-disk record for the root directory: two links
// ("." and its own parent entry), two entries of content in its first
// direct block.
func rootInodeRec(rootBn common.Bnum) []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt(common.TDIR)
	enc.PutInt(0) // major
	enc.PutInt(0) // minor
	enc.PutInt(2) // nlink
	enc.PutInt(2 * common.DIRENTSZ)
	addrs := make([]uint64, common.NDIRECT+1)
	addrs[0] = rootBn
	enc.PutInts(addrs)
	return enc.Finish()
}

func rootDirBlock() disk.Block {
	b := make(disk.Block, disk.BlockSize)
	putEnt := func(off uint64, name string) {
		enc := marshal.NewEnc(8)
		enc.PutInt(uint64(common.ROOTINUM))
		copy(b[off:off+8], enc.Finish())
		copy(b[off+8:], name)
	}
	putEnt(0, ".")
	putEnt(common.DIRENTSZ, "..")
	return b
}
