// Package super describes the on-disk layout. The superblock is read once
// at mount and is immutable afterwards; every layer above consumes the
// geometry through it.
//
// Block-ordered layout:
//
//	| boot | super | log header + log body | inodes | bitmap | data |
//	  0      1       logstart               inodestart bmapstart
package super

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/util"
)

const Magic uint64 = 0x10203040

// SUPERBLOCK is the block number of the superblock itself.
const SUPERBLOCK common.Bnum = 1

// FsSuper is the decoded superblock.
type FsSuper struct {
	Magic      uint64
	Size       uint64 // total blocks, including metadata
	Nblocks    uint64 // data blocks
	Ninodes    uint64
	Nlog       uint64 // log blocks, including the header
	LogStart   common.Bnum
	InodeStart common.Bnum
	BmapStart  common.Bnum
}

// MkFsSuper computes a layout for a volume of size blocks with room for
// ninodes inodes.
func MkFsSuper(size uint64, ninodes uint64) *FsSuper {
	nlog := common.LOGBLOCKS + 1
	ninodeblks := util.RoundUp(ninodes, common.IPB)
	nbmapblks := util.RoundUp(size, common.BPB)

	logStart := SUPERBLOCK + 1
	inodeStart := logStart + nlog
	bmapStart := inodeStart + ninodeblks
	nmeta := bmapStart + nbmapblks

	if nmeta >= size {
		panic("MkFsSuper: volume too small for metadata")
	}
	sb := &FsSuper{
		Magic:      Magic,
		Size:       size,
		Nblocks:    size - nmeta,
		Ninodes:    ninodes,
		Nlog:       nlog,
		LogStart:   logStart,
		InodeStart: inodeStart,
		BmapStart:  bmapStart,
	}
	return sb
}

// Encode marshals the superblock into one block.
func (sb *FsSuper) Encode() []byte {
	enc := marshal.NewEnc(common.BlockSize)
	enc.PutInt(sb.Magic)
	enc.PutInt(sb.Size)
	enc.PutInt(sb.Nblocks)
	enc.PutInt(sb.Ninodes)
	enc.PutInt(sb.Nlog)
	enc.PutInt(sb.LogStart)
	enc.PutInt(sb.InodeStart)
	enc.PutInt(sb.BmapStart)
	return enc.Finish()
}

// Decode unmarshals a superblock and validates its magic number.
func Decode(blk []byte) (*FsSuper, error) {
	dec := marshal.NewDec(blk)
	sb := &FsSuper{
		Magic:      dec.GetInt(),
		Size:       dec.GetInt(),
		Nblocks:    dec.GetInt(),
		Ninodes:    dec.GetInt(),
		Nlog:       dec.GetInt(),
		LogStart:   dec.GetInt(),
		InodeStart: dec.GetInt(),
		BmapStart:  dec.GetInt(),
	}
	if sb.Magic != Magic {
		return nil, fmt.Errorf("bad superblock magic %#x", sb.Magic)
	}
	return sb, nil
}

// LogHead is the block number of the log header.
func (sb *FsSuper) LogHead() common.Bnum {
	return sb.LogStart
}

// LogBody is the block number of the i'th log data block.
func (sb *FsSuper) LogBody(i uint64) common.Bnum {
	return sb.LogStart + 1 + i
}

// InodeBlock is the block number holding inode inum's record.
func (sb *FsSuper) InodeBlock(inum common.Inum) common.Bnum {
	return sb.InodeStart + uint64(inum)/common.IPB
}

// InodeOffset is the byte offset of inode inum within its block.
func (sb *FsSuper) InodeOffset(inum common.Inum) uint64 {
	return (uint64(inum) % common.IPB) * common.INODESZ
}

// BmapBlock is the bitmap block covering block number bn.
func (sb *FsSuper) BmapBlock(bn common.Bnum) common.Bnum {
	return sb.BmapStart + bn/common.BPB
}

// DataStart is the first data block.
func (sb *FsSuper) DataStart() common.Bnum {
	return sb.Size - sb.Nblocks
}

// MaxBnum is one past the largest valid block number.
func (sb *FsSuper) MaxBnum() common.Bnum {
	return sb.Size
}
