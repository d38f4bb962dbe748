// Package alloc manages the on-disk block bitmap: one bit per block of the
// volume, 1 = allocated. The formatter pre-marks every metadata block, so
// allocation only ever hands out data blocks.
//
// All bitmap mutations go through a live transaction.
package alloc

import (
	"github.com/boljen/go-bitmap"

	"github.com/tinykern/tinyfs/bcache"
	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/super"
	"github.com/tinykern/tinyfs/util"
	"github.com/tinykern/tinyfs/wal"
)

type Alloc struct {
	bc *bcache.Cache
	sb *super.FsSuper
}

func MkAlloc(bc *bcache.Cache, sb *super.FsSuper) *Alloc {
	return &Alloc{bc: bc, sb: sb}
}

// AllocBlock allocates a zeroed disk block, recording both the bitmap
// update and the zeroing in op. Returns ErrNoSpace if the device is full.
func (a *Alloc) AllocBlock(op *wal.Op, dev common.Devnum) (common.Bnum, error) {
	for bn0 := uint64(0); bn0 < a.sb.Size; bn0 += common.BPB {
		b := a.bc.Get(dev, a.sb.BmapBlock(bn0))
		bm := bitmap.Bitmap(b.Data)
		for bi := uint64(0); bi < common.BPB && bn0+bi < a.sb.Size; bi++ {
			if bm.Get(int(bi)) {
				continue
			}
			bm.Set(int(bi), true)
			op.Write(b)
			a.bc.Release(b)
			bn := bn0 + bi
			a.zeroBlock(op, dev, bn)
			util.DPrintf(5, "alloc: block %d\n", bn)
			return bn, nil
		}
		a.bc.Release(b)
	}
	return common.NULLBNUM, common.ErrNoSpace
}

// FreeBlock clears bn's bitmap bit. Freeing a free block is a caller bug.
func (a *Alloc) FreeBlock(op *wal.Op, dev common.Devnum, bn common.Bnum) {
	b := a.bc.Get(dev, a.sb.BmapBlock(bn))
	bm := bitmap.Bitmap(b.Data)
	bi := int(bn % common.BPB)
	if !bm.Get(bi) {
		panic("alloc: freeing free block")
	}
	bm.Set(bi, false)
	op.Write(b)
	a.bc.Release(b)
	util.DPrintf(5, "alloc: free block %d\n", bn)
}

func (a *Alloc) zeroBlock(op *wal.Op, dev common.Devnum, bn common.Bnum) {
	b := a.bc.Get(dev, bn)
	for i := range b.Data {
		b.Data[i] = 0
	}
	op.Write(b)
	a.bc.Release(b)
}
