package inode

import (
	"github.com/tchajed/marshal"

	"github.com/tinykern/tinyfs/bcache"
	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/disk"
	"github.com/tinykern/tinyfs/util"
	"github.com/tinykern/tinyfs/wal"
)

func indirectEntry(b *bcache.Buf, n uint64) common.Bnum {
	dec := marshal.NewDec(b.Data[n*8 : n*8+8])
	return dec.GetInt()
}

func putIndirectEntry(b *bcache.Buf, n uint64, bn common.Bnum) {
	enc := marshal.NewEnc(8)
	enc.PutInt(bn)
	copy(b.Data[n*8:n*8+8], enc.Finish())
}

// bmap returns the disk block holding ip's lbn'th content block. With a
// non-nil op it allocates missing blocks (and the indirect block) on
// demand; with a nil op a missing block reads as the hole NULLBNUM.
func (ip *Inode) bmap(op *wal.Op, lbn uint64) (common.Bnum, error) {
	if lbn >= common.MAXFILE {
		return common.NULLBNUM, common.ErrFileTooLarge
	}
	if lbn < common.NDIRECT {
		if ip.Addrs[lbn] == common.NULLBNUM && op != nil {
			bn, err := ip.tab.ba.AllocBlock(op, ip.Dev)
			if err != nil {
				return common.NULLBNUM, err
			}
			ip.Addrs[lbn] = bn
		}
		return ip.Addrs[lbn], nil
	}

	// indirect
	n := lbn - common.NDIRECT
	if ip.Addrs[common.NDIRECT] == common.NULLBNUM {
		if op == nil {
			return common.NULLBNUM, nil
		}
		bn, err := ip.tab.ba.AllocBlock(op, ip.Dev)
		if err != nil {
			return common.NULLBNUM, err
		}
		ip.Addrs[common.NDIRECT] = bn
	}
	b := ip.tab.bc.Get(ip.Dev, ip.Addrs[common.NDIRECT])
	bn := indirectEntry(b, n)
	if bn == common.NULLBNUM && op != nil {
		newbn, err := ip.tab.ba.AllocBlock(op, ip.Dev)
		if err != nil {
			ip.tab.bc.Release(b)
			return common.NULLBNUM, err
		}
		putIndirectEntry(b, n, newbn)
		op.Write(b)
		bn = newbn
	}
	ip.tab.bc.Release(b)
	return bn, nil
}

// Read copies up to len(p) bytes starting at off into p, clipped at
// ip.Size. Holes read as zeros. It returns the number of bytes read.
func (ip *Inode) Read(p []byte, off uint64) uint64 {
	if off >= ip.Size {
		return 0
	}
	n := uint64(len(p))
	if off+n > ip.Size {
		n = ip.Size - off
	}
	for read := uint64(0); read < n; {
		lbn := (off + read) / disk.BlockSize
		boff := (off + read) % disk.BlockSize
		count := util.Min(n-read, disk.BlockSize-boff)
		bn, err := ip.bmap(nil, lbn)
		if err != nil {
			panic("inode: read past MAXFILE with off <= Size")
		}
		if bn == common.NULLBNUM {
			for i := uint64(0); i < count; i++ {
				p[read+i] = 0
			}
		} else {
			b := ip.tab.bc.Get(ip.Dev, bn)
			copy(p[read:read+count], b.Data[boff:boff+count])
			ip.tab.bc.Release(b)
		}
		read += count
	}
	return n
}

// Write copies p into ip's content starting at off, allocating blocks as
// needed and growing Size. Writes must not leave a gap (off > Size is
// ErrBadOffset). A write reaching the maximum file size is clipped and
// reports the shorter count with no error; only allocation failures are
// errors, and those too return the count written so far.
//
// The caller's op must have room for the blocks touched; writing more
// than a couple of blocks per transaction risks exceeding the log.
func (ip *Inode) Write(op *wal.Op, p []byte, off uint64) (uint64, error) {
	if off > ip.Size {
		return 0, common.ErrBadOffset
	}
	n := uint64(len(p))
	var werr error
	if off+n > common.MAXFILE*disk.BlockSize {
		n = common.MAXFILE*disk.BlockSize - off
	}
	written := uint64(0)
	for written < n {
		lbn := (off + written) / disk.BlockSize
		boff := (off + written) % disk.BlockSize
		count := util.Min(n-written, disk.BlockSize-boff)
		bn, err := ip.bmap(op, lbn)
		if err != nil {
			werr = err
			break
		}
		b := ip.tab.bc.Get(ip.Dev, bn)
		copy(b.Data[boff:boff+count], p[written:written+count])
		op.Write(b)
		ip.tab.bc.Release(b)
		written += count
	}
	if off+written > ip.Size {
		ip.Size = off + written
	}
	ip.Update(op)
	return written, werr
}

// Truncate frees all of ip's content blocks and resets Size to zero.
func (ip *Inode) Truncate(op *wal.Op) {
	ip.truncate(op)
	ip.Update(op)
}

func (ip *Inode) truncate(op *wal.Op) {
	for i := uint64(0); i < common.NDIRECT; i++ {
		if ip.Addrs[i] != common.NULLBNUM {
			ip.tab.ba.FreeBlock(op, ip.Dev, ip.Addrs[i])
			ip.Addrs[i] = common.NULLBNUM
		}
	}
	if ip.Addrs[common.NDIRECT] != common.NULLBNUM {
		b := ip.tab.bc.Get(ip.Dev, ip.Addrs[common.NDIRECT])
		for n := uint64(0); n < common.NINDIRECT; n++ {
			bn := indirectEntry(b, n)
			if bn != common.NULLBNUM {
				ip.tab.ba.FreeBlock(op, ip.Dev, bn)
			}
		}
		ip.tab.bc.Release(b)
		ip.tab.ba.FreeBlock(op, ip.Dev, ip.Addrs[common.NDIRECT])
		ip.Addrs[common.NDIRECT] = common.NULLBNUM
	}
	ip.Size = 0
}
