// Package common holds the fixed file-system geometry constants and the
// shared identifier types used by every layer.
package common

const (
	// BlockSize is the unit of disk I/O, in bytes.
	BlockSize uint64 = 1024

	// NDIRECT is the number of direct block addresses in an inode.
	NDIRECT uint64 = 10
	// NINDIRECT is the number of addresses in an indirect block.
	NINDIRECT uint64 = BlockSize / 8
	// MAXFILE is the maximum file size in blocks.
	MAXFILE uint64 = NDIRECT + NINDIRECT

	// INODESZ is the on-disk size of one inode record.
	INODESZ uint64 = 128
	// IPB is the number of inode records per block.
	IPB uint64 = BlockSize / INODESZ

	// BPB is the number of bitmap bits per block.
	BPB uint64 = BlockSize * 8

	// MAXOPBLOCKS is the worst-case number of blocks one operation may
	// write. Begin reserves this much log space per outstanding operation.
	MAXOPBLOCKS uint64 = 10
	// LOGBLOCKS is the number of data blocks in the on-disk log region
	// (the region also holds one header block).
	LOGBLOCKS uint64 = 3 * MAXOPBLOCKS

	// NBUF is the number of buffer cache slots. Commit pins up to
	// LOGBLOCKS buffers and still needs working slots of its own.
	NBUF uint64 = LOGBLOCKS + MAXOPBLOCKS
	// NINODE is the number of in-memory inode table slots.
	NINODE uint64 = 50

	// DIRSIZ is the maximum length of a directory entry name.
	DIRSIZ uint64 = 24
	// DIRENTSZ is the on-disk size of one directory entry.
	DIRENTSZ uint64 = 8 + DIRSIZ
)

// Bnum is a disk block number.
type Bnum = uint64

// Inum is an inode number.
type Inum uint64

// Devnum identifies a mounted block device.
type Devnum uint64

const (
	NULLBNUM Bnum   = 0
	NULLINUM Inum   = 0
	ROOTINUM Inum   = 1
	ROOTDEV  Devnum = 1
)

// Inode types, stored in the on-disk inode record.
const (
	TFREE uint64 = 0
	TDIR  uint64 = 1
	TFILE uint64 = 2
	TDEV  uint64 = 3
)
