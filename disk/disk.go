// Package disk provides access to a logical block-based disk.
package disk

// Block is a BlockSize-byte buffer.
type Block = []byte

// BlockSize is the unit of disk transfer, in bytes.
const BlockSize uint64 = 1024

// Disk is a synchronous block store. The block device layer sits on top of
// it and adds the asynchronous submit/complete protocol.
type Disk interface {
	// Read reads the disk block at address a.
	//
	// Expects a < Size().
	Read(a uint64) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b.
	//
	// Expects a < Size().
	ReadTo(a uint64, b Block) error

	// Write updates the disk block at address a.
	//
	// Expects a < Size().
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in blocks.
	Size() (uint64, error)

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be
	// durably on disk.
	Barrier() error

	// Close releases any resources used by the disk and makes it
	// unusable.
	Close() error
}
