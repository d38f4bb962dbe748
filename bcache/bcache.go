// Package bcache caches disk blocks in a fixed table of buffers.
//
// The cache is the ground truth for any resident block: readers of a block
// modified by a not-yet-committed transaction observe the in-cache content,
// never the stale disk copy. A short-held table lock protects only slot
// bookkeeping and is never held across I/O; each buffer's content is guarded
// by its own sleep-lock for the duration of a read/modify/write.
//
// Mutated content reaches disk only by being logged; Write is the direct
// path reserved for the write-ahead log itself.
package bcache

import (
	"sync"

	"github.com/tinykern/tinyfs/blkdev"
	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/sleeplock"
	"github.com/tinykern/tinyfs/util"
)

// Buf is a cached copy of one disk block. Content ownership transfers to
// whichever caller currently holds the sleep-lock (via Get).
type Buf struct {
	Dev  common.Devnum
	Bnum common.Bnum
	Data []byte

	valid  bool
	refcnt uint64
	tick   uint64 // recency rank; larger is more recent
	lk     *sleeplock.Lock
}

type Cache struct {
	mu   *sync.Mutex
	devs map[common.Devnum]*blkdev.Device
	bufs []*Buf
	tick uint64
}

func MkCache() *Cache {
	bufs := make([]*Buf, common.NBUF)
	for i := range bufs {
		bufs[i] = &Buf{
			Data: make([]byte, common.BlockSize),
			lk:   sleeplock.New(),
		}
	}
	return &Cache{
		mu:   new(sync.Mutex),
		devs: make(map[common.Devnum]*blkdev.Device),
		bufs: bufs,
	}
}

// AddDevice registers the block device serving dev's I/O.
func (c *Cache) AddDevice(dev common.Devnum, dv *blkdev.Device) {
	c.mu.Lock()
	c.devs[dev] = dv
	c.mu.Unlock()
}

func (c *Cache) device(dev common.Devnum) *blkdev.Device {
	dv, ok := c.devs[dev]
	if !ok {
		panic("bcache: unknown device")
	}
	return dv
}

// Get returns a locked, content-valid buffer for (dev, bnum). A cached
// entry is promoted to most-recently-used; otherwise the least-recently-used
// entry with no references is repurposed and populated from disk. All
// entries in use is a fatal resource-exhaustion condition.
func (c *Cache) Get(dev common.Devnum, bnum common.Bnum) *Buf {
	b, dv := c.getSlot(dev, bnum)
	b.lk.Acquire()
	if !b.valid {
		dv.Submit(bnum, b.Data, false)
		c.mu.Lock()
		b.valid = true
		c.mu.Unlock()
	}
	return b
}

// getSlot finds or repurposes a table entry for (dev, bnum) and takes a
// reference, without touching its content.
func (c *Cache) getSlot(dev common.Devnum, bnum common.Bnum) (*Buf, *blkdev.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dv := c.device(dev)
	c.tick++
	b := c.lookup(dev, bnum)
	if b == nil {
		b = c.evict()
		b.Dev = dev
		b.Bnum = bnum
		b.valid = false
		b.refcnt = 1
	} else {
		b.refcnt++
	}
	b.tick = c.tick
	return b, dv
}

// lookup finds a resident entry for (dev, bnum). Caller holds mu.
func (c *Cache) lookup(dev common.Devnum, bnum common.Bnum) *Buf {
	for _, b := range c.bufs {
		if (b.valid || b.refcnt > 0) && b.Dev == dev && b.Bnum == bnum {
			return b
		}
	}
	return nil
}

// evict selects the least-recently-used entry with refcnt 0. Caller holds mu.
func (c *Cache) evict() *Buf {
	var victim *Buf
	for _, b := range c.bufs {
		if b.refcnt != 0 {
			continue
		}
		if victim == nil || b.tick < victim.tick {
			victim = b
		}
	}
	if victim == nil {
		panic("bcache: all buffers in use")
	}
	util.DPrintf(10, "bcache: evict %d/%d\n", victim.Dev, victim.Bnum)
	return victim
}

// Release unlocks b's content and drops the caller's reference. It does
// not by itself evict.
func (c *Cache) Release(b *Buf) {
	b.lk.Release()
	c.mu.Lock()
	if b.refcnt == 0 {
		panic("bcache: release of unreferenced buffer")
	}
	b.refcnt--
	c.mu.Unlock()
}

// Write sends b's content to the device. The caller must hold b. Only the
// write-ahead log writes blocks directly; everything else goes through it.
func (c *Cache) Write(b *Buf) {
	c.mu.Lock()
	dv := c.device(b.Dev)
	c.mu.Unlock()
	dv.Submit(b.Bnum, b.Data, true)
}

// Barrier waits until everything written to dev is durable.
func (c *Cache) Barrier(dev common.Devnum) {
	c.mu.Lock()
	dv := c.device(dev)
	c.mu.Unlock()
	dv.Barrier()
}

// Pin takes an extra reference on b so it cannot be evicted until Unpin.
func (c *Cache) Pin(b *Buf) {
	c.mu.Lock()
	b.refcnt++
	c.mu.Unlock()
}

func (c *Cache) Unpin(b *Buf) {
	c.mu.Lock()
	if b.refcnt == 0 {
		panic("bcache: unpin of unreferenced buffer")
	}
	b.refcnt--
	c.mu.Unlock()
}
