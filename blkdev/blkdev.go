// Package blkdev is the block device interface: it moves one block at a
// time between a disk and a caller's buffer.
//
// Submit enqueues a request on a fixed-size descriptor ring and parks the
// caller. A backend goroutine plays the role of the device: it services the
// ring and raises a completion signal keyed to the originating descriptor,
// the way an interrupt handler would. The descriptor table correlates each
// outstanding ring slot to exactly one waiting caller.
//
// A device-reported I/O error is unrecoverable: there is no lower layer to
// retry against, so it halts.
package blkdev

import (
	"sync"

	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/disk"
	"github.com/tinykern/tinyfs/util"
)

// NDESC is the number of descriptor ring slots.
const NDESC uint64 = 8

// desc tracks one in-flight operation, for use when the completion arrives.
type desc struct {
	bnum  common.Bnum
	data  []byte
	write bool
	done  bool
	cond  *sync.Cond // completion signal for the one waiting caller
}

type Device struct {
	mu *sync.Mutex
	d  disk.Disk

	free     []bool // free[i]: descriptor i is available
	condFree *sync.Cond
	descs    []*desc

	ring chan uint64 // descriptor indices handed to the backend

	shutdown bool
	condShut *sync.Cond
	running  bool
}

func MkDevice(d disk.Disk) *Device {
	mu := new(sync.Mutex)
	dv := &Device{
		mu:       mu,
		d:        d,
		free:     make([]bool, NDESC),
		condFree: sync.NewCond(mu),
		descs:    make([]*desc, NDESC),
		ring:     make(chan uint64, NDESC),
		condShut: sync.NewCond(mu),
	}
	for i := uint64(0); i < NDESC; i++ {
		dv.free[i] = true
		dv.descs[i] = &desc{cond: sync.NewCond(mu)}
	}
	dv.running = true
	go dv.backend()
	return dv
}

// allocDesc reserves a ring slot, waiting for one to be freed if the ring
// is fully occupied. Caller holds mu.
func (dv *Device) allocDesc() uint64 {
	for {
		for i := uint64(0); i < NDESC; i++ {
			if dv.free[i] {
				dv.free[i] = false
				return i
			}
		}
		dv.condFree.Wait()
	}
}

// Submit issues a block read or write and blocks until the device signals
// completion on this request's descriptor. For reads the result is stored
// in data; for writes data is the content to persist.
func (dv *Device) Submit(bnum common.Bnum, data []byte, write bool) {
	if uint64(len(data)) != common.BlockSize {
		panic("blkdev: buffer is not block-sized")
	}
	dv.mu.Lock()
	if dv.shutdown {
		dv.mu.Unlock()
		panic("blkdev: submit after shutdown")
	}
	i := dv.allocDesc()
	dsc := dv.descs[i]
	dsc.bnum = bnum
	dsc.data = data
	dsc.write = write
	dsc.done = false
	dv.mu.Unlock()

	dv.ring <- i

	dv.mu.Lock()
	for !dsc.done {
		dsc.cond.Wait()
	}
	dsc.data = nil
	dv.free[i] = true
	// both allocDesc and Barrier park on condFree; a single Signal
	// could wake the wrong class
	dv.condFree.Broadcast()
	dv.mu.Unlock()
}

// backend services the descriptor ring. It is the device and interrupt
// handler in one: perform the I/O, then wake exactly the submitting caller.
func (dv *Device) backend() {
	for i := range dv.ring {
		dsc := dv.descs[i]
		var err error
		if dsc.write {
			err = dv.d.Write(dsc.bnum, dsc.data)
		} else {
			err = dv.d.ReadTo(dsc.bnum, dsc.data)
		}
		if err != nil {
			panic("blkdev: unrecoverable I/O error: " + err.Error())
		}
		util.DPrintf(10, "blkdev: completed %d write=%v\n", dsc.bnum, dsc.write)
		dv.intr(i)
	}
	dv.mu.Lock()
	dv.running = false
	dv.condShut.Signal()
	dv.mu.Unlock()
}

// intr delivers the completion for descriptor i to its registered waiter.
func (dv *Device) intr(i uint64) {
	dv.mu.Lock()
	dsc := dv.descs[i]
	dsc.done = true
	dsc.cond.Signal()
	dv.mu.Unlock()
}

// Barrier waits for all submitted operations to be durable.
func (dv *Device) Barrier() {
	dv.mu.Lock()
	// all descriptors free means the ring is drained
	for i := uint64(0); i < NDESC; i++ {
		for !dv.free[i] {
			dv.condFree.Wait()
		}
	}
	dv.mu.Unlock()
	if err := dv.d.Barrier(); err != nil {
		panic("blkdev: unrecoverable I/O error: " + err.Error())
	}
}

// Shutdown stops the backend once in-flight requests drain. Submitting
// after Shutdown is a caller bug.
func (dv *Device) Shutdown() {
	dv.mu.Lock()
	if dv.shutdown {
		dv.mu.Unlock()
		return
	}
	dv.shutdown = true
	dv.mu.Unlock()
	close(dv.ring)
	dv.mu.Lock()
	for dv.running {
		dv.condShut.Wait()
	}
	dv.mu.Unlock()
}
