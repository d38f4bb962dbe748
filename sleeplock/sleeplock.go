// Package sleeplock provides a long-held lock that parks waiters instead of
// spinning. It guards buffer and inode content across disk I/O, where a bare
// mutex would be held for too long.
package sleeplock

import "sync"

type Lock struct {
	mu   *sync.Mutex
	cond *sync.Cond
	held bool
}

func New() *Lock {
	mu := new(sync.Mutex)
	l := &Lock{
		mu:   mu,
		cond: sync.NewCond(mu),
		held: false,
	}
	return l
}

func (l *Lock) Acquire() {
	l.mu.Lock()
	for l.held {
		l.cond.Wait()
	}
	l.held = true
	l.mu.Unlock()
}

func (l *Lock) Release() {
	l.mu.Lock()
	if !l.held {
		panic("sleeplock: release of unheld lock")
	}
	l.held = false
	l.cond.Signal()
	l.mu.Unlock()
}
