package dir

import (
	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/inode"
	"github.com/tinykern/tinyfs/wal"
)

// skipElem splits off the first path element, skipping leading slashes.
// "a//bb/c" becomes ("a", "bb/c"); "///" becomes ("", "").
func skipElem(path string) (string, string) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	j := i
	for j < len(path) && path[j] != '/' {
		j++
	}
	return path[i:j], path[j:]
}

// namex walks path from the root directory. With parent set it stops one
// level early, returning the parent directory and the final element.
// The returned inode is referenced but not locked. An op may be nil for
// lookups outside a transaction; inside one, the caller's op must be
// passed so intermediate releases join it.
func namex(tab *inode.Itable, op *wal.Op, path string, parent bool) (*inode.Inode, string, error) {
	ip := tab.Get(common.ROOTDEV, common.ROOTINUM)
	for {
		elem, rest := skipElem(path)
		if elem == "" {
			break
		}
		if uint64(len(elem)) > common.DIRSIZ {
			ip.Put(op)
			return nil, "", common.ErrNameTooLong
		}
		ip.Lock()
		if ip.Kind != common.TDIR {
			ip.UnlockPut(op)
			return nil, "", common.ErrNotADirectory
		}
		if parent && lastElem(rest) {
			ip.Unlock()
			return ip, elem, nil
		}
		inum, _, err := Lookup(ip, elem)
		if err != nil {
			ip.UnlockPut(op)
			return nil, "", err
		}
		next := tab.Get(ip.Dev, inum)
		ip.UnlockPut(op)
		ip = next
		path = rest
	}
	if parent {
		// no final element to name, e.g. "/"
		ip.Put(op)
		return nil, "", common.ErrNotFound
	}
	return ip, "", nil
}

func lastElem(rest string) bool {
	elem, _ := skipElem(rest)
	return elem == ""
}

// NameI resolves path to an inode, returning it referenced but unlocked.
func NameI(tab *inode.Itable, op *wal.Op, path string) (*inode.Inode, error) {
	ip, _, err := namex(tab, op, path, false)
	return ip, err
}

// NameIParent resolves path to its parent directory, returning it
// referenced but unlocked along with the final path element.
func NameIParent(tab *inode.Itable, op *wal.Op, path string) (*inode.Inode, string, error) {
	return namex(tab, op, path, true)
}
