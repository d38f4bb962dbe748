// Package dir implements directories as files of fixed-size entries,
// plus pathname resolution over them.
//
// A directory is an inode of kind TDIR whose content is a sequence of
// 32-byte entries: an 8-byte inode number followed by a 24-byte
// NUL-padded name. An entry with inode number zero is free.
package dir

import (
	"bytes"

	"github.com/tchajed/marshal"

	"github.com/tinykern/tinyfs/common"
	"github.com/tinykern/tinyfs/inode"
	"github.com/tinykern/tinyfs/util"
	"github.com/tinykern/tinyfs/wal"
)

func encodeDirent(inum common.Inum, name string) []byte {
	enc := marshal.NewEnc(8)
	enc.PutInt(uint64(inum))
	buf := make([]byte, common.DIRENTSZ)
	copy(buf[:8], enc.Finish())
	copy(buf[8:], name)
	return buf
}

func decodeDirent(buf []byte) (common.Inum, string) {
	dec := marshal.NewDec(buf[:8])
	inum := common.Inum(dec.GetInt())
	name := buf[8:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return inum, string(name)
}

// Lookup searches the locked directory dp for an entry named name and
// returns its inode number and the entry's byte offset, or ErrNotFound.
func Lookup(dp *inode.Inode, name string) (common.Inum, uint64, error) {
	if dp.Kind != common.TDIR {
		panic("dir: lookup in non-directory")
	}
	buf := make([]byte, common.DIRENTSZ)
	for off := uint64(0); off < dp.Size; off += common.DIRENTSZ {
		if dp.Read(buf, off) != common.DIRENTSZ {
			panic("dir: truncated entry")
		}
		inum, ename := decodeDirent(buf)
		if inum == common.NULLINUM {
			continue
		}
		if ename == name {
			return inum, off, nil
		}
	}
	return common.NULLINUM, 0, common.ErrNotFound
}

// Link adds an entry (name, inum) to the locked directory dp, reusing a
// free slot if one exists and appending otherwise. It fails with
// ErrExists if name is already present and ErrNameTooLong if name does
// not fit in an entry.
func Link(op *wal.Op, dp *inode.Inode, name string, inum common.Inum) error {
	if uint64(len(name)) > common.DIRSIZ {
		return common.ErrNameTooLong
	}
	if _, _, err := Lookup(dp, name); err == nil {
		return common.ErrExists
	}

	off := dp.Size
	buf := make([]byte, common.DIRENTSZ)
	for o := uint64(0); o < dp.Size; o += common.DIRENTSZ {
		dp.Read(buf, o)
		if in, _ := decodeDirent(buf); in == common.NULLINUM {
			off = o
			break
		}
	}

	n, err := dp.Write(op, encodeDirent(inum, name), off)
	if err != nil {
		return err
	}
	if n != common.DIRENTSZ {
		// the directory grew to the maximum file size
		return common.ErrNoSpace
	}
	util.DPrintf(2, "dir: link %q -> %d at %d\n", name, inum, off)
	return nil
}

// Erase frees the entry at byte offset off in the locked directory dp.
func Erase(op *wal.Op, dp *inode.Inode, off uint64) error {
	_, err := dp.Write(op, make([]byte, common.DIRENTSZ), off)
	return err
}

// Dirent is one decoded directory entry.
type Dirent struct {
	Inum common.Inum
	Name string
}

// Entries returns the live entries of the locked directory dp in
// directory order, including "." and "..".
func Entries(dp *inode.Inode) []Dirent {
	var ents []Dirent
	buf := make([]byte, common.DIRENTSZ)
	for off := uint64(0); off < dp.Size; off += common.DIRENTSZ {
		if dp.Read(buf, off) != common.DIRENTSZ {
			panic("dir: truncated entry")
		}
		inum, name := decodeDirent(buf)
		if inum == common.NULLINUM {
			continue
		}
		ents = append(ents, Dirent{Inum: inum, Name: name})
	}
	return ents
}

// IsEmpty reports whether the locked directory dp contains no entries
// other than "." and "..".
func IsEmpty(dp *inode.Inode) bool {
	buf := make([]byte, common.DIRENTSZ)
	for off := 2 * common.DIRENTSZ; off < dp.Size; off += common.DIRENTSZ {
		if dp.Read(buf, off) != common.DIRENTSZ {
			panic("dir: truncated entry")
		}
		if inum, _ := decodeDirent(buf); inum != common.NULLINUM {
			return false
		}
	}
	return true
}
