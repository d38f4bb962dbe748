package super

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykern/tinyfs/common"
)

func TestEncodeDecode(t *testing.T) {
	sb := MkFsSuper(1000, 200)
	sb2, err := Decode(sb.Encode())
	require.NoError(t, err)
	assert.Equal(t, sb, sb2)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode(make([]byte, common.BlockSize))
	assert.Error(t, err)
}

func TestLayoutIsContiguous(t *testing.T) {
	sb := MkFsSuper(1000, 200)
	assert.Equal(t, SUPERBLOCK+1, sb.LogStart)
	assert.Equal(t, sb.LogStart+sb.Nlog, sb.InodeStart)
	assert.Equal(t, sb.InodeStart+(sb.Ninodes+common.IPB-1)/common.IPB, sb.BmapStart)
	assert.Equal(t, sb.Size, sb.DataStart()+sb.Nblocks)
	assert.Equal(t, common.LOGBLOCKS+1, sb.Nlog)
}

func TestInodeAddressing(t *testing.T) {
	sb := MkFsSuper(1000, 200)
	assert.Equal(t, sb.InodeStart, sb.InodeBlock(0))
	assert.Equal(t, sb.InodeStart, sb.InodeBlock(common.Inum(common.IPB-1)))
	assert.Equal(t, sb.InodeStart+1, sb.InodeBlock(common.Inum(common.IPB)))
	assert.Equal(t, common.INODESZ, sb.InodeOffset(1))
}
