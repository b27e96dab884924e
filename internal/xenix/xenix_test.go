// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xenix

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archaix/xenixtract/internal/byteorder"
	"github.com/archaix/xenixtract/internal/diskio"
)

const testStamp = 715000000 // 1992-08-28T09:46:40Z

// quietLog keeps expected-warning noise out of test output.
func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testInode struct {
	mode   uint16
	size   uint32
	direct []uint32
	single uint32
	double uint32
	triple uint32
}

func putInode(img []byte, pos int, ord byteorder.Order, ti testInode) {
	ord.PutUint16(img, pos+0x00, ti.mode)
	ord.PutUint16(img, pos+0x02, 1)        // nlink
	ord.PutUint16(img, pos+0x04, 100)      // uid
	ord.PutUint16(img, pos+0x06, 10)       // gid
	ord.PutUint32(img, pos+0x08, ti.size)
	for i, blk := range ti.direct {
		ord.PutUint24(img, pos+inoAddr+3*i, blk)
	}
	ord.PutUint24(img, pos+addrSingle, ti.single)
	ord.PutUint24(img, pos+addrDouble, ti.double)
	ord.PutUint24(img, pos+addrTriple, ti.triple)
	ord.PutUint32(img, pos+inoAtime, testStamp)
	ord.PutUint32(img, pos+inoMtime, testStamp+1)
	ord.PutUint32(img, pos+inoCtime, testStamp+2)
}

type testDirent struct {
	ino  uint16
	name string
}

func putDirents(img []byte, pos int, ord byteorder.Order, ents []testDirent) {
	for i, e := range ents {
		off := pos + i*direntSize
		ord.PutUint16(img, off, e.ino)
		// names are NUL-padded on disk; clear any residue from a
		// previously written entry at the same slot
		clear(img[off+direntNameOffs : off+direntSize])
		copy(img[off+direntNameOffs:off+direntSize], e.name)
	}
}

// Older layout: 40 blocks of 1024 bytes, two cylinder groups of 16
// inodes each. Inode tables at blocks 3 and 19, data from block 30.
//
//	inode 2  root dir   {., .., DATA=5, SUB=17}
//	inode 5  DATA       "helloworld"
//	inode 17 SUB dir    {., .., NOTE=18}   (second cylinder group)
//	inode 18 NOTE       "note"
func mkOldImage() []byte {
	const bs = oldBlockSize
	img := make([]byte, 40*bs)
	ord := byteorder.Little

	// superblock in block 1
	ord.PutUint16(img, bs+0x00, 16) // inodes per group
	ord.PutUint16(img, bs+0x02, 2)  // groups
	ord.PutUint16(img, bs+0x04, 16) // blocks per group
	ord.PutUint32(img, bs+0x06, 40) // total blocks
	ord.PutUint32(img, bs+0x0a, testStamp)
	copy(img[bs+0x0e:], "ROOTVL")
	copy(img[bs+0x14:], "PACK01")

	// cylinder group headers at blocks 2 and 18
	ord.PutUint32(img, 2*bs, 3)
	ord.PutUint32(img, 18*bs, 19)

	ipos := func(n int) int {
		table, slot := 3, n-1
		if slot >= 16 {
			table, slot = 19, slot-16
		}
		return table*bs + slot*inodeSize
	}

	putInode(img, ipos(2), ord, testInode{mode: 0x41ed, size: 4 * direntSize, direct: []uint32{30}})
	putDirents(img, 30*bs, ord, []testDirent{
		{2, "."}, {2, ".."}, {5, "DATA"}, {17, "SUB"},
	})
	putInode(img, ipos(5), ord, testInode{mode: 0x81a4, size: 10, direct: []uint32{31}})
	copy(img[31*bs:], "helloworld")
	putInode(img, ipos(17), ord, testInode{mode: 0x41ed, size: 3 * direntSize, direct: []uint32{32}})
	putDirents(img, 32*bs, ord, []testDirent{
		{17, "."}, {2, ".."}, {18, "NOTE"},
	})
	putInode(img, ipos(18), ord, testInode{mode: 0x81a4, size: 4, direct: []uint32{33}})
	copy(img[33*bs:], "note")

	return img
}

func openImage(t *testing.T, img []byte, opts Options) *FS {
	t.Helper()
	opts.Log = quietLog()
	bs := 1024
	fs, err := New(diskio.NewPartition(bytes.NewReader(img), 0, bs), opts)
	require.NoError(t, err)
	return fs
}

func TestOldLayoutScenario(t *testing.T) {
	fs := openImage(t, mkOldImage(), Options{Variant: VariantOld})

	sb := fs.Superblock()
	assert.Equal(t, 1024, sb.BlockSize)
	assert.Equal(t, uint16(16), sb.NInode)
	assert.Equal(t, uint16(2), sb.NGroups)
	assert.Equal(t, "ROOTVL", sb.Fname)
	assert.Equal(t, "PACK01", sb.Fpack)
	assert.Equal(t, time.Unix(testStamp, 0).UTC(), sb.Time)

	root, err := fs.Root()
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Empty(t, root.Name)
	require.Len(t, root.Children, 2, ". and .. must never appear as children")

	data := root.Children[0]
	assert.Equal(t, "DATA", data.Name)
	assert.False(t, data.IsDir())
	assert.Empty(t, data.Children)
	assert.Equal(t, uint32(10), data.Size)
	assert.Equal(t, time.Unix(testStamp+1, 0).UTC(), data.Mtime)
	content, err := fs.ReadContents(data.Inode)
	require.NoError(t, err)
	assert.Equal(t, []byte("helloworld"), content)

	// inode 17 lives in the second cylinder group
	sub := root.Children[1]
	assert.Equal(t, "SUB", sub.Name)
	require.True(t, sub.IsDir())
	require.Len(t, sub.Children, 1)
	assert.Equal(t, "NOTE", sub.Children[0].Name)
	content, err = fs.ReadContents(sub.Children[0].Inode)
	require.NoError(t, err)
	assert.Equal(t, []byte("note"), content)
}

// Newer layout: flat inode table at byte 1536, geometry from the type
// code, any of the three byte orders.
//
//	inode 2 root dir {., .., SUB=3, FILE=4}
//	inode 3 SUB dir  {., .., INNER=5}
//	inode 4 FILE     "The quick brown fox"
//	inode 5 INNER    empty file
func mkNewImage(ord byteorder.Order, typeCode uint32) []byte {
	bs := 1024
	if typeCode == 1 {
		bs = 512
	}
	img := make([]byte, 64*1024)

	sb := newSuperblockOffset
	ord.PutUint16(img, sb+0x000, 2)
	ord.PutUint32(img, sb+0x002, uint32(len(img)/bs))
	ord.PutUint32(img, sb+0x266, testStamp)
	copy(img[sb+0x278:], "NEWVOL")
	copy(img[sb+0x27e:], "PK")
	ord.PutUint32(img, sb+0x3f8, newMagic)
	ord.PutUint32(img, sb+0x3fc, typeCode)

	ipos := func(n int) int { return newInodeTableOffset + (n-1)*inodeSize }
	blk := func(n int) int { return n * bs }

	putInode(img, ipos(2), ord, testInode{mode: 0x41ed, size: 4 * direntSize, direct: []uint32{16}})
	putDirents(img, blk(16), ord, []testDirent{
		{2, "."}, {2, ".."}, {3, "SUB"}, {4, "FILE"},
	})
	putInode(img, ipos(3), ord, testInode{mode: 0x41ed, size: 3 * direntSize, direct: []uint32{17}})
	putDirents(img, blk(17), ord, []testDirent{
		{3, "."}, {2, ".."}, {5, "INNER"},
	})
	putInode(img, ipos(4), ord, testInode{mode: 0x81a4, size: 19, direct: []uint32{18}})
	copy(img[blk(18):], "The quick brown fox")
	putInode(img, ipos(5), ord, testInode{mode: 0x81a4})

	return img
}

type flatEntry struct {
	path  string
	isdir bool
	size  uint32
}

func flatten(prefix string, n *Node) []flatEntry {
	out := []flatEntry{{prefix + n.Name, n.IsDir(), n.Size}}
	for _, c := range n.Children {
		out = append(out, flatten(prefix+n.Name+"/", c)...)
	}
	return out
}

// The decoded tree must come out identical no matter which byte order
// the image was written in.
func TestNewLayoutAllOrders(t *testing.T) {
	want := []flatEntry{
		{"", true, 4 * direntSize},
		{"/SUB", true, 3 * direntSize},
		{"/SUB/INNER", false, 0},
		{"/FILE", false, 19},
	}
	for _, ord := range []byteorder.Order{byteorder.Little, byteorder.Big, byteorder.Middle} {
		t.Run(ord.String(), func(t *testing.T) {
			fs := openImage(t, mkNewImage(ord, 2), Options{Variant: VariantNew, Order: ord})
			assert.Equal(t, 1024, fs.BlockSize())
			assert.Equal(t, "NEWVOL", fs.Superblock().Fname)

			root, err := fs.Root()
			require.NoError(t, err)
			assert.Equal(t, want, flatten("", root))

			file := root.Children[1]
			content, err := fs.ReadContents(file.Inode)
			require.NoError(t, err)
			assert.Equal(t, []byte("The quick brown fox"), content)
		})
	}
}

func TestTypeCodeSelectsBlockSize(t *testing.T) {
	fs := openImage(t, mkNewImage(byteorder.Little, 1), Options{Variant: VariantNew})
	assert.Equal(t, 512, fs.BlockSize())

	// unrecognized code falls back to 1024 with a warning, not an error
	fs = openImage(t, mkNewImage(byteorder.Little, 9), Options{Variant: VariantNew})
	assert.Equal(t, 1024, fs.BlockSize())
}

// Singly-indirect blocks must expand in stored order, and
// doubly-indirect expansion is indirect-block-major.
func TestIndirection(t *testing.T) {
	const bs = 512
	ord := byteorder.Little
	img := mkNewImage(ord, 1)

	// file BIG = 10 direct + 3 via single + 2x2 via double = 17 blocks
	direct := []uint32{40, 41, 42, 43, 44, 45, 46, 47, 48, 49}
	putInode(img, newInodeTableOffset+5*inodeSize, ord, testInode{
		mode: 0x81a4, size: 17 * bs,
		direct: direct, single: 50, double: 51,
	})
	for i, p := range []uint32{52, 53, 54} {
		ord.PutUint32(img, 50*bs+4*i, p)
	}
	for i, p := range []uint32{55, 56} {
		ord.PutUint32(img, 51*bs+4*i, p)
	}
	for i, p := range []uint32{57, 58} {
		ord.PutUint32(img, 55*bs+4*i, p)
	}
	for i, p := range []uint32{59, 60} {
		ord.PutUint32(img, 56*bs+4*i, p)
	}
	// graft it into the root directory
	putDirents(img, 16*bs+3*direntSize, ord, []testDirent{{6, "BIG"}})

	fs := openImage(t, img, Options{Variant: VariantNew})
	root, err := fs.Root()
	require.NoError(t, err)

	var big *Node
	for _, c := range root.Children {
		if c.Name == "BIG" {
			big = c
		}
	}
	require.NotNil(t, big)

	want := append(append([]uint32{}, direct...), 52, 53, 54, 57, 58, 59, 60)
	assert.Equal(t, want, big.Blocks)

	content, err := fs.ReadContents(big.Inode)
	require.NoError(t, err)
	assert.Len(t, content, 17*bs)
}

// A declared size past the end of the image yields exactly the bytes
// that exist, neither padded nor an error.
func TestTruncatedImage(t *testing.T) {
	ord := byteorder.Little
	img := mkNewImage(ord, 2)
	putInode(img, newInodeTableOffset+5*inodeSize, ord, testInode{
		mode: 0x81a4, size: 3 * 1024, direct: []uint32{20, 21, 22},
	})
	putDirents(img, 16*1024+3*direntSize, ord, []testDirent{{6, "CUT"}})
	img = img[:21*1024+100] // block 20 full, block 21 cut short, block 22 gone

	fs := openImage(t, img, Options{Variant: VariantNew})
	root, err := fs.Root()
	require.NoError(t, err)

	cut := root.Children[len(root.Children)-1]
	require.Equal(t, "CUT", cut.Name)
	content, err := fs.ReadContents(cut.Inode)
	require.NoError(t, err)
	assert.Len(t, content, 1024+100)
}

// A directory entry pointing back at an ancestor must hit the depth
// limit, not hang.
func TestCycleGuard(t *testing.T) {
	ord := byteorder.Little
	img := mkNewImage(ord, 2)
	putDirents(img, 16*1024+3*direntSize, ord, []testDirent{{2, "LOOP"}})

	fs := openImage(t, img, Options{Variant: VariantNew})
	_, err := fs.Root()
	require.ErrorIs(t, err, ErrTooDeep)
}

func TestImplausibleSize(t *testing.T) {
	fs := openImage(t, mkOldImage(), Options{Variant: VariantOld})
	_, err := fs.ReadContents(&Inode{Num: 99, Size: maxFileSize + 1})
	require.ErrorIs(t, err, ErrImplausibleSize)
}

func TestUnreadableSuperblock(t *testing.T) {
	_, err := New(diskio.NewPartition(bytes.NewReader(make([]byte, 100)), 0, 1024),
		Options{Variant: VariantOld, Log: quietLog()})
	require.Error(t, err)
}

// The same filesystem embedded at a nonzero offset in a larger tape
// image must decode identically.
func TestPartitionBaseOffset(t *testing.T) {
	const base = 12345
	img := append(make([]byte, base), mkOldImage()...)
	fs, err := New(diskio.NewPartition(bytes.NewReader(img), base, 1024),
		Options{Variant: VariantOld, Log: quietLog()})
	require.NoError(t, err)

	root, err := fs.Root()
	require.NoError(t, err)
	require.Len(t, root.Children, 2)
	content, err := fs.ReadContents(root.Children[0].Inode)
	require.NoError(t, err)
	assert.Equal(t, []byte("helloworld"), content)
}

// A superblock declaring no inodes per group or no groups leaves no
// inode table to clamp to; that must surface as an error, not a panic.
func TestDegenerateGeometry(t *testing.T) {
	for name, mutate := range map[string]func([]byte){
		"zero inodes per group": func(img []byte) { byteorder.Little.PutUint16(img, oldBlockSize+0x00, 0) },
		"zero groups":           func(img []byte) { byteorder.Little.PutUint16(img, oldBlockSize+0x02, 0) },
	} {
		t.Run(name, func(t *testing.T) {
			img := mkOldImage()
			mutate(img)
			fs := openImage(t, img, Options{Variant: VariantOld})
			_, err := fs.Root()
			require.Error(t, err)
		})
	}
}

// A block list that runs out before the declared size is satisfied must
// be reported even when every read succeeds, or an overstated size
// field is undiagnosable.
func TestShortBlockListWarns(t *testing.T) {
	ord := byteorder.Little
	img := mkNewImage(ord, 2)
	putInode(img, newInodeTableOffset+5*inodeSize, ord, testInode{
		mode: 0x81a4, size: 2 * 1024, direct: []uint32{20},
	})
	putDirents(img, 16*1024+3*direntSize, ord, []testDirent{{6, "SHORT"}})

	logger, hook := logtest.NewNullLogger()
	fs, err := New(diskio.NewPartition(bytes.NewReader(img), 0, 1024),
		Options{Variant: VariantNew, Log: logger})
	require.NoError(t, err)
	root, err := fs.Root()
	require.NoError(t, err)

	short := root.Children[len(root.Children)-1]
	require.Equal(t, "SHORT", short.Name)
	content, err := fs.ReadContents(short.Inode)
	require.NoError(t, err)
	assert.Len(t, content, 1024, "neither padded nor an error")

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["inode"] == short.Num && e.Data["got"] == 1024 {
			warned = true
		}
	}
	assert.True(t, warned, "shortfall between block list and declared size not reported")
}

// Resolving an inode whose cylinder group is outside the table must
// produce a best-effort inode, not an error.
func TestInodeOutsideGroupTable(t *testing.T) {
	img := mkOldImage()
	// entry pointing at inode 40 (group 2 of 2)
	putDirents(img, 30*1024+4*direntSize, byteorder.Little, []testDirent{{40, "GARBAGE"}})
	putInode(img, 3*1024+inodeSize, byteorder.Little,
		testInode{mode: 0x41ed, size: 5 * direntSize, direct: []uint32{30}})

	fs := openImage(t, img, Options{Variant: VariantOld})
	root, err := fs.Root()
	require.NoError(t, err)
	require.Len(t, root.Children, 3)
	assert.Equal(t, "GARBAGE", root.Children[2].Name)
}
