// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xenix

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Superblock is the decoded global geometry of one filesystem. Created
// once at decode start and read-only afterward; all block and inode
// arithmetic downstream hangs off BlockSize and the group sizing fields.
type Superblock struct {
	BlockSize int

	Fsize uint32 // total blocks in the filesystem
	Time  time.Time
	Fname string // volume name
	Fpack string // pack name

	// older layout only
	NInode      uint16 // inodes per cylinder group
	NGroups     uint16
	GroupBlocks uint16 // blocks per cylinder group

	// newer layout only
	Isize uint16 // blocks occupied by the inode list
	Type  uint32 // filesystem type code, selects the block size
}

const (
	oldBlockSize = 1024

	// The newer variant keeps a 1024-byte superblock at byte 512,
	// straight after the 512-byte boot area.
	newSuperblockOffset = 512
	newSuperblockSize   = 1024
	newMagic            = 0x2b5544

	// Newer-variant inode records start at this partition byte offset
	// regardless of block size (boot area + superblock).
	newInodeTableOffset = 1536
)

// Older-layout superblock, little-endian, in block 1:
//
//	0x00 u16 ninode   inodes per cylinder group
//	0x02 u16 ngroup   cylinder groups
//	0x04 u16 cgblks   blocks per cylinder group
//	0x06 u32 fsize    total blocks
//	0x0a u32 time
//	0x0e [6] fname
//	0x14 [6] fpack
func (fs *FS) readOldSuperblock() (Superblock, error) {
	b := make([]byte, oldBlockSize)
	if _, err := fs.part.ReadAt(b, oldBlockSize); err != nil {
		return Superblock{}, err
	}
	sb := Superblock{
		BlockSize:   oldBlockSize,
		NInode:      fs.ord.Uint16(b, 0x00),
		NGroups:     fs.ord.Uint16(b, 0x02),
		GroupBlocks: fs.ord.Uint16(b, 0x04),
		Fsize:       fs.ord.Uint32(b, 0x06),
		Time:        time.Unix(int64(fs.ord.Uint32(b, 0x0a)), 0).UTC(),
		Fname:       packString(b[0x0e:0x14]),
		Fpack:       packString(b[0x14:0x1a]),
	}
	if sb.NInode == 0 || sb.NGroups == 0 {
		fs.log.WithFields(logrus.Fields{
			"ninode": sb.NInode,
			"groups": sb.NGroups,
		}).Warn("degenerate cylinder group geometry; extraction will likely produce garbage")
	}
	return sb, nil
}

// Newer-layout superblock. Only the fields the decoder actually needs
// are pulled out; the free-list bookkeeping in the middle is skipped.
//
//	0x000 u16 isize
//	0x002 u32 fsize
//	0x266 u32 time
//	0x278 [6] fname
//	0x27e [6] fpack
//	0x3f8 u32 magic  0x2b5544
//	0x3fc u32 type   1 => 512-byte blocks, 2 => 1024-byte blocks
func (fs *FS) readNewSuperblock() (Superblock, error) {
	b := make([]byte, newSuperblockSize)
	if _, err := fs.part.ReadAt(b, newSuperblockOffset); err != nil {
		return Superblock{}, err
	}
	sb := Superblock{
		Isize: fs.ord.Uint16(b, 0x000),
		Fsize: fs.ord.Uint32(b, 0x002),
		Time:  time.Unix(int64(fs.ord.Uint32(b, 0x266)), 0).UTC(),
		Fname: packString(b[0x278:0x27e]),
		Fpack: packString(b[0x27e:0x284]),
		Type:  fs.ord.Uint32(b, 0x3fc),
	}

	if magic := fs.ord.Uint32(b, 0x3f8); magic != newMagic {
		// This format is reverse-engineered, not normative; keep going.
		fs.log.WithFields(logrus.Fields{
			"magic": fmt.Sprintf("%#x", magic),
			"want":  fmt.Sprintf("%#x", uint32(newMagic)),
			"order": fs.ord,
		}).Warn("superblock magic mismatch; wrong byte order or partition offset?")
	}

	switch sb.Type {
	case 1:
		sb.BlockSize = 512
	case 2:
		sb.BlockSize = 1024
	default:
		sb.BlockSize = 1024
		fs.log.WithFields(logrus.Fields{
			"type": sb.Type,
		}).Warnf("unrecognized filesystem type code, assuming %d-byte blocks", sb.BlockSize)
	}
	return sb, nil
}

func (fs *FS) readSuperblock() (Superblock, error) {
	if fs.variant == VariantOld {
		return fs.readOldSuperblock()
	}
	return fs.readNewSuperblock()
}

// 6-byte NUL-padded name field.
func packString(b []byte) string {
	s, _, _ := strings.Cut(string(b), "\x00")
	return s
}
