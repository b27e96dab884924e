// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xenix

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Inode is one decoded on-disk metadata record plus its fully expanded
// block list: direct pointers first, then the blocks contributed by
// single and double indirection, in on-disk order. Never mutated after
// decode; cached by number for the lifetime of one run.
type Inode struct {
	Num   uint32
	Mode  uint16
	Nlink uint16
	Uid   uint16
	Gid   uint16
	Size  uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time

	Blocks []uint32
}

const (
	// mode bits shared by both layouts
	ModeDir  = 0x4000
	ModeFile = 0x8000

	inodeSize = 64

	// 64-byte record, both variants:
	//
	//	0x00 u16 mode    0x02 u16 nlink   0x04 u16 uid   0x06 u16 gid
	//	0x08 u32 size
	//	0x0c 13 x 3-byte block pointers (10 direct, single, double, triple)
	//	0x33 u8  pad
	//	0x34 u32 atime   0x38 u32 mtime   0x3c u32 ctime
	inoAddr    = 0x0c
	numDirect  = 10
	addrSingle = inoAddr + 3*numDirect
	addrDouble = inoAddr + 3*(numDirect+1)
	addrTriple = inoAddr + 3*(numDirect+2)
	inoAtime   = 0x34
	inoMtime   = 0x38
	inoCtime   = 0x3c
)

func (ino *Inode) IsDir() bool { return ino.Mode&ModeDir != 0 }

// inodePos maps a 1-based inode number to its absolute byte position in
// the partition. An inode number outside the cylinder group table is a
// recoverable condition: warn and clamp, so a damaged directory entry
// yields one garbage file instead of killing the run. Geometry that
// leaves no inode table at all is fatal; there is no position to clamp to.
func (fs *FS) inodePos(n uint32) (int64, error) {
	idx := n - 1
	if fs.variant == VariantNew {
		return newInodeTableOffset + int64(idx)*inodeSize, nil
	}

	if fs.sb.NInode == 0 || len(fs.groups) == 0 {
		return 0, fmt.Errorf("inode %d: unusable cylinder group geometry (%d inodes/group, %d groups)",
			n, fs.sb.NInode, len(fs.groups))
	}

	group := idx / uint32(fs.sb.NInode)
	slot := idx % uint32(fs.sb.NInode)
	if group >= uint32(len(fs.groups)) {
		fs.log.WithFields(logrus.Fields{
			"inode":  n,
			"group":  group,
			"groups": len(fs.groups),
		}).Warn("inode number outside the cylinder group table; decoding from the last group")
		group = uint32(len(fs.groups)) - 1
	}
	return int64(fs.groups[group].InodeBlock)*int64(fs.sb.BlockSize) + int64(slot)*inodeSize, nil
}

// inode resolves an inode number to its decoded record, expanding the
// block pointer list through all supported indirection levels.
// Idempotent via the per-run cache.
func (fs *FS) inode(n uint32) (*Inode, error) {
	if ino, ok := fs.inodes[n]; ok {
		return ino, nil
	}

	pos, err := fs.inodePos(n)
	if err != nil {
		return nil, err
	}
	b := make([]byte, inodeSize)
	if _, err := fs.part.ReadAt(b, pos); err != nil {
		// Metadata must be readable; content may be truncated but an
		// unreadable inode region means the image itself is unusable.
		return nil, fmt.Errorf("inode %d at offset %d: %w", n, pos, err)
	}

	ino := &Inode{
		Num:   n,
		Mode:  fs.ord.Uint16(b, 0x00),
		Nlink: fs.ord.Uint16(b, 0x02),
		Uid:   fs.ord.Uint16(b, 0x04),
		Gid:   fs.ord.Uint16(b, 0x06),
		Size:  fs.ord.Uint32(b, 0x08),
		Atime: fs.epoch(b, inoAtime),
		Mtime: fs.epoch(b, inoMtime),
		Ctime: fs.epoch(b, inoCtime),
	}

	for i := 0; i < numDirect; i++ {
		if blk := fs.ord.Uint24(b, inoAddr+3*i); blk != 0 {
			ino.Blocks = append(ino.Blocks, blk)
		}
	}
	if single := fs.ord.Uint24(b, addrSingle); single != 0 {
		ino.Blocks = append(ino.Blocks, fs.indirect(n, single)...)
	}
	if fs.variant == VariantNew {
		if double := fs.ord.Uint24(b, addrDouble); double != 0 {
			for _, ind := range fs.indirect(n, double) {
				ino.Blocks = append(ino.Blocks, fs.indirect(n, ind)...)
			}
		}
		if triple := fs.ord.Uint24(b, addrTriple); triple != 0 && !fs.warnedTriple {
			fs.warnedTriple = true
			fs.log.WithFields(logrus.Fields{
				"inode": n,
			}).Warn("triple-indirect blocks are not supported; affected files will be truncated")
		}
	}

	fs.checkSize(ino)
	fs.inodes[n] = ino
	return ino, nil
}

// indirect reads one block as an array of 32-bit block pointers,
// stopping at the first zero entry or the end of the block. An indirect
// block past the end of the image is treated like truncated content.
func (fs *FS) indirect(n, blk uint32) []uint32 {
	b, err := fs.part.ReadBlock(blk)
	if err != nil {
		fs.log.WithFields(logrus.Fields{
			"inode": n,
			"block": blk,
			"err":   err,
		}).Warn("indirect block unreadable; file will be truncated")
		if len(b) < 4 {
			return nil
		}
	}
	var out []uint32
	for off := 0; off+4 <= len(b); off += 4 {
		v := fs.ord.Uint32(b, off)
		if v == 0 {
			break
		}
		out = append(out, v)
	}
	return out
}

// The reverse-engineered layout is imprecise for some variants, so a
// block list that badly overshoots the declared size is reported rather
// than trusted silently.
func (fs *FS) checkSize(ino *Inode) {
	blockBytes := int64(len(ino.Blocks)) * int64(fs.sb.BlockSize)
	if blockBytes > int64(ino.Size)+int64(fs.sb.BlockSize) {
		fs.log.WithFields(logrus.Fields{
			"inode":      ino.Num,
			"size":       ino.Size,
			"blockbytes": blockBytes,
		}).Warn("block list does not match declared size; possible format misparse")
	}
}

// Timestamps are 32-bit POSIX seconds in the active byte order.
func (fs *FS) epoch(b []byte, off int) time.Time {
	return time.Unix(int64(fs.ord.Uint32(b, off)), 0).UTC()
}
