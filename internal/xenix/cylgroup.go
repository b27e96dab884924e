// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xenix

import "github.com/sirupsen/logrus"

// CylinderGroup locates one fixed-size slice of the inode table in the
// older layout. A 0x20-byte header record sits in the first block of
// each group, immediately after the superblock for group 0 and then at
// a stride of GroupBlocks; only its first field matters here.
type CylinderGroup struct {
	InodeBlock uint32 // absolute block number of this group's inode table
}

const (
	cgFirstBlock = 2 // boot block, superblock, then the first group
	cgRecordSize = 0x20
)

func (fs *FS) readCylinderGroups() ([]CylinderGroup, error) {
	groups := make([]CylinderGroup, 0, fs.sb.NGroups)
	for g := uint16(0); g < fs.sb.NGroups; g++ {
		blk := uint32(cgFirstBlock) + uint32(g)*uint32(fs.sb.GroupBlocks)
		b := make([]byte, cgRecordSize)
		if _, err := fs.part.ReadAt(b, int64(blk)*int64(fs.sb.BlockSize)); err != nil {
			return nil, err
		}
		cg := CylinderGroup{InodeBlock: fs.ord.Uint32(b, 0x00)}
		if cg.InodeBlock == 0 || cg.InodeBlock >= fs.sb.Fsize {
			fs.log.WithFields(logrus.Fields{
				"group":      g,
				"inodeblock": cg.InodeBlock,
				"fsize":      fs.sb.Fsize,
			}).Warn("cylinder group inode table outside the filesystem")
		}
		groups = append(groups, cg)
	}
	return groups, nil
}
