// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xenix

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrImplausibleSize aborts a decode rather than attempting a huge
// allocation from a corrupt size field.
var ErrImplausibleSize = errors.New("implausible file size")

const maxFileSize = 256 << 20

// ReadContents concatenates an inode's blocks into exactly Size bytes,
// clamping the final block to the remaining count. If the image ends
// before the block list does, the bytes read so far are returned with a
// warning so the caller can still emit a truncated file.
func (fs *FS) ReadContents(ino *Inode) ([]byte, error) {
	if ino.Size > maxFileSize {
		return nil, fmt.Errorf("%w: inode %d declares %d bytes", ErrImplausibleSize, ino.Num, ino.Size)
	}

	out := make([]byte, 0, ino.Size)
	remaining := int(ino.Size)
	for _, blk := range ino.Blocks {
		if remaining <= 0 {
			break
		}
		b, err := fs.part.ReadBlock(blk)
		if len(b) > remaining {
			b = b[:remaining]
		}
		out = append(out, b...)
		remaining -= len(b)
		if err != nil {
			fs.log.WithFields(logrus.Fields{
				"inode": ino.Num,
				"block": blk,
				"got":   len(out),
				"want":  ino.Size,
			}).Warn("image ends inside file content; emitting truncated file")
			return out, nil
		}
	}
	if remaining > 0 {
		// Overstated size field, or pointers lost to unsupported
		// indirection; either way the shortfall should be visible.
		fs.log.WithFields(logrus.Fields{
			"inode": ino.Num,
			"got":   len(out),
			"want":  ino.Size,
		}).Warn("block list ends before declared size; emitting truncated file")
	}
	return out, nil
}
