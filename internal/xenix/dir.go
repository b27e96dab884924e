// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package xenix

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrTooDeep aborts a decode whose directory graph recurses past
// maxDepth levels. The on-disk format carries no generation counters,
// so a depth cap is the only cycle defense; a legitimate tree deeper
// than maxDepth is indistinguishable from a shallow cycle.
var ErrTooDeep = errors.New("directory nesting too deep, cycle suspected")

const (
	maxDepth = 64

	// A directory is a regular file holding fixed 16-byte records:
	// a 16-bit inode number followed by a 14-byte NUL-padded name.
	direntSize     = 16
	direntNameLen  = 14
	direntNameOffs = 2
)

// Node is one reconstructed file or directory. The name comes from the
// parent directory's content, not from the inode, so the root has none.
// Each node is owned by exactly one parent; the tree is acyclic by
// construction.
type Node struct {
	*Inode
	Name     string
	Children []*Node
}

// buildTree interprets a directory inode's content as dirent records
// and recursively discovers its children.
func (fs *FS) buildTree(ino *Inode, depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w (inode %d, depth %d)", ErrTooDeep, ino.Num, depth)
	}
	node := &Node{Inode: ino}

	data, err := fs.ReadContents(ino)
	if err != nil {
		return nil, fmt.Errorf("directory inode %d: %w", ino.Num, err)
	}

	for off := 0; off+direntSize <= len(data); off += direntSize {
		childNum := uint32(fs.ord.Uint16(data, off))
		name := direntName(data[off+direntNameOffs : off+direntSize])
		if childNum == 0 || name == "." || name == ".." {
			// deleted slot, or the self/parent links that would
			// otherwise make every directory a cycle
			continue
		}
		if name == "" {
			fs.log.WithFields(logrus.Fields{
				"inode":  ino.Num,
				"child":  childNum,
				"offset": off,
			}).Warn("directory entry with unusable name skipped")
			continue
		}

		child, err := fs.inode(childNum)
		if err != nil {
			return nil, err
		}

		var childNode *Node
		if child.IsDir() {
			childNode, err = fs.buildTree(child, depth+1)
			if err != nil {
				return nil, err
			}
		} else {
			childNode = &Node{Inode: child}
		}
		childNode.Name = name
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// direntName trims the NUL padding and strips bytes that cannot appear
// in an output filename. Names on a forty-year-old volume sometimes
// carry control characters from editor accidents.
func direntName(b []byte) string {
	s, _, _ := strings.Cut(string(b), "\x00")
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return -1
		}
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return -1
		}
		return r
	}, s)
}
