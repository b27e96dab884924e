// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package xenix reconstructs the directory tree of a Xenix filesystem
// from a raw disk or tape image.
//
// Two reverse-engineered on-disk layouts are supported. The older one
// divides the inode table among cylinder groups and is always
// little-endian with 1024-byte blocks. The newer one keeps a single
// inode table after the superblock, takes its block size from a type
// code in the superblock, and exists in little-, big- and middle-endian
// flavors depending on the machine that wrote it. The caller must know
// which variant and byte order apply; there is no reliable signature to
// probe for.
//
// The decoder favors partial recovery over failure: most inconsistencies
// are logged and worked around, and only an unreadable metadata region,
// a suspected directory cycle or an implausible file size abort a run.
package xenix

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/archaix/xenixtract/internal/byteorder"
	"github.com/archaix/xenixtract/internal/diskio"
)

// RootInode is the well-known inode number of the root directory.
const RootInode = 2

type Variant int

const (
	VariantOld Variant = iota // cylinder groups, little-endian, 1024-byte blocks
	VariantNew                // flat inode table, per-image byte order
)

func (v Variant) String() string {
	if v == VariantOld {
		return "old"
	}
	return "new"
}

type Options struct {
	Variant Variant
	Order   byteorder.Order // ignored for VariantOld, which is always little-endian
	Log     *logrus.Logger  // defaults to logrus.StandardLogger
}

type FS struct {
	part    *diskio.Partition
	variant Variant
	ord     byteorder.Order
	sb      Superblock
	groups  []CylinderGroup
	inodes  map[uint32]*Inode // decode cache, lives for one run
	log     *logrus.Logger

	warnedTriple bool
}

// New decodes the superblock (and, for the older layout, the cylinder
// group table) and leaves the FS ready to resolve inodes. A short read
// in this phase means the image is unusable and is returned as an error.
func New(part *diskio.Partition, opts Options) (*FS, error) {
	fs := &FS{
		part:    part,
		variant: opts.Variant,
		ord:     opts.Order,
		inodes:  make(map[uint32]*Inode),
		log:     opts.Log,
	}
	if fs.log == nil {
		fs.log = logrus.StandardLogger()
	}
	if fs.variant == VariantOld {
		fs.ord = byteorder.Little
	}

	var err error
	fs.sb, err = fs.readSuperblock()
	if err != nil {
		return nil, fmt.Errorf("superblock: %w", err)
	}
	part.SetBlockSize(fs.sb.BlockSize)

	if fs.variant == VariantOld {
		fs.groups, err = fs.readCylinderGroups()
		if err != nil {
			return nil, fmt.Errorf("cylinder group table: %w", err)
		}
	}
	return fs, nil
}

func (fs *FS) Superblock() Superblock { return fs.sb }
func (fs *FS) Order() byteorder.Order { return fs.ord }
func (fs *FS) BlockSize() int         { return fs.sb.BlockSize }

// Root resolves inode 2 and builds the whole directory tree beneath it.
// The root node has no name; names live in parent directories and the
// root has no parent.
func (fs *FS) Root() (*Node, error) {
	ino, err := fs.inode(RootInode)
	if err != nil {
		return nil, fmt.Errorf("root inode: %w", err)
	}
	if !ino.IsDir() {
		fs.log.WithFields(logrus.Fields{
			"inode": RootInode,
			"mode":  fmt.Sprintf("%#o", ino.Mode),
		}).Warn("root inode is not marked as a directory; wrong variant or byte order?")
	}
	return fs.buildTree(ino, 0)
}
