// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package diskio maps logical filesystem blocks to absolute reads of a
// backing image. The filesystem may sit at a nonzero byte offset inside a
// larger tape image, so every read goes through the partition base.
//
// Directory walks revisit the same indirect and inode-table blocks many
// times; a small tinylfu cache keeps them warm without holding the whole
// image in memory.
package diskio

import (
	"fmt"
	"hash/maphash"
	"io"

	"github.com/dgryski/go-tinylfu"
)

const (
	cacheBlocks  = 4096
	cacheSamples = cacheBlocks * 10
)

var seed = maphash.MakeSeed()

func blkHash(k uint32) uint64 { return maphash.Comparable(seed, k) }

// A Partition is a view of one filesystem inside a backing image.
// It is immutable for the duration of one decode, except that the
// newer on-disk variant only learns its block size from the superblock,
// so SetBlockSize may be called once after the superblock is parsed.
//
// Not safe for concurrent use; one decode pass owns the image.
type Partition struct {
	r         io.ReaderAt
	base      int64
	blockSize int
	cache     *tinylfu.T[uint32, []byte]
}

func NewPartition(r io.ReaderAt, base int64, blockSize int) *Partition {
	p := &Partition{r: r, base: base}
	p.SetBlockSize(blockSize)
	return p
}

func (p *Partition) BlockSize() int { return p.blockSize }
func (p *Partition) Base() int64    { return p.base }

// SetBlockSize resets the block cache: cached slices are keyed by block
// number and would alias wrong byte ranges under a different size.
func (p *Partition) SetBlockSize(n int) {
	p.blockSize = n
	if n > 0 {
		p.cache = tinylfu.New[uint32, []byte](cacheBlocks, cacheSamples, blkHash)
	}
}

// ReadAt reads partition-relative bytes, bypassing block arithmetic.
// Superblock and inode records are not block-aligned in every layout.
func (p *Partition) ReadAt(b []byte, off int64) (int, error) {
	return p.r.ReadAt(b, p.base+off)
}

// ReadBlock returns the content of logical block n. When the image ends
// inside the block it returns whatever bytes exist plus
// io.ErrUnexpectedEOF; the caller decides whether a short block is fatal
// (metadata) or a truncated file (content).
func (p *Partition) ReadBlock(n uint32) ([]byte, error) {
	if p.blockSize <= 0 {
		return nil, fmt.Errorf("block %d: block size not yet known", n)
	}
	if b, ok := p.cache.Get(n); ok {
		return b, nil
	}

	b := make([]byte, p.blockSize)
	got, err := p.r.ReadAt(b, p.base+int64(n)*int64(p.blockSize))
	if got == len(b) {
		p.cache.Add(n, b)
		return b, nil
	}
	if err == io.EOF || err == nil {
		err = io.ErrUnexpectedEOF
	}
	return b[:got], fmt.Errorf("block %d at offset %d: %w", n, p.base+int64(n)*int64(p.blockSize), err)
}
