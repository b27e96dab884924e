// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package byteorder decodes the integer encodings found on Xenix disks.
//
// Xenix shipped on three processor families and each left its stamp on the
// disk format: little-endian (8086), big-endian (68000), and the PDP-11
// "middle" order, where a 32-bit value is stored as two little-endian
// 16-bit halves with the high half first. Block pointers are packed into
// 3 bytes and their layout also differs per convention, so every integer
// read in the decoder goes through this package.
package byteorder

import "fmt"

type Order int

const (
	Little Order = iota
	Big
	Middle // PDP-11
)

func ParseOrder(s string) (Order, error) {
	switch s {
	case "little", "le":
		return Little, nil
	case "big", "be":
		return Big, nil
	case "middle", "pdp", "pdp11":
		return Middle, nil
	}
	return 0, fmt.Errorf("unknown byte order %q (want little, big or pdp)", s)
}

func (o Order) String() string {
	switch o {
	case Little:
		return "little"
	case Big:
		return "big"
	case Middle:
		return "pdp"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// 16-bit values are little-endian on the PDP-11 too; only the 32-bit
// half ordering is unusual.
func (o Order) Uint16(b []byte, off int) uint16 {
	if o == Big {
		return uint16(b[off])<<8 | uint16(b[off+1])
	}
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func (o Order) Uint32(b []byte, off int) uint32 {
	switch o {
	case Big:
		return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
	case Middle:
		// Stored byte order is 2,3,0,1 relative to little-endian.
		return uint32(o.Uint16(b, off))<<16 | uint32(o.Uint16(b, off+2))
	}
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// Uint24 decodes the packed 3-byte block pointers of the inode address
// list. Big stores MSB first, Little LSB first, and Middle stores the
// high byte followed by the low half little-endian, leaving the value's
// middle byte last on disk. A mismatch here does not fail loudly; it
// silently resolves inodes to the wrong blocks.
func (o Order) Uint24(b []byte, off int) uint32 {
	switch o {
	case Big:
		return uint32(b[off])<<16 | uint32(b[off+1])<<8 | uint32(b[off+2])
	case Middle:
		return uint32(b[off])<<16 | uint32(b[off+2])<<8 | uint32(b[off+1])
	}
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16
}

// PutUint16, PutUint32 and PutUint24 are the encode mirrors, used by the
// tests to fabricate images and kept here so the two directions cannot
// drift apart.

func (o Order) PutUint16(b []byte, off int, v uint16) {
	if o == Big {
		b[off], b[off+1] = byte(v>>8), byte(v)
		return
	}
	b[off], b[off+1] = byte(v), byte(v>>8)
}

func (o Order) PutUint32(b []byte, off int, v uint32) {
	switch o {
	case Big:
		b[off], b[off+1], b[off+2], b[off+3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
	case Middle:
		o.PutUint16(b, off, uint16(v>>16))
		o.PutUint16(b, off+2, uint16(v))
	default:
		b[off], b[off+1], b[off+2], b[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
}

func (o Order) PutUint24(b []byte, off int, v uint32) {
	switch o {
	case Big:
		b[off], b[off+1], b[off+2] = byte(v>>16), byte(v>>8), byte(v)
	case Middle:
		b[off], b[off+1], b[off+2] = byte(v>>16), byte(v), byte(v>>8)
	default:
		b[off], b[off+1], b[off+2] = byte(v), byte(v>>8), byte(v>>16)
	}
}
