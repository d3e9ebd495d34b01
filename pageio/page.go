// Copyright 2024 The Erigon Authors
// This file is part of chainstore.
//
// chainstore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// chainstore is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with chainstore. If not, see <http://www.gnu.org/licenses/>.

// Package pageio implements the fixed-size paged file abstraction that
// every on-disk structure in chainstore is built on: a file is a sequence
// of PageSize blocks addressed by a 48-bit PRef, with the trailing bytes
// of each page reserved for a caller-defined back-pointer.
package pageio

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// PageSize is the fixed physical block size of every page in every
	// chainstore file.
	PageSize = 4096

	// PRefSize is the width of a serialized PRef: a 48-bit big-endian
	// unsigned integer.
	PRefSize = 6

	// PagePayloadSize is the number of bytes of a page available to
	// callers; the remaining PRefSize bytes hold the page's trailing
	// back-pointer field.
	PagePayloadSize = PageSize - PRefSize
)

// PRef names a byte offset within a logical file (data, link, table or
// log). It is a 48-bit value; the top 16 bits of the backing uint64 are
// always zero for a valid reference.
type PRef uint64

// InvalidPRef is the sentinel meaning "no reference".
const InvalidPRef PRef = 0xFFFFFFFFFFFF

// MaxPRef is the largest byte offset a PRef can address.
const MaxPRef = uint64(0xFFFFFFFFFFFF)

// NewPRef validates that off fits in 48 bits.
func NewPRef(off uint64) (PRef, error) {
	if off > MaxPRef {
		return 0, errors.Errorf("pageio: position %d exceeds 48-bit PRef range", off)
	}
	return PRef(off), nil
}

// IsValid reports whether p is not the InvalidPRef sentinel.
func (p PRef) IsValid() bool { return p != InvalidPRef }

// Uint64 returns the raw offset.
func (p PRef) Uint64() uint64 { return uint64(p) }

// ThisPage returns the PRef of the start of the page containing p.
func (p PRef) ThisPage() PRef { return PRef(uint64(p) - uint64(p)%PageSize) }

// InPagePos returns p's byte offset within its page, in [0, PageSize).
func (p PRef) InPagePos() uint64 { return uint64(p) % PageSize }

// PageNumber returns the zero-based ordinal of the page containing p.
func (p PRef) PageNumber() uint64 { return uint64(p) / PageSize }

// Add returns p advanced by n bytes of logical address space.
func (p PRef) Add(n uint64) PRef { return PRef(uint64(p) + n) }

// PutPRef serializes p as a 6-byte big-endian value into buf[0:6].
func PutPRef(buf []byte, p PRef) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(p))
	copy(buf, tmp[2:8])
}

// GetPRef deserializes a 6-byte big-endian value from buf[0:6].
func GetPRef(buf []byte) PRef {
	var tmp [8]byte
	copy(tmp[2:8], buf[0:6])
	return PRef(binary.BigEndian.Uint64(tmp[:]))
}

// Page is a fixed PageSize block of bytes: PagePayloadSize bytes of
// payload followed by a PRefSize trailing back-pointer field. Its
// meaning is contextual: in data/link files it is the position of the
// previous page that ended with a complete record (LEP); in table-file
// pages captured into the write-ahead log it is the original table
// position the pre-image must be restored to.
type Page struct {
	pref PRef
	buf  [PageSize]byte
}

// NewPage returns a zeroed page that will occupy position pref once
// appended or updated.
func NewPage(pref PRef) *Page {
	return &Page{pref: pref}
}

// NewFilledPage returns a page that will occupy position pref, with
// every byte initialized to fill. Callers whose payload encodes
// InvalidPRef as all-ones (tablefile's bucket slots) use this with
// fill=0xFF so an untouched slot decodes as "empty" instead of as a
// reference to position zero.
func NewFilledPage(pref PRef, fill byte) *Page {
	p := &Page{pref: pref}
	for i := range p.buf {
		p.buf[i] = fill
	}
	return p
}

// PageFromBytes wraps a raw PageSize buffer read from disk, tagging it
// with the logical position it was read from.
func PageFromBytes(pref PRef, buf [PageSize]byte) *Page {
	return &Page{pref: pref, buf: buf}
}

// PRef returns the page's own logical position.
func (p *Page) PRef() PRef { return p.pref }

// SetPRef re-tags the page with a new logical position; used when a
// page is relocated (e.g. a log pre-image being written back to its
// home table position).
func (p *Page) SetPRef(pref PRef) { p.pref = pref }

// Payload returns the PagePayloadSize usable bytes of the page.
func (p *Page) Payload() []byte { return p.buf[:PagePayloadSize] }

// Bytes returns the full on-disk representation of the page.
func (p *Page) Bytes() []byte { return p.buf[:] }

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	c := &Page{pref: p.pref}
	copy(c.buf[:], p.buf[:])
	return c
}

// Read copies len(out) bytes from the payload starting at pos into out.
func (p *Page) Read(pos int, out []byte) {
	copy(out, p.buf[pos:pos+len(out)])
}

// Write copies data into the payload starting at pos.
func (p *Page) Write(pos int, data []byte) {
	copy(p.buf[pos:pos+len(data)], data)
}

// ReadPRef decodes a 6-byte PRef at payload offset pos.
func (p *Page) ReadPRef(pos int) PRef {
	return GetPRef(p.buf[pos : pos+PRefSize])
}

// WritePRef encodes a 6-byte PRef at payload offset pos.
func (p *Page) WritePRef(pos int, ref PRef) {
	PutPRef(p.buf[pos:pos+PRefSize], ref)
}

// TrailingRef returns the page's trailing back-pointer field.
func (p *Page) TrailingRef() PRef {
	return p.ReadPRef(PagePayloadSize)
}

// SetTrailingRef sets the page's trailing back-pointer field.
func (p *Page) SetTrailingRef(ref PRef) {
	p.WritePRef(PagePayloadSize, ref)
}
