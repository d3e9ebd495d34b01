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

package tablefile

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/erigontech/chainstore/hashindex"
	"github.com/erigontech/chainstore/internal/mathutil"
	"github.com/erigontech/chainstore/pageio"
)

// headerMagic identifies page 0 of a table file as the header page.
var headerMagic = [2]byte{0xBC, 0xDB}

// TableFile is the bucket table: page 0 is a dedicated header page
// carrying the magic bytes, the in-slot bucket capacity, the
// linear-hash Params and the siphash key; every subsequent page holds
// bucketsPerPage Bucket slots, updated in place as buckets are written
// or split. Bucket ordinal b lives at page 1+b/bucketsPerPage, slot
// b%bucketsPerPage. The in-slot capacity is fixed for the lifetime of a
// table file: it is chosen (from the engine's bucket_fill_target
// configuration) the first time the file is created and persisted in
// the header from then on, since it determines the fixed slot width.
type TableFile struct {
	file   pageio.PagedFile
	params hashindex.Params
	k0, k1 uint64

	capacity       uint32
	slotSize       int
	bucketsPerPage int
}

const (
	headerCapacityOffset = 2 // after the 2-byte magic
	headerParamsOffset   = headerCapacityOffset + 4
	headerKeyOffset      = headerParamsOffset + 8
)

// Open reads the header page of file, initializing a fresh one if the
// file is empty. k0/k1 seed the siphash key used for new table files;
// capacity seeds the in-slot bucket capacity (F) used for new table
// files. Both are ignored when an existing header is found — the
// persisted values govern.
func Open(file pageio.PagedFile, k0, k1 uint64, capacity uint32) (*TableFile, error) {
	t := &TableFile{file: file}

	length, err := file.Len()
	if err != nil {
		return nil, errors.Wrap(err, "tablefile: len")
	}
	if length == 0 {
		t.params = hashindex.Params{LogMod: 0, Step: 0}
		t.k0, t.k1 = k0, k1
		t.setCapacity(capacity)
		if err := t.writeHeader(); err != nil {
			return nil, err
		}
		return t, nil
	}

	page, err := file.ReadPage(0)
	if err != nil {
		return nil, errors.Wrap(err, "tablefile: read header")
	}
	if page == nil {
		return nil, errors.New("tablefile: missing header page")
	}
	payload := page.Payload()
	if payload[0] != headerMagic[0] || payload[1] != headerMagic[1] {
		return nil, errors.New("tablefile: bad header magic")
	}
	t.setCapacity(binary.BigEndian.Uint32(payload[headerCapacityOffset:]))
	t.params = hashindex.Params{
		LogMod: binary.BigEndian.Uint32(payload[headerParamsOffset:]),
		Step:   binary.BigEndian.Uint32(payload[headerParamsOffset+4:]),
	}
	t.k0 = binary.BigEndian.Uint64(payload[headerKeyOffset:])
	t.k1 = binary.BigEndian.Uint64(payload[headerKeyOffset+8:])
	return t, nil
}

func (t *TableFile) setCapacity(capacity uint32) {
	if capacity == 0 {
		capacity = 1
	}
	t.capacity = capacity
	t.slotSize = SlotSize(capacity)
	t.bucketsPerPage = pageio.PagePayloadSize / t.slotSize
}

// EncodeHeaderInto writes params (and this table's capacity and siphash
// key) as the header page content, in place on page. Used both for the
// immediate write path (writeHeader) and by callers that need to stage
// a header mutation into a batch's dirty-page set before committing it.
func (t *TableFile) EncodeHeaderInto(page *pageio.Page, params hashindex.Params) {
	payload := page.Payload()
	payload[0], payload[1] = headerMagic[0], headerMagic[1]
	binary.BigEndian.PutUint32(payload[headerCapacityOffset:], t.capacity)
	binary.BigEndian.PutUint32(payload[headerParamsOffset:], params.LogMod)
	binary.BigEndian.PutUint32(payload[headerParamsOffset+4:], params.Step)
	binary.BigEndian.PutUint64(payload[headerKeyOffset:], t.k0)
	binary.BigEndian.PutUint64(payload[headerKeyOffset+8:], t.k1)
}

// SetParamsInMemory updates the table's cached Params without writing
// the header page; callers that stage the write through a batch's dirty
// set call this once they've queued the corresponding header mutation.
func (t *TableFile) SetParamsInMemory(p hashindex.Params) { t.params = p }

func (t *TableFile) writeHeader() error {
	page := pageio.NewPage(0)
	t.EncodeHeaderInto(page, t.params)

	length, err := t.file.Len()
	if err != nil {
		return err
	}
	if length == 0 {
		return t.file.AppendPage(page)
	}
	_, err = t.file.UpdatePage(page)
	return err
}

// Capacity returns F, the number of (hash32, PRef) pairs that fit
// in-slot before a bucket overflows into the link file.
func (t *TableFile) Capacity() uint32 { return t.capacity }

// BucketsPerPage returns how many fixed-width Bucket slots fit in one
// table page's payload.
func (t *TableFile) BucketsPerPage() int { return t.bucketsPerPage }

// PagesForBuckets returns how many table pages (excluding the header
// page) are needed to hold numBuckets buckets.
func (t *TableFile) PagesForBuckets(numBuckets uint32) int {
	return mathutil.CeilDiv(int(numBuckets), t.bucketsPerPage)
}

// Params returns the table's current linear-hash parameters.
func (t *TableFile) Params() hashindex.Params { return t.params }

// HasherKey returns the siphash key persisted in the header.
func (t *TableFile) HasherKey() (uint64, uint64) { return t.k0, t.k1 }

// SetParams sets new linear-hash parameters and writes the header page
// immediately. The engine's split stages the header through its batch
// instead (EncodeHeaderInto and SetParamsInMemory).
func (t *TableFile) SetParams(p hashindex.Params) error {
	t.params = p
	return t.writeHeader()
}

// pageForBucket returns the page number and in-page slot offset for
// bucket ordinal b.
func (t *TableFile) pageForBucket(b uint32) (pageNumber uint64, slotOffset int) {
	pageNumber = 1 + uint64(b)/uint64(t.bucketsPerPage)
	slotOffset = int(uint64(b)%uint64(t.bucketsPerPage)) * t.slotSize
	return pageNumber, slotOffset
}

// Locate exposes pageForBucket to callers (the engine's batch layer)
// that need to track dirty table pages across several bucket writes
// before any of them are committed to disk.
func (t *TableFile) Locate(b uint32) (pageNumber uint64, slotOffset int) {
	return t.pageForBucket(b)
}

// ReadPageAt returns the raw page at the given page number, or nil if it
// has never been written.
func (t *TableFile) ReadPageAt(pageNumber uint64) (*pageio.Page, error) {
	off, overflowed := mathutil.SafeMul(pageNumber, pageio.PageSize)
	if overflowed {
		return nil, errors.Errorf("tablefile: page number %d overflows file offset", pageNumber)
	}
	return t.file.ReadPage(pageio.PRef(off))
}

// ApplyPage writes a fully-formed page into the table file in place,
// extending the file with all-ones gap pages first if necessary so any
// bucket slot inside them decodes as InvalidPRef rather than position 0.
func (t *TableFile) ApplyPage(page *pageio.Page) error {
	pref := page.PRef()
	length, err := t.file.Len()
	if err != nil {
		return err
	}
	if pref.Uint64() >= length {
		for gap := length; gap < pref.Uint64(); gap += pageio.PageSize {
			if err := t.file.AppendPage(pageio.NewFilledPage(pageio.PRef(gap), 0xFF)); err != nil {
				return errors.Wrap(err, "tablefile: fill gap page")
			}
		}
		return t.file.AppendPage(page)
	}
	_, err = t.file.UpdatePage(page)
	return errors.Wrap(err, "tablefile: apply page")
}

// ReadBucketPage returns the raw page backing bucket b, or nil if that
// page has never been written.
func (t *TableFile) ReadBucketPage(b uint32) (*pageio.Page, error) {
	pageNumber, _ := t.pageForBucket(b)
	return t.ReadPageAt(pageNumber)
}

// ReadBucket returns the current contents of bucket b.
func (t *TableFile) ReadBucket(b uint32) (Bucket, error) {
	page, err := t.ReadBucketPage(b)
	if err != nil {
		return Bucket{}, errors.Wrap(err, "tablefile: read bucket")
	}
	if page == nil {
		return Bucket{OverflowLink: pageio.InvalidPRef}, nil
	}
	return t.ReadBucketFrom(page, b), nil
}

// ReadBucketFrom decodes bucket b's slot out of an already-loaded page,
// for callers (the engine's batch layer) that hold a page which may
// include not-yet-committed in-batch mutations.
func (t *TableFile) ReadBucketFrom(page *pageio.Page, b uint32) Bucket {
	_, slotOffset := t.pageForBucket(b)
	return DecodeBucket(page.Payload()[slotOffset:slotOffset+t.slotSize], t.capacity)
}

// WriteBucketInto encodes bucket b's new slot value into an
// already-loaded page, for callers that stage the mutation into a
// batch's dirty-page set rather than writing it immediately.
func (t *TableFile) WriteBucketInto(page *pageio.Page, b uint32, bucket Bucket) {
	_, slotOffset := t.pageForBucket(b)
	bucket.Encode(page.Payload()[slotOffset:slotOffset+t.slotSize], t.capacity)
}

// WriteBucket updates bucket b in place, extending the table with
// all-ones gap pages if the bucket's page does not exist yet. It does
// not capture a pre-image; a caller that needs a crash-consistent write
// captures the page returned by ReadBucketPage first. The engine does
// not call WriteBucket: it stages bucket writes through WriteBucketInto
// and its batch's dirty-page set.
func (t *TableFile) WriteBucket(b uint32, bucket Bucket) error {
	pageNumber, slotOffset := t.pageForBucket(b)
	pref := pageio.PRef(pageNumber * pageio.PageSize)

	page, err := t.file.ReadPage(pref)
	if err != nil {
		return errors.Wrap(err, "tablefile: read bucket page")
	}
	if page == nil {
		page = pageio.NewFilledPage(pref, 0xFF)
	} else {
		page = page.Clone()
		page.SetPRef(pref)
	}
	bucket.Encode(page.Payload()[slotOffset:slotOffset+t.slotSize], t.capacity)
	return t.ApplyPage(page)
}

// Len returns the table file's length in bytes.
func (t *TableFile) Len() (uint64, error) { return t.file.Len() }

// Sync fsyncs the underlying table file.
func (t *TableFile) Sync() error { return t.file.Sync() }

// Shutdown stops any background writer backing the table file.
func (t *TableFile) Shutdown() error { return t.file.Shutdown() }

// Flush drains buffered writes without blocking for durability.
func (t *TableFile) Flush() error { return t.file.Flush() }
