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

package store

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/erigontech/chainstore/pageio"
)

// dirtySet tracks, for one in-progress batch, which table pages have
// been touched and what they looked like before the first touch. The
// bitset gives an O(1) "have we already captured this page's pre-image"
// test independent of map iteration order, which matters once a batch
// touches enough buckets that the page numbers stop being small and
// contiguous (a table with millions of buckets spans thousands of
// pages, scattered across a batch by hash order, not table order).
type dirtySet struct {
	touched   *bitset.BitSet
	originals []*pageio.Page
	current   map[uint64]*pageio.Page
}

func newDirtySet() *dirtySet {
	return &dirtySet{
		touched: bitset.New(1024),
		current: make(map[uint64]*pageio.Page),
	}
}

// touch records original as the pre-image for its page the first time
// that page is mutated in this batch; subsequent touches are no-ops.
func (d *dirtySet) touch(pageNumber uint64, original *pageio.Page) {
	if d.touched.Test(uint(pageNumber)) {
		return
	}
	d.touched.Set(uint(pageNumber))
	d.originals = append(d.originals, original)
}

// set stores page as the current (mutated, not yet committed) content
// for its page number.
func (d *dirtySet) set(pageNumber uint64, page *pageio.Page) {
	d.current[pageNumber] = page
}

// get returns the current in-batch content for pageNumber, if any.
func (d *dirtySet) get(pageNumber uint64) (*pageio.Page, bool) {
	page, ok := d.current[pageNumber]
	return page, ok
}

// pageNumbers returns every touched page number in ascending order, for
// a deterministic commit-apply order.
func (d *dirtySet) pageNumbers() []uint64 {
	nums := make([]uint64, 0, len(d.current))
	for n := range d.current {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}
