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

	"github.com/erigontech/chainstore/pageio"
	"github.com/erigontech/chainstore/recordio"
)

// entrySize is the on-disk width of one in-slot (hash32, PRef) pair.
const entrySize = 4 + pageio.PRefSize

// Bucket is one bucket table slot: up to Capacity in-slot (hash32, PRef)
// entries, oldest first, plus the PRef of the newest overflow link
// record for this bucket (or pageio.InvalidPRef if there is none or the
// bucket has never been written to). Entries beyond the in-slot
// capacity live in the link file, reachable by walking
// recordio.LinkRecord.PreviousLinkForBucket from OverflowLink.
type Bucket struct {
	Entries      []recordio.LinkEntry
	OverflowLink pageio.PRef
}

// SlotSize returns the fixed byte width of a bucket slot sized to hold
// up to capacity in-slot entries.
func SlotSize(capacity uint32) int {
	return int(capacity)*entrySize + pageio.PRefSize
}

// Encode writes b into buf[0:SlotSize(capacity)]. Slots beyond
// len(b.Entries) are written as invalid entries, so a gap page filled
// with 0xFF decodes as an empty bucket: every slot's PRef already reads
// as pageio.InvalidPRef.
func (b Bucket) Encode(buf []byte, capacity uint32) {
	off := 0
	for i := 0; i < int(capacity); i++ {
		if i < len(b.Entries) {
			binary.BigEndian.PutUint32(buf[off:], b.Entries[i].Hash32)
			pageio.PutPRef(buf[off+4:], b.Entries[i].Ref)
		} else {
			binary.BigEndian.PutUint32(buf[off:], 0xFFFFFFFF)
			pageio.PutPRef(buf[off+4:], pageio.InvalidPRef)
		}
		off += entrySize
	}
	pageio.PutPRef(buf[off:], b.OverflowLink)
}

// DecodeBucket reads a Bucket from buf[0:SlotSize(capacity)]. In-slot
// entries are stored compactly (no holes), so decoding stops at the
// first slot whose PRef is invalid.
func DecodeBucket(buf []byte, capacity uint32) Bucket {
	var entries []recordio.LinkEntry
	off := 0
	for i := 0; i < int(capacity); i++ {
		ref := pageio.GetPRef(buf[off+4:])
		if !ref.IsValid() {
			break
		}
		entries = append(entries, recordio.LinkEntry{
			Hash32: binary.BigEndian.Uint32(buf[off:]),
			Ref:    ref,
		})
		off += entrySize
	}
	overflow := pageio.GetPRef(buf[int(capacity)*entrySize:])
	return Bucket{Entries: entries, OverflowLink: overflow}
}
