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

package recordio

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/erigontech/chainstore/pageio"
)

// LinkEntry pairs a bucket entry's truncated hash with the PRef of the
// record it points to.
type LinkEntry struct {
	Hash32 uint32
	Ref    pageio.PRef
}

// LinkRecord is a bucket's overflow chain node, written to the link
// file only. Chains are newest-first: PreviousLinkForBucket points at
// the link record this one supersedes for the same bucket, or
// pageio.InvalidPRef if this is the chain's origin.
type LinkRecord struct {
	Entries              []LinkEntry
	PreviousLinkForBucket pageio.PRef
}

const linkEntrySize = 4 + pageio.PRefSize

// Encode serializes r into an Envelope ready for Serialize.
func (r LinkRecord) Encode() Envelope {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(r.Entries)))
	buf := make([]byte, 0, n+len(r.Entries)*linkEntrySize+pageio.PRefSize)
	buf = append(buf, hdr[:n]...)

	var entryBuf [linkEntrySize]byte
	for _, e := range r.Entries {
		binary.BigEndian.PutUint32(entryBuf[:4], e.Hash32)
		pageio.PutPRef(entryBuf[4:], e.Ref)
		buf = append(buf, entryBuf[:]...)
	}

	var prefBuf [pageio.PRefSize]byte
	pageio.PutPRef(prefBuf[:], r.PreviousLinkForBucket)
	buf = append(buf, prefBuf[:]...)

	return Envelope{Kind: KindLink, Payload: buf}
}

// DecodeLinkRecord parses the payload of a KindLink envelope.
func DecodeLinkRecord(payload []byte) (LinkRecord, error) {
	count, rest, err := readUvarint(payload)
	if err != nil {
		return LinkRecord{}, errors.Wrap(err, "recordio: decode link entry count")
	}

	entries := make([]LinkEntry, count)
	need := int(count) * linkEntrySize
	if len(rest) < need {
		return LinkRecord{}, errors.New("recordio: truncated link entries")
	}
	for i := range entries {
		chunk := rest[i*linkEntrySize : (i+1)*linkEntrySize]
		entries[i] = LinkEntry{
			Hash32: binary.BigEndian.Uint32(chunk[:4]),
			Ref:    pageio.GetPRef(chunk[4:]),
		}
	}
	rest = rest[need:]

	if len(rest) < pageio.PRefSize {
		return LinkRecord{}, errors.New("recordio: truncated previous-link back-pointer")
	}
	prev := pageio.GetPRef(rest[:pageio.PRefSize])

	return LinkRecord{Entries: entries, PreviousLinkForBucket: prev}, nil
}
