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

// IndexedRecord is the payload of a KindIndexed envelope: a full
// (key, data) pair plus the PRefs of any records it references, and the
// position of the previously completed record in the data file (the
// record-level back-pointer, distinct from the page-level trailing
// field every page also carries).
type IndexedRecord struct {
	Key      []byte
	Data     []byte
	Referred []pageio.PRef
	Prev     pageio.PRef
}

// ReferredRecord is the payload of a KindReferred envelope: data reached
// only by traversal from an IndexedRecord, never looked up by key.
type ReferredRecord struct {
	Data     []byte
	Referred []pageio.PRef
	Prev     pageio.PRef
}

// Encode serializes r into an Envelope ready for Serialize.
func (r IndexedRecord) Encode() Envelope {
	payload := encodeRecordBody(r.Key, r.Data, r.Referred, r.Prev)
	return Envelope{Kind: KindIndexed, Payload: payload}
}

// Encode serializes r into an Envelope ready for Serialize.
func (r ReferredRecord) Encode() Envelope {
	payload := encodeRecordBody(nil, r.Data, r.Referred, r.Prev)
	return Envelope{Kind: KindReferred, Payload: payload}
}

// DecodeIndexedRecord parses the payload of a KindIndexed envelope.
func DecodeIndexedRecord(payload []byte) (IndexedRecord, error) {
	key, data, referred, prev, err := decodeRecordBody(payload, true)
	if err != nil {
		return IndexedRecord{}, err
	}
	return IndexedRecord{Key: key, Data: data, Referred: referred, Prev: prev}, nil
}

// DecodeReferredRecord parses the payload of a KindReferred envelope.
func DecodeReferredRecord(payload []byte) (ReferredRecord, error) {
	_, data, referred, prev, err := decodeRecordBody(payload, false)
	if err != nil {
		return ReferredRecord{}, err
	}
	return ReferredRecord{Data: data, Referred: referred, Prev: prev}, nil
}

// MaxKeyLen is the largest key a 1-byte key_len field can express, and
// the bound Put/PutReferred enforce before appending a record.
const MaxKeyLen = 1<<8 - 1

// MaxDataLen is the bound Put/PutReferred enforce on a record's data
// before appending it. It is stricter than the 3-byte data_len field's
// raw 2^24-1 capacity, matching the tighter limit the store API commits
// to.
const MaxDataLen = 1<<23 - 1

// record body layout:
//
//	[hasKey]  keyLen(1)  key                 (IndexedRecord only)
//	dataLen(3, big-endian)  data
//	varint(referredCount) referred[pageio.PRefSize]*
//	prev (pageio.PRefSize, fixed)
func encodeRecordBody(key, data []byte, referred []pageio.PRef, prev pageio.PRef) []byte {
	var hdr [binary.MaxVarintLen64]byte
	buf := make([]byte, 0, len(key)+len(data)+len(referred)*pageio.PRefSize+pageio.PRefSize+16)

	if key != nil {
		buf = append(buf, byte(len(key)))
		buf = append(buf, key...)
	}

	var dlen [3]byte
	putUint24(dlen[:], uint32(len(data)))
	buf = append(buf, dlen[:]...)
	buf = append(buf, data...)

	n := binary.PutUvarint(hdr[:], uint64(len(referred)))
	buf = append(buf, hdr[:n]...)
	var prefBuf [pageio.PRefSize]byte
	for _, p := range referred {
		pageio.PutPRef(prefBuf[:], p)
		buf = append(buf, prefBuf[:]...)
	}

	pageio.PutPRef(prefBuf[:], prev)
	buf = append(buf, prefBuf[:]...)
	return buf
}

func decodeRecordBody(payload []byte, hasKey bool) (key, data []byte, referred []pageio.PRef, prev pageio.PRef, err error) {
	rest := payload

	if hasKey {
		if len(rest) < 1 {
			return nil, nil, nil, 0, errors.New("recordio: truncated key length")
		}
		klen := int(rest[0])
		rest = rest[1:]
		if len(rest) < klen {
			return nil, nil, nil, 0, errors.New("recordio: truncated key")
		}
		key, rest = rest[:klen], rest[klen:]
	}

	if len(rest) < 3 {
		return nil, nil, nil, 0, errors.New("recordio: truncated data length")
	}
	dlen := uint64(getUint24(rest[:3]))
	rest = rest[3:]
	if uint64(len(rest)) < dlen {
		return nil, nil, nil, 0, errors.New("recordio: truncated data")
	}
	data, rest = rest[:dlen], rest[dlen:]

	var rcount uint64
	rcount, rest, err = readUvarint(rest)
	if err != nil {
		return nil, nil, nil, 0, errors.Wrap(err, "recordio: decode referred count")
	}
	if rcount > 0 {
		referred = make([]pageio.PRef, rcount)
		need := int(rcount) * pageio.PRefSize
		if len(rest) < need {
			return nil, nil, nil, 0, errors.New("recordio: truncated referred list")
		}
		for i := range referred {
			referred[i] = pageio.GetPRef(rest[i*pageio.PRefSize : (i+1)*pageio.PRefSize])
		}
		rest = rest[need:]
	}

	if len(rest) < pageio.PRefSize {
		return nil, nil, nil, 0, errors.New("recordio: truncated prev back-pointer")
	}
	prev = pageio.GetPRef(rest[:pageio.PRefSize])
	return key, data, referred, prev, nil
}

func readUvarint(buf []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, errors.New("recordio: malformed varint")
	}
	return v, buf[n:], nil
}
