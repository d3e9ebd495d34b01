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

// Package recordio implements the append-only data and link files:
// variable-length records framed by a small Envelope and packed into the
// page payloads pageio provides, each carrying a trailing back-pointer to
// the previously completed record in the same file.
package recordio

import (
	"github.com/pkg/errors"

	"github.com/erigontech/chainstore/pageio"
)

// Kind identifies the payload carried by an Envelope.
type Kind uint8

const (
	// KindIndexed is a record carrying (key, data, referred).
	KindIndexed Kind = 1
	// KindReferred is a record carrying (data, referred) only.
	KindReferred Kind = 2
	// KindLink is a bucket's overflow slice, link file only.
	KindLink Kind = 3
	// KindTable is reserved for a framed table-page payload. No code
	// path in this implementation produces it: table pages are raw
	// fixed-width bucket arrays, not framed records. It exists so the
	// Kind space matches spec.md's Envelope definition and so a stray
	// byte of that value is reported as Corrupted rather than silently
	// misparsed as one of the other three.
	KindTable Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindIndexed:
		return "indexed"
	case KindReferred:
		return "referred"
	case KindLink:
		return "link"
	case KindTable:
		return "table"
	default:
		return "unknown"
	}
}

// EnvelopeHeaderSize is the framing overhead: 1 byte kind + 3 byte length.
const EnvelopeHeaderSize = 4

// MaxPayloadLen is the largest length a 3-byte big-endian length field
// can express.
const MaxPayloadLen = 1<<24 - 1

// Envelope is the framed on-disk form of every record: kind, length,
// payload.
type Envelope struct {
	Kind    Kind
	Payload []byte
}

// Serialize returns the framed bytes: kind(1) | length(3, big-endian) | payload.
func (e Envelope) Serialize() ([]byte, error) {
	if len(e.Payload) > MaxPayloadLen {
		return nil, errors.Errorf("recordio: payload length %d exceeds %d", len(e.Payload), MaxPayloadLen)
	}
	out := make([]byte, EnvelopeHeaderSize+len(e.Payload))
	out[0] = byte(e.Kind)
	putUint24(out[1:4], uint32(len(e.Payload)))
	copy(out[4:], e.Payload)
	return out, nil
}

// reader is the random-access read an envelope needs; it is satisfied
// by pageio.PagedFileAppender's Read method.
type reader interface {
	Read(pos pageio.PRef, out []byte) (pageio.PRef, error)
}

// ReadEnvelope reads one framed envelope starting at pos.
func ReadEnvelope(r reader, pos pageio.PRef) (Envelope, pageio.PRef, error) {
	var hdr [EnvelopeHeaderSize]byte
	next, err := r.Read(pos, hdr[:])
	if err != nil {
		return Envelope{}, 0, errors.Wrap(err, "recordio: read envelope header")
	}
	kind := Kind(hdr[0])
	length := getUint24(hdr[1:4])
	payload := make([]byte, length)
	if length > 0 {
		next, err = r.Read(next, payload)
		if err != nil {
			return Envelope{}, 0, errors.Wrap(err, "recordio: read envelope payload")
		}
	}
	return Envelope{Kind: kind, Payload: payload}, next, nil
}

func putUint24(buf []byte, v uint32) {
	buf[0] = byte(v >> 16)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v)
}

func getUint24(buf []byte) uint32 {
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
}
