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

// Package hashindex implements the linear-hashing bucket index: the key
// hash function and the incremental (log_mod, step) growth scheme that
// lets the bucket table expand one split at a time instead of doubling
// in one step.
package hashindex

import "github.com/dchest/siphash"

// Hasher computes the truncated SipHash-2-4 used to place keys into
// buckets. Keyed with a fixed 128-bit key chosen at store creation and
// persisted in the table file header, so bucket assignment is stable
// across process restarts but not predictable from outside.
type Hasher struct {
	k0, k1 uint64
}

// NewHasher builds a Hasher from a 128-bit key.
func NewHasher(k0, k1 uint64) Hasher {
	return Hasher{k0: k0, k1: k1}
}

// Hash32 returns the truncated 32-bit SipHash-2-4 of key.
func (h Hasher) Hash32(key []byte) uint32 {
	full := siphash.Hash(h.k0, h.k1, key)
	return uint32(full)
}
