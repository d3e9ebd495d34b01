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

package hashindex

// Params holds the two integers that describe a linear hash table's
// current shape: log_mod is the number of address bits buckets at or
// above the split pointer use (buckets below it use one more), and step
// is the index of the next bucket due to split. The table currently has 2^log_mod + step buckets.
type Params struct {
	LogMod uint32
	Step   uint32
}

// Buckets returns the current number of buckets.
func (p Params) Buckets() uint32 {
	return (uint32(1) << p.LogMod) + p.Step
}

// BucketFor maps a key hash to its current bucket ordinal.
//
// Buckets below Step have already split and consume one extra address
// bit; buckets at or above Step have not split yet this round and are
// still addressed with the narrower mask.
func (p Params) BucketFor(hash32 uint32) uint32 {
	lowMask := uint32(1)<<p.LogMod - 1
	addr := hash32 & lowMask
	if addr < p.Step {
		highMask := uint32(1)<<(p.LogMod+1) - 1
		addr = hash32 & highMask
	}
	return addr
}

// Split advances the table by one bucket, returning the bucket that was
// split and the new sibling bucket created alongside it. Entries
// previously addressed by the split bucket redistribute between the two
// according to BucketFor with the returned Params.
func (p Params) Split() (next Params, splitBucket, siblingBucket uint32) {
	n := uint32(1) << p.LogMod
	splitBucket = p.Step
	siblingBucket = p.Step + n
	next = Params{LogMod: p.LogMod, Step: p.Step + 1}
	if next.Step == n {
		next.Step = 0
		next.LogMod = p.LogMod + 1
	}
	return next, splitBucket, siblingBucket
}

// ShouldSplit reports whether the table should grow by one bucket,
// given an inserted-entry count and a configured fill target (average
// entries per bucket). The engine passes the number of Puts made since
// it was opened; that count is not persisted and starts at zero on
// every Open.
func ShouldSplit(entriesSinceInit uint64, params Params, fillTarget int) bool {
	if fillTarget <= 0 {
		return false
	}
	buckets := params.Buckets()
	if buckets == 0 {
		return entriesSinceInit > 0
	}
	return entriesSinceInit/uint64(buckets) > uint64(fillTarget)
}
