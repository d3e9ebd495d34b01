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

import "github.com/c2h5oh/datasize"

// Config tunes the engine's caching and growth behavior. A zero Config
// is valid: a zero BucketFillTarget or ChunkSize is replaced by the
// DefaultConfig value, a zero CachedDataPages disables the table cache
// and a false UseMmap disables the mmap reader.
type Config struct {
	// CachedDataPages bounds the LRU page cache the persistent backend
	// places in front of the table file's random-access reads. Zero
	// disables caching.
	CachedDataPages int

	// BucketFillTarget is the average number of entries per bucket the
	// linear hash index tries to maintain; the table splits one bucket
	// whenever the observed average exceeds this.
	BucketFillTarget int

	// ChunkSize is the size at which data/link files roll over into a
	// new chunk on disk.
	ChunkSize datasize.ByteSize

	// UseMmap enables the mmap-accelerated reader for the table file.
	UseMmap bool
}

// DefaultConfig returns the engine's default tuning.
func DefaultConfig() Config {
	return Config{
		CachedDataPages:  4096,
		BucketFillTarget: 4,
		ChunkSize:        1 * datasize.GB,
		UseMmap:          true,
	}
}

func (c Config) withDefaults() Config {
	if c.BucketFillTarget <= 0 {
		c.BucketFillTarget = DefaultConfig().BucketFillTarget
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultConfig().ChunkSize
	}
	return c
}
