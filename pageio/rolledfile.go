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

package pageio

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// RolledFile concatenates fixed-size chunks named "<base>.<n>.<ext>"
// into one logical PagedFile, selecting the chunk by position/chunkSize.
// This is deliberately a trivial aggregation: spec.md places file-rolling
// out of scope beyond the PagedFile interface it must satisfy.
type RolledFile struct {
	mu        sync.Mutex
	base      string
	ext       string
	chunkSize uint64
	chunks    []*SingleFile
}

// OpenRolledFile opens (or creates) the chunk-rolled file base.<n>.ext,
// opening chunks 0, 1, ... in turn (creating any that are missing) and
// stopping at the first chunk shorter than chunkSize.
func OpenRolledFile(base, ext string, chunkSize uint64) (*RolledFile, error) {
	r := &RolledFile{base: base, ext: ext, chunkSize: chunkSize}
	for {
		name := r.chunkName(uint64(len(r.chunks)))
		sf, err := OpenSingleFile(name)
		if err != nil {
			return nil, err
		}
		length, _ := sf.Len()
		r.chunks = append(r.chunks, sf)
		if length < chunkSize {
			break
		}
	}
	return r, nil
}

func (r *RolledFile) chunkName(n uint64) string {
	return fmt.Sprintf("%s.%d.%s", r.base, n, r.ext)
}

func (r *RolledFile) chunkFor(pos uint64) (uint64, error) {
	return pos / r.chunkSize, nil
}

func (r *RolledFile) ensureChunk(n uint64) (*SingleFile, error) {
	for uint64(len(r.chunks)) <= n {
		sf, err := OpenSingleFile(r.chunkName(uint64(len(r.chunks))))
		if err != nil {
			return nil, err
		}
		r.chunks = append(r.chunks, sf)
	}
	return r.chunks[n], nil
}

// ReadPage implements PagedFile.
func (r *RolledFile) ReadPage(pref PRef) (*Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.chunkFor(pref.Uint64())
	if err != nil {
		return nil, err
	}
	if n >= uint64(len(r.chunks)) {
		return nil, nil
	}
	local := pref.Uint64() % r.chunkSize
	page, err := r.chunks[n].ReadPage(PRef(local))
	if err != nil || page == nil {
		return page, err
	}
	page.SetPRef(pref)
	return page, nil
}

// Len implements PagedFile: the logical length of the rolled file.
func (r *RolledFile) Len() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chunks) == 0 {
		return 0, nil
	}
	total := uint64(len(r.chunks)-1) * r.chunkSize
	last, err := r.chunks[len(r.chunks)-1].Len()
	if err != nil {
		return 0, err
	}
	return total + last, nil
}

// Truncate implements PagedFile, dropping whole trailing chunks and
// truncating the chunk containing newLen.
func (r *RolledFile) Truncate(newLen uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := newLen / r.chunkSize
	local := newLen % r.chunkSize
	for uint64(len(r.chunks)) > n+1 {
		last := r.chunks[len(r.chunks)-1]
		if err := last.Truncate(0); err != nil {
			return err
		}
		if err := last.Close(); err != nil {
			return err
		}
		r.chunks = r.chunks[:len(r.chunks)-1]
	}
	if uint64(len(r.chunks)) <= n {
		if _, err := r.ensureChunk(n); err != nil {
			return err
		}
	}
	return r.chunks[n].Truncate(local)
}

// Sync implements PagedFile.
func (r *RolledFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chunks {
		if err := c.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown implements PagedFile.
func (r *RolledFile) Shutdown() error { return nil }

// AppendPage implements PagedFile, rolling into a new chunk file when
// the current one would exceed chunkSize.
func (r *RolledFile) AppendPage(page *Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chunks) == 0 {
		if _, err := r.ensureChunk(0); err != nil {
			return err
		}
	}
	last := r.chunks[len(r.chunks)-1]
	length, err := last.Len()
	if err != nil {
		return err
	}
	if length+PageSize > r.chunkSize {
		if _, err := r.ensureChunk(uint64(len(r.chunks))); err != nil {
			return err
		}
		last = r.chunks[len(r.chunks)-1]
	}
	return last.AppendPage(page)
}

// UpdatePage implements PagedFile.
func (r *RolledFile) UpdatePage(page *Page) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.chunkFor(page.PRef().Uint64())
	if err != nil {
		return 0, err
	}
	chunk, err := r.ensureChunk(n)
	if err != nil {
		return 0, err
	}
	local := page.Clone()
	local.SetPRef(PRef(page.PRef().Uint64() % r.chunkSize))
	if _, err := chunk.UpdatePage(local); err != nil {
		return 0, err
	}
	// r.mu is already held, so the logical length is computed here
	// rather than through Len.
	last, err := r.chunks[len(r.chunks)-1].Len()
	if err != nil {
		return 0, err
	}
	return uint64(len(r.chunks)-1)*r.chunkSize + last, nil
}

// Flush implements PagedFile.
func (r *RolledFile) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chunks {
		if err := c.Flush(); err != nil {
			return errors.Wrap(err, "pageio: rolled flush")
		}
	}
	return nil
}
