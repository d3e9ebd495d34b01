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

// Package memfile is test-only scaffolding shared across the module's
// test suites: an in-memory pageio.PagedFile so tests never touch disk.
// spec.md places an in-memory test backend out of scope as a specified
// component; this exists purely so other packages' tests can exercise
// pageio/recordio/tablefile/walog/store logic quickly and deterministically.
package memfile

import (
	"sync"

	"github.com/erigontech/chainstore/pageio"
)

// File is a pageio.PagedFile backed by a plain byte slice.
type File struct {
	mu  sync.Mutex
	buf []byte
}

// New returns an empty in-memory paged file.
func New() *File { return &File{} }

// ReadPage implements pageio.PagedFile.
func (m *File) ReadPage(pref pageio.PRef) (*pageio.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := pref.Uint64()
	if off+pageio.PageSize > uint64(len(m.buf)) {
		return nil, nil
	}
	var buf [pageio.PageSize]byte
	copy(buf[:], m.buf[off:off+pageio.PageSize])
	return pageio.PageFromBytes(pref, buf), nil
}

// Len implements pageio.PagedFile.
func (m *File) Len() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.buf)), nil
}

// Truncate implements pageio.PagedFile.
func (m *File) Truncate(newLen uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newLen <= uint64(len(m.buf)) {
		m.buf = m.buf[:newLen]
		return nil
	}
	grown := make([]byte, newLen)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

// Sync implements pageio.PagedFile.
func (m *File) Sync() error { return nil }

// Shutdown implements pageio.PagedFile.
func (m *File) Shutdown() error { return nil }

// AppendPage implements pageio.PagedFile.
func (m *File) AppendPage(page *pageio.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, page.Bytes()...)
	return nil
}

// UpdatePage implements pageio.PagedFile.
func (m *File) UpdatePage(page *pageio.Page) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := page.PRef().Uint64()
	if off+pageio.PageSize > uint64(len(m.buf)) {
		grown := make([]byte, off+pageio.PageSize)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:off+pageio.PageSize], page.Bytes())
	return uint64(len(m.buf)), nil
}

// Flush implements pageio.PagedFile.
func (m *File) Flush() error { return nil }
