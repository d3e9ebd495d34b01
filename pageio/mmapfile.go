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
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// MmapFile accelerates reads of an update-in-place file (the table file)
// by mapping it read-only and serving ReadPage out of the mapping
// instead of a read(2) syscall per lookup. Writes still go through the
// wrapped SingleFile; the mapping is rebuilt after every AppendPage,
// UpdatePage and Truncate.
type MmapFile struct {
	mu     sync.RWMutex
	inner  *SingleFile
	mapped mmap.MMap
	mapLen uint64
}

// NewMmapFile wraps a SingleFile, mapping its current contents.
func NewMmapFile(inner *SingleFile) (*MmapFile, error) {
	m := &MmapFile{inner: inner}
	if err := m.remap(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MmapFile) remap() error {
	if m.mapped != nil {
		if err := m.mapped.Unmap(); err != nil {
			return errors.Wrap(err, "pageio: unmap")
		}
		m.mapped = nil
	}
	length, err := m.inner.Len()
	if err != nil {
		return err
	}
	if length == 0 {
		m.mapLen = 0
		return nil
	}
	mapping, err := mmap.MapRegion(m.inner.file, int(length), mmap.RDONLY, 0, 0)
	if err != nil {
		// Not every platform/filesystem supports mmap; callers fall back
		// to SingleFile directly when NewMmapFile fails, so a remap
		// failure here is reported but the caller may still choose to
		// keep operating without the accelerator.
		return errors.Wrap(err, "pageio: mmap")
	}
	m.mapped = mapping
	m.mapLen = length
	return nil
}

// ReadPage implements PagedFile, serving out of the mapping when
// possible and falling back to a direct read past the mapped length.
func (m *MmapFile) ReadPage(pref PRef) (*Page, error) {
	m.mu.RLock()
	off := pref.Uint64()
	if off+PageSize <= m.mapLen {
		var buf [PageSize]byte
		copy(buf[:], m.mapped[off:off+PageSize])
		m.mu.RUnlock()
		return PageFromBytes(pref, buf), nil
	}
	m.mu.RUnlock()
	return m.inner.ReadPage(pref)
}

// Len implements PagedFile.
func (m *MmapFile) Len() (uint64, error) { return m.inner.Len() }

// Truncate implements PagedFile, dropping and rebuilding the mapping.
func (m *MmapFile) Truncate(newLen uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.inner.Truncate(newLen); err != nil {
		return err
	}
	return m.remap()
}

// Sync implements PagedFile.
func (m *MmapFile) Sync() error { return m.inner.Sync() }

// Shutdown unmaps and closes the underlying file.
func (m *MmapFile) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapped != nil {
		if err := m.mapped.Unmap(); err != nil {
			return errors.Wrap(err, "pageio: unmap on shutdown")
		}
		m.mapped = nil
	}
	return m.inner.Close()
}

// AppendPage implements PagedFile, remapping so the new page becomes
// visible to subsequent mmap-served reads.
func (m *MmapFile) AppendPage(page *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.inner.AppendPage(page); err != nil {
		return err
	}
	return m.remap()
}

// UpdatePage implements PagedFile, remapping afterwards: a page written
// via WriteAt while the region is mapped would otherwise be visible
// immediately on most platforms, but remapping keeps behavior portable.
func (m *MmapFile) UpdatePage(page *Page) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.inner.UpdatePage(page)
	if err != nil {
		return 0, err
	}
	if err := m.remap(); err != nil {
		return 0, err
	}
	return n, nil
}

// Flush implements PagedFile.
func (m *MmapFile) Flush() error { return m.inner.Flush() }
