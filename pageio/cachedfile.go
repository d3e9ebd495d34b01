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
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedFile layers a read-through LRU of recently read pages in front
// of an inner PagedFile, sized by the engine's cached_data_pages config
// knob. Writes replace the corresponding cache entry with the written
// page so a reader never observes a stale page after an in-place
// UpdatePage.
type CachedFile struct {
	inner PagedFile
	cache *lru.Cache[PRef, *Page]
}

// NewCachedFile wraps inner with an LRU of the given page capacity. A
// non-positive capacity is treated as a capacity of one page.
func NewCachedFile(inner PagedFile, capacity int) (*CachedFile, error) {
	if capacity <= 0 {
		capacity = 1
	}
	cache, err := lru.New[PRef, *Page](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedFile{inner: inner, cache: cache}, nil
}

// ReadPage implements PagedFile.
func (c *CachedFile) ReadPage(pref PRef) (*Page, error) {
	if page, ok := c.cache.Get(pref); ok {
		return page, nil
	}
	page, err := c.inner.ReadPage(pref)
	if err != nil || page == nil {
		return page, err
	}
	c.cache.Add(pref, page)
	return page, nil
}

// Len implements PagedFile.
func (c *CachedFile) Len() (uint64, error) { return c.inner.Len() }

// Truncate implements PagedFile, dropping the whole cache since many
// entries may now be stale.
func (c *CachedFile) Truncate(newLen uint64) error {
	c.cache.Purge()
	return c.inner.Truncate(newLen)
}

// Sync implements PagedFile.
func (c *CachedFile) Sync() error { return c.inner.Sync() }

// Shutdown implements PagedFile.
func (c *CachedFile) Shutdown() error { return c.inner.Shutdown() }

// AppendPage implements PagedFile and seeds the cache with the new page.
func (c *CachedFile) AppendPage(page *Page) error {
	if err := c.inner.AppendPage(page); err != nil {
		return err
	}
	c.cache.Add(page.PRef(), page)
	return nil
}

// UpdatePage implements PagedFile, refreshing the cache entry in place.
func (c *CachedFile) UpdatePage(page *Page) (uint64, error) {
	n, err := c.inner.UpdatePage(page)
	if err != nil {
		return 0, err
	}
	c.cache.Add(page.PRef(), page)
	return n, nil
}

// Flush implements PagedFile.
func (c *CachedFile) Flush() error { return c.inner.Flush() }
