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
	"github.com/pkg/errors"
)

// PagedFile is the capability set every file-backed structure in
// chainstore is built from: single files, chunk-rolled files, the async
// writer and the LRU-cached reader all implement it and compose by
// wrapping one another.
type PagedFile interface {
	// ReadPage returns the page at pref, or (nil, nil) past EOF.
	ReadPage(pref PRef) (*Page, error)
	// Len returns the current logical length of the file in bytes.
	Len() (uint64, error)
	// Truncate shrinks (or, for recovery bookkeeping, sets) the file to
	// newLen bytes. newLen must be page-aligned.
	Truncate(newLen uint64) error
	// Sync asks the OS to persist buffered writes to media.
	Sync() error
	// Shutdown stops any background worker, flushing first.
	Shutdown() error
	// AppendPage extends the file by one page.
	AppendPage(page *Page) error
	// UpdatePage overwrites the page at page.PRef() in place, extending
	// the file if necessary. Returns the file's length after the write.
	UpdatePage(page *Page) (uint64, error)
	// Flush drains any buffered writes to the OS without blocking for
	// durability.
	Flush() error
}

// PagedFileAppender sequences variable-length byte slices into the
// payload of successive pages of an inner append-only PagedFile,
// maintaining the "last end page" (lep) needed to populate each page's
// trailing back-pointer field as specified by spec.md §4.3.
type PagedFileAppender struct {
	file PagedFile
	pos  PRef
	page *Page
	lep  PRef
	last PRef // start of the slice written by the most recent Append
}

// NewPagedFileAppender resumes appending at pos, with lep as the
// position of the most recently completed record in the file.
func NewPagedFileAppender(file PagedFile, pos, lep PRef) *PagedFileAppender {
	return &PagedFileAppender{file: file, pos: pos, lep: lep}
}

// ResumeAppender opens an appender positioned at the end of file,
// recovering lep from the last page's trailing back-pointer field. Use
// this instead of NewPagedFileAppender(file, 0, InvalidPRef) whenever
// file may already hold data from a previous process lifetime.
func ResumeAppender(file PagedFile) (*PagedFileAppender, error) {
	length, err := file.Len()
	if err != nil {
		return nil, errors.Wrap(err, "pageio: resume appender: len")
	}
	if length < PageSize {
		return NewPagedFileAppender(file, PRef(length), InvalidPRef), nil
	}
	last, err := file.ReadPage(PRef(length - PageSize))
	if err != nil {
		return nil, errors.Wrap(err, "pageio: resume appender: read last page")
	}
	if last == nil {
		return nil, errors.New("pageio: resume appender: missing last page")
	}
	return NewPagedFileAppender(file, PRef(length), last.TrailingRef()), nil
}

// Position returns the next position that will be written.
func (a *PagedFileAppender) Position() PRef { return a.pos }

// Lep returns the position of the last record this appender considers
// complete.
func (a *PagedFileAppender) Lep() PRef { return a.lep }

// Advance marks the slice written by the most recent Append as a
// completed record, making its start position the appender's lep.
func (a *PagedFileAppender) Advance() { a.lep = a.last }

// Append writes buf starting at the appender's current position,
// crossing page boundaries as needed, and returns the position the
// slice started at.
func (a *PagedFileAppender) Append(buf []byte) (PRef, error) {
	start := a.pos
	wrote := 0
	for wrote < len(buf) {
		if a.page == nil {
			a.page = NewPage(a.pos.ThisPage())
		}
		pos := int(a.pos.InPagePos())
		space := PagePayloadSize - pos
		if space > len(buf)-wrote {
			space = len(buf) - wrote
		}
		a.page.Write(pos, buf[wrote:wrote+space])
		wrote += space
		a.pos = a.pos.Add(uint64(space))
		if a.pos.InPagePos() == PagePayloadSize {
			a.page.SetTrailingRef(a.lep)
			if err := a.file.AppendPage(a.page); err != nil {
				return 0, errors.Wrap(err, "pageio: append page")
			}
			a.pos = a.pos.Add(PageSize - PagePayloadSize)
			a.page = nil
		}
	}
	if a.pos.InPagePos() == 0 {
		a.page = nil
	}
	a.last = start
	return start, nil
}

// Read copies len(out) bytes starting at pos into out, following page
// boundaries. It consults the appender's own in-progress page first so
// callers can read back data not yet handed to the inner file (an
// async-wrapped inner file does not make unflushed pages visible to
// ReadPage).
func (a *PagedFileAppender) Read(pos PRef, out []byte) (PRef, error) {
	read := 0
	for read < len(out) {
		page, err := a.readPage(pos.ThisPage())
		if err != nil {
			return 0, err
		}
		if page == nil {
			return 0, errors.Errorf("pageio: short read at %d", pos.Uint64())
		}
		have := PagePayloadSize - int(pos.InPagePos())
		if have > len(out)-read {
			have = len(out) - read
		}
		page.Read(int(pos.InPagePos()), out[read:read+have])
		read += have
		pos = pos.Add(uint64(have))
		if pos.InPagePos() == PagePayloadSize {
			pos = pos.Add(PageSize - PagePayloadSize)
		}
	}
	return pos, nil
}

func (a *PagedFileAppender) readPage(pref PRef) (*Page, error) {
	if a.page != nil && a.pos.ThisPage() == pref {
		return a.page, nil
	}
	return a.file.ReadPage(pref)
}

// ReadPage implements PagedFile, preferring the in-progress page.
func (a *PagedFileAppender) ReadPage(pref PRef) (*Page, error) {
	return a.readPage(pref)
}

// Len implements PagedFile.
func (a *PagedFileAppender) Len() (uint64, error) { return a.file.Len() }

// Sync implements PagedFile.
func (a *PagedFileAppender) Sync() error { return a.file.Sync() }

// Shutdown implements PagedFile.
func (a *PagedFileAppender) Shutdown() error { return a.file.Shutdown() }

// Truncate rewinds the appender to newLen, recomputing lep from the new
// last page's trailing field.
func (a *PagedFileAppender) Truncate(newLen uint64) error {
	if newLen >= PageSize {
		last, err := a.file.ReadPage(PRef(newLen - PageSize))
		if err != nil {
			return errors.Wrap(err, "pageio: truncate: read last page")
		}
		if last == nil {
			return errors.New("pageio: truncate: missing last page")
		}
		a.lep = last.TrailingRef()
	} else {
		a.lep = InvalidPRef
	}
	a.pos = PRef(newLen)
	a.page = nil
	return a.file.Truncate(newLen)
}

// AppendPage implements PagedFile by delegating straight to the inner
// file; used when a caller wants to append a fully-formed page (table
// pre-images into the log).
func (a *PagedFileAppender) AppendPage(page *Page) error { return a.file.AppendPage(page) }

// UpdatePage is not meaningful for an append-only file.
func (a *PagedFileAppender) UpdatePage(*Page) (uint64, error) {
	return 0, errors.New("pageio: update_page not supported on an appender")
}

// Flush writes any partially filled page (without padding) and flushes
// the inner file. Per spec.md's resolved Open Question, the page is
// closed permanently: positions between the flushed pos and the next
// page boundary are never reused.
func (a *PagedFileAppender) Flush() error {
	if a.page != nil && a.pos.InPagePos() > 0 {
		a.page.SetTrailingRef(a.lep)
		if err := a.file.AppendPage(a.page); err != nil {
			return errors.Wrap(err, "pageio: flush: append partial page")
		}
		a.pos = a.pos.Add(PageSize - a.pos.InPagePos())
		a.page = nil
	}
	return a.file.Flush()
}

// PagedFileIterator walks successive pages of a PagedFile starting at a
// given page boundary, stopping at EOF. It is lazy, finite and
// single-pass.
type PagedFileIterator struct {
	pageNumber uint64
	file       PagedFile
}

// NewPagedFileIterator creates an iterator starting at the page
// containing pref.
func NewPagedFileIterator(file PagedFile, pref PRef) *PagedFileIterator {
	return &PagedFileIterator{pageNumber: pref.PageNumber(), file: file}
}

// Next returns the next page, or nil at EOF.
func (it *PagedFileIterator) Next() (*Page, error) {
	pref := PRef(it.pageNumber * PageSize)
	page, err := it.file.ReadPage(pref)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}
	it.pageNumber++
	return page, nil
}
