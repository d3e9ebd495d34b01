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

// Package walog implements the write-ahead log that makes a batch of
// table-file mutations atomic: before any bucket slot is overwritten in
// place, its pre-image page is captured here, along with the file
// lengths the data/link/table files had before the batch began. A crash
// mid-batch is recovered by undoing: replay the captured pre-images
// back onto the table file and truncate all three files to their
// recorded pre-batch lengths.
package walog

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/erigontech/chainstore/hashindex"
	"github.com/erigontech/chainstore/pageio"
)

var logMagic = [4]byte{'c', 's', 'w', 'l'}

// Header describes the state of the store immediately before the
// in-progress batch began.
type Header struct {
	PreDataLen  uint64
	PreLinkLen  uint64
	PreTableLen uint64
	PreParams   hashindex.Params
}

const (
	hdrMagicOffset  = 0
	hdrDataOffset   = 4
	hdrLinkOffset   = hdrDataOffset + 8
	hdrTableOffset  = hdrLinkOffset + 8
	hdrLogModOffset = hdrTableOffset + 8
	hdrStepOffset   = hdrLogModOffset + 4
)

// LogFile is the write-ahead log. Page 0 is the header; every page
// after it is a table-file pre-image, tagged via its trailing
// back-pointer field with the table position it must be restored to.
type LogFile struct {
	file pageio.PagedFile
}

// Open wraps file as a LogFile. It does not inspect contents; callers
// use HasPending/ReadHeader to decide whether a crash-recovery replay
// is needed.
func Open(file pageio.PagedFile) *LogFile {
	return &LogFile{file: file}
}

// HasPending reports whether the log holds an incomplete batch left
// behind by a crash.
func (l *LogFile) HasPending() (bool, error) {
	length, err := l.file.Len()
	if err != nil {
		return false, err
	}
	return length >= pageio.PageSize, nil
}

// Begin starts a new batch: truncates any stale content and writes the
// header page recording the pre-batch state.
func (l *LogFile) Begin(h Header) error {
	if err := l.file.Truncate(0); err != nil {
		return errors.Wrap(err, "walog: begin: truncate")
	}
	page := pageio.NewPage(0)
	payload := page.Payload()
	copy(payload[hdrMagicOffset:], logMagic[:])
	binary.BigEndian.PutUint64(payload[hdrDataOffset:], h.PreDataLen)
	binary.BigEndian.PutUint64(payload[hdrLinkOffset:], h.PreLinkLen)
	binary.BigEndian.PutUint64(payload[hdrTableOffset:], h.PreTableLen)
	binary.BigEndian.PutUint32(payload[hdrLogModOffset:], h.PreParams.LogMod)
	binary.BigEndian.PutUint32(payload[hdrStepOffset:], h.PreParams.Step)
	return l.file.AppendPage(page)
}

// ReadHeader reads the pre-batch state recorded at the start of the
// current (possibly incomplete) batch.
func (l *LogFile) ReadHeader() (Header, error) {
	page, err := l.file.ReadPage(0)
	if err != nil {
		return Header{}, errors.Wrap(err, "walog: read header")
	}
	if page == nil {
		return Header{}, errors.New("walog: missing header page")
	}
	payload := page.Payload()
	if string(payload[hdrMagicOffset:hdrMagicOffset+4]) != string(logMagic[:]) {
		return Header{}, errors.New("walog: bad header magic")
	}
	return Header{
		PreDataLen:  binary.BigEndian.Uint64(payload[hdrDataOffset:]),
		PreLinkLen:  binary.BigEndian.Uint64(payload[hdrLinkOffset:]),
		PreTableLen: binary.BigEndian.Uint64(payload[hdrTableOffset:]),
		PreParams: hashindex.Params{
			LogMod: binary.BigEndian.Uint32(payload[hdrLogModOffset:]),
			Step:   binary.BigEndian.Uint32(payload[hdrStepOffset:]),
		},
	}, nil
}

// AppendPreImage captures page's current content as the pre-image for
// the table position it currently lives at (page.PRef()), so it can be
// restored there on recovery.
func (l *LogFile) AppendPreImage(page *pageio.Page) error {
	preImage := page.Clone()
	original := page.PRef()
	preImage.SetTrailingRef(original)
	return l.file.AppendPage(preImage)
}

// Replay restores every captured pre-image page onto table, undoing
// whatever portion of the batch's table writes already landed.
func (l *LogFile) Replay(table pageio.PagedFile) error {
	it := pageio.NewPagedFileIterator(l.file, pageio.PRef(pageio.PageSize))
	for {
		page, err := it.Next()
		if err != nil {
			return errors.Wrap(err, "walog: replay: read pre-image")
		}
		if page == nil {
			return nil
		}
		dest := page.TrailingRef()
		restored := page.Clone()
		restored.SetPRef(dest)

		length, err := table.Len()
		if err != nil {
			return errors.Wrap(err, "walog: replay: table len")
		}
		if dest.Uint64() >= length {
			if err := table.AppendPage(restored); err != nil {
				return errors.Wrap(err, "walog: replay: append restored page")
			}
			continue
		}
		// The log copy's trailer holds dest, not the table page's own
		// trailer; keep the table's trailer so the page is restored
		// byte for byte.
		current, err := table.ReadPage(dest)
		if err != nil {
			return errors.Wrap(err, "walog: replay: read table page")
		}
		if current != nil {
			restored.SetTrailingRef(current.TrailingRef())
		}
		if _, err := table.UpdatePage(restored); err != nil {
			return errors.Wrap(err, "walog: replay: update restored page")
		}
	}
}

// Sync fsyncs the log file.
func (l *LogFile) Sync() error { return l.file.Sync() }

// Flush drains buffered writes without blocking for durability.
func (l *LogFile) Flush() error { return l.file.Flush() }

// Reset discards the log's contents after a batch commits successfully.
func (l *LogFile) Reset() error { return l.file.Truncate(0) }
