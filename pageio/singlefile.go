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
	"os"
	"sync"

	"github.com/pkg/errors"
)

// SingleFile is the simplest PagedFile: one OS file, pages addressed
// directly by byte offset.
type SingleFile struct {
	mu   sync.Mutex
	file *os.File
	len  uint64
}

// OpenSingleFile opens (creating if necessary) name as a paged file.
func OpenSingleFile(name string) (*SingleFile, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "pageio: open %s", name)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "pageio: stat %s", name)
	}
	return &SingleFile{file: f, len: uint64(info.Size())}, nil
}

// ReadPage implements PagedFile.
func (s *SingleFile) ReadPage(pref PRef) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := pref.Uint64()
	if off+PageSize > s.len {
		return nil, nil
	}
	var buf [PageSize]byte
	if _, err := s.file.ReadAt(buf[:], int64(off)); err != nil {
		return nil, errors.Wrapf(err, "pageio: read page at %d", off)
	}
	return PageFromBytes(pref, buf), nil
}

// Len implements PagedFile.
func (s *SingleFile) Len() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len, nil
}

// Truncate implements PagedFile.
func (s *SingleFile) Truncate(newLen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Truncate(int64(newLen)); err != nil {
		return errors.Wrap(err, "pageio: truncate")
	}
	s.len = newLen
	return nil
}

// Sync implements PagedFile.
func (s *SingleFile) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.file.Sync(), "pageio: sync")
}

// Shutdown implements PagedFile; SingleFile has no background worker.
func (s *SingleFile) Shutdown() error { return nil }

// AppendPage implements PagedFile.
func (s *SingleFile) AppendPage(page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.WriteAt(page.Bytes(), int64(s.len)); err != nil {
		return errors.Wrap(err, "pageio: append page")
	}
	s.len += PageSize
	return nil
}

// UpdatePage implements PagedFile.
func (s *SingleFile) UpdatePage(page *Page) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := page.PRef().Uint64()
	if _, err := s.file.WriteAt(page.Bytes(), int64(off)); err != nil {
		return 0, errors.Wrap(err, "pageio: update page")
	}
	if end := off + PageSize; end > s.len {
		s.len = end
	}
	return s.len, nil
}

// Flush implements PagedFile; writes already reached the OS via WriteAt.
func (s *SingleFile) Flush() error { return nil }

// Close releases the underlying OS file handle.
func (s *SingleFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
