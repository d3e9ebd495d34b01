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

package recordio

import (
	"github.com/pkg/errors"

	"github.com/erigontech/chainstore/pageio"
)

// Store wraps a PagedFileAppender with envelope framing, giving callers
// a file of length-prefixed records instead of raw bytes. The same type
// serves both the data file (Indexed/Referred kinds) and the link file
// (Link kind only); callers are responsible for using the right kind.
type Store struct {
	appender *pageio.PagedFileAppender
}

// NewStore resumes a Store at pos with lep as the last completed
// record's position.
func NewStore(file pageio.PagedFile, pos, lep pageio.PRef) *Store {
	return &Store{appender: pageio.NewPagedFileAppender(file, pos, lep)}
}

// Resume opens a Store positioned at the end of an existing file,
// recovering lep from the file's last page automatically.
func Resume(file pageio.PagedFile) (*Store, error) {
	appender, err := pageio.ResumeAppender(file)
	if err != nil {
		return nil, err
	}
	return &Store{appender: appender}, nil
}

// Append frames env and writes it, returning the position the envelope
// was written at. Every PRef referenced from within env must already be
// strictly less than the returned position: chainstore never allows a
// forward reference.
func (s *Store) Append(env Envelope) (pageio.PRef, error) {
	framed, err := env.Serialize()
	if err != nil {
		return 0, err
	}
	pos, err := s.appender.Append(framed)
	if err != nil {
		return 0, errors.Wrap(err, "recordio: append")
	}
	s.appender.Advance()
	return pos, nil
}

// ReadEnvelope reads the envelope starting at pos.
func (s *Store) ReadEnvelope(pos pageio.PRef) (Envelope, error) {
	env, _, err := ReadEnvelope(s.appender, pos)
	return env, err
}

// Position returns the next position that will be written.
func (s *Store) Position() pageio.PRef { return s.appender.Position() }

// Lep returns the position of the last completed record.
func (s *Store) Lep() pageio.PRef { return s.appender.Lep() }

// Len implements the basic file-size accessor used by diagnostics.
func (s *Store) Len() (uint64, error) { return s.appender.Len() }

// Flush writes any in-progress page to the underlying file.
func (s *Store) Flush() error { return s.appender.Flush() }

// Sync fsyncs the underlying file.
func (s *Store) Sync() error { return s.appender.Sync() }

// Shutdown stops any background writer backing the underlying file.
func (s *Store) Shutdown() error { return s.appender.Shutdown() }

// Truncate rewinds the store to newLen bytes, recovering lep from the
// new last page's trailing back-pointer.
func (s *Store) Truncate(newLen uint64) error { return s.appender.Truncate(newLen) }

// Walker performs a depth-first traversal of an IndexedRecord's referred
// graph, visiting each reachable PRef exactly once.
type Walker struct {
	store   *Store
	visited map[pageio.PRef]bool
	stack   []pageio.PRef
}

// NewWalker starts a depth-first walk of root's referred graph. root
// itself is not visited; callers typically decode it beforehand.
func NewWalker(store *Store, root IndexedRecord) *Walker {
	w := &Walker{store: store, visited: make(map[pageio.PRef]bool)}
	w.push(root.Referred)
	return w
}

func (w *Walker) push(refs []pageio.PRef) {
	for i := len(refs) - 1; i >= 0; i-- {
		if !w.visited[refs[i]] {
			w.stack = append(w.stack, refs[i])
		}
	}
}

// Next returns the next unvisited referred record, or (zero, false) when
// the walk is exhausted.
func (w *Walker) Next() (pageio.PRef, ReferredRecord, bool, error) {
	for len(w.stack) > 0 {
		ref := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		if w.visited[ref] {
			continue
		}
		w.visited[ref] = true

		env, err := w.store.ReadEnvelope(ref)
		if err != nil {
			return 0, ReferredRecord{}, false, errors.Wrapf(err, "recordio: walk: read %d", ref.Uint64())
		}
		if env.Kind != KindReferred {
			return 0, ReferredRecord{}, false, errors.Errorf("recordio: walk: expected referred record at %d, got kind %d", ref.Uint64(), env.Kind)
		}
		rec, err := DecodeReferredRecord(env.Payload)
		if err != nil {
			return 0, ReferredRecord{}, false, errors.Wrapf(err, "recordio: walk: decode %d", ref.Uint64())
		}
		w.push(rec.Referred)
		return ref, rec, true, nil
	}
	return 0, ReferredRecord{}, false, nil
}
