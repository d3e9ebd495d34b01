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

// Package store ties pageio, recordio, tablefile, walog and hashindex
// together into the engine: key-addressed put/get, referred-record
// traversal, and the batch/WAL machinery that makes a group of writes
// atomic across a crash.
package store

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned by Get when no record is indexed under the
	// requested key. GetReferred does not return it: a position with no
	// record yields a read error or ErrCorrupted.
	ErrNotFound = errors.New("chainstore: not found")

	// ErrCorrupted is returned when a record read from the data or link
	// file has an envelope kind the operation does not accept. A header
	// with the wrong magic or a truncated record is reported by a
	// different, wrapped error, not by ErrCorrupted.
	ErrCorrupted = errors.New("chainstore: corrupted data")

	// ErrForwardReference is returned when a record would reference a
	// position at or beyond its own, violating the store's append-only
	// no-forward-references invariant.
	ErrForwardReference = errors.New("chainstore: forward reference")

	// ErrOutOfBounds is returned when a key or data value exceeds the
	// fixed-width length fields the record format encodes them in. PRefs
	// are not checked against it, neither for the 48-bit range nor
	// against a file's current length.
	ErrOutOfBounds = errors.New("chainstore: value out of bounds")

	// ErrClosed is returned by any operation attempted after Shutdown.
	ErrClosed = errors.New("chainstore: engine is closed")

	// ErrBatchInProgress is returned when Batch is called re-entrantly;
	// chainstore has a single logical writer and does not support
	// nested or concurrent batches.
	ErrBatchInProgress = errors.New("chainstore: a batch is already in progress")
)
