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

import (
	"github.com/pkg/errors"

	"github.com/erigontech/chainstore/pageio"
	"github.com/erigontech/chainstore/recordio"
)

// DAGWalk performs a depth-first traversal of a keyed record's referred
// graph: every ReferredRecord reachable from root's Referred list,
// transitively, visited exactly once.
type DAGWalk struct {
	walker *recordio.Walker
}

// Walk starts a DAG traversal rooted at key. It reads the IndexedRecord
// once up front; the returned DAGWalk then lazily visits its referred
// graph one node at a time via Next.
func (e *Engine) Walk(key []byte) (*DAGWalk, error) {
	root, err := e.Get(key)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return &DAGWalk{walker: recordio.NewWalker(e.data, root)}, nil
}

// Next returns the next unvisited referred record's position and
// content, or ok=false once the traversal is exhausted.
func (w *DAGWalk) Next() (pageio.PRef, recordio.ReferredRecord, bool, error) {
	ref, rec, ok, err := w.walker.Next()
	if err != nil {
		return 0, recordio.ReferredRecord{}, false, errors.Wrap(err, "store: dag walk")
	}
	return ref, rec, ok, nil
}
