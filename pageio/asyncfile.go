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
	"sync/atomic"

	"github.com/pkg/errors"
)

// AsyncFile wraps an inner PagedFile with a single background worker
// goroutine draining a FIFO of pending appends, so foreground callers
// never wait on disk I/O except at Flush/Shutdown. Per spec.md §4.2,
// pending pages are not visible to ReadPage on the async writer itself;
// callers that need to read back a page they just appended must keep
// their own in-progress buffer (PagedFileAppender does this).
type AsyncFile struct {
	inner PagedFile

	qmu   sync.Mutex
	work  *sync.Cond
	queue []*Page

	flushedMu sync.Mutex
	flushed   *sync.Cond

	run atomic.Uint32 // 1 while the worker should keep running

	errMu sync.Mutex
	err   error // poisoned once a background write fails
}

// NewAsyncFile starts the background worker over inner.
func NewAsyncFile(inner PagedFile) *AsyncFile {
	a := &AsyncFile{inner: inner}
	a.run.Store(1)
	a.work = sync.NewCond(&a.qmu)
	a.flushed = sync.NewCond(&a.flushedMu)
	go a.background()
	return a
}

func (a *AsyncFile) background() {
	a.qmu.Lock()
	for {
		for len(a.queue) == 0 {
			if !a.isRunning() {
				a.qmu.Unlock()
				return
			}
			a.work.Wait()
		}
		pending := a.queue
		a.qmu.Unlock()

		for _, page := range pending {
			if err := a.inner.AppendPage(page); err != nil {
				a.poison(errors.Wrap(err, "pageio: async writer"))
				break
			}
		}

		// Pages leave the queue only once written, so Flush never sees
		// an empty queue while pages are still in flight.
		a.qmu.Lock()
		a.queue = a.queue[len(pending):]
		a.qmu.Unlock()

		a.flushedMu.Lock()
		a.flushed.Broadcast()
		a.flushedMu.Unlock()

		a.qmu.Lock()
		if !a.isRunning() && len(a.queue) == 0 {
			a.qmu.Unlock()
			return
		}
	}
}

func (a *AsyncFile) isRunning() bool {
	return a.run.Load() == 1
}

func (a *AsyncFile) poison(err error) {
	a.errMu.Lock()
	if a.err == nil {
		a.err = err
	}
	a.errMu.Unlock()
}

func (a *AsyncFile) poisoned() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

// ReadPage implements PagedFile; reads always go straight to the inner
// file, so callers must not expect to see pages still sitting in the
// append queue.
func (a *AsyncFile) ReadPage(pref PRef) (*Page, error) {
	if err := a.poisoned(); err != nil {
		return nil, err
	}
	return a.inner.ReadPage(pref)
}

// Len implements PagedFile.
func (a *AsyncFile) Len() (uint64, error) {
	if err := a.poisoned(); err != nil {
		return 0, err
	}
	return a.inner.Len()
}

// Truncate implements PagedFile. Callers must Flush first if there are
// pending appends they want reflected in the new length.
func (a *AsyncFile) Truncate(newLen uint64) error {
	if err := a.poisoned(); err != nil {
		return err
	}
	return a.inner.Truncate(newLen)
}

// Sync implements PagedFile.
func (a *AsyncFile) Sync() error {
	if err := a.poisoned(); err != nil {
		return err
	}
	return a.inner.Sync()
}

// AppendPage enqueues page and returns immediately.
func (a *AsyncFile) AppendPage(page *Page) error {
	if err := a.poisoned(); err != nil {
		return err
	}
	a.qmu.Lock()
	a.queue = append(a.queue, page)
	a.work.Signal()
	a.qmu.Unlock()
	return nil
}

// UpdatePage is not supported through the async writer: in-place updates
// must not race with queued appends, so table files are never wrapped
// in AsyncFile (see store/persistent.go).
func (a *AsyncFile) UpdatePage(*Page) (uint64, error) {
	return 0, errors.New("pageio: update_page not supported on an async writer")
}

// Flush signals the worker and waits until the queue drains and the
// inner file is flushed.
func (a *AsyncFile) Flush() error {
	a.qmu.Lock()
	a.work.Signal()
	a.qmu.Unlock()

	a.flushedMu.Lock()
	for {
		a.qmu.Lock()
		empty := len(a.queue) == 0
		a.qmu.Unlock()
		if empty {
			break
		}
		a.flushed.Wait()
	}
	a.flushedMu.Unlock()

	if err := a.poisoned(); err != nil {
		return err
	}
	return a.inner.Flush()
}

// Shutdown flushes then stops the worker; always cooperative, never
// cancels in-flight work.
func (a *AsyncFile) Shutdown() error {
	err := a.Flush()
	a.run.Store(0)
	a.qmu.Lock()
	a.work.Signal()
	a.qmu.Unlock()
	if shutErr := a.inner.Shutdown(); shutErr != nil && err == nil {
		err = shutErr
	}
	return err
}
