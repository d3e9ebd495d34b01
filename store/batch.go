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

	"go.uber.org/zap"

	"github.com/erigontech/chainstore/hashindex"
	"github.com/erigontech/chainstore/pageio"
	"github.com/erigontech/chainstore/recordio"
	"github.com/erigontech/chainstore/tablefile"
	"github.com/erigontech/chainstore/walog"
)

// Batch groups a sequence of Put/PutReferred calls into one atomic
// write: the index mutations they produce are staged in memory and
// applied to the table file only once, protected by the write-ahead
// log, when the callback returns without error.
type Batch struct {
	eng *Engine
}

// Batch opens a new batch, runs fn, and commits the accumulated writes
// atomically. If fn returns an error, every write fn made — to the
// data file, the link file and the table — is rolled back and the
// error is returned to the caller unchanged.
func (e *Engine) Batch(fn func(*Batch) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.dirty != nil {
		return ErrBatchInProgress
	}

	preDataLen, err := e.data.Len()
	if err != nil {
		return errors.Wrap(err, "store: batch: data len")
	}
	preLinkLen, err := e.link.Len()
	if err != nil {
		return errors.Wrap(err, "store: batch: link len")
	}
	preTableLen, err := e.table.Len()
	if err != nil {
		return errors.Wrap(err, "store: batch: table len")
	}
	preParams := e.table.Params()

	if err := e.log.Begin(walog.Header{
		PreDataLen:  preDataLen,
		PreLinkLen:  preLinkLen,
		PreTableLen: preTableLen,
		PreParams:   preParams,
	}); err != nil {
		return errors.Wrap(err, "store: batch: begin log")
	}
	e.dirty = newDirtySet()

	if err := fn(&Batch{eng: e}); err != nil {
		e.abort(preDataLen, preLinkLen, preParams)
		return err
	}
	return e.commit()
}

func (e *Engine) abort(preDataLen, preLinkLen uint64, preParams hashindex.Params) {
	e.dirty = nil
	e.table.SetParamsInMemory(preParams)
	// Flush first so no page queued in an async writer lands after the
	// truncation.
	if ferr := e.data.Flush(); ferr != nil {
		e.logger.Error("abort: flush data file failed", zap.Error(ferr))
	}
	if ferr := e.link.Flush(); ferr != nil {
		e.logger.Error("abort: flush link file failed", zap.Error(ferr))
	}
	if terr := e.data.Truncate(preDataLen); terr != nil {
		e.logger.Error("abort: truncate data file failed", zap.Error(terr))
	}
	if terr := e.link.Truncate(preLinkLen); terr != nil {
		e.logger.Error("abort: truncate link file failed", zap.Error(terr))
	}
	if terr := e.log.Reset(); terr != nil {
		e.logger.Error("abort: reset log failed", zap.Error(terr))
	}
}

func (e *Engine) commit() error {
	if err := e.data.Flush(); err != nil {
		return errors.Wrap(err, "store: commit: flush data")
	}
	if err := e.data.Sync(); err != nil {
		return errors.Wrap(err, "store: commit: sync data")
	}
	if err := e.link.Flush(); err != nil {
		return errors.Wrap(err, "store: commit: flush link")
	}
	if err := e.link.Sync(); err != nil {
		return errors.Wrap(err, "store: commit: sync link")
	}

	for _, original := range e.dirty.originals {
		if err := e.log.AppendPreImage(original); err != nil {
			return errors.Wrap(err, "store: commit: log pre-image")
		}
	}
	if err := e.log.Flush(); err != nil {
		return errors.Wrap(err, "store: commit: flush log")
	}
	if err := e.log.Sync(); err != nil {
		return errors.Wrap(err, "store: commit: sync log")
	}

	for _, pageNumber := range e.dirty.pageNumbers() {
		page, _ := e.dirty.get(pageNumber)
		if err := e.table.ApplyPage(page); err != nil {
			return errors.Wrap(err, "store: commit: apply table page")
		}
	}
	if err := e.table.Flush(); err != nil {
		return errors.Wrap(err, "store: commit: flush table")
	}
	if err := e.table.Sync(); err != nil {
		return errors.Wrap(err, "store: commit: sync table")
	}

	e.dirty = nil
	return e.log.Reset()
}

// readTablePageLive returns the current content of a table page,
// preferring the batch's in-progress mutation over the on-disk value.
func (e *Engine) readTablePageLive(pageNumber uint64) (*pageio.Page, error) {
	if e.dirty != nil {
		if page, ok := e.dirty.get(pageNumber); ok {
			return page, nil
		}
	}
	page, err := e.table.ReadPageAt(pageNumber)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = pageio.NewFilledPage(pageio.PRef(pageNumber*pageio.PageSize), 0xFF)
	}
	return page, nil
}

// mutateTablePage applies mutate to a clone of pageNumber's live
// content and stages the result in the batch's dirty set, capturing the
// page's pre-batch, on-disk content the first time it is touched.
func (e *Engine) mutateTablePage(pageNumber uint64, mutate func(*pageio.Page)) error {
	live, err := e.readTablePageLive(pageNumber)
	if err != nil {
		return err
	}
	if !e.dirty.touched.Test(uint(pageNumber)) {
		onDisk, err := e.table.ReadPageAt(pageNumber)
		if err != nil {
			return err
		}
		if onDisk == nil {
			onDisk = pageio.NewFilledPage(pageio.PRef(pageNumber*pageio.PageSize), 0xFF)
		}
		e.dirty.touch(pageNumber, onDisk)
	}
	mutated := live.Clone()
	mutated.SetPRef(pageio.PRef(pageNumber * pageio.PageSize))
	mutate(mutated)
	e.dirty.set(pageNumber, mutated)
	return nil
}

func (e *Engine) readBucketLive(bucket uint32) (tablefile.Bucket, error) {
	pageNumber, _ := e.table.Locate(bucket)
	page, err := e.readTablePageLive(pageNumber)
	if err != nil {
		return tablefile.Bucket{}, err
	}
	return e.table.ReadBucketFrom(page, bucket), nil
}

func (e *Engine) writeBucketLive(bucket uint32, b tablefile.Bucket) error {
	pageNumber, _ := e.table.Locate(bucket)
	return e.mutateTablePage(pageNumber, func(page *pageio.Page) {
		e.table.WriteBucketInto(page, bucket, b)
	})
}

// PutReferred appends a data-only record reachable only by traversal
// from an IndexedRecord, returning the position it was written at.
func (b *Batch) PutReferred(data []byte, referred []pageio.PRef) (pageio.PRef, error) {
	e := b.eng
	if len(data) > recordio.MaxDataLen {
		return 0, ErrOutOfBounds
	}
	if err := checkNoForwardReferences(e.data.Position(), referred); err != nil {
		return 0, err
	}
	rec := recordio.ReferredRecord{Data: data, Referred: referred, Prev: e.data.Lep()}
	return e.data.Append(rec.Encode())
}

// Put appends a keyed record, indexes it by key in the bucket table,
// and returns the position it was written at.
func (b *Batch) Put(key, data []byte, referred []pageio.PRef) (pageio.PRef, error) {
	e := b.eng
	if len(key) > recordio.MaxKeyLen || len(data) > recordio.MaxDataLen {
		return 0, ErrOutOfBounds
	}
	if err := checkNoForwardReferences(e.data.Position(), referred); err != nil {
		return 0, err
	}

	rec := recordio.IndexedRecord{Key: key, Data: data, Referred: referred, Prev: e.data.Lep()}
	pos, err := e.data.Append(rec.Encode())
	if err != nil {
		return 0, errors.Wrap(err, "store: put: append indexed record")
	}

	hash32 := e.hasher.Hash32(key)
	bucket := e.table.Params().BucketFor(hash32)
	if err := e.insertIntoBucket(bucket, recordio.LinkEntry{Hash32: hash32, Ref: pos}); err != nil {
		return 0, errors.Wrap(err, "store: put: index")
	}

	e.entriesSinceInit++
	if hashindex.ShouldSplit(e.entriesSinceInit, e.table.Params(), e.cfg.BucketFillTarget) {
		if err := e.splitOnce(); err != nil {
			return 0, errors.Wrap(err, "store: put: split")
		}
	}
	return pos, nil
}

// insertIntoBucket appends entry to bucket's in-slot list if it has
// room for another of the table's fixed Capacity entries; otherwise it
// flushes the in-slot list plus entry into one new overflow link
// record, chained behind the bucket's previous overflow link, and
// clears the in-slot list.
func (e *Engine) insertIntoBucket(bucket uint32, entry recordio.LinkEntry) error {
	old, err := e.readBucketLive(bucket)
	if err != nil {
		return err
	}

	entries := make([]recordio.LinkEntry, len(old.Entries), len(old.Entries)+1)
	copy(entries, old.Entries)
	entries = append(entries, entry)

	if len(entries) <= int(e.table.Capacity()) {
		return e.writeBucketLive(bucket, tablefile.Bucket{Entries: entries, OverflowLink: old.OverflowLink})
	}

	linkRec := recordio.LinkRecord{Entries: entries, PreviousLinkForBucket: old.OverflowLink}
	linkPos, err := e.link.Append(linkRec.Encode())
	if err != nil {
		return errors.Wrap(err, "store: append overflow link record")
	}
	return e.writeBucketLive(bucket, tablefile.Bucket{Entries: nil, OverflowLink: linkPos})
}

func checkNoForwardReferences(selfPos pageio.PRef, referred []pageio.PRef) error {
	for _, r := range referred {
		if r.Uint64() >= selfPos.Uint64() {
			return ErrForwardReference
		}
	}
	return nil
}

// splitOnce grows the index by one bucket: it redistributes the
// entries of the split bucket's overflow chain between it and its new
// sibling, writing fresh chains rather than mutating the old (immutable,
// append-only) link records. The old chain's records are left in the
// link file, unreferenced; reclaiming that space is left to a future
// compaction pass, not attempted here.
func (e *Engine) splitOnce() error {
	params := e.table.Params()
	next, splitBucket, siblingBucket := params.Split()

	entries, err := e.collectChain(splitBucket)
	if err != nil {
		return err
	}

	var forSplit, forSibling []recordio.LinkEntry
	for _, entry := range entries {
		if next.BucketFor(entry.Hash32) == siblingBucket {
			forSibling = append(forSibling, entry)
		} else {
			forSplit = append(forSplit, entry)
		}
	}

	if err := e.rewriteChain(splitBucket, forSplit); err != nil {
		return err
	}
	if err := e.rewriteChain(siblingBucket, forSibling); err != nil {
		return err
	}

	if err := e.mutateTablePage(0, func(page *pageio.Page) {
		e.table.EncodeHeaderInto(page, next)
	}); err != nil {
		return err
	}
	e.table.SetParamsInMemory(next)
	return nil
}

// collectChain returns bucket's entire entry history, oldest first: the
// overflow chain's link records (each already oldest-to-newest
// internally), oldest record first, followed by the current in-slot
// entries, which are always the most recently written.
func (e *Engine) collectChain(bucket uint32) ([]recordio.LinkEntry, error) {
	head, err := e.readBucketLive(bucket)
	if err != nil {
		return nil, err
	}

	var chains []recordio.LinkRecord
	link := head.OverflowLink
	for link.IsValid() {
		env, err := e.link.ReadEnvelope(link)
		if err != nil {
			return nil, errors.Wrap(err, "store: split: read chain")
		}
		if env.Kind != recordio.KindLink {
			return nil, ErrCorrupted
		}
		rec, err := recordio.DecodeLinkRecord(env.Payload)
		if err != nil {
			return nil, errors.Wrap(err, "store: split: decode chain")
		}
		chains = append(chains, rec)
		link = rec.PreviousLinkForBucket
	}

	var entries []recordio.LinkEntry
	for i := len(chains) - 1; i >= 0; i-- {
		entries = append(entries, chains[i].Entries...)
	}
	entries = append(entries, head.Entries...)
	return entries, nil
}

// rewriteChain replaces bucket's entire history with entries (oldest
// first): the most recent up to Capacity of them become the new in-slot
// list, and any earlier excess is flushed into a single fresh link
// record so reverse-order scanning still yields newest first.
func (e *Engine) rewriteChain(bucket uint32, entries []recordio.LinkEntry) error {
	capacity := int(e.table.Capacity())
	if len(entries) <= capacity {
		return e.writeBucketLive(bucket, tablefile.Bucket{Entries: entries, OverflowLink: pageio.InvalidPRef})
	}

	overflow, inSlot := entries[:len(entries)-capacity], entries[len(entries)-capacity:]
	rec := recordio.LinkRecord{Entries: overflow, PreviousLinkForBucket: pageio.InvalidPRef}
	pos, err := e.link.Append(rec.Encode())
	if err != nil {
		return errors.Wrap(err, "store: split: rewrite chain")
	}
	return e.writeBucketLive(bucket, tablefile.Bucket{Entries: inSlot, OverflowLink: pos})
}
