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
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/erigontech/chainstore/hashindex"
	"github.com/erigontech/chainstore/pageio"
	"github.com/erigontech/chainstore/recordio"
	"github.com/erigontech/chainstore/tablefile"
	"github.com/erigontech/chainstore/walog"
)

// Engine is the store: a key-addressed, content-addressed, append-only
// store backed by a linear-hash bucket index. A single Engine must not
// be used from more than one goroutine concurrently for mutating
// operations; Get/GetReferred may run concurrently with each other but
// not with an in-progress Batch.
type Engine struct {
	mu     sync.Mutex
	logger *zap.Logger
	cfg    Config

	data  *recordio.Store
	link  *recordio.Store
	table *tablefile.TableFile
	log   *walog.LogFile

	hasher hashindex.Hasher

	entriesSinceInit uint64
	closed           bool

	dirty *dirtySet
}

// Open wires a fresh or existing (data, link, table, log) quartet of
// PagedFiles into an Engine, replaying any write-ahead log left behind
// by a crash before the engine becomes usable. k0/k1 seed the table's
// siphash key on first creation only.
func Open(dataFile, linkFile, tableFile, logFile pageio.PagedFile, cfg Config, k0, k1 uint64, logger *zap.Logger) (*Engine, error) {
	logger = resolveLogger(logger)
	cfg = cfg.withDefaults()

	log := walog.Open(logFile)
	pending, err := log.HasPending()
	if err != nil {
		return nil, errors.Wrap(err, "store: check pending log")
	}
	if pending {
		logger.Warn("recovering incomplete batch from write-ahead log")
		if err := recoverBatch(log, dataFile, linkFile, tableFile); err != nil {
			return nil, errors.Wrap(err, "store: recover")
		}
	}

	table, err := tablefile.Open(tableFile, k0, k1, uint32(cfg.BucketFillTarget))
	if err != nil {
		return nil, errors.Wrap(err, "store: open table")
	}
	data, err := recordio.Resume(dataFile)
	if err != nil {
		return nil, errors.Wrap(err, "store: resume data file")
	}
	link, err := recordio.Resume(linkFile)
	if err != nil {
		return nil, errors.Wrap(err, "store: resume link file")
	}
	tk0, tk1 := table.HasherKey()

	return &Engine{
		logger: logger,
		cfg:    cfg,
		data:   data,
		link:   link,
		table:  table,
		log:    log,
		hasher: hashindex.NewHasher(tk0, tk1),
	}, nil
}

// recoverBatch undoes an incomplete batch: it replays the log's
// captured pre-images back onto the table file and truncates data,
// link and table back to the lengths they had before the batch began.
func recoverBatch(log *walog.LogFile, dataFile, linkFile, tableFile pageio.PagedFile) error {
	header, err := log.ReadHeader()
	if err != nil {
		return errors.Wrap(err, "read log header")
	}
	if err := log.Replay(tableFile); err != nil {
		return errors.Wrap(err, "replay pre-images")
	}
	if err := dataFile.Truncate(header.PreDataLen); err != nil {
		return errors.Wrap(err, "truncate data file")
	}
	if err := linkFile.Truncate(header.PreLinkLen); err != nil {
		return errors.Wrap(err, "truncate link file")
	}
	if err := tableFile.Truncate(header.PreTableLen); err != nil {
		return errors.Wrap(err, "truncate table file")
	}
	return log.Reset()
}

// Params returns the engine's current linear-hash parameters.
func (e *Engine) Params() hashindex.Params { return e.table.Params() }

// Buckets returns the engine's current bucket count.
func (e *Engine) Buckets() uint32 { return e.table.Params().Buckets() }

// Slots returns the number of bucket slots that fit in one table page,
// a diagnostic accessor mirroring the page-density inspection the
// original implementation exposed.
func (e *Engine) Slots() int { return e.table.BucketsPerPage() }

// TablePages returns how many table pages (excluding the header page)
// the current bucket count occupies.
func (e *Engine) TablePages() int { return e.table.PagesForBuckets(e.Buckets()) }

// Shutdown shuts down the data, link and table files, including any
// background writer goroutine; the log file is left as it is. The
// Engine must not be used afterward.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(e.data.Shutdown())
	record(e.link.Shutdown())
	record(e.table.Shutdown())
	return firstErr
}

func (e *Engine) checkOpen() error {
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Get looks up key and returns its IndexedRecord.
func (e *Engine) Get(key []byte) (recordio.IndexedRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return recordio.IndexedRecord{}, err
	}

	hash32 := e.hasher.Hash32(key)
	bucket := e.table.Params().BucketFor(hash32)

	head, err := e.readBucketLive(bucket)
	if err != nil {
		return recordio.IndexedRecord{}, err
	}

	rec, ok, err := e.scanEntries(head.Entries, hash32, key)
	if err != nil || ok {
		return rec, err
	}

	link := head.OverflowLink
	for link.IsValid() {
		env, err := e.link.ReadEnvelope(link)
		if err != nil {
			return recordio.IndexedRecord{}, errors.Wrap(err, "store: read link record")
		}
		if env.Kind != recordio.KindLink {
			return recordio.IndexedRecord{}, ErrCorrupted
		}
		linkRec, err := recordio.DecodeLinkRecord(env.Payload)
		if err != nil {
			return recordio.IndexedRecord{}, errors.Wrap(err, "store: decode link record")
		}
		rec, ok, err := e.scanEntries(linkRec.Entries, hash32, key)
		if err != nil || ok {
			return rec, err
		}
		link = linkRec.PreviousLinkForBucket
	}
	return recordio.IndexedRecord{}, ErrNotFound
}

// scanEntries scans entries — stored oldest first — in reverse, so the
// newest match for key wins, mirroring a bucket's insertion order.
func (e *Engine) scanEntries(entries []recordio.LinkEntry, hash32 uint32, key []byte) (recordio.IndexedRecord, bool, error) {
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Hash32 != hash32 {
			continue
		}
		candidateEnv, err := e.data.ReadEnvelope(entry.Ref)
		if err != nil {
			return recordio.IndexedRecord{}, false, errors.Wrap(err, "store: read candidate record")
		}
		if candidateEnv.Kind != recordio.KindIndexed {
			continue
		}
		candidate, err := recordio.DecodeIndexedRecord(candidateEnv.Payload)
		if err != nil {
			return recordio.IndexedRecord{}, false, errors.Wrap(err, "store: decode candidate record")
		}
		if string(candidate.Key) == string(key) {
			return candidate, true, nil
		}
	}
	return recordio.IndexedRecord{}, false, nil
}

// ReferredResult is the unified view GetReferred returns for both kinds
// of data record it can read: Key is empty when pos holds a
// referred-only (KindReferred) record, since those carry no key.
type ReferredResult struct {
	Key      []byte
	Data     []byte
	Referred []pageio.PRef
}

// GetReferred reads the record at pos, indexed or referred-only, and
// returns its (key, data, referred) view.
func (e *Engine) GetReferred(pos pageio.PRef) (ReferredResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return ReferredResult{}, err
	}
	env, err := e.data.ReadEnvelope(pos)
	if err != nil {
		return ReferredResult{}, errors.Wrap(err, "store: read referred record")
	}
	switch env.Kind {
	case recordio.KindIndexed:
		rec, err := recordio.DecodeIndexedRecord(env.Payload)
		if err != nil {
			return ReferredResult{}, errors.Wrap(err, "store: decode indexed record")
		}
		return ReferredResult{Key: rec.Key, Data: rec.Data, Referred: rec.Referred}, nil
	case recordio.KindReferred:
		rec, err := recordio.DecodeReferredRecord(env.Payload)
		if err != nil {
			return ReferredResult{}, errors.Wrap(err, "store: decode referred record")
		}
		return ReferredResult{Data: rec.Data, Referred: rec.Referred}, nil
	default:
		return ReferredResult{}, ErrCorrupted
	}
}
