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
	"crypto/rand"
	"encoding/binary"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/erigontech/chainstore/pageio"
)

// Persistent is an Engine backed by real files on disk: data and link
// files are chunk-rolled and wrapped in an async background writer so
// callers never block on fsync; the table file, which is read far more
// than it is written, is wrapped in an LRU cache and (optionally) an
// mmap reader instead. An advisory lock file enforces the single-writer
// model across process restarts.
type Persistent struct {
	*Engine
	lock *flock.Flock
}

// OpenPersistent opens (creating if necessary) a store rooted at dir,
// following the same layered composition for every file: SingleFile or
// RolledFile at the bottom, AsyncFile for the append-only files, then a
// CachedFile or MmapFile reader on top of the table file. It never
// wraps the table file in AsyncFile: table writes must land
// synchronously within the batch commit protocol, never deferred to a
// background goroutine.
func OpenPersistent(dir string, cfg Config, logger *zap.Logger) (*Persistent, error) {
	logger = resolveLogger(logger)
	cfg = cfg.withDefaults()
	lockPath := filepath.Join(dir, "LOCK")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "store: acquire lock")
	}
	if !locked {
		return nil, errors.Errorf("store: %s is locked by another process", dir)
	}

	dataRolled, err := pageio.OpenRolledFile(filepath.Join(dir, "data"), "dat", uint64(cfg.ChunkSize))
	if err != nil {
		return nil, releaseOnError(lock, errors.Wrap(err, "store: open data file"))
	}
	linkRolled, err := pageio.OpenRolledFile(filepath.Join(dir, "link"), "dat", uint64(cfg.ChunkSize))
	if err != nil {
		return nil, releaseOnError(lock, errors.Wrap(err, "store: open link file"))
	}
	tableSingle, err := pageio.OpenSingleFile(filepath.Join(dir, "table.dat"))
	if err != nil {
		return nil, releaseOnError(lock, errors.Wrap(err, "store: open table file"))
	}
	logSingle, err := pageio.OpenSingleFile(filepath.Join(dir, "wal.log"))
	if err != nil {
		return nil, releaseOnError(lock, errors.Wrap(err, "store: open log file"))
	}

	dataFile := pageio.NewAsyncFile(dataRolled)
	linkFile := pageio.NewAsyncFile(linkRolled)

	var tableFile pageio.PagedFile = tableSingle
	if cfg.UseMmap {
		mmapped, err := pageio.NewMmapFile(tableSingle)
		if err != nil {
			logger.Warn("mmap unavailable for table file, falling back to direct reads", zap.Error(err))
		} else {
			tableFile = mmapped
		}
	}
	if cfg.CachedDataPages > 0 {
		cached, err := pageio.NewCachedFile(tableFile, cfg.CachedDataPages)
		if err != nil {
			return nil, releaseOnError(lock, errors.Wrap(err, "store: wrap table cache"))
		}
		tableFile = cached
	}

	k0, k1, err := randomHashKey()
	if err != nil {
		return nil, releaseOnError(lock, errors.Wrap(err, "store: generate hash key"))
	}

	engine, err := Open(dataFile, linkFile, tableFile, logSingle, cfg, k0, k1, logger)
	if err != nil {
		return nil, releaseOnError(lock, err)
	}
	return &Persistent{Engine: engine, lock: lock}, nil
}

func releaseOnError(lock *flock.Flock, err error) error {
	if uerr := lock.Unlock(); uerr != nil {
		err = errors.Wrap(err, uerr.Error())
	}
	return err
}

// Shutdown shuts down the engine (see Engine.Shutdown) and releases the
// directory lock.
func (p *Persistent) Shutdown() error {
	err := p.Engine.Shutdown()
	if uerr := p.lock.Unlock(); uerr != nil && err == nil {
		err = errors.Wrap(uerr, "store: release lock")
	}
	return err
}

func randomHashKey() (uint64, uint64, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint64(buf[:8]), binary.BigEndian.Uint64(buf[8:]), nil
}
