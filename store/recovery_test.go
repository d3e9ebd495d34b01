// Copyright 2024 The Erigon Authors
// This file is part of chainstore.

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/chainstore/internal/memfile"
	"github.com/erigontech/chainstore/walog"
)

// TestRecoverUndoesDanglingBatch white-box simulates a crash that
// happens after a table page has been mutated but before the
// write-ahead log was reset, and checks that reopening the engine
// restores the table to its pre-batch state.
func TestRecoverUndoesDanglingBatch(t *testing.T) {
	dataFile := memfile.New()
	linkFile := memfile.New()
	tableFile := memfile.New()
	logFile := memfile.New()

	eng, err := Open(dataFile, linkFile, tableFile, logFile, DefaultConfig(), 1, 2, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Batch(func(b *Batch) error {
		_, err := b.Put([]byte("k1"), []byte("v1"), nil)
		return err
	}))

	got, err := eng.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got.Data)

	preDataLen, err := dataFile.Len()
	require.NoError(t, err)
	preLinkLen, err := linkFile.Len()
	require.NoError(t, err)
	preTableLen, err := tableFile.Len()
	require.NoError(t, err)
	preParams := eng.Params()

	require.NoError(t, eng.log.Begin(walog.Header{
		PreDataLen:  preDataLen,
		PreLinkLen:  preLinkLen,
		PreTableLen: preTableLen,
		PreParams:   preParams,
	}))

	original, err := eng.table.ReadPageAt(1)
	require.NoError(t, err)
	require.NotNil(t, original)
	require.NoError(t, eng.log.AppendPreImage(original))

	mutated := original.Clone()
	mutated.Write(0, []byte("garbage-from-a-half-applied-batch"))
	require.NoError(t, eng.table.ApplyPage(mutated))
	// Crash: the log is never Reset and the batch is never completed.

	reopened, err := Open(dataFile, linkFile, tableFile, logFile, DefaultConfig(), 0, 0, nil)
	require.NoError(t, err)

	pending, err := walog.Open(logFile).HasPending()
	require.NoError(t, err)
	require.False(t, pending)

	restored, err := reopened.table.ReadPageAt(1)
	require.NoError(t, err)
	require.Equal(t, original.Bytes(), restored.Bytes())

	got, err = reopened.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got.Data)
}
