// Copyright 2024 The Erigon Authors
// This file is part of chainstore.

package walog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/chainstore/hashindex"
	"github.com/erigontech/chainstore/internal/memfile"
	"github.com/erigontech/chainstore/pageio"
	"github.com/erigontech/chainstore/walog"
)

func TestBeginAndReadHeaderRoundTrips(t *testing.T) {
	logBacking := memfile.New()
	log := walog.Open(logBacking)

	pending, err := log.HasPending()
	require.NoError(t, err)
	require.False(t, pending)

	h := walog.Header{
		PreDataLen:  1024,
		PreLinkLen:  2048,
		PreTableLen: 4096,
		PreParams:   hashindex.Params{LogMod: 3, Step: 1},
	}
	require.NoError(t, log.Begin(h))

	pending, err = log.HasPending()
	require.NoError(t, err)
	require.True(t, pending)

	got, err := log.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestReplayRestoresPreImages(t *testing.T) {
	logBacking := memfile.New()
	log := walog.Open(logBacking)

	table := memfile.New()
	original := pageio.NewPage(0)
	original.Write(0, []byte("original contents"))
	require.NoError(t, table.AppendPage(original))

	require.NoError(t, log.Begin(walog.Header{}))
	require.NoError(t, log.AppendPreImage(original))

	mutated := pageio.NewPage(0)
	mutated.Write(0, []byte("mutated contents!"))
	_, err := table.UpdatePage(mutated)
	require.NoError(t, err)

	require.NoError(t, log.Replay(table))

	restored, err := table.ReadPage(0)
	require.NoError(t, err)
	out := make([]byte, len("original contents"))
	restored.Read(0, out)
	require.Equal(t, "original contents", string(out))
}

func TestResetClearsLog(t *testing.T) {
	logBacking := memfile.New()
	log := walog.Open(logBacking)
	require.NoError(t, log.Begin(walog.Header{}))

	pending, err := log.HasPending()
	require.NoError(t, err)
	require.True(t, pending)

	require.NoError(t, log.Reset())
	pending, err = log.HasPending()
	require.NoError(t, err)
	require.False(t, pending)
}
