// Copyright 2024 The Erigon Authors
// This file is part of chainstore.

package tablefile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/chainstore/hashindex"
	"github.com/erigontech/chainstore/internal/memfile"
	"github.com/erigontech/chainstore/pageio"
	"github.com/erigontech/chainstore/recordio"
	"github.com/erigontech/chainstore/tablefile"
)

func TestOpenInitializesFreshHeader(t *testing.T) {
	file := memfile.New()
	table, err := tablefile.Open(file, 1, 2, 4)
	require.NoError(t, err)
	require.Equal(t, hashindex.Params{LogMod: 0, Step: 0}, table.Params())
	require.Equal(t, uint32(4), table.Capacity())

	k0, k1 := table.HasherKey()
	require.Equal(t, uint64(1), k0)
	require.Equal(t, uint64(2), k1)

	length, err := file.Len()
	require.NoError(t, err)
	require.Equal(t, uint64(pageio.PageSize), length)
}

func TestOpenReloadsPersistedHeader(t *testing.T) {
	file := memfile.New()
	table, err := tablefile.Open(file, 7, 8, 6)
	require.NoError(t, err)
	require.NoError(t, table.SetParams(hashindex.Params{LogMod: 2, Step: 1}))

	reopened, err := tablefile.Open(file, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, hashindex.Params{LogMod: 2, Step: 1}, reopened.Params())
	require.Equal(t, uint32(6), reopened.Capacity())
	k0, k1 := reopened.HasherKey()
	require.Equal(t, uint64(7), k0)
	require.Equal(t, uint64(8), k1)
}

func TestWriteAndReadBucketRoundTrips(t *testing.T) {
	file := memfile.New()
	table, err := tablefile.Open(file, 0, 0, 4)
	require.NoError(t, err)

	empty, err := table.ReadBucket(3)
	require.NoError(t, err)
	require.Empty(t, empty.Entries)
	require.Equal(t, pageio.InvalidPRef, empty.OverflowLink)

	entries := []recordio.LinkEntry{
		{Hash32: 0xAAAA, Ref: pageio.PRef(4096)},
		{Hash32: 0xBBBB, Ref: pageio.PRef(8192)},
	}
	require.NoError(t, table.WriteBucket(3, tablefile.Bucket{Entries: entries, OverflowLink: pageio.PRef(1)}))
	got, err := table.ReadBucket(3)
	require.NoError(t, err)
	require.Equal(t, entries, got.Entries)
	require.Equal(t, pageio.PRef(1), got.OverflowLink)
}

func TestWriteBucketFarAheadFillsGapPages(t *testing.T) {
	file := memfile.New()
	table, err := tablefile.Open(file, 0, 0, 4)
	require.NoError(t, err)

	far := uint32(5000)
	entries := []recordio.LinkEntry{{Hash32: 1, Ref: pageio.PRef(4096)}}
	require.NoError(t, table.WriteBucket(far, tablefile.Bucket{Entries: entries, OverflowLink: pageio.InvalidPRef}))

	got, err := table.ReadBucket(far)
	require.NoError(t, err)
	require.Equal(t, entries, got.Entries)

	other, err := table.ReadBucket(far - 1)
	require.NoError(t, err)
	require.Empty(t, other.Entries)
	require.Equal(t, pageio.InvalidPRef, other.OverflowLink)
}

func TestBucketOverflowsPastCapacity(t *testing.T) {
	file := memfile.New()
	table, err := tablefile.Open(file, 0, 0, 2)
	require.NoError(t, err)

	entries := []recordio.LinkEntry{
		{Hash32: 1, Ref: pageio.PRef(4096)},
		{Hash32: 2, Ref: pageio.PRef(8192)},
	}
	require.NoError(t, table.WriteBucket(0, tablefile.Bucket{Entries: entries, OverflowLink: pageio.PRef(2)}))

	got, err := table.ReadBucket(0)
	require.NoError(t, err)
	require.Equal(t, entries, got.Entries)
	require.Equal(t, pageio.PRef(2), got.OverflowLink)
}
