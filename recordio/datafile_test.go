// Copyright 2024 The Erigon Authors
// This file is part of chainstore.

package recordio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/chainstore/internal/memfile"
	"github.com/erigontech/chainstore/pageio"
	"github.com/erigontech/chainstore/recordio"
)

func TestStoreAppendAndReadEnvelope(t *testing.T) {
	file := memfile.New()
	store := recordio.NewStore(file, 0, pageio.InvalidPRef)

	rec := recordio.IndexedRecord{
		Key:  []byte("k1"),
		Data: []byte("v1"),
		Prev: pageio.InvalidPRef,
	}
	pos, err := store.Append(rec.Encode())
	require.NoError(t, err)
	require.Equal(t, pageio.PRef(0), pos)
	require.NoError(t, store.Flush())

	env, err := store.ReadEnvelope(pos)
	require.NoError(t, err)
	require.Equal(t, recordio.KindIndexed, env.Kind)

	got, err := recordio.DecodeIndexedRecord(env.Payload)
	require.NoError(t, err)
	require.Equal(t, rec.Key, got.Key)
	require.Equal(t, rec.Data, got.Data)
}

func TestStoreNoForwardReferences(t *testing.T) {
	file := memfile.New()
	store := recordio.NewStore(file, 0, pageio.InvalidPRef)

	leaf := recordio.ReferredRecord{Data: []byte("leaf"), Prev: pageio.InvalidPRef}
	leafPos, err := store.Append(leaf.Encode())
	require.NoError(t, err)

	root := recordio.IndexedRecord{
		Key:      []byte("root"),
		Data:     []byte("root-data"),
		Referred: []pageio.PRef{leafPos},
		Prev:     leafPos,
	}
	rootPos, err := store.Append(root.Encode())
	require.NoError(t, err)
	require.Greater(t, rootPos.Uint64(), leafPos.Uint64())
	require.NoError(t, store.Flush())

	require.Less(t, leafPos.Uint64(), rootPos.Uint64())
}

func TestWalkerVisitsReferredGraphOnce(t *testing.T) {
	file := memfile.New()
	store := recordio.NewStore(file, 0, pageio.InvalidPRef)

	leaf1 := recordio.ReferredRecord{Data: []byte("leaf1"), Prev: pageio.InvalidPRef}
	leaf1Pos, err := store.Append(leaf1.Encode())
	require.NoError(t, err)

	leaf2 := recordio.ReferredRecord{Data: []byte("leaf2"), Referred: []pageio.PRef{leaf1Pos}, Prev: leaf1Pos}
	leaf2Pos, err := store.Append(leaf2.Encode())
	require.NoError(t, err)

	root := recordio.IndexedRecord{
		Key:      []byte("root"),
		Data:     []byte("root-data"),
		Referred: []pageio.PRef{leaf1Pos, leaf2Pos},
		Prev:     leaf2Pos,
	}
	require.NoError(t, store.Flush())

	walker := recordio.NewWalker(store, root)
	var visited []pageio.PRef
	for {
		ref, _, ok, werr := walker.Next()
		require.NoError(t, werr)
		if !ok {
			break
		}
		visited = append(visited, ref)
	}
	require.ElementsMatch(t, []pageio.PRef{leaf1Pos, leaf2Pos}, visited)
}
