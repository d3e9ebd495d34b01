// Copyright 2024 The Erigon Authors
// This file is part of chainstore.

package hashindex_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/chainstore/hashindex"
)

func TestBucketForStaysInRange(t *testing.T) {
	p := hashindex.Params{LogMod: 3, Step: 2}
	require.Equal(t, uint32(10), p.Buckets())

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		h := r.Uint32()
		b := p.BucketFor(h)
		require.Less(t, b, p.Buckets())
	}
}

func TestSplitPreservesLookupability(t *testing.T) {
	p := hashindex.Params{LogMod: 3, Step: 0}

	r := rand.New(rand.NewSource(42))
	hashes := make([]uint32, 5000)
	for i := range hashes {
		hashes[i] = r.Uint32()
	}

	before := make([]uint32, len(hashes))
	for i, h := range hashes {
		before[i] = p.BucketFor(h)
	}

	next, splitBucket, siblingBucket := p.Split()
	require.Equal(t, uint32(0), splitBucket)
	require.Equal(t, uint32(8), siblingBucket)
	require.Equal(t, p.LogMod, next.LogMod)
	require.Equal(t, p.Step+1, next.Step)

	for i, h := range hashes {
		after := next.BucketFor(h)
		if before[i] == splitBucket {
			require.True(t, after == splitBucket || after == siblingBucket)
		} else {
			require.Equal(t, before[i], after)
		}
	}
}

func TestSplitRolloverIncrementsLogMod(t *testing.T) {
	p := hashindex.Params{LogMod: 2, Step: 3}
	next, _, _ := p.Split()
	require.Equal(t, uint32(3), next.LogMod)
	require.Equal(t, uint32(0), next.Step)
}

func TestShouldSplitHonorsFillTarget(t *testing.T) {
	p := hashindex.Params{LogMod: 3, Step: 0}
	require.False(t, hashindex.ShouldSplit(10, p, 4))
	require.True(t, hashindex.ShouldSplit(100, p, 4))
	require.False(t, hashindex.ShouldSplit(100, p, 0))
}

func TestHasherIsDeterministic(t *testing.T) {
	h := hashindex.NewHasher(1, 2)
	a := h.Hash32([]byte("same key"))
	b := h.Hash32([]byte("same key"))
	require.Equal(t, a, b)

	c := h.Hash32([]byte("different key"))
	require.NotEqual(t, a, c)
}
