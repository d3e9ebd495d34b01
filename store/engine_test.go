// Copyright 2024 The Erigon Authors
// This file is part of chainstore.

package store_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/chainstore/internal/memfile"
	"github.com/erigontech/chainstore/pageio"
	"github.com/erigontech/chainstore/store"
)

func newTestEngine(t *testing.T, cfg store.Config) *store.Engine {
	t.Helper()
	eng, err := store.Open(memfile.New(), memfile.New(), memfile.New(), memfile.New(), cfg, 11, 22, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Shutdown() })
	return eng
}

func TestTwoBatchesPutAndGet(t *testing.T) {
	eng := newTestEngine(t, store.DefaultConfig())

	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("alpha"), []byte("one"), nil)
		return err
	}))
	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("beta"), []byte("two"), nil)
		return err
	}))

	got, err := eng.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got.Data)

	got, err = eng.Get([]byte("beta"))
	require.NoError(t, err)
	require.Equal(t, []byte("two"), got.Data)

	_, err = eng.Get([]byte("missing"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutReferredThenPutIndexed(t *testing.T) {
	eng := newTestEngine(t, store.DefaultConfig())

	var leafPos pageio.PRef
	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		var err error
		leafPos, err = b.PutReferred([]byte("leaf"), nil)
		if err != nil {
			return err
		}
		_, err = b.Put([]byte("root"), []byte("root-data"), []pageio.PRef{leafPos})
		return err
	}))

	root, err := eng.Get([]byte("root"))
	require.NoError(t, err)
	require.Equal(t, []pageio.PRef{leafPos}, root.Referred)

	leaf, err := eng.GetReferred(leafPos)
	require.NoError(t, err)
	require.Equal(t, []byte("leaf"), leaf.Data)
}

func TestForwardReferenceRejected(t *testing.T) {
	eng := newTestEngine(t, store.DefaultConfig())

	err := eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("k"), []byte("v"), []pageio.PRef{pageio.PRef(999999)})
		return err
	})
	require.ErrorIs(t, err, store.ErrForwardReference)
}

func TestBatchAbortRollsBackOnError(t *testing.T) {
	eng := newTestEngine(t, store.DefaultConfig())

	sentinel := fmt.Errorf("boom")
	err := eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("doomed"), []byte("v"), nil)
		require.NoError(t, err)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = eng.Get([]byte("doomed"))
	require.ErrorIs(t, err, store.ErrNotFound)

	// The store must remain usable for further batches after an abort.
	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("survivor"), []byte("v"), nil)
		return err
	}))
	got, err := eng.Get([]byte("survivor"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got.Data)
}

func TestPutSupersedesPreviousValueForSameKey(t *testing.T) {
	eng := newTestEngine(t, store.DefaultConfig())

	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("k"), []byte("first"), nil)
		return err
	}))
	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("k"), []byte("second"), nil)
		return err
	}))

	got, err := eng.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got.Data)
}

func TestGetReferredReadsIndexedRecord(t *testing.T) {
	eng := newTestEngine(t, store.DefaultConfig())

	var firstPos pageio.PRef
	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		var err error
		firstPos, err = b.Put([]byte("k"), []byte("v1"), nil)
		return err
	}))
	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("k"), []byte("v2"), nil)
		return err
	}))

	first, err := eng.GetReferred(firstPos)
	require.NoError(t, err)
	require.Equal(t, []byte("k"), first.Key)
	require.Equal(t, []byte("v1"), first.Data)
}

func TestSupersededValueStaysHiddenAcrossSplits(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.BucketFillTarget = 2
	eng := newTestEngine(t, cfg)

	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("k"), []byte("first"), nil)
		return err
	}))

	const n = 200
	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("filler-%04d", i))
			if _, err := b.Put(key, key, nil); err != nil {
				return err
			}
		}
		_, err := b.Put([]byte("k"), []byte("second"), nil)
		return err
	}))
	require.Greater(t, eng.Buckets(), uint32(1))

	got, err := eng.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got.Data)
}

func TestPutRejectsOversizedKeyAndData(t *testing.T) {
	eng := newTestEngine(t, store.DefaultConfig())

	err := eng.Batch(func(b *store.Batch) error {
		_, err := b.Put(make([]byte, 256), []byte("v"), nil)
		return err
	})
	require.ErrorIs(t, err, store.ErrOutOfBounds)

	err = eng.Batch(func(b *store.Batch) error {
		_, err := b.Put([]byte("k"), make([]byte, 1<<23), nil)
		return err
	})
	require.ErrorIs(t, err, store.ErrOutOfBounds)

	err = eng.Batch(func(b *store.Batch) error {
		_, err := b.PutReferred(make([]byte, 1<<23), nil)
		return err
	})
	require.ErrorIs(t, err, store.ErrOutOfBounds)
}

func TestManyKeysSurviveSplits(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.BucketFillTarget = 2
	eng := newTestEngine(t, cfg)

	const n = 500
	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("key-%04d", i))
			if _, err := b.Put(key, key, nil); err != nil {
				return err
			}
		}
		return nil
	}))

	require.Greater(t, eng.Buckets(), uint32(1))

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		got, err := eng.Get(key)
		require.NoError(t, err)
		require.Equal(t, key, got.Data)
	}
}

func TestWalkVisitsReferredGraph(t *testing.T) {
	eng := newTestEngine(t, store.DefaultConfig())

	var leaf1, leaf2 pageio.PRef
	require.NoError(t, eng.Batch(func(b *store.Batch) error {
		var err error
		leaf1, err = b.PutReferred([]byte("leaf1"), nil)
		if err != nil {
			return err
		}
		leaf2, err = b.PutReferred([]byte("leaf2"), []pageio.PRef{leaf1})
		if err != nil {
			return err
		}
		_, err = b.Put([]byte("root"), []byte("root-data"), []pageio.PRef{leaf1, leaf2})
		return err
	}))

	walk, err := eng.Walk([]byte("root"))
	require.NoError(t, err)

	var visited []pageio.PRef
	for {
		ref, _, ok, werr := walk.Next()
		require.NoError(t, werr)
		if !ok {
			break
		}
		visited = append(visited, ref)
	}
	require.ElementsMatch(t, []pageio.PRef{leaf1, leaf2}, visited)
}
