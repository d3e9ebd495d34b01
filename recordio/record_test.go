// Copyright 2024 The Erigon Authors
// This file is part of chainstore.

package recordio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/chainstore/pageio"
	"github.com/erigontech/chainstore/recordio"
)

func TestEnvelopeSerializeRoundTrips(t *testing.T) {
	env := recordio.Envelope{Kind: recordio.KindIndexed, Payload: []byte("abcdef")}
	framed, err := env.Serialize()
	require.NoError(t, err)
	require.Equal(t, byte(recordio.KindIndexed), framed[0])
	require.Equal(t, len(env.Payload), int(framed[1])<<16|int(framed[2])<<8|int(framed[3]))
}

func TestIndexedRecordEncodeDecode(t *testing.T) {
	rec := recordio.IndexedRecord{
		Key:      []byte("block:100"),
		Data:     []byte("some opaque blob"),
		Referred: []pageio.PRef{10, 20, 30},
		Prev:     pageio.InvalidPRef,
	}
	env := rec.Encode()
	require.Equal(t, recordio.KindIndexed, env.Kind)

	got, err := recordio.DecodeIndexedRecord(env.Payload)
	require.NoError(t, err)
	require.Equal(t, rec.Key, got.Key)
	require.Equal(t, rec.Data, got.Data)
	require.Equal(t, rec.Referred, got.Referred)
	require.Equal(t, rec.Prev, got.Prev)
}

func TestReferredRecordEncodeDecode(t *testing.T) {
	rec := recordio.ReferredRecord{
		Data:     []byte("leaf payload"),
		Referred: nil,
		Prev:     pageio.PRef(4096),
	}
	env := rec.Encode()
	require.Equal(t, recordio.KindReferred, env.Kind)

	got, err := recordio.DecodeReferredRecord(env.Payload)
	require.NoError(t, err)
	require.Equal(t, rec.Data, got.Data)
	require.Empty(t, got.Referred)
	require.Equal(t, rec.Prev, got.Prev)
}

func TestLinkRecordEncodeDecode(t *testing.T) {
	rec := recordio.LinkRecord{
		Entries: []recordio.LinkEntry{
			{Hash32: 0xdeadbeef, Ref: pageio.PRef(100)},
			{Hash32: 0x1, Ref: pageio.PRef(200)},
		},
		PreviousLinkForBucket: pageio.InvalidPRef,
	}
	env := rec.Encode()
	require.Equal(t, recordio.KindLink, env.Kind)

	got, err := recordio.DecodeLinkRecord(env.Payload)
	require.NoError(t, err)
	require.Equal(t, rec.Entries, got.Entries)
	require.Equal(t, rec.PreviousLinkForBucket, got.PreviousLinkForBucket)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	_, err := recordio.DecodeIndexedRecord([]byte{0xff})
	require.Error(t, err)
}
