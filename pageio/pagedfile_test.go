// Copyright 2024 The Erigon Authors
// This file is part of chainstore.

package pageio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/chainstore/internal/memfile"
	"github.com/erigontech/chainstore/pageio"
)

func TestPRefRoundTrip(t *testing.T) {
	buf := make([]byte, pageio.PRefSize)
	pageio.PutPRef(buf, pageio.PRef(0x0102030405))
	require.Equal(t, pageio.PRef(0x0102030405), pageio.GetPRef(buf))
}

func TestInvalidPRef(t *testing.T) {
	require.False(t, pageio.InvalidPRef.IsValid())
	require.True(t, pageio.PRef(0).IsValid())
}

func TestPagedFileAppenderCrossesPages(t *testing.T) {
	inner := memfile.New()
	app := pageio.NewPagedFileAppender(inner, 0, pageio.InvalidPRef)

	big := make([]byte, pageio.PagePayloadSize+100)
	for i := range big {
		big[i] = byte(i)
	}
	start, err := app.Append(big)
	require.NoError(t, err)
	require.Equal(t, pageio.PRef(0), start)
	app.Advance()
	require.NoError(t, app.Flush())

	out := make([]byte, len(big))
	_, err = app.Read(start, out)
	require.NoError(t, err)
	require.Equal(t, big, out)
}

func TestPagedFileAppenderReadsOwnInProgressPage(t *testing.T) {
	inner := memfile.New()
	app := pageio.NewPagedFileAppender(inner, 0, pageio.InvalidPRef)

	small := []byte("hello world")
	start, err := app.Append(small)
	require.NoError(t, err)
	app.Advance()

	// Not flushed yet: inner file has nothing, but the appender's own
	// in-progress page must still answer reads.
	out := make([]byte, len(small))
	_, err = app.Read(start, out)
	require.NoError(t, err)
	require.Equal(t, small, out)

	n, _ := inner.Len()
	require.Equal(t, uint64(0), n)
}

func TestPagedFileAppenderTruncateRecoversLep(t *testing.T) {
	inner := memfile.New()
	app := pageio.NewPagedFileAppender(inner, 0, pageio.InvalidPRef)

	first, err := app.Append([]byte("first record"))
	require.NoError(t, err)
	app.Advance()
	require.NoError(t, app.Flush())

	_, err = app.Append(make([]byte, pageio.PagePayloadSize))
	require.NoError(t, err)
	app.Advance()
	require.NoError(t, app.Flush())

	lenAfterTwo, err := inner.Len()
	require.NoError(t, err)

	require.NoError(t, app.Truncate(pageio.PageSize))
	require.Equal(t, first, app.Lep())

	lenAfterTruncate, err := inner.Len()
	require.NoError(t, err)
	require.Less(t, lenAfterTruncate, lenAfterTwo)
}

func TestCachedFileServesFromCache(t *testing.T) {
	inner := memfile.New()
	cached, err := pageio.NewCachedFile(inner, 8)
	require.NoError(t, err)

	page := pageio.NewPage(0)
	page.Write(0, []byte("cached"))
	require.NoError(t, cached.AppendPage(page))

	got, err := cached.ReadPage(0)
	require.NoError(t, err)
	require.NotNil(t, got)
	out := make([]byte, 6)
	got.Read(0, out)
	require.Equal(t, "cached", string(out))
}
