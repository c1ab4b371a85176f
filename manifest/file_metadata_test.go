// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"testing"

	"github.com/stratadb/strata/internal/base"
	"github.com/stretchr/testify/require"
)

func TestFileDescriptorPacking(t *testing.T) {
	fd := NewFileDescriptor(42, 3, 4096)
	require.Equal(t, base.FileNum(42), fd.FileNum())
	require.Equal(t, base.PathID(3), fd.PathID())
	require.Equal(t, uint64(4096), fd.FileSize)

	// A fresh descriptor's seqnum bounds are inverted so the first boundary
	// update narrows them.
	require.Equal(t, base.SeqNumMax, fd.SmallestSeqNum)
	require.Equal(t, base.SeqNum(0), fd.LargestSeqNum)

	// The largest file number that fits alongside a path ID.
	maxNum := base.FileNum(base.FileNumMask)
	fd = NewFileDescriptor(maxNum, 15, 0)
	require.Equal(t, maxNum, fd.FileNum())
	require.Equal(t, base.PathID(15), fd.PathID())

	require.Panics(t, func() {
		base.PackFileNumAndPathID(base.FileNum(base.FileNumMask+1), 0)
	})
}

func TestUpdateBoundaries(t *testing.T) {
	m := &FileMetadata{FD: NewFileDescriptor(1, 0, 0)}
	m.UpdateBoundaries(base.ParseInternalKey("d#10,SET"))
	m.UpdateBoundaries(base.ParseInternalKey("f#7,DEL"))
	m.UpdateBoundaries(base.ParseInternalKey("x#12,SET"))

	require.Equal(t, "d#10,SET", m.Smallest.String())
	require.Equal(t, "x#12,SET", m.Largest.String())
	require.Equal(t, base.SeqNum(7), m.FD.SmallestSeqNum)
	require.Equal(t, base.SeqNum(12), m.FD.LargestSeqNum)
}

func TestUpdateBoundariesForRange(t *testing.T) {
	cmp := base.DefaultComparer.Compare
	m := &FileMetadata{FD: NewFileDescriptor(1, 0, 0)}
	m.UpdateBoundaries(base.ParseInternalKey("f#10,SET"))

	m.UpdateBoundariesForRange(
		base.ParseInternalKey("a#9,RANGEDEL"),
		base.MakeRangeDeleteSentinelKey([]byte("m")),
		9, cmp)
	require.Equal(t, []byte("a"), m.Smallest.UserKey)
	require.Equal(t, []byte("m"), m.Largest.UserKey)
	require.Equal(t, base.SeqNum(9), m.FD.SmallestSeqNum)
	require.Equal(t, base.SeqNum(10), m.FD.LargestSeqNum)
}

func TestFileMetadataValidate(t *testing.T) {
	cmp := base.DefaultComparer.Compare

	t.Run("valid-index", func(t *testing.T) {
		index := NewIndexFileMetadata(43, 0, 2048, 65536,
			base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("m#9,SET"), 3, 9,
			map[base.FileNum]uint32{44: 17})
		index.ChildrenRanks = []PositionKeyRange{{0, 5}, {5, 9}}
		require.NoError(t, index.Validate(cmp))
	})

	t.Run("inverted-bounds", func(t *testing.T) {
		m := NewFileMetadata(1, 0, 100,
			base.ParseInternalKey("m#3,SET"), base.ParseInternalKey("a#9,SET"), 3, 9)
		err := m.Validate(cmp)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))
	})

	t.Run("sst-with-references", func(t *testing.T) {
		m := NewFileMetadata(1, 0, 100,
			base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("m#9,SET"), 3, 9)
		m.FD.SubNumberToReferenceKey = map[base.FileNum]uint32{2: 1}
		require.Error(t, m.Validate(cmp))
	})

	t.Run("table-with-sub-map", func(t *testing.T) {
		m := NewTableFileMetadata(1, 0, 100,
			base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("m#9,SET"), 3, 9, 10)
		m.FD.SubNumberToReferenceKey = map[base.FileNum]uint32{2: 1}
		require.Error(t, m.Validate(cmp))
	})

	t.Run("index-with-reference-entries", func(t *testing.T) {
		index := NewIndexFileMetadata(43, 0, 2048, 65536,
			base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("m#9,SET"), 3, 9, nil)
		index.ReferenceEntries = 1
		require.Error(t, index.Validate(cmp))
	})

	t.Run("overlapping-children-ranks", func(t *testing.T) {
		m := NewFileMetadata(1, 0, 100,
			base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("m#9,SET"), 3, 9)
		m.ChildrenRanks = []PositionKeyRange{{0, 6}, {5, 9}}
		require.Error(t, m.Validate(cmp))
	})
}

func TestLiveReferenceTotal(t *testing.T) {
	table := NewTableFileMetadata(44, 0, 65536,
		base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("m#9,SET"), 3, 9, 20)
	require.Equal(t, uint32(0), table.FD.LiveReferenceTotal())

	table.FD.FatherNumberToReferenceKey = map[base.FileNum]uint32{50: 12, 51: 5}
	require.Equal(t, uint32(17), table.FD.LiveReferenceTotal())
}

type fakeCacheHandle struct {
	released bool
}

func (h *fakeCacheHandle) Release() { h.released = true }

func TestRefsReleaseCacheHandle(t *testing.T) {
	m := NewFileMetadata(1, 0, 100,
		base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("m#9,SET"), 3, 9)
	handle := &fakeCacheHandle{}
	m.CacheHandle = handle

	m.Ref()
	m.Ref()
	require.Equal(t, int32(1), m.Unref())
	require.False(t, handle.released)
	require.Equal(t, int32(0), m.Unref())
	require.True(t, handle.released)
	require.Nil(t, m.CacheHandle)

	require.Panics(t, func() { m.Unref() })
}

type fakeTableReader struct {
	creationTime uint64
}

func (r *fakeTableReader) EstimatedCreationTime() uint64 { return r.creationTime }

func TestTryGetCreationTimes(t *testing.T) {
	m := NewFileMetadata(1, 0, 100,
		base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("m#9,SET"), 3, 9)
	require.Equal(t, uint64(0), m.TryGetOldestAncestorTime())

	m.FD.TableReader = &fakeTableReader{creationTime: 1600000000}
	require.Equal(t, uint64(1600000000), m.TryGetFileCreationTime())
	require.Equal(t, uint64(1600000000), m.TryGetOldestAncestorTime())

	m.FileCreationTime = 1600000500
	require.Equal(t, uint64(1600000500), m.TryGetOldestAncestorTime())

	m.OldestAncestorTime = 1600000100
	require.Equal(t, uint64(1600000100), m.TryGetOldestAncestorTime())
}

func TestApproximateMemoryUsage(t *testing.T) {
	m := NewFileMetadata(1, 0, 100,
		base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("m#9,SET"), 3, 9)
	small := m.ApproximateMemoryUsage()
	require.NotZero(t, small)

	m.FD.SubNumberToReferenceKey = map[base.FileNum]uint32{2: 1, 3: 1}
	m.ChildrenRanks = []PositionKeyRange{{0, 5}}
	require.Greater(t, m.ApproximateMemoryUsage(), small)
}
