// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kr/pretty"
	"github.com/stratadb/strata/internal/base"
	"github.com/stretchr/testify/require"
)

func checkRoundTrip(t *testing.T, e0 *VersionEdit) {
	t.Helper()
	var e1 VersionEdit
	var buf bytes.Buffer
	require.NoError(t, e0.Encode(&buf))
	require.NoError(t, e1.Decode(&buf))
	if diff := pretty.Diff(e0, &e1); diff != nil {
		t.Fatalf("unexpected diff:\n%s", strings.Join(diff, "\n"))
	}
}

func TestVersionEditRoundTrip(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		checkRoundTrip(t, &VersionEdit{})
	})

	t.Run("bookkeeping", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.SetDBID("0f6e2d4a-9c1b-4a90-a5c2-2c6cf1bb0a6e")
		ve.SetComparatorName("leveldb.BytewiseComparator")
		ve.SetLogNumber(11)
		ve.SetPrevLogNumber(10)
		ve.SetNextFileNumber(97)
		ve.SetMaxColumnFamily(3)
		ve.SetMinLogNumberToKeep(5)
		ve.SetLastSequence(300)
		ve.SetFullHistoryTsLow("\x00\x00\x00\x07")
		checkRoundTrip(t, ve)
	})

	t.Run("files", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.DeleteFile(0, 7)
		ve.DeleteFile(6, 2)

		plain := NewFileMetadata(42, 0, 4096,
			base.ParseInternalKey("a#10,SET"), base.ParseInternalKey("m#20,SET"), 10, 20)
		plain.MarkedForCompaction = true
		plain.Temperature = TemperatureCold
		plain.OldestBlobFileNum = 5
		plain.OldestAncestorTime = 1700000000
		plain.FileCreationTime = 1700000100
		plain.FileChecksum = "\x9a\x3b\x11\xde"
		plain.FileChecksumFuncName = "crc32c"
		plain.MinTimestamp = "\x00\x01"
		plain.MaxTimestamp = "\x00\x09"
		plain.UniqueID = UniqueID64x2{0x1234, 0x5678}
		ve.AddFile(2, plain)

		index := NewIndexFileMetadata(43, 1, 2048, 65536,
			base.ParseInternalKey("n#21,SET"), base.ParseInternalKey("z#30,SET"), 21, 30,
			map[base.FileNum]uint32{44: 17, 45: 3})
		index.TotalEntries = 20
		index.MergeEntries = 2
		index.ChildrenRanks = []PositionKeyRange{{Start: 0, End: 8}, {Start: 8, End: 20}}
		ve.AddFile(3, index)

		table := NewTableFileMetadata(44, 0, 65536,
			base.ParseInternalKey("n#21,SET"), base.ParseInternalKey("z#30,SET"), 21, 30, 17)
		ve.AddTableFile(table)

		ve.AddGuard(3, []byte("q"))
		ve.DeleteGuard(3, []byte("f"))
		ve.AddCompactCursor(2, base.ParseInternalKey("h#9,SET"))
		checkRoundTrip(t, ve)
	})

	t.Run("blob", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.AddBlobFile(BlobFileAddition{
			FileNum:        9,
			TotalBlobCount: 100,
			TotalBlobBytes: 25935,
			ChecksumMethod: "crc32c",
			ChecksumValue:  "\xde\xad\xbe\xef",
		})
		ve.AddBlobFileGarbage(BlobFileGarbage{
			FileNum:          9,
			GarbageBlobCount: 30,
			GarbageBlobBytes: 8000,
		})
		checkRoundTrip(t, ve)
	})

	t.Run("wal", func(t *testing.T) {
		ve := &VersionEdit{}
		var meta WalMetadata
		meta.SetSyncedSize(2 << 20)
		ve.AddWal(19, meta)
		ve.AddWal(20, WalMetadata{})
		checkRoundTrip(t, ve)

		ve = &VersionEdit{}
		ve.DeleteWalsBefore(19)
		checkRoundTrip(t, ve)
	})

	t.Run("column-family", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.SetColumnFamily(4)
		ve.AddColumnFamily("write-heavy")
		ve.SetMaxColumnFamily(4)
		checkRoundTrip(t, ve)

		ve = &VersionEdit{}
		ve.SetColumnFamily(4)
		ve.DropColumnFamily()
		checkRoundTrip(t, ve)
	})

	t.Run("atomic-group", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.SetLogNumber(3)
		ve.MarkAtomicGroup(2)
		checkRoundTrip(t, ve)
	})
}

func TestVersionEditEncodeGolden(t *testing.T) {
	ve := &VersionEdit{}
	ve.SetLastSequence(9)
	var buf bytes.Buffer
	require.NoError(t, ve.Encode(&buf))
	require.Equal(t, []byte{tagLastSequence, 9}, buf.Bytes())

	decoded := &VersionEdit{}
	require.NoError(t, decoded.Decode(bytes.NewReader([]byte{tagLastSequence, 9})))
	seqNum, ok := decoded.LastSequence()
	require.True(t, ok)
	require.Equal(t, base.SeqNum(9), seqNum)
}

func TestVersionEditDecodeLegacyNewFile(t *testing.T) {
	// A reader must still understand the three superseded new-file record
	// formats.
	writeFixed := func(e versionEditEncoder, withSeqNums bool) {
		e.writeUvarint(42)   // file number
		e.writeUvarint(4096) // file size
		e.writeKey(base.ParseInternalKey("a#3,SET"))
		e.writeKey(base.ParseInternalKey("m#4,SET"))
		if withSeqNums {
			e.writeUvarint(3)
			e.writeUvarint(4)
		}
	}

	t.Run("new-file", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(tagNewFile)
		e.writeUvarint(1)
		writeFixed(e, false)
		ve := &VersionEdit{}
		require.NoError(t, ve.Decode(e.Buffer))
		require.Len(t, ve.NewFiles(), 1)
		m := ve.NewFiles()[0].Meta
		require.Equal(t, base.FileNum(42), m.FD.FileNum())
		require.Equal(t, base.SeqNum(0), m.FD.SmallestSeqNum)
	})

	t.Run("new-file2", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(tagNewFile2)
		e.writeUvarint(1)
		writeFixed(e, true)
		ve := &VersionEdit{}
		require.NoError(t, ve.Decode(e.Buffer))
		require.Len(t, ve.NewFiles(), 1)
		m := ve.NewFiles()[0].Meta
		require.Equal(t, base.SeqNum(3), m.FD.SmallestSeqNum)
		require.Equal(t, base.SeqNum(4), m.FD.LargestSeqNum)
	})

	t.Run("new-file3", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(tagNewFile3)
		e.writeUvarint(1) // level
		e.writeUvarint(42)
		e.writeUvarint(2) // path ID, inline in this format
		e.writeUvarint(4096)
		e.writeKey(base.ParseInternalKey("a#3,SET"))
		e.writeKey(base.ParseInternalKey("m#4,SET"))
		e.writeUvarint(3)
		e.writeUvarint(4)
		ve := &VersionEdit{}
		require.NoError(t, ve.Decode(e.Buffer))
		require.Len(t, ve.NewFiles(), 1)
		m := ve.NewFiles()[0].Meta
		require.Equal(t, base.FileNum(42), m.FD.FileNum())
		require.Equal(t, base.PathID(2), m.FD.PathID())
	})
}

func TestVersionEditForwardCompat(t *testing.T) {
	t.Run("ignorable-record-tag", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.SetLogNumber(12)
		ve.SetNextFileNumber(44)
		var buf bytes.Buffer
		require.NoError(t, ve.Encode(&buf))

		// A field written by a future engine under a safe-to-ignore tag.
		e := versionEditEncoder{&buf}
		e.writeUvarint(tagSafeIgnoreMask | 123)
		e.writeBytes([]byte("from the future"))

		decoded := &VersionEdit{}
		require.NoError(t, decoded.Decode(&buf))
		if diff := pretty.Diff(ve, decoded); diff != nil {
			t.Fatalf("unexpected diff:\n%s", strings.Join(diff, "\n"))
		}
	})

	t.Run("ignorable-custom-tag", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(tagNewFile4)
		e.writeUvarint(2) // level
		e.writeUvarint(42)
		e.writeUvarint(1024)
		e.writeKey(base.ParseInternalKey("a#3,SET"))
		e.writeKey(base.ParseInternalKey("m#4,SET"))
		e.writeUvarint(3)
		e.writeUvarint(4)
		e.writeUvarint(33) // ignorable custom tag
		e.writeBytes([]byte("future per-file field"))
		e.writeUvarint(customTagTerminate)

		ve := &VersionEdit{}
		require.NoError(t, ve.Decode(e.Buffer))
		require.Len(t, ve.NewFiles(), 1)
		require.Equal(t, base.FileNum(42), ve.NewFiles()[0].Meta.FD.FileNum())
	})
}

func TestVersionEditDecodeErrors(t *testing.T) {
	t.Run("unknown-record-tag", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(50) // unused tag below the safe-to-ignore mask
		e.writeUvarint(7)
		err := (&VersionEdit{}).Decode(e.Buffer)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))
	})

	t.Run("non-ignorable-custom-tag", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(tagNewFile4)
		e.writeUvarint(2)
		e.writeUvarint(42)
		e.writeUvarint(1024)
		e.writeKey(base.ParseInternalKey("a#3,SET"))
		e.writeKey(base.ParseInternalKey("m#4,SET"))
		e.writeUvarint(3)
		e.writeUvarint(4)
		e.writeUvarint(customTagNonSafeIgnoreMask | 60)
		e.writeBytes([]byte{1})
		e.writeUvarint(customTagTerminate)
		err := (&VersionEdit{}).Decode(e.Buffer)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))
	})

	t.Run("duplicate-comparator", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(tagComparator)
		e.writeString("abc")
		e.writeUvarint(tagComparator)
		e.writeString("abc")
		err := (&VersionEdit{}).Decode(e.Buffer)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))
	})

	t.Run("truncated-record", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(tagNewFile4)
		e.writeUvarint(1)
		e.writeUvarint(42)
		e.writeUvarint(4096)
		e.writeKey(base.ParseInternalKey("a#3,SET"))
		e.writeKey(base.ParseInternalKey("m#4,SET"))
		e.writeUvarint(3)
		e.writeUvarint(4)
		e.writeUvarint(customTagTerminate)
		b := e.Bytes()
		for n := 1; n < len(b); n++ {
			err := (&VersionEdit{}).Decode(bytes.NewReader(b[:n]))
			require.Error(t, err, "prefix of %d bytes decoded cleanly", n)
		}
	})

	t.Run("level-out-of-range", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(tagDeletedFile)
		e.writeUvarint(NumLevels)
		e.writeUvarint(7)
		err := (&VersionEdit{}).Decode(e.Buffer)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))
	})

	t.Run("duplicate-scalar-tags", func(t *testing.T) {
		// Each presence-flagged scalar field may appear at most once per
		// record.
		for _, tag := range []uint64{
			tagLogNumber, tagPrevLogNumber, tagNextFileNumber,
			tagMaxColumnFamily, tagMinLogNumberToKeep, tagLastSequence,
		} {
			e := versionEditEncoder{new(bytes.Buffer)}
			e.writeUvarint(tag)
			e.writeUvarint(1)
			e.writeUvarint(tag)
			e.writeUvarint(2)
			err := (&VersionEdit{}).Decode(e.Buffer)
			require.Error(t, err, "duplicate tag %d", tag)
			require.True(t, base.IsCorruptionError(err))
		}
	})

	t.Run("wal-addition-and-deletion", func(t *testing.T) {
		// A single record never carries both a WAL addition and a WAL
		// deletion; the writer enforces this, so such a record is corrupt.
		walAddition := func(e versionEditEncoder, number uint64) {
			payload := versionEditEncoder{new(bytes.Buffer)}
			payload.writeUvarint(number)
			payload.writeUvarint(walTagTerminate)
			e.writeUvarint(tagWalAddition2)
			e.writeBytes(payload.Bytes())
		}
		walDeletion := func(e versionEditEncoder, before uint64) {
			payload := versionEditEncoder{new(bytes.Buffer)}
			payload.writeUvarint(before)
			e.writeUvarint(tagWalDeletion2)
			e.writeBytes(payload.Bytes())
		}

		e := versionEditEncoder{new(bytes.Buffer)}
		walAddition(e, 20)
		walDeletion(e, 19)
		err := (&VersionEdit{}).Decode(e.Buffer)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))

		e = versionEditEncoder{new(bytes.Buffer)}
		walDeletion(e, 19)
		walAddition(e, 20)
		err = (&VersionEdit{}).Decode(e.Buffer)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))

		e = versionEditEncoder{new(bytes.Buffer)}
		walDeletion(e, 19)
		walDeletion(e, 21)
		err = (&VersionEdit{}).Decode(e.Buffer)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))
	})

	t.Run("table-file-without-role", func(t *testing.T) {
		e := versionEditEncoder{new(bytes.Buffer)}
		e.writeUvarint(tagNewTableFile)
		e.writeUvarint(44)
		e.writeUvarint(1024)
		e.writeKey(base.ParseInternalKey("a#3,SET"))
		e.writeKey(base.ParseInternalKey("m#4,SET"))
		e.writeUvarint(3)
		e.writeUvarint(4)
		e.writeUvarint(customTagFileRole)
		e.writeBytes([]byte{byte(RoleIndexFile)})
		e.writeUvarint(customTagTerminate)
		err := (&VersionEdit{}).Decode(e.Buffer)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))
	})
}

func TestVersionEditLastSequenceMonotonic(t *testing.T) {
	ve := &VersionEdit{}
	ve.AddFile(1, NewFileMetadata(1, 0, 100,
		base.ParseInternalKey("a#10,SET"), base.ParseInternalKey("b#20,SET"), 10, 20))
	seqNum, ok := ve.LastSequence()
	require.True(t, ok)
	require.Equal(t, base.SeqNum(20), seqNum)

	// A file with older sequence numbers must not lower the watermark.
	ve.AddFile(2, NewFileMetadata(2, 0, 100,
		base.ParseInternalKey("c#5,SET"), base.ParseInternalKey("d#10,SET"), 5, 10))
	seqNum, _ = ve.LastSequence()
	require.Equal(t, base.SeqNum(20), seqNum)

	ve.AddTableFile(NewTableFileMetadata(3, 0, 100,
		base.ParseInternalKey("e#25,SET"), base.ParseInternalKey("f#30,SET"), 25, 30, 5))
	seqNum, _ = ve.LastSequence()
	require.Equal(t, base.SeqNum(30), seqNum)
}

func TestVersionEditBuilderPanics(t *testing.T) {
	plain := func() *FileMetadata {
		return NewFileMetadata(1, 0, 100,
			base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("b#4,SET"), 3, 4)
	}

	t.Run("wal-after-file", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.AddFile(0, plain())
		require.Panics(t, func() { ve.AddWal(7, WalMetadata{}) })
	})

	t.Run("wal-deletion-non-empty", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.AddWal(7, WalMetadata{})
		require.Panics(t, func() { ve.DeleteWalsBefore(7) })
	})

	t.Run("wal-deletion-twice", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.DeleteWalsBefore(7)
		require.Panics(t, func() { ve.DeleteWalsBefore(8) })
	})

	t.Run("column-family-non-empty", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.AddFile(0, plain())
		require.Panics(t, func() { ve.AddColumnFamily("x") })
		require.Panics(t, func() { ve.DropColumnFamily() })
	})

	t.Run("column-family-twice", func(t *testing.T) {
		ve := &VersionEdit{}
		ve.AddColumnFamily("x")
		require.Panics(t, func() { ve.DropColumnFamily() })
	})

	t.Run("add-file-table-role", func(t *testing.T) {
		ve := &VersionEdit{}
		table := NewTableFileMetadata(2, 0, 100,
			base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("b#4,SET"), 3, 4, 5)
		require.Panics(t, func() { ve.AddFile(0, table) })
	})

	t.Run("add-table-file-derived-state", func(t *testing.T) {
		ve := &VersionEdit{}
		table := NewTableFileMetadata(2, 0, 100,
			base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("b#4,SET"), 3, 4, 5)
		table.FD.FatherNumberToReferenceKey = map[base.FileNum]uint32{9: 1}
		require.Panics(t, func() { ve.AddTableFile(table) })
	})

	t.Run("level-out-of-range", func(t *testing.T) {
		ve := &VersionEdit{}
		require.Panics(t, func() { ve.AddFile(NumLevels, plain()) })
		require.Panics(t, func() { ve.DeleteFile(-1, 3) })
		require.Panics(t, func() { ve.AddGuard(NumLevels, []byte("g")) })
	})
}

func TestVersionEditSetCompactCursors(t *testing.T) {
	ve := &VersionEdit{}
	ve.AddCompactCursor(0, base.ParseInternalKey("a#1,SET"))

	// The bulk form replaces any cursors already recorded; levels with an
	// empty cursor are skipped.
	ve.SetCompactCursors([]base.InternalKey{
		{},
		base.ParseInternalKey("m#2,SET"),
	})
	cursors := ve.CompactCursors()
	require.Len(t, cursors, 1)
	require.Equal(t, 1, cursors[0].Level)
	require.Equal(t, "m#2,SET", cursors[0].Cursor.String())

	ve.SetCompactCursors([]base.InternalKey{
		base.ParseInternalKey("c#3,SET"),
	})
	cursors = ve.CompactCursors()
	require.Len(t, cursors, 1)
	require.Equal(t, 0, cursors[0].Level)
	require.Equal(t, "c#3,SET", cursors[0].Cursor.String())
}

func TestVersionEditNumEntries(t *testing.T) {
	ve := &VersionEdit{}
	require.Equal(t, 0, ve.NumEntries())
	ve.SetLogNumber(3)
	ve.AddGuard(1, []byte("g"))
	require.Equal(t, 0, ve.NumEntries())

	ve.AddFile(0, NewFileMetadata(1, 0, 100,
		base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("b#4,SET"), 3, 4))
	ve.AddTableFile(NewTableFileMetadata(2, 0, 100,
		base.ParseInternalKey("a#3,SET"), base.ParseInternalKey("b#4,SET"), 3, 4, 5))
	ve.DeleteFile(1, 9)
	ve.AddBlobFile(BlobFileAddition{FileNum: 5})
	ve.AddBlobFileGarbage(BlobFileGarbage{FileNum: 5})
	require.Equal(t, 5, ve.NumEntries())

	wal := &VersionEdit{}
	wal.DeleteWalsBefore(9)
	require.Equal(t, 1, wal.NumEntries())
}

func TestVersionEditDeleteFileIdempotent(t *testing.T) {
	ve := &VersionEdit{}
	ve.DeleteFile(1, 9)
	ve.DeleteFile(1, 9)
	require.Equal(t, 1, ve.NumEntries())

	ve.AddGuard(2, []byte("g"))
	ve.AddGuard(2, []byte("g"))
	require.Len(t, ve.NewGuards(), 1)
}

func TestVersionEditDebugString(t *testing.T) {
	ve := &VersionEdit{}
	ve.SetComparatorName("leveldb.BytewiseComparator")
	ve.SetLogNumber(12)
	ve.SetNextFileNumber(44)
	ve.AddFile(1, NewFileMetadata(42, 0, 4096,
		base.ParseInternalKey("a#10,SET"), base.ParseInternalKey("z#20,SET"), 10, 20))
	ve.SetLastSequence(55)
	ve.DeleteFile(0, 7)
	ve.AddGuard(2, []byte("k"))

	const expected = `  comparer:      leveldb.BytewiseComparator
  log-num:       12
  next-file-num: 44
  last-seq-num:  55
  del-file:      L0 000007
  add-file:      L1 000042:[a#10,SET-z#20,SET] role:sst seqnums:[10-20] size:[4096 (4KB)]
  add-guard:     L2 k
`
	require.Equal(t, expected, ve.String())
}

func TestVersionEditDebugJSON(t *testing.T) {
	ve := &VersionEdit{}
	ve.SetLogNumber(1)
	ve.DeleteFile(0, 7)
	require.Equal(t,
		`{"log_number":1,"deleted_files":[{"level":0,"file_number":7}]}`,
		ve.DebugJSON())
}
