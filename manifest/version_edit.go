// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/stratadb/strata/internal/base"
)

// Tags for the versionEdit disk format. These values are shared with the
// C++ lineage of the MANIFEST format and must never be renumbered.
const (
	tagComparator         = 1
	tagLogNumber          = 2
	tagNextFileNumber     = 3
	tagLastSequence       = 4
	tagCompactCursor      = 5
	tagDeletedFile        = 6
	tagNewFile            = 7
	// 8 was once used for large value references.
	tagPrevLogNumber      = 9
	tagMinLogNumberToKeep = 10

	tagNewFile2 = 100
	tagNewFile3 = 102
	tagNewFile4 = 103

	tagColumnFamily     = 200
	tagColumnFamilyAdd  = 201
	tagColumnFamilyDrop = 202
	tagMaxColumnFamily  = 203

	tagInAtomicGroup = 300

	tagBlobFileAddition = 400
	tagBlobFileGarbage  = 401

	tagNewGuard     = 500
	tagDeletedGuard = 501
	tagNewTableFile = 502

	// tagSafeIgnoreMask marks a tag as safe for an older reader to skip.
	// Every field written under such a tag is length-prefixed so that a
	// reader can consume it without understanding it. Unrecognized tags
	// below the mask abort the replay instead.
	tagSafeIgnoreMask = 1 << 13

	tagDBID = tagSafeIgnoreMask + 1
	// 8194 through 8197 carried earlier encodings of blob and WAL edits.
	tagBlobFileAdditionLegacy = tagSafeIgnoreMask + 2
	tagBlobFileGarbageLegacy  = tagSafeIgnoreMask + 3
	tagWalAdditionLegacy      = tagSafeIgnoreMask + 4
	tagWalDeletionLegacy      = tagSafeIgnoreMask + 5
	tagFullHistoryTsLow       = tagSafeIgnoreMask + 6
	tagWalAddition2           = tagSafeIgnoreMask + 7
	tagWalDeletion2           = tagSafeIgnoreMask + 8
)

// Custom sub-tags carried inside a new-file record, terminated by
// customTagTerminate. Values are length-prefixed byte strings. A sub-tag
// with the customTagNonSafeIgnoreMask bit set must be understood by every
// reader.
const (
	customTagTerminate           = 1
	customTagNeedsCompaction     = 2
	customTagMinLogNumToKeepHack = 3
	customTagOldestBlobFileNum   = 4
	customTagOldestAncestorTime  = 5
	customTagFileCreationTime    = 6
	customTagFileChecksum        = 7
	customTagFileChecksumFuncName = 8
	customTagTemperature         = 9
	customTagMinTimestamp        = 10
	customTagMaxTimestamp        = 11
	customTagUniqueID            = 12

	customTagNonSafeIgnoreMask = 1 << 6

	customTagPathID           = customTagNonSafeIgnoreMask | 1
	customTagSubFileSize      = customTagNonSafeIgnoreMask | 2
	customTagTotalEntries     = customTagNonSafeIgnoreMask | 3
	customTagReferenceEntries = customTagNonSafeIgnoreMask | 4
	customTagMergeEntries     = customTagNonSafeIgnoreMask | 5
	customTagSubReferences    = customTagNonSafeIgnoreMask | 6
	customTagChildrenRanks    = customTagNonSafeIgnoreMask | 7
	customTagFileRole         = customTagNonSafeIgnoreMask | 8
)

// DeletedFileEntry identifies a file removed from a level.
type DeletedFileEntry struct {
	Level   int
	FileNum base.FileNum
}

// NewFileEntry is a file added to a level.
type NewFileEntry struct {
	Level int
	Meta  *FileMetadata
}

// GuardEntry is a guard boundary on a level: a user key at which the level's
// keyspace is partitioned into independently compactable sub-ranges.
type GuardEntry struct {
	Level    int
	Boundary string
}

// CompactCursorEntry records where a round-robin compaction left off on a
// level.
type CompactCursorEntry struct {
	Level  int
	Cursor base.InternalKey
}

// VersionEdit accumulates a set of changes to a version: files added and
// deleted per level, guard changes, blob and WAL changes, and updates to the
// version-set bookkeeping fields. An edit is built up through its mutation
// methods and then encoded as one MANIFEST record.
//
// The mutation methods enforce the edit's structural invariants and panic
// with an assertion failure on misuse; the encode and decode paths return
// corruption errors for malformed persisted data.
type VersionEdit struct {
	dbID                  string
	hasDBID               bool
	comparatorName        string
	hasComparator         bool
	logNumber             uint64
	hasLogNumber          bool
	prevLogNumber         uint64
	hasPrevLogNumber      bool
	nextFileNumber        uint64
	hasNextFileNumber     bool
	maxColumnFamily       uint32
	hasMaxColumnFamily    bool
	minLogNumberToKeep    uint64
	hasMinLogNumberToKeep bool
	lastSequence          base.SeqNum
	hasLastSequence       bool
	fullHistoryTsLow      string

	compactCursors []CompactCursorEntry

	deletedFiles  map[DeletedFileEntry]bool
	newFiles      []NewFileEntry
	newTableFiles []*FileMetadata
	newGuards     map[GuardEntry]bool
	deletedGuards map[GuardEntry]bool

	blobFileAdditions []BlobFileAddition
	blobFileGarbages  []BlobFileGarbage

	walAdditions []WalAddition
	walDeletion  WalDeletion

	columnFamily       uint32
	isColumnFamilyAdd  bool
	isColumnFamilyDrop bool
	columnFamilyName   string

	isInAtomicGroup  bool
	remainingEntries uint32
}

// Clear resets the edit to empty.
func (v *VersionEdit) Clear() {
	*v = VersionEdit{}
}

// SetDBID records the database's unique ID.
func (v *VersionEdit) SetDBID(id string) {
	v.dbID = id
	v.hasDBID = true
}

// DBID returns the recorded database ID, if any.
func (v *VersionEdit) DBID() (string, bool) {
	return v.dbID, v.hasDBID
}

// SetComparatorName records the name of the comparator the column family's
// keys are ordered by. Replayed edits with a different name abort recovery.
func (v *VersionEdit) SetComparatorName(name string) {
	v.comparatorName = name
	v.hasComparator = true
}

// ComparatorName returns the recorded comparator name, if any.
func (v *VersionEdit) ComparatorName() (string, bool) {
	return v.comparatorName, v.hasComparator
}

// SetLogNumber records the first WAL that must be replayed for this column
// family after this edit is applied.
func (v *VersionEdit) SetLogNumber(num uint64) {
	v.logNumber = num
	v.hasLogNumber = true
}

// LogNumber returns the recorded WAL number, if any.
func (v *VersionEdit) LogNumber() (uint64, bool) {
	return v.logNumber, v.hasLogNumber
}

// SetPrevLogNumber records the predecessor WAL number. Kept only for
// replaying MANIFESTs written by engines that used a two-WAL memtable
// handoff; modern edits write zero.
func (v *VersionEdit) SetPrevLogNumber(num uint64) {
	v.prevLogNumber = num
	v.hasPrevLogNumber = true
}

// PrevLogNumber returns the recorded predecessor WAL number, if any.
func (v *VersionEdit) PrevLogNumber() (uint64, bool) {
	return v.prevLogNumber, v.hasPrevLogNumber
}

// SetNextFileNumber records the next file number the version set will
// allocate.
func (v *VersionEdit) SetNextFileNumber(num uint64) {
	v.nextFileNumber = num
	v.hasNextFileNumber = true
}

// NextFileNumber returns the recorded next file number, if any.
func (v *VersionEdit) NextFileNumber() (uint64, bool) {
	return v.nextFileNumber, v.hasNextFileNumber
}

// SetMaxColumnFamily records the largest column family ID allocated so far.
func (v *VersionEdit) SetMaxColumnFamily(id uint32) {
	v.maxColumnFamily = id
	v.hasMaxColumnFamily = true
}

// MaxColumnFamily returns the recorded maximum column family ID, if any.
func (v *VersionEdit) MaxColumnFamily() (uint32, bool) {
	return v.maxColumnFamily, v.hasMaxColumnFamily
}

// SetMinLogNumberToKeep records the WAL number below which all WALs may be
// deleted.
func (v *VersionEdit) SetMinLogNumberToKeep(num uint64) {
	v.minLogNumberToKeep = num
	v.hasMinLogNumberToKeep = true
}

// MinLogNumberToKeep returns the recorded minimum WAL number to keep, if
// any.
func (v *VersionEdit) MinLogNumberToKeep() (uint64, bool) {
	return v.minLogNumberToKeep, v.hasMinLogNumberToKeep
}

// SetLastSequence records the last sequence number published at the time the
// edit was written.
func (v *VersionEdit) SetLastSequence(seqNum base.SeqNum) {
	v.lastSequence = seqNum
	v.hasLastSequence = true
}

// LastSequence returns the recorded last sequence number, if any.
func (v *VersionEdit) LastSequence() (base.SeqNum, bool) {
	return v.lastSequence, v.hasLastSequence
}

// SetFullHistoryTsLow records the low watermark of the retained user-defined
// timestamp history.
func (v *VersionEdit) SetFullHistoryTsLow(ts string) {
	if ts == "" {
		panic(errors.AssertionFailedf("empty full-history timestamp low watermark"))
	}
	v.fullHistoryTsLow = ts
}

// FullHistoryTsLow returns the recorded timestamp low watermark, if any.
func (v *VersionEdit) FullHistoryTsLow() (string, bool) {
	return v.fullHistoryTsLow, v.fullHistoryTsLow != ""
}

// AddCompactCursor records the key at which a round-robin compaction on the
// given level left off.
func (v *VersionEdit) AddCompactCursor(level int, cursor base.InternalKey) {
	if level < 0 || level >= NumLevels {
		panic(errors.AssertionFailedf("level %d out of range", level))
	}
	v.compactCursors = append(v.compactCursors, CompactCursorEntry{Level: level, Cursor: cursor})
}

// SetCompactCursors replaces the edit's compaction cursors with the given
// per-level cursors, indexed by level. Levels whose cursor has an empty user
// key are skipped.
func (v *VersionEdit) SetCompactCursors(cursors []base.InternalKey) {
	v.compactCursors = v.compactCursors[:0]
	for level, cursor := range cursors {
		if len(cursor.UserKey) == 0 {
			continue
		}
		v.AddCompactCursor(level, cursor)
	}
}

// CompactCursors returns the recorded compaction cursors. The returned slice
// must not be modified.
func (v *VersionEdit) CompactCursors() []CompactCursorEntry {
	return v.compactCursors
}

// AddFile records the addition of a file to a level. The file may be a plain
// sorted table or an index file; table files are added with AddTableFile.
//
// The edit's last sequence number is raised to cover the file's largest
// sequence number.
func (v *VersionEdit) AddFile(level int, meta *FileMetadata) {
	if level < 0 || level >= NumLevels {
		panic(errors.AssertionFailedf("level %d out of range", level))
	}
	if meta.Role == RoleTableFile {
		panic(errors.AssertionFailedf("table file %s added with AddFile", meta.FD.FileNum()))
	}
	if meta.FD.SmallestSeqNum > meta.FD.LargestSeqNum {
		panic(errors.AssertionFailedf("file %s has inverted seqnum bounds", meta.FD.FileNum()))
	}
	v.newFiles = append(v.newFiles, NewFileEntry{Level: level, Meta: meta})
	if !v.hasLastSequence || v.lastSequence < meta.FD.LargestSeqNum {
		v.SetLastSequence(meta.FD.LargestSeqNum)
	}
}

// AddTableFile records the addition of a table file. Table files live below
// the leveled index structure and carry no level of their own.
//
// REQUIRES: the metadata's role is RoleTableFile, its reference entries are
// zero and its father-reference map is empty; the map is derived during
// version application, never carried by an edit.
func (v *VersionEdit) AddTableFile(meta *FileMetadata) {
	if meta.Role != RoleTableFile {
		panic(errors.AssertionFailedf("file %s has role %s, not table", meta.FD.FileNum(), meta.Role))
	}
	if meta.ReferenceEntries != 0 || len(meta.FD.FatherNumberToReferenceKey) > 0 {
		panic(errors.AssertionFailedf("table file %s added with derived reference state", meta.FD.FileNum()))
	}
	if meta.FD.SmallestSeqNum > meta.FD.LargestSeqNum {
		panic(errors.AssertionFailedf("table file %s has inverted seqnum bounds", meta.FD.FileNum()))
	}
	v.newTableFiles = append(v.newTableFiles, meta)
	if !v.hasLastSequence || v.lastSequence < meta.FD.LargestSeqNum {
		v.SetLastSequence(meta.FD.LargestSeqNum)
	}
}

// DeleteFile records the removal of a file from a level. Deleting the same
// file twice is a no-op.
func (v *VersionEdit) DeleteFile(level int, fileNum base.FileNum) {
	if level < 0 || level >= NumLevels {
		panic(errors.AssertionFailedf("level %d out of range", level))
	}
	if v.deletedFiles == nil {
		v.deletedFiles = make(map[DeletedFileEntry]bool)
	}
	v.deletedFiles[DeletedFileEntry{Level: level, FileNum: fileNum}] = true
}

// AddGuard records a new guard boundary on a level. Adding the same guard
// twice is a no-op.
func (v *VersionEdit) AddGuard(level int, boundary []byte) {
	if level < 0 || level >= NumLevels {
		panic(errors.AssertionFailedf("level %d out of range", level))
	}
	if v.newGuards == nil {
		v.newGuards = make(map[GuardEntry]bool)
	}
	v.newGuards[GuardEntry{Level: level, Boundary: string(boundary)}] = true
}

// DeleteGuard records the removal of a guard boundary from a level. Deleting
// the same guard twice is a no-op.
func (v *VersionEdit) DeleteGuard(level int, boundary []byte) {
	if level < 0 || level >= NumLevels {
		panic(errors.AssertionFailedf("level %d out of range", level))
	}
	if v.deletedGuards == nil {
		v.deletedGuards = make(map[GuardEntry]bool)
	}
	v.deletedGuards[GuardEntry{Level: level, Boundary: string(boundary)}] = true
}

// AddBlobFile records the addition of a blob file.
func (v *VersionEdit) AddBlobFile(add BlobFileAddition) {
	v.blobFileAdditions = append(v.blobFileAdditions, add)
}

// AddBlobFileGarbage records newly unreferenced data within a blob file.
func (v *VersionEdit) AddBlobFileGarbage(garbage BlobFileGarbage) {
	v.blobFileGarbages = append(v.blobFileGarbages, garbage)
}

// AddWal records the creation or metadata update of a WAL.
//
// REQUIRES: the edit holds nothing but WAL additions. WAL edits are written
// by a dedicated writer and never share a record with file changes.
func (v *VersionEdit) AddWal(number WalNumber, metadata WalMetadata) {
	if v.NumEntries() != len(v.walAdditions) {
		panic(errors.AssertionFailedf("WAL addition in an edit carrying file changes"))
	}
	v.walAdditions = append(v.walAdditions, WalAddition{Number: number, Metadata: metadata})
}

// WalAdditions returns the recorded WAL additions. The returned slice must
// not be modified.
func (v *VersionEdit) WalAdditions() []WalAddition {
	return v.walAdditions
}

// DeleteWalsBefore records that all WALs with numbers strictly less than
// number are obsolete.
//
// REQUIRES: the edit is empty. A WAL deletion is always written as a record
// of its own.
func (v *VersionEdit) DeleteWalsBefore(number WalNumber) {
	if !v.walDeletion.IsEmpty() {
		panic(errors.AssertionFailedf("edit already holds a WAL deletion"))
	}
	if v.NumEntries() != 0 {
		panic(errors.AssertionFailedf("WAL deletion in a non-empty edit"))
	}
	v.walDeletion = WalDeletion{NumberBefore: number}
}

// WalDeletionMarker returns the recorded WAL deletion. The zero WalDeletion
// means none was recorded.
func (v *VersionEdit) WalDeletionMarker() WalDeletion {
	return v.walDeletion
}

// SetColumnFamily records which column family the edit applies to. Zero, the
// default column family, is implied when unset.
func (v *VersionEdit) SetColumnFamily(id uint32) {
	v.columnFamily = id
}

// ColumnFamily returns the ID of the column family the edit applies to.
func (v *VersionEdit) ColumnFamily() uint32 {
	return v.columnFamily
}

// AddColumnFamily records the creation of the column family named by
// SetColumnFamily.
//
// REQUIRES: the edit is empty and records no other column family
// manipulation.
func (v *VersionEdit) AddColumnFamily(name string) {
	if v.isColumnFamilyAdd || v.isColumnFamilyDrop {
		panic(errors.AssertionFailedf("edit already manipulates a column family"))
	}
	if v.NumEntries() != 0 || !v.walDeletion.IsEmpty() {
		panic(errors.AssertionFailedf("column family creation in a non-empty edit"))
	}
	v.isColumnFamilyAdd = true
	v.columnFamilyName = name
}

// DropColumnFamily records the removal of the column family named by
// SetColumnFamily.
//
// REQUIRES: the edit is empty and records no other column family
// manipulation.
func (v *VersionEdit) DropColumnFamily() {
	if v.isColumnFamilyAdd || v.isColumnFamilyDrop {
		panic(errors.AssertionFailedf("edit already manipulates a column family"))
	}
	if v.NumEntries() != 0 || !v.walDeletion.IsEmpty() {
		panic(errors.AssertionFailedf("column family drop in a non-empty edit"))
	}
	v.isColumnFamilyDrop = true
}

// IsColumnFamilyManipulation reports whether the edit creates or drops a
// column family. Such edits carry no other changes.
func (v *VersionEdit) IsColumnFamilyManipulation() bool {
	return v.isColumnFamilyAdd || v.isColumnFamilyDrop
}

// IsColumnFamilyAdd reports whether the edit creates a column family.
func (v *VersionEdit) IsColumnFamilyAdd() bool {
	return v.isColumnFamilyAdd
}

// IsColumnFamilyDrop reports whether the edit drops a column family.
func (v *VersionEdit) IsColumnFamilyDrop() bool {
	return v.isColumnFamilyDrop
}

// ColumnFamilyName returns the name recorded by AddColumnFamily.
func (v *VersionEdit) ColumnFamilyName() string {
	return v.columnFamilyName
}

// MarkAtomicGroup tags the edit as part of an atomic group, with
// remainingEntries edits still to follow in the group.
func (v *VersionEdit) MarkAtomicGroup(remainingEntries uint32) {
	v.isInAtomicGroup = true
	v.remainingEntries = remainingEntries
}

// InAtomicGroup reports whether the edit is part of an atomic group and, if
// so, how many edits follow it in the group.
func (v *VersionEdit) InAtomicGroup() (bool, uint32) {
	return v.isInAtomicGroup, v.remainingEntries
}

// NumEntries returns the count of file, blob and WAL changes the edit
// carries. Bookkeeping fields, guards and cursors do not count.
func (v *VersionEdit) NumEntries() int {
	n := len(v.newFiles) + len(v.newTableFiles) + len(v.deletedFiles)
	n += len(v.blobFileAdditions) + len(v.blobFileGarbages)
	n += len(v.walAdditions)
	if !v.walDeletion.IsEmpty() {
		n++
	}
	return n
}

// NewFiles returns the recorded per-level file additions. The returned slice
// must not be modified.
func (v *VersionEdit) NewFiles() []NewFileEntry {
	return v.newFiles
}

// NewTableFiles returns the recorded table file additions. The returned
// slice must not be modified.
func (v *VersionEdit) NewTableFiles() []*FileMetadata {
	return v.newTableFiles
}

// DeletedFiles returns the recorded file deletions. The returned map must
// not be modified.
func (v *VersionEdit) DeletedFiles() map[DeletedFileEntry]bool {
	return v.deletedFiles
}

// NewGuards returns the recorded guard additions. The returned map must not
// be modified.
func (v *VersionEdit) NewGuards() map[GuardEntry]bool {
	return v.newGuards
}

// DeletedGuards returns the recorded guard deletions. The returned map must
// not be modified.
func (v *VersionEdit) DeletedGuards() map[GuardEntry]bool {
	return v.deletedGuards
}

// BlobFileAdditions returns the recorded blob file additions. The returned
// slice must not be modified.
func (v *VersionEdit) BlobFileAdditions() []BlobFileAddition {
	return v.blobFileAdditions
}

// BlobFileGarbages returns the recorded blob garbage entries. The returned
// slice must not be modified.
func (v *VersionEdit) BlobFileGarbages() []BlobFileGarbage {
	return v.blobFileGarbages
}

type versionEditEncoder struct {
	*bytes.Buffer
}

func (e versionEditEncoder) writeBytes(b []byte) {
	e.writeUvarint(uint64(len(b)))
	e.Write(b)
}

func (e versionEditEncoder) writeKey(k base.InternalKey) {
	e.writeUvarint(uint64(k.Size()))
	e.Write(k.UserKey)
	buf := k.EncodeTrailer()
	e.Write(buf[:])
}

func (e versionEditEncoder) writeString(s string) {
	e.writeUvarint(uint64(len(s)))
	e.WriteString(s)
}

func (e versionEditEncoder) writeUvarint(u uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	e.Write(buf[:n])
}

// Encode writes the edit to w as one MANIFEST record payload.
func (v *VersionEdit) Encode(w io.Writer) error {
	e := versionEditEncoder{new(bytes.Buffer)}

	if v.hasDBID {
		e.writeUvarint(tagDBID)
		e.writeString(v.dbID)
	}
	if v.hasComparator {
		e.writeUvarint(tagComparator)
		e.writeString(v.comparatorName)
	}
	if v.hasLogNumber {
		e.writeUvarint(tagLogNumber)
		e.writeUvarint(v.logNumber)
	}
	if v.hasPrevLogNumber {
		e.writeUvarint(tagPrevLogNumber)
		e.writeUvarint(v.prevLogNumber)
	}
	if v.hasNextFileNumber {
		e.writeUvarint(tagNextFileNumber)
		e.writeUvarint(v.nextFileNumber)
	}
	if v.hasMaxColumnFamily {
		e.writeUvarint(tagMaxColumnFamily)
		e.writeUvarint(uint64(v.maxColumnFamily))
	}
	if v.hasMinLogNumberToKeep {
		e.writeUvarint(tagMinLogNumberToKeep)
		e.writeUvarint(v.minLogNumberToKeep)
	}
	if v.hasLastSequence {
		e.writeUvarint(tagLastSequence)
		e.writeUvarint(uint64(v.lastSequence))
	}
	if v.fullHistoryTsLow != "" {
		e.writeUvarint(tagFullHistoryTsLow)
		e.writeString(v.fullHistoryTsLow)
	}
	for _, c := range v.compactCursors {
		e.writeUvarint(tagCompactCursor)
		e.writeUvarint(uint64(c.Level))
		e.writeKey(c.Cursor)
	}

	deleted := make([]DeletedFileEntry, 0, len(v.deletedFiles))
	for df := range v.deletedFiles {
		deleted = append(deleted, df)
	}
	sort.Slice(deleted, func(i, j int) bool {
		if deleted[i].Level != deleted[j].Level {
			return deleted[i].Level < deleted[j].Level
		}
		return deleted[i].FileNum < deleted[j].FileNum
	})
	for _, df := range deleted {
		e.writeUvarint(tagDeletedFile)
		e.writeUvarint(uint64(df.Level))
		e.writeUvarint(uint64(df.FileNum))
	}

	for _, nf := range v.newFiles {
		e.writeUvarint(tagNewFile4)
		e.writeUvarint(uint64(nf.Level))
		e.encodeFileBody(nf.Meta)
	}
	for _, m := range v.newTableFiles {
		e.writeUvarint(tagNewTableFile)
		e.encodeFileBody(m)
	}

	encodeGuards := func(tag uint64, guards map[GuardEntry]bool) {
		sorted := make([]GuardEntry, 0, len(guards))
		for g := range guards {
			sorted = append(sorted, g)
		}
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].Level != sorted[j].Level {
				return sorted[i].Level < sorted[j].Level
			}
			return sorted[i].Boundary < sorted[j].Boundary
		})
		for _, g := range sorted {
			e.writeUvarint(tag)
			e.writeUvarint(uint64(g.Level))
			e.writeString(g.Boundary)
		}
	}
	encodeGuards(tagNewGuard, v.newGuards)
	encodeGuards(tagDeletedGuard, v.deletedGuards)

	for i := range v.blobFileAdditions {
		e.writeUvarint(tagBlobFileAddition)
		v.blobFileAdditions[i].encode(e)
	}
	for i := range v.blobFileGarbages {
		e.writeUvarint(tagBlobFileGarbage)
		v.blobFileGarbages[i].encode(e)
	}

	for i := range v.walAdditions {
		e.writeUvarint(tagWalAddition2)
		var payload versionEditEncoder
		payload.Buffer = new(bytes.Buffer)
		v.walAdditions[i].encode(payload)
		e.writeBytes(payload.Bytes())
	}
	if !v.walDeletion.IsEmpty() {
		e.writeUvarint(tagWalDeletion2)
		var payload versionEditEncoder
		payload.Buffer = new(bytes.Buffer)
		v.walDeletion.encode(payload)
		e.writeBytes(payload.Bytes())
	}

	if v.columnFamily != 0 {
		e.writeUvarint(tagColumnFamily)
		e.writeUvarint(uint64(v.columnFamily))
	}
	if v.isColumnFamilyAdd {
		e.writeUvarint(tagColumnFamilyAdd)
		e.writeString(v.columnFamilyName)
	}
	if v.isColumnFamilyDrop {
		e.writeUvarint(tagColumnFamilyDrop)
	}
	if v.isInAtomicGroup {
		e.writeUvarint(tagInAtomicGroup)
		e.writeUvarint(uint64(v.remainingEntries))
	}

	_, err := w.Write(e.Bytes())
	return err
}

// encodeFileBody writes the fixed fields and custom-tag stream shared by the
// new-file and new-table-file records. The caller has already written the
// record tag (and, for leveled files, the level).
func (e versionEditEncoder) encodeFileBody(m *FileMetadata) {
	e.writeUvarint(uint64(m.FD.FileNum()))
	e.writeUvarint(m.FD.FileSize)
	e.writeKey(m.Smallest)
	e.writeKey(m.Largest)
	e.writeUvarint(uint64(m.FD.SmallestSeqNum))
	e.writeUvarint(uint64(m.FD.LargestSeqNum))

	writeCustomVarint := func(tag uint64, value uint64) {
		e.writeUvarint(tag)
		var buf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(buf[:], value)
		e.writeBytes(buf[:n])
	}
	writeCustomString := func(tag uint64, value string) {
		e.writeUvarint(tag)
		e.writeString(value)
	}

	if m.MarkedForCompaction {
		e.writeUvarint(customTagNeedsCompaction)
		e.writeBytes([]byte{1})
	}
	if m.OldestBlobFileNum != base.InvalidBlobFileNum {
		writeCustomVarint(customTagOldestBlobFileNum, uint64(m.OldestBlobFileNum))
	}
	if m.OldestAncestorTime != 0 {
		writeCustomVarint(customTagOldestAncestorTime, m.OldestAncestorTime)
	}
	if m.FileCreationTime != 0 {
		writeCustomVarint(customTagFileCreationTime, m.FileCreationTime)
	}
	if m.FileChecksum != "" {
		writeCustomString(customTagFileChecksum, m.FileChecksum)
	}
	if m.FileChecksumFuncName != "" {
		writeCustomString(customTagFileChecksumFuncName, m.FileChecksumFuncName)
	}
	if m.Temperature != TemperatureUnknown {
		e.writeUvarint(customTagTemperature)
		e.writeBytes([]byte{byte(m.Temperature)})
	}
	if m.MinTimestamp != "" {
		writeCustomString(customTagMinTimestamp, m.MinTimestamp)
	}
	if m.MaxTimestamp != "" {
		writeCustomString(customTagMaxTimestamp, m.MaxTimestamp)
	}
	if !m.UniqueID.IsZero() {
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[:8], m.UniqueID[0])
		binary.LittleEndian.PutUint64(buf[8:], m.UniqueID[1])
		e.writeUvarint(customTagUniqueID)
		e.writeBytes(buf[:])
	}
	if pathID := m.FD.PathID(); pathID != 0 {
		e.writeUvarint(customTagPathID)
		e.writeBytes([]byte{byte(pathID)})
	}
	if m.Role != RoleSST {
		e.writeUvarint(customTagFileRole)
		e.writeBytes([]byte{byte(m.Role)})
	}
	if m.FD.SubFileSize != 0 {
		writeCustomVarint(customTagSubFileSize, m.FD.SubFileSize)
	}
	if m.TotalEntries != 0 {
		writeCustomVarint(customTagTotalEntries, m.TotalEntries)
	}
	if m.ReferenceEntries != 0 {
		writeCustomVarint(customTagReferenceEntries, m.ReferenceEntries)
	}
	if m.MergeEntries != 0 {
		writeCustomVarint(customTagMergeEntries, m.MergeEntries)
	}
	if len(m.FD.SubNumberToReferenceKey) > 0 {
		var payload versionEditEncoder
		payload.Buffer = new(bytes.Buffer)
		nums := make([]base.FileNum, 0, len(m.FD.SubNumberToReferenceKey))
		for n := range m.FD.SubNumberToReferenceKey {
			nums = append(nums, n)
		}
		sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
		payload.writeUvarint(uint64(len(nums)))
		for _, n := range nums {
			payload.writeUvarint(uint64(n))
			payload.writeUvarint(uint64(m.FD.SubNumberToReferenceKey[n]))
		}
		e.writeUvarint(customTagSubReferences)
		e.writeBytes(payload.Bytes())
	}
	if len(m.ChildrenRanks) > 0 {
		var payload versionEditEncoder
		payload.Buffer = new(bytes.Buffer)
		payload.writeUvarint(uint64(len(m.ChildrenRanks)))
		for _, r := range m.ChildrenRanks {
			payload.writeUvarint(uint64(r.Start))
			payload.writeUvarint(uint64(r.End))
		}
		e.writeUvarint(customTagChildrenRanks)
		e.writeBytes(payload.Bytes())
	}
	e.writeUvarint(customTagTerminate)
}

type byteReader interface {
	io.ByteReader
	io.Reader
}

type versionEditDecoder struct {
	byteReader
}

func (d versionEditDecoder) readBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	s := make([]byte, n)
	_, err = io.ReadFull(d, s)
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errCorruptManifest
		}
		return nil, err
	}
	return s, nil
}

func (d versionEditDecoder) readKey() (base.InternalKey, error) {
	b, err := d.readBytes()
	if err != nil {
		return base.InternalKey{}, err
	}
	if len(b) < base.InternalTrailerLen {
		return base.InternalKey{}, errCorruptManifest
	}
	return base.DecodeInternalKey(b), nil
}

func (d versionEditDecoder) readLevel() (int, error) {
	u, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if u >= NumLevels {
		return 0, errCorruptManifest
	}
	return int(u), nil
}

func (d versionEditDecoder) readFileNum() (base.FileNum, error) {
	u, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	return base.FileNum(u), nil
}

func (d versionEditDecoder) readUvarint() (uint64, error) {
	u, err := binary.ReadUvarint(d)
	if err != nil {
		if err == io.EOF {
			return 0, errCorruptManifest
		}
		return 0, err
	}
	return u, nil
}

var errCorruptManifest = base.CorruptionErrorf("strata: corrupt manifest")

// Decode reads the edit from a MANIFEST record payload. Fields written under
// unrecognized safe-to-ignore tags are skipped; an unrecognized tag below
// the safe-to-ignore mask is a corruption error.
func (v *VersionEdit) Decode(r io.Reader) error {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := versionEditDecoder{br}
	for {
		tag, err := binary.ReadUvarint(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch tag {
		case tagDBID:
			if v.hasDBID {
				return errCorruptManifest
			}
			s, err := d.readBytes()
			if err != nil {
				return err
			}
			v.SetDBID(string(s))

		case tagComparator:
			if v.hasComparator {
				return errCorruptManifest
			}
			s, err := d.readBytes()
			if err != nil {
				return err
			}
			v.SetComparatorName(string(s))

		case tagLogNumber:
			if v.hasLogNumber {
				return errCorruptManifest
			}
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.SetLogNumber(n)

		case tagPrevLogNumber:
			if v.hasPrevLogNumber {
				return errCorruptManifest
			}
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.SetPrevLogNumber(n)

		case tagNextFileNumber:
			if v.hasNextFileNumber {
				return errCorruptManifest
			}
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.SetNextFileNumber(n)

		case tagMaxColumnFamily:
			if v.hasMaxColumnFamily {
				return errCorruptManifest
			}
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.SetMaxColumnFamily(uint32(n))

		case tagMinLogNumberToKeep:
			if v.hasMinLogNumberToKeep {
				return errCorruptManifest
			}
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.SetMinLogNumberToKeep(n)

		case tagLastSequence:
			if v.hasLastSequence {
				return errCorruptManifest
			}
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.SetLastSequence(base.SeqNum(n))

		case tagFullHistoryTsLow:
			s, err := d.readBytes()
			if err != nil {
				return err
			}
			if len(s) == 0 {
				return errCorruptManifest
			}
			v.SetFullHistoryTsLow(string(s))

		case tagCompactCursor:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			cursor, err := d.readKey()
			if err != nil {
				return err
			}
			v.compactCursors = append(v.compactCursors,
				CompactCursorEntry{Level: level, Cursor: cursor})

		case tagDeletedFile:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			fileNum, err := d.readFileNum()
			if err != nil {
				return err
			}
			v.DeleteFile(level, fileNum)

		case tagNewFile, tagNewFile2, tagNewFile3, tagNewFile4:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			m, err := d.decodeFileBody(v, tag)
			if err != nil {
				return err
			}
			v.newFiles = append(v.newFiles, NewFileEntry{Level: level, Meta: m})

		case tagNewTableFile:
			m, err := d.decodeFileBody(v, tag)
			if err != nil {
				return err
			}
			if m.Role != RoleTableFile {
				return errCorruptManifest
			}
			v.newTableFiles = append(v.newTableFiles, m)

		case tagNewGuard, tagDeletedGuard:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			boundary, err := d.readBytes()
			if err != nil {
				return err
			}
			if tag == tagNewGuard {
				v.AddGuard(level, boundary)
			} else {
				v.DeleteGuard(level, boundary)
			}

		case tagBlobFileAddition:
			var add BlobFileAddition
			if err := add.decode(d); err != nil {
				return err
			}
			v.blobFileAdditions = append(v.blobFileAdditions, add)

		case tagBlobFileGarbage:
			var garbage BlobFileGarbage
			if err := garbage.decode(d); err != nil {
				return err
			}
			v.blobFileGarbages = append(v.blobFileGarbages, garbage)

		case tagWalAddition2:
			if !v.walDeletion.IsEmpty() {
				return errCorruptManifest
			}
			payload, err := d.readBytes()
			if err != nil {
				return err
			}
			var add WalAddition
			if err := add.decode(versionEditDecoder{bytes.NewReader(payload)}); err != nil {
				return err
			}
			v.walAdditions = append(v.walAdditions, add)

		case tagWalDeletion2:
			if len(v.walAdditions) > 0 || !v.walDeletion.IsEmpty() {
				return errCorruptManifest
			}
			payload, err := d.readBytes()
			if err != nil {
				return err
			}
			if err := v.walDeletion.decode(versionEditDecoder{bytes.NewReader(payload)}); err != nil {
				return err
			}

		case tagColumnFamily:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.columnFamily = uint32(n)

		case tagColumnFamilyAdd:
			if v.isColumnFamilyAdd || v.isColumnFamilyDrop {
				return errCorruptManifest
			}
			name, err := d.readBytes()
			if err != nil {
				return err
			}
			v.isColumnFamilyAdd = true
			v.columnFamilyName = string(name)

		case tagColumnFamilyDrop:
			if v.isColumnFamilyAdd || v.isColumnFamilyDrop {
				return errCorruptManifest
			}
			v.isColumnFamilyDrop = true

		case tagInAtomicGroup:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.isInAtomicGroup = true
			v.remainingEntries = uint32(n)

		default:
			if tag&tagSafeIgnoreMask != 0 {
				// A field written by a newer engine under a tag it promised
				// we could skip. The payload is length-prefixed.
				if _, err := d.readBytes(); err != nil {
					return err
				}
				continue
			}
			return base.CorruptionErrorf("strata: unknown version edit tag %d", errors.Safe(tag))
		}
	}
	return nil
}

// decodeFileBody reads the body of a new-file record: the fixed fields
// matching the given record tag followed, for the modern tags, by the custom
// field stream.
func (d versionEditDecoder) decodeFileBody(v *VersionEdit, recordTag uint64) (*FileMetadata, error) {
	fileNum, err := d.readFileNum()
	if err != nil {
		return nil, err
	}
	var pathID base.PathID
	if recordTag == tagNewFile3 {
		n, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		pathID = base.PathID(n)
	}
	fileSize, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	smallest, err := d.readKey()
	if err != nil {
		return nil, err
	}
	largest, err := d.readKey()
	if err != nil {
		return nil, err
	}
	var smallestSeqNum, largestSeqNum uint64
	if recordTag != tagNewFile {
		smallestSeqNum, err = d.readUvarint()
		if err != nil {
			return nil, err
		}
		largestSeqNum, err = d.readUvarint()
		if err != nil {
			return nil, err
		}
	}

	m := NewFileMetadata(fileNum, pathID, fileSize, smallest, largest,
		base.SeqNum(smallestSeqNum), base.SeqNum(largestSeqNum))
	if recordTag == tagNewTableFile {
		m.Role = RoleTableFile
	}
	if recordTag != tagNewFile4 && recordTag != tagNewTableFile {
		return m, nil
	}

	for {
		customTag, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		if customTag == customTagTerminate {
			break
		}
		field, err := d.readBytes()
		if err != nil {
			return nil, err
		}
		switch customTag {
		case customTagNeedsCompaction:
			if len(field) != 1 {
				return nil, base.CorruptionErrorf("strata: new-file needs-compaction field wrong size")
			}
			m.MarkedForCompaction = field[0] == 1

		case customTagMinLogNumToKeepHack:
			// An old writer smuggled the version-set field through the
			// custom stream of a file record.
			n, err := decodeVarintField(field)
			if err != nil {
				return nil, err
			}
			v.SetMinLogNumberToKeep(n)

		case customTagOldestBlobFileNum:
			n, err := decodeVarintField(field)
			if err != nil {
				return nil, err
			}
			m.OldestBlobFileNum = base.BlobFileNum(n)

		case customTagOldestAncestorTime:
			m.OldestAncestorTime, err = decodeVarintField(field)
			if err != nil {
				return nil, err
			}

		case customTagFileCreationTime:
			m.FileCreationTime, err = decodeVarintField(field)
			if err != nil {
				return nil, err
			}

		case customTagFileChecksum:
			m.FileChecksum = string(field)

		case customTagFileChecksumFuncName:
			m.FileChecksumFuncName = string(field)

		case customTagTemperature:
			if len(field) != 1 {
				return nil, base.CorruptionErrorf("strata: new-file temperature field wrong size")
			}
			m.Temperature = Temperature(field[0])

		case customTagMinTimestamp:
			m.MinTimestamp = string(field)

		case customTagMaxTimestamp:
			m.MaxTimestamp = string(field)

		case customTagUniqueID:
			if len(field) != 16 {
				return nil, base.CorruptionErrorf("strata: new-file unique-id field wrong size")
			}
			m.UniqueID[0] = binary.LittleEndian.Uint64(field[:8])
			m.UniqueID[1] = binary.LittleEndian.Uint64(field[8:])

		case customTagPathID:
			if len(field) != 1 {
				return nil, base.CorruptionErrorf("strata: new-file path-id field wrong size")
			}
			m.FD.PackedNumberAndPathID =
				base.PackFileNumAndPathID(fileNum, base.PathID(field[0]))

		case customTagFileRole:
			if len(field) != 1 || field[0] > byte(RoleTableFile) {
				return nil, base.CorruptionErrorf("strata: new-file role field invalid")
			}
			m.Role = FileRole(field[0])

		case customTagSubFileSize:
			m.FD.SubFileSize, err = decodeVarintField(field)
			if err != nil {
				return nil, err
			}

		case customTagTotalEntries:
			m.TotalEntries, err = decodeVarintField(field)
			if err != nil {
				return nil, err
			}

		case customTagReferenceEntries:
			m.ReferenceEntries, err = decodeVarintField(field)
			if err != nil {
				return nil, err
			}

		case customTagMergeEntries:
			m.MergeEntries, err = decodeVarintField(field)
			if err != nil {
				return nil, err
			}

		case customTagSubReferences:
			sub := versionEditDecoder{bytes.NewReader(field)}
			count, err := sub.readUvarint()
			if err != nil {
				return nil, err
			}
			refs := make(map[base.FileNum]uint32, count)
			for i := uint64(0); i < count; i++ {
				tableNum, err := sub.readFileNum()
				if err != nil {
					return nil, err
				}
				n, err := sub.readUvarint()
				if err != nil {
					return nil, err
				}
				refs[tableNum] = uint32(n)
			}
			m.FD.SubNumberToReferenceKey = refs

		case customTagChildrenRanks:
			sub := versionEditDecoder{bytes.NewReader(field)}
			count, err := sub.readUvarint()
			if err != nil {
				return nil, err
			}
			ranks := make([]PositionKeyRange, count)
			for i := range ranks {
				start, err := sub.readUvarint()
				if err != nil {
					return nil, err
				}
				end, err := sub.readUvarint()
				if err != nil {
					return nil, err
				}
				ranks[i] = PositionKeyRange{Start: uint32(start), End: uint32(end)}
			}
			m.ChildrenRanks = ranks

		default:
			if customTag&customTagNonSafeIgnoreMask != 0 {
				return nil, base.CorruptionErrorf(
					"strata: new-file field %d not supported", errors.Safe(customTag))
			}
			// Ignorable field written by a newer engine.
		}
	}
	return m, nil
}

// decodeVarintField decodes a varint carried inside a length-prefixed custom
// field.
func decodeVarintField(field []byte) (uint64, error) {
	u, n := binary.Uvarint(field)
	if n <= 0 || n != len(field) {
		return 0, errCorruptManifest
	}
	return u, nil
}

// String implements fmt.Stringer.
func (v *VersionEdit) String() string {
	return v.DebugString(base.DefaultFormatter)
}

// DebugString returns a verbose, line-per-field description of the edit for
// tools and test output.
func (v *VersionEdit) DebugString(format base.FormatKey) string {
	var buf bytes.Buffer
	if v.hasDBID {
		fmt.Fprintf(&buf, "  db-id:         %s\n", v.dbID)
	}
	if v.hasComparator {
		fmt.Fprintf(&buf, "  comparer:      %s\n", v.comparatorName)
	}
	if v.hasLogNumber {
		fmt.Fprintf(&buf, "  log-num:       %d\n", v.logNumber)
	}
	if v.hasPrevLogNumber {
		fmt.Fprintf(&buf, "  prev-log-num:  %d\n", v.prevLogNumber)
	}
	if v.hasNextFileNumber {
		fmt.Fprintf(&buf, "  next-file-num: %d\n", v.nextFileNumber)
	}
	if v.hasMaxColumnFamily {
		fmt.Fprintf(&buf, "  max-column-family: %d\n", v.maxColumnFamily)
	}
	if v.hasMinLogNumberToKeep {
		fmt.Fprintf(&buf, "  min-log-num-to-keep: %d\n", v.minLogNumberToKeep)
	}
	if v.hasLastSequence {
		fmt.Fprintf(&buf, "  last-seq-num:  %d\n", v.lastSequence)
	}
	if v.fullHistoryTsLow != "" {
		fmt.Fprintf(&buf, "  full-history-ts-low: %x\n", v.fullHistoryTsLow)
	}
	for _, c := range v.compactCursors {
		fmt.Fprintf(&buf, "  compact-cursor: L%d %s\n", c.Level, c.Cursor.Pretty(format))
	}
	deleted := make([]DeletedFileEntry, 0, len(v.deletedFiles))
	for df := range v.deletedFiles {
		deleted = append(deleted, df)
	}
	sort.Slice(deleted, func(i, j int) bool {
		if deleted[i].Level != deleted[j].Level {
			return deleted[i].Level < deleted[j].Level
		}
		return deleted[i].FileNum < deleted[j].FileNum
	})
	for _, df := range deleted {
		fmt.Fprintf(&buf, "  del-file:      L%d %s\n", df.Level, df.FileNum)
	}
	for _, nf := range v.newFiles {
		fmt.Fprintf(&buf, "  add-file:      L%d %s\n", nf.Level, nf.Meta.DebugString(format))
	}
	for _, m := range v.newTableFiles {
		fmt.Fprintf(&buf, "  add-table-file: %s\n", m.DebugString(format))
	}
	debugGuards := func(label string, guards map[GuardEntry]bool) {
		sorted := make([]GuardEntry, 0, len(guards))
		for g := range guards {
			sorted = append(sorted, g)
		}
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].Level != sorted[j].Level {
				return sorted[i].Level < sorted[j].Level
			}
			return sorted[i].Boundary < sorted[j].Boundary
		})
		for _, g := range sorted {
			fmt.Fprintf(&buf, "  %s L%d %s\n", label, g.Level, format([]byte(g.Boundary)))
		}
	}
	debugGuards("add-guard:    ", v.newGuards)
	debugGuards("del-guard:    ", v.deletedGuards)
	for i := range v.blobFileAdditions {
		fmt.Fprintf(&buf, "  add-blob-file: %s\n", &v.blobFileAdditions[i])
	}
	for i := range v.blobFileGarbages {
		fmt.Fprintf(&buf, "  blob-file-garbage: %s\n", &v.blobFileGarbages[i])
	}
	for i := range v.walAdditions {
		fmt.Fprintf(&buf, "  add-wal:       %s\n", &v.walAdditions[i])
	}
	if !v.walDeletion.IsEmpty() {
		fmt.Fprintf(&buf, "  del-wals-before: %s\n", v.walDeletion.NumberBefore)
	}
	if v.columnFamily != 0 {
		fmt.Fprintf(&buf, "  column-family: %d\n", v.columnFamily)
	}
	if v.isColumnFamilyAdd {
		fmt.Fprintf(&buf, "  add-column-family: %q\n", v.columnFamilyName)
	}
	if v.isColumnFamilyDrop {
		fmt.Fprintf(&buf, "  drop-column-family\n")
	}
	if v.isInAtomicGroup {
		fmt.Fprintf(&buf, "  atomic-group: remaining:%d\n", v.remainingEntries)
	}
	return buf.String()
}

// DebugJSON returns a JSON rendering of the edit for log and tool output.
func (v *VersionEdit) DebugJSON() string {
	type jsonFile struct {
		Level         int    `json:"level,omitempty"`
		FileNumber    uint64 `json:"file_number"`
		PathID        uint32 `json:"path_id,omitempty"`
		Role          string `json:"role,omitempty"`
		FileSize      uint64 `json:"file_size"`
		SubFileSize   uint64 `json:"sub_file_size,omitempty"`
		SmallestKey   string `json:"smallest_key"`
		LargestKey    string `json:"largest_key"`
		SmallestSeqNo uint64 `json:"smallest_seqno"`
		LargestSeqNo  uint64 `json:"largest_seqno"`
		TotalEntries  uint64 `json:"total_entries,omitempty"`
	}
	type jsonDeletedFile struct {
		Level      int    `json:"level"`
		FileNumber uint64 `json:"file_number"`
	}
	type jsonGuard struct {
		Level    int    `json:"level"`
		Boundary string `json:"boundary"`
	}
	type jsonEdit struct {
		DBID              string      `json:"db_id,omitempty"`
		Comparator        string      `json:"comparator,omitempty"`
		LogNumber         *uint64     `json:"log_number,omitempty"`
		PrevLogNumber     *uint64     `json:"prev_log_number,omitempty"`
		NextFileNumber    *uint64     `json:"next_file_number,omitempty"`
		LastSequence      *uint64     `json:"last_sequence,omitempty"`
		MaxColumnFamily   *uint32     `json:"max_column_family,omitempty"`
		MinLogNumToKeep   *uint64     `json:"min_log_number_to_keep,omitempty"`
		AddedFiles        []jsonFile        `json:"added_files,omitempty"`
		AddedTableFiles   []jsonFile        `json:"added_table_files,omitempty"`
		DeletedFiles      []jsonDeletedFile `json:"deleted_files,omitempty"`
		AddedGuards       []jsonGuard `json:"added_guards,omitempty"`
		DeletedGuards     []jsonGuard `json:"deleted_guards,omitempty"`
		WalAdditions      []uint64    `json:"wal_additions,omitempty"`
		WalDeletionBefore *uint64     `json:"wal_deletion_before,omitempty"`
		ColumnFamily      uint32      `json:"column_family,omitempty"`
		ColumnFamilyAdd   string      `json:"column_family_add,omitempty"`
		ColumnFamilyDrop  bool        `json:"column_family_drop,omitempty"`
		AtomicGroup       *uint32     `json:"atomic_group_remaining,omitempty"`
	}

	fileJSON := func(level int, m *FileMetadata) jsonFile {
		return jsonFile{
			Level:         level,
			FileNumber:    uint64(m.FD.FileNum()),
			PathID:        uint32(m.FD.PathID()),
			Role:          m.Role.String(),
			FileSize:      m.FD.FileSize,
			SubFileSize:   m.FD.SubFileSize,
			SmallestKey:   fmt.Sprintf("%x", m.Smallest.UserKey),
			LargestKey:    fmt.Sprintf("%x", m.Largest.UserKey),
			SmallestSeqNo: uint64(m.FD.SmallestSeqNum),
			LargestSeqNo:  uint64(m.FD.LargestSeqNum),
			TotalEntries:  m.TotalEntries,
		}
	}

	var je jsonEdit
	if v.hasDBID {
		je.DBID = v.dbID
	}
	if v.hasComparator {
		je.Comparator = v.comparatorName
	}
	if v.hasLogNumber {
		je.LogNumber = &v.logNumber
	}
	if v.hasPrevLogNumber {
		je.PrevLogNumber = &v.prevLogNumber
	}
	if v.hasNextFileNumber {
		je.NextFileNumber = &v.nextFileNumber
	}
	if v.hasLastSequence {
		last := uint64(v.lastSequence)
		je.LastSequence = &last
	}
	if v.hasMaxColumnFamily {
		je.MaxColumnFamily = &v.maxColumnFamily
	}
	if v.hasMinLogNumberToKeep {
		je.MinLogNumToKeep = &v.minLogNumberToKeep
	}
	for _, nf := range v.newFiles {
		je.AddedFiles = append(je.AddedFiles, fileJSON(nf.Level, nf.Meta))
	}
	for _, m := range v.newTableFiles {
		je.AddedTableFiles = append(je.AddedTableFiles, fileJSON(0, m))
	}
	deleted := make([]DeletedFileEntry, 0, len(v.deletedFiles))
	for df := range v.deletedFiles {
		deleted = append(deleted, df)
	}
	sort.Slice(deleted, func(i, j int) bool {
		if deleted[i].Level != deleted[j].Level {
			return deleted[i].Level < deleted[j].Level
		}
		return deleted[i].FileNum < deleted[j].FileNum
	})
	for _, df := range deleted {
		je.DeletedFiles = append(je.DeletedFiles,
			jsonDeletedFile{Level: df.Level, FileNumber: uint64(df.FileNum)})
	}
	guardsJSON := func(guards map[GuardEntry]bool) []jsonGuard {
		sorted := make([]jsonGuard, 0, len(guards))
		for g := range guards {
			sorted = append(sorted, jsonGuard{Level: g.Level, Boundary: fmt.Sprintf("%x", g.Boundary)})
		}
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].Level != sorted[j].Level {
				return sorted[i].Level < sorted[j].Level
			}
			return sorted[i].Boundary < sorted[j].Boundary
		})
		return sorted
	}
	je.AddedGuards = guardsJSON(v.newGuards)
	je.DeletedGuards = guardsJSON(v.deletedGuards)
	for i := range v.walAdditions {
		je.WalAdditions = append(je.WalAdditions, uint64(v.walAdditions[i].Number))
	}
	if !v.walDeletion.IsEmpty() {
		before := uint64(v.walDeletion.NumberBefore)
		je.WalDeletionBefore = &before
	}
	je.ColumnFamily = v.columnFamily
	if v.isColumnFamilyAdd {
		je.ColumnFamilyAdd = v.columnFamilyName
	}
	je.ColumnFamilyDrop = v.isColumnFamilyDrop
	if v.isInAtomicGroup {
		je.AtomicGroup = &v.remainingEntries
	}
	b, err := json.Marshal(&je)
	if err != nil {
		// The struct contains nothing json.Marshal can reject.
		panic(errors.AssertionFailedf("version edit JSON: %v", err))
	}
	return string(b)
}
