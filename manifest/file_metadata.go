// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"bytes"
	"fmt"
	"sort"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/crlib/crstrings"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/stratadb/strata/internal/base"
	"github.com/stratadb/strata/internal/humanize"
)

// NumLevels is the number of levels a version's files are organized into.
const NumLevels = 7

// FileRole identifies how a file participates in the two-tier level
// structure.
type FileRole uint8

const (
	// RoleSST is a plain sorted table holding both keys and values.
	RoleSST FileRole = iota
	// RoleIndexFile is an ordered key-range directory. Its payload is a set
	// of references into table files rather than the values themselves.
	RoleIndexFile
	// RoleTableFile holds key/value payload referenced by index files.
	RoleTableFile
)

// String implements fmt.Stringer.
func (r FileRole) String() string {
	switch r {
	case RoleSST:
		return "sst"
	case RoleIndexFile:
		return "index"
	case RoleTableFile:
		return "table"
	}
	return fmt.Sprintf("unknown(%d)", r)
}

// Temperature is a hint describing the access frequency of a file, used to
// place it on an appropriate storage tier.
type Temperature uint8

// Temperature constants. The numeric values are persisted in the MANIFEST
// and must not be reordered.
const (
	TemperatureUnknown Temperature = 0
	TemperatureHot     Temperature = 4
	TemperatureWarm    Temperature = 8
	TemperatureCold    Temperature = 12
)

// String implements fmt.Stringer.
func (t Temperature) String() string {
	switch t {
	case TemperatureUnknown:
		return "unknown"
	case TemperatureHot:
		return "hot"
	case TemperatureWarm:
		return "warm"
	case TemperatureCold:
		return "cold"
	}
	return fmt.Sprintf("invalid(%d)", t)
}

// UniqueID64x2 is a 128-bit file identifier, stable across renames and
// restarts, recorded in the MANIFEST for consistency checking against table
// properties.
type UniqueID64x2 [2]uint64

// IsZero reports whether the identifier is unset.
func (id UniqueID64x2) IsZero() bool {
	return id == UniqueID64x2{}
}

// PositionKeyRange records a span of key positions within a file that
// overlaps a single file in the next level. The ranks recorded for a file
// partition its keyspace by the child files a compaction would route them to.
type PositionKeyRange struct {
	// Start is the rank of the first key in the span.
	Start uint32
	// End is the rank one past the last key in the span.
	End uint32
}

// TableReader serves reads of key/value data from an open file. Readers are
// opened, cached and disposed by the file cache; the manifest layer only
// carries the handle so that metadata recovery can consult file properties.
type TableReader interface {
	// EstimatedCreationTime returns the creation time recorded in the file's
	// properties, or 0 if the properties do not record one.
	EstimatedCreationTime() uint64
}

// CacheHandle pins an open table reader in the file cache. The handle must be
// released when the owning file's reference count drops to zero.
type CacheHandle interface {
	Release()
}

// FileDescriptor is the portion of a file's metadata needed on read paths:
// its identity, size, sequence number bounds, and (for index and table files)
// the reference-count maps cross-linking the two tiers.
type FileDescriptor struct {
	// TableReader is a handle to an open reader for the file, if one is
	// cached. Nil until the file cache populates it.
	TableReader TableReader

	// PackedNumberAndPathID holds the file number in the low 60 bits and the
	// path ID in the bits above. Use FileNum and PathID to unpack.
	PackedNumberAndPathID uint64

	// SubNumberToReferenceKey maps the file number of each table file this
	// index file references to the count of live keys the index still points
	// at within it. Populated only when the owning file's role is
	// RoleIndexFile.
	SubNumberToReferenceKey map[base.FileNum]uint32

	// FatherNumberToReferenceKey maps the file number of each index file
	// referencing this table file to that index's live-key count. Populated
	// only when the owning file's role is RoleTableFile. It is never encoded
	// in the MANIFEST: the version-application step recomputes it from the
	// index files' SubNumberToReferenceKey maps.
	FatherNumberToReferenceKey map[base.FileNum]uint32

	// FileSize is the size of the file on disk, in bytes.
	FileSize uint64

	// SubFileSize is, for an index file, the total byte size of the
	// table-file payload it references.
	SubFileSize uint64

	// SmallestSeqNum and LargestSeqNum bound the sequence numbers of the
	// file's entries.
	SmallestSeqNum base.SeqNum
	LargestSeqNum  base.SeqNum
}

// NewFileDescriptor returns a descriptor for a file under construction. The
// sequence number bounds start inverted (max, zero) so that
// FileMetadata.UpdateBoundaries can extend them monotonically.
func NewFileDescriptor(fileNum base.FileNum, pathID base.PathID, fileSize uint64) FileDescriptor {
	return FileDescriptor{
		PackedNumberAndPathID: base.PackFileNumAndPathID(fileNum, pathID),
		FileSize:              fileSize,
		SmallestSeqNum:        base.SeqNumMax,
		LargestSeqNum:         0,
	}
}

// FileNum returns the file number portion of the packed identity.
func (fd *FileDescriptor) FileNum() base.FileNum {
	return base.UnpackFileNum(fd.PackedNumberAndPathID)
}

// PathID returns the path ID portion of the packed identity, identifying
// which db_paths directory holds the file.
func (fd *FileDescriptor) PathID() base.PathID {
	return base.UnpackPathID(fd.PackedNumberAndPathID)
}

// LiveReferenceTotal sums the reference counts held against this table file
// by all index files referencing it. Zero means no index file points at any
// of its keys and the file is a garbage-collection candidate.
func (fd *FileDescriptor) LiveReferenceTotal() uint32 {
	var total uint32
	for _, n := range fd.FatherNumberToReferenceKey {
		total += n
	}
	return total
}

// FileMetadata holds the complete metadata for a file in a version: identity
// and reference counts (via the embedded descriptor), key bounds, entry
// statistics, compaction state and provenance fields.
//
// FileMetadata is always used by pointer; it holds atomics and must not be
// copied after first use.
type FileMetadata struct {
	// NumReadsSampled counts sampled user reads against the file. It is the
	// only field mutated outside the single-threaded version-application
	// path and is incremented atomically from reader goroutines.
	NumReadsSampled atomic.Uint64

	// FD is the descriptor shared with the read path.
	FD FileDescriptor

	// Role determines which descriptor and statistics fields are meaningful.
	Role FileRole

	// Smallest and Largest are the inclusive bounds of the file's internal
	// keys.
	Smallest base.InternalKey
	Largest  base.InternalKey

	// CacheHandle pins the file's reader in the file cache. Released when
	// Refs drops to zero.
	CacheHandle CacheHandle

	// CompensatedFileSize is FD.FileSize inflated by an estimate of the data
	// in lower levels that deletion entries in this file would drop. Used by
	// compaction picking only; never persisted.
	CompensatedFileSize uint64

	// Statistics populated either during the flush/compaction that wrote the
	// file or, on recovery, from the file's properties block. Mutated only
	// from the version-application path.

	// NumEntries is the number of entries in the file, of all kinds.
	NumEntries uint64
	// NumDeletions is the number of deletion entries in the file.
	NumDeletions uint64
	// RawKeySize and RawValueSize are the uncompressed byte totals of the
	// file's keys and values.
	RawKeySize   uint64
	RawValueSize uint64

	// TotalEntries is the total key count of an index or table file,
	// including keys whose references have expired.
	TotalEntries uint64
	// ReferenceEntries is, for a table file, the count of its keys no longer
	// referenced by any index file.
	ReferenceEntries uint64
	// MergeEntries is, for an index file, the count of merge-typed entries
	// it holds. Merge entries pin older states of a key and block reference
	// release until folded.
	MergeEntries uint64

	// ChildrenRanks partitions the file's keys by the next-level file each
	// span routes to. Ordered by Start; spans do not overlap.
	ChildrenRanks []PositionKeyRange

	// Refs counts the referencers of this metadata: versions containing the
	// file plus in-flight compactions reading it. Mutated only from the
	// version-application path.
	Refs int32

	// IsDeleted is set once the file has been dropped from the latest
	// version; the metadata lingers until Refs drains.
	IsDeleted bool

	// BeingCompacted marks the file as an input to an in-flight compaction.
	BeingCompacted bool

	// InitStatsFromFile records whether the entry statistics above were
	// loaded from the file's properties rather than carried over from the
	// job that wrote it.
	InitStatsFromFile bool

	// MarkedForCompaction prioritizes the file for compaction independent of
	// score. Persisted via the needs-compaction custom field.
	MarkedForCompaction bool

	// Temperature is the storage-tier hint the file was written with.
	Temperature Temperature

	// OldestBlobFileNum is the oldest blob file the file references, or
	// InvalidBlobFileNum if it references none.
	OldestBlobFileNum base.BlobFileNum

	// OldestAncestorTime is the creation time of the oldest ancestor of the
	// file, where an ancestor is any file whose keys were compacted into
	// this one. Zero if unknown.
	OldestAncestorTime uint64

	// FileCreationTime is the wall-clock time the file was created. Zero if
	// unknown.
	FileCreationTime uint64

	// FileChecksum and FileChecksumFuncName carry the whole-file checksum
	// and the name of the function that produced it. Empty when checksums
	// are disabled.
	FileChecksum         string
	FileChecksumFuncName string

	// MinTimestamp and MaxTimestamp bound the user-defined timestamps of the
	// file's keys. Empty when the comparator carries no timestamp.
	MinTimestamp string
	MaxTimestamp string

	// UniqueID is the file's persistent 128-bit identifier.
	UniqueID UniqueID64x2
}

// NewFileMetadata returns metadata for a plain sorted table with the given
// identity, size and bounds.
func NewFileMetadata(
	fileNum base.FileNum,
	pathID base.PathID,
	fileSize uint64,
	smallest, largest base.InternalKey,
	smallestSeqNum, largestSeqNum base.SeqNum,
) *FileMetadata {
	m := &FileMetadata{
		FD:       NewFileDescriptor(fileNum, pathID, fileSize),
		Role:     RoleSST,
		Smallest: smallest,
		Largest:  largest,
	}
	m.FD.SmallestSeqNum = smallestSeqNum
	m.FD.LargestSeqNum = largestSeqNum
	return m
}

// NewIndexFileMetadata returns metadata for an index file. subReferences maps
// each referenced table file to the count of live keys the index points at
// within it; subFileSize is the byte total of the referenced payload.
func NewIndexFileMetadata(
	fileNum base.FileNum,
	pathID base.PathID,
	fileSize, subFileSize uint64,
	smallest, largest base.InternalKey,
	smallestSeqNum, largestSeqNum base.SeqNum,
	subReferences map[base.FileNum]uint32,
) *FileMetadata {
	m := NewFileMetadata(fileNum, pathID, fileSize, smallest, largest, smallestSeqNum, largestSeqNum)
	m.Role = RoleIndexFile
	m.FD.SubFileSize = subFileSize
	m.FD.SubNumberToReferenceKey = subReferences
	return m
}

// NewTableFileMetadata returns metadata for a table file. Table files are
// constructed with zero reference entries and an empty father-reference map;
// the version-application step fills the map in from the index files of the
// resulting version.
func NewTableFileMetadata(
	fileNum base.FileNum,
	pathID base.PathID,
	fileSize uint64,
	smallest, largest base.InternalKey,
	smallestSeqNum, largestSeqNum base.SeqNum,
	totalEntries uint64,
) *FileMetadata {
	m := NewFileMetadata(fileNum, pathID, fileSize, smallest, largest, smallestSeqNum, largestSeqNum)
	m.Role = RoleTableFile
	m.TotalEntries = totalEntries
	return m
}

// UpdateBoundaries extends the file's key and sequence number bounds with
// key.
//
// REQUIRES: keys are passed in ascending order; the last key passed becomes
// Largest.
func (m *FileMetadata) UpdateBoundaries(key base.InternalKey) {
	if len(m.Smallest.UserKey) == 0 && len(m.Largest.UserKey) == 0 {
		m.Smallest = key.Clone()
	}
	m.Largest = key.Clone()
	seqNum := key.SeqNum()
	if m.FD.SmallestSeqNum > seqNum {
		m.FD.SmallestSeqNum = seqNum
	}
	if m.FD.LargestSeqNum < seqNum {
		m.FD.LargestSeqNum = seqNum
	}
}

// UpdateBoundariesForRange extends the file's bounds with a range spanning
// [start, end]. Unlike UpdateBoundaries, either endpoint may extend the
// corresponding bound regardless of call order.
func (m *FileMetadata) UpdateBoundariesForRange(
	start, end base.InternalKey, seqNum base.SeqNum, cmp base.Compare,
) {
	if len(m.Smallest.UserKey) == 0 || base.InternalCompare(cmp, start, m.Smallest) < 0 {
		m.Smallest = start.Clone()
	}
	if len(m.Largest.UserKey) == 0 || base.InternalCompare(cmp, m.Largest, end) < 0 {
		m.Largest = end.Clone()
	}
	if m.FD.SmallestSeqNum > seqNum {
		m.FD.SmallestSeqNum = seqNum
	}
	if m.FD.LargestSeqNum < seqNum {
		m.FD.LargestSeqNum = seqNum
	}
}

// TryGetOldestAncestorTime returns the best available estimate of the
// creation time of the file's oldest ancestor: the recorded ancestor time if
// known, falling back to the file's own creation time, falling back to the
// creation time in the cached reader's properties. Returns 0 if none is
// available.
func (m *FileMetadata) TryGetOldestAncestorTime() uint64 {
	if m.OldestAncestorTime != 0 {
		return m.OldestAncestorTime
	}
	return m.TryGetFileCreationTime()
}

// TryGetFileCreationTime returns the file's creation time, consulting the
// cached reader's properties if the metadata does not record one. Returns 0
// if unknown.
func (m *FileMetadata) TryGetFileCreationTime() uint64 {
	if m.FileCreationTime != 0 {
		return m.FileCreationTime
	}
	if m.FD.TableReader != nil {
		return m.FD.TableReader.EstimatedCreationTime()
	}
	return 0
}

// Validate checks the role-dependent invariants of the metadata, returning
// an error describing the first violation found.
func (m *FileMetadata) Validate(cmp base.Compare) error {
	if base.InternalCompare(cmp, m.Smallest, m.Largest) > 0 {
		return base.CorruptionErrorf("file %s has inverted key bounds: %s vs %s",
			m.FD.FileNum(), m.Smallest.Pretty(base.DefaultFormatter), m.Largest.Pretty(base.DefaultFormatter))
	}
	if m.FD.SmallestSeqNum > m.FD.LargestSeqNum {
		return base.CorruptionErrorf("file %s has inverted seqnum bounds: %d vs %d",
			m.FD.FileNum(), m.FD.SmallestSeqNum, m.FD.LargestSeqNum)
	}
	switch m.Role {
	case RoleSST:
		if len(m.FD.SubNumberToReferenceKey) > 0 || len(m.FD.FatherNumberToReferenceKey) > 0 {
			return base.CorruptionErrorf("sst %s carries reference maps", m.FD.FileNum())
		}
	case RoleIndexFile:
		if len(m.FD.FatherNumberToReferenceKey) > 0 {
			return base.CorruptionErrorf("index file %s carries a father-reference map", m.FD.FileNum())
		}
		if m.ReferenceEntries != 0 {
			return base.CorruptionErrorf("index file %s carries reference entries", m.FD.FileNum())
		}
	case RoleTableFile:
		if len(m.FD.SubNumberToReferenceKey) > 0 {
			return base.CorruptionErrorf("table file %s carries a sub-reference map", m.FD.FileNum())
		}
		if m.FD.SubFileSize != 0 {
			return base.CorruptionErrorf("table file %s carries a sub-file size", m.FD.FileNum())
		}
		if m.MergeEntries != 0 {
			return base.CorruptionErrorf("table file %s carries merge entries", m.FD.FileNum())
		}
	default:
		return errors.AssertionFailedf("unknown file role %d", m.Role)
	}
	for i := range m.ChildrenRanks {
		r := m.ChildrenRanks[i]
		if r.Start > r.End {
			return base.CorruptionErrorf("file %s children rank %d inverted: [%d, %d)",
				m.FD.FileNum(), i, r.Start, r.End)
		}
		if i > 0 && m.ChildrenRanks[i-1].End > r.Start {
			return base.CorruptionErrorf("file %s children ranks %d and %d overlap",
				m.FD.FileNum(), i-1, i)
		}
	}
	return nil
}

// Ref increments the metadata's reference count. Must only be called from
// the version-application path.
func (m *FileMetadata) Ref() {
	m.Refs++
}

// Unref decrements the metadata's reference count, releasing the cache
// handle when it reaches zero. Returns the new count. Must only be called
// from the version-application path.
func (m *FileMetadata) Unref() int32 {
	m.Refs--
	if m.Refs < 0 {
		panic(errors.AssertionFailedf("file %s refs negative", m.FD.FileNum()))
	}
	if m.Refs == 0 && m.CacheHandle != nil {
		m.CacheHandle.Release()
		m.CacheHandle = nil
	}
	return m.Refs
}

// ApproximateMemoryUsage returns an estimate of the bytes held alive by the
// metadata, including its key bounds and reference maps.
func (m *FileMetadata) ApproximateMemoryUsage() uintptr {
	usage := unsafe.Sizeof(*m)
	usage += uintptr(len(m.Smallest.UserKey) + len(m.Largest.UserKey))
	usage += uintptr(len(m.FileChecksum) + len(m.FileChecksumFuncName))
	usage += uintptr(len(m.MinTimestamp) + len(m.MaxTimestamp))
	usage += uintptr(len(m.ChildrenRanks)) * unsafe.Sizeof(PositionKeyRange{})
	const mapEntrySize = unsafe.Sizeof(base.FileNum(0)) + unsafe.Sizeof(uint32(0))
	usage += uintptr(len(m.FD.SubNumberToReferenceKey)+len(m.FD.FatherNumberToReferenceKey)) * mapEntrySize
	return usage
}

// String implements fmt.Stringer.
func (m *FileMetadata) String() string {
	return redact.StringWithoutMarkers(m)
}

// SafeFormat implements redact.SafeFormatter.
func (m *FileMetadata) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s:[%s-%s]",
		m.FD.FileNum(),
		m.Smallest.Pretty(base.DefaultFormatter),
		m.Largest.Pretty(base.DefaultFormatter))
}

// DebugString returns a verbose description of the metadata for tools and
// test output.
func (m *FileMetadata) DebugString(format base.FormatKey) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s:[%s-%s] role:%s seqnums:[%d-%d] size:[%d (%s)]",
		m.FD.FileNum(), m.Smallest.Pretty(format), m.Largest.Pretty(format),
		m.Role, m.FD.SmallestSeqNum, m.FD.LargestSeqNum,
		m.FD.FileSize, humanize.Bytes.Uint64(m.FD.FileSize))
	switch m.Role {
	case RoleIndexFile:
		fmt.Fprintf(&b, " sub-size:%d refs:%s",
			m.FD.SubFileSize, formatReferenceMap(m.FD.SubNumberToReferenceKey))
	case RoleTableFile:
		fmt.Fprintf(&b, " fathers:%s", formatReferenceMap(m.FD.FatherNumberToReferenceKey))
	}
	b.WriteString(crstrings.If(m.MarkedForCompaction, " marked-for-compaction"))
	if m.Temperature != TemperatureUnknown {
		fmt.Fprintf(&b, " temperature:%s", m.Temperature)
	}
	return b.String()
}

var _ redact.SafeFormatter = (*FileMetadata)(nil)

// formatReferenceMap renders a reference-count map with deterministic
// ordering.
func formatReferenceMap(refs map[base.FileNum]uint32) string {
	nums := make([]base.FileNum, 0, len(refs))
	for n := range refs {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	var buf []byte
	buf = append(buf, '{')
	for i, n := range nums {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, fmt.Sprintf("%s:%d", n, refs[n])...)
	}
	buf = append(buf, '}')
	return string(buf)
}

// TotalFileSize sums the on-disk sizes of the given files.
func TotalFileSize(files []*FileMetadata) uint64 {
	var total uint64
	for _, f := range files {
		total += f.FD.FileSize
	}
	return total
}
