// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/stratadb/strata/internal/base"
	"github.com/stratadb/strata/internal/invariants"
)

// FdWithKeyRange is a flattened copy of the fields of a level's file that are
// consulted on every point lookup: the descriptor plus the encoded key
// bounds. Keeping these inline, away from the rest of FileMetadata, keeps a
// level's search structure dense in cache.
type FdWithKeyRange struct {
	// FD is a copy of Meta.FD. The reference maps are shared with the
	// original and must be treated as read-only.
	FD FileDescriptor

	// Meta points at the full metadata for the rare fields.
	Meta *FileMetadata

	// SmallestKey and LargestKey are the encoded forms of Meta.Smallest and
	// Meta.Largest. They alias a backing buffer shared by the whole level.
	SmallestKey []byte
	LargestKey  []byte
}

// LevelFilesBrief holds the flattened search structure for the files of one
// level, ordered by smallest key.
type LevelFilesBrief struct {
	Files []FdWithKeyRange
}

// MakeLevelFilesBrief builds the flattened structure for one level's files,
// encoding all key bounds into a single contiguous buffer.
//
// The returned structure aliases the given metadata; the metadata must stay
// referenced for the brief's lifetime.
func MakeLevelFilesBrief(files []*FileMetadata) LevelFilesBrief {
	var keyBytes int
	for _, f := range files {
		keyBytes += f.Smallest.Size() + f.Largest.Size()
	}
	buf := make([]byte, keyBytes)
	brief := LevelFilesBrief{Files: make([]FdWithKeyRange, len(files))}
	var off int
	for i, f := range files {
		smallest := buf[off : off+f.Smallest.Size() : off+f.Smallest.Size()]
		f.Smallest.Encode(smallest)
		off += f.Smallest.Size()
		largest := buf[off : off+f.Largest.Size() : off+f.Largest.Size()]
		f.Largest.Encode(largest)
		off += f.Largest.Size()
		brief.Files[i] = FdWithKeyRange{
			FD:          f.FD,
			Meta:        f,
			SmallestKey: smallest,
			LargestKey:  largest,
		}
	}
	return brief
}

// FindFile binary searches for the first file whose largest key is at or
// after ikey, returning its index, or len(b.Files) if every file's keys are
// before ikey.
//
// REQUIRES: the level's files are ordered and non-overlapping.
func FindFile(cmp base.Compare, b LevelFilesBrief, ikey []byte) int {
	if invariants.Enabled {
		for i := 1; i < len(b.Files); i++ {
			prev := base.DecodeInternalKey(b.Files[i-1].LargestKey)
			next := base.DecodeInternalKey(b.Files[i].SmallestKey)
			if base.InternalCompare(cmp, prev, next) >= 0 {
				panic(errors.AssertionFailedf("level files %s and %s out of order",
					b.Files[i-1].FD.FileNum(), b.Files[i].FD.FileNum()))
			}
		}
	}
	target := base.DecodeInternalKey(ikey)
	return sort.Search(len(b.Files), func(i int) bool {
		largest := base.DecodeInternalKey(b.Files[i].LargestKey)
		return base.InternalCompare(cmp, largest, target) >= 0
	})
}
